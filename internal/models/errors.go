package loyalty

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	ErrHoldFinished = errors.New("hold already finished")
	ErrHoldExpired  = errors.New("hold expired")
	ErrQrUsed       = errors.New("qr code already used")
	ErrQrExpired    = errors.New("qr code expired")
	ErrValidation   = errors.New("validation")
)

// Причины отказа, бизнес-результат, не ошибка
const (
	DeclineAccrualsBlocked    = "Начисление баллов клиенту заблокировано."
	DeclineRedemptionsBlocked = "Списание баллов клиенту заблокировано."
	DeclineNoBalance          = "Недостаточно баллов для списания."
	DeclineCooldown           = "Операция временно недоступна, попробуйте позже."
	DeclineDailyCap           = "Достигнут дневной лимит операций с баллами."
	DeclineEarnWithRedeem     = "Начисление и списание в одном чеке запрещено."
)
