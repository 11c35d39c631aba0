package loyalty

import (
	"context"
	"fmt"
	"time"

	interf "github.com/kh827y/loyalty/internal/interfaces"
	model "github.com/kh827y/loyalty/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Отмена холда, легальна только из PENDING.
// Одноразовый код освобождается, чтобы брошенная продажа его не сжигала.
func (s *LoyaltyService) Cancel(ctx context.Context, merchantID, holdID uuid.UUID) error {
	hold, err := s.db.HoldGet(ctx, holdID)
	if err != nil {
		return err
	}
	if hold.MerchantID != merchantID {
		return fmt.Errorf("hold %s: %w", holdID, model.ErrForbidden)
	}
	if hold.Status != model.HoldPending {
		return model.ErrHoldFinished
	}

	return s.db.WithTx(ctx, func(ctx context.Context, tx interf.Storage) error {
		ok, err := tx.HoldCancel(ctx, holdID)
		if err != nil {
			return err
		}
		if !ok {
			return model.ErrHoldFinished
		}
		if hold.QrJti == "" {
			return nil
		}
		jti, err := uuid.Parse(hold.QrJti)
		if err != nil {
			return nil
		}
		nonce, err := tx.NonceGet(ctx, jti)
		if err != nil {
			return err
		}
		if nonce == nil {
			return nil
		}
		return tx.NonceRelease(ctx, jti, nonce.ShortCode)
	})
}

type RefundRequest struct {
	MerchantID uuid.UUID
	ReceiptID  *uuid.UUID
	OrderID    string
}

type RefundResult struct {
	ReceiptID       uuid.UUID
	Restored        int64 // возвращено на счет (было списано)
	Revoked         int64 // снято со счета (было начислено)
	AlreadyRefunded bool
}

// Возврат по чеку: восстановить списанное, отозвать начисленное.
// Идемпотентен: повторный вызов возвращает записанные суммы.
func (s *LoyaltyService) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	var receipt *model.Receipt
	var err error
	if req.ReceiptID != nil {
		r, err := s.db.ReceiptGet(ctx, *req.ReceiptID)
		if err != nil {
			return RefundResult{}, err
		}
		receipt = &r
	} else if req.OrderID != "" {
		receipt, err = s.db.ReceiptGetByOrder(ctx, req.MerchantID, req.OrderID)
		if err != nil {
			return RefundResult{}, err
		}
	}
	if receipt == nil {
		return RefundResult{}, fmt.Errorf("receipt: %w", model.ErrNotFound)
	}
	if receipt.MerchantID != req.MerchantID {
		return RefundResult{}, fmt.Errorf("receipt %s: %w", receipt.ID, model.ErrForbidden)
	}

	if prior, err := s.priorRefund(ctx, s.db, *receipt); err != nil || prior != nil {
		if prior != nil {
			return *prior, err
		}
		return RefundResult{}, err
	}

	var result RefundResult
	err = s.db.WithTx(ctx, func(ctx context.Context, tx interf.Storage) error {
		result = RefundResult{ReceiptID: receipt.ID}

		ok, err := tx.ReceiptMarkCanceled(ctx, receipt.ID, time.Now())
		if err != nil {
			return err
		}
		if !ok {
			// параллельный возврат успел первым
			prior, err := s.priorRefund(ctx, tx, *receipt)
			if err != nil {
				return err
			}
			if prior != nil {
				result = *prior
			} else {
				result.AlreadyRefunded = true
			}
			return nil
		}

		wallet, err := tx.WalletEnsure(ctx, receipt.MerchantID, receipt.CustomerID)
		if err != nil {
			return err
		}

		// отзываем только то, что реально легло транзакциями начисления
		var revoke int64
		earnTnxs, err := tx.TnxByOrder(ctx, receipt.MerchantID, receipt.OrderID, model.TnxEarn)
		if err != nil {
			return err
		}
		for _, t := range earnTnxs {
			if t.Amount > 0 {
				revoke += t.Amount
			}
		}

		// отложенные лоты заказа еще не на счете: активируем погашенными
		pending, err := tx.LotsPendingByOrder(ctx, receipt.MerchantID, receipt.CustomerID, receipt.OrderID)
		if err != nil {
			return err
		}
		for _, lot := range pending {
			earnedAt := lot.EarnedAt
			if lot.MaturesAt != nil {
				earnedAt = *lot.MaturesAt
			}
			if err = tx.LotActivate(ctx, lot.ID, earnedAt); err != nil {
				return err
			}
			if free := lot.Points - lot.ConsumedPoints; free > 0 {
				if err = tx.LotAddConsumed(ctx, lot.ID, free); err != nil {
					return err
				}
			}
		}

		restore := receipt.RedeemApplied
		if restore > 0 {
			if err = tx.WalletCredit(ctx, wallet.ID, restore); err != nil {
				return err
			}
			receiptID := receipt.ID
			if s.flags.Ledger {
				_, err = tx.TnxCreate(ctx, model.Transaction{
					ID:         uuid.New(),
					MerchantID: receipt.MerchantID,
					CustomerID: receipt.CustomerID,
					WalletID:   wallet.ID,
					Type:       model.TnxRefund,
					Amount:     restore,
					OrderID:    receipt.OrderID,
					ReceiptID:  &receiptID,
					CreatedAt:  time.Now(),
				})
				if err != nil {
					return err
				}
			}
			if err = s.unconsumeLots(ctx, tx, receipt.MerchantID, receipt.CustomerID, restore, receipt.OrderID); err != nil {
				return err
			}
		}

		if revoke > 0 {
			// снимаем не больше остатка: потраченное гасится лотами чека
			fresh, err := tx.WalletGet(ctx, receipt.MerchantID, receipt.CustomerID)
			if err != nil {
				return err
			}
			debit := revoke
			if debit > fresh.Balance {
				debit = fresh.Balance
			}
			if debit > 0 {
				if _, err = tx.WalletDebitIf(ctx, wallet.ID, debit); err != nil {
					return err
				}
			}
			receiptID := receipt.ID
			if s.flags.Ledger {
				_, err = tx.TnxCreate(ctx, model.Transaction{
					ID:         uuid.New(),
					MerchantID: receipt.MerchantID,
					CustomerID: receipt.CustomerID,
					WalletID:   wallet.ID,
					Type:       model.TnxRefund,
					Amount:     -revoke,
					OrderID:    receipt.OrderID,
					ReceiptID:  &receiptID,
					CreatedAt:  time.Now(),
				})
				if err != nil {
					return err
				}
			}
			if err = s.revokeLots(ctx, tx, receipt.MerchantID, receipt.CustomerID, revoke, receipt.OrderID, &receiptID); err != nil {
				return err
			}
		}

		payload := map[string]any{"receiptId": receipt.ID, "orderId": receipt.OrderID, "restored": restore, "revoked": revoke}
		if err = tx.OutboxAppend(ctx, receipt.MerchantID, EventRefund, payload); err != nil {
			return err
		}

		result.Restored = restore
		result.Revoked = revoke
		return nil
	})
	if err != nil {
		return RefundResult{}, err
	}

	if !result.AlreadyRefunded {
		s.invalidateBalance(ctx, receipt.MerchantID, receipt.CustomerID)
		s.afterRefund(ctx, *receipt)
		refundsProcessed.Inc()
	}
	return result, nil
}

// Суммы уже обработанного возврата по транзакциям чека
func (s *LoyaltyService) priorRefund(ctx context.Context, db interf.Storage, receipt model.Receipt) (*RefundResult, error) {
	refunds, err := db.TnxByReceipt(ctx, receipt.MerchantID, receipt.ID, model.TnxRefund)
	if err != nil {
		return nil, err
	}
	if len(refunds) == 0 {
		return nil, nil
	}
	result := &RefundResult{ReceiptID: receipt.ID, AlreadyRefunded: true}
	for _, t := range refunds {
		if t.Amount > 0 {
			result.Restored += t.Amount
		} else {
			result.Revoked += -t.Amount
		}
	}
	return result, nil
}

// Побочные эффекты возврата, сбой не откатывает реверс
func (s *LoyaltyService) afterRefund(ctx context.Context, receipt model.Receipt) {
	event := interf.PurchaseEvent{
		MerchantID: receipt.MerchantID,
		CustomerID: receipt.CustomerID,
		ReceiptID:  receipt.ID,
		OrderID:    receipt.OrderID,
		Total:      receipt.Total,
		StaffID:    receipt.StaffID,
		EventAt:    time.Now(),
	}
	if s.referral != nil {
		// реферальный триггер первой покупки не откатывается,
		// пока у клиента есть другая действительная покупка
		otherValid, err := s.db.ReceiptOtherValidExists(ctx, receipt.MerchantID, receipt.CustomerID, receipt.ID)
		if err != nil {
			s.logger.Warn("referral rollback check", zap.String("receipt", receipt.ID.String()), zap.Error(err))
		} else if !otherValid {
			if err = s.referral.PurchaseRefunded(ctx, event); err != nil {
				s.logger.Warn("referral rollback", zap.String("receipt", receipt.ID.String()), zap.Error(err))
			}
		}
	}
	if s.staff != nil {
		if err := s.staff.RecordRefund(ctx, event); err != nil {
			s.logger.Warn("staff motivation refund", zap.String("receipt", receipt.ID.String()), zap.Error(err))
		}
	}
	s.refreshTier(ctx, receipt.MerchantID, receipt.CustomerID)
}
