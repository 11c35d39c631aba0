package loyalty

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Статусы холда
const (
	HoldPending   = "PENDING"
	HoldCommitted = "COMMITTED"
	HoldCanceled  = "CANCELED"
)

// Режим операции
const (
	ModeEarn   = "EARN"
	ModeRedeem = "REDEEM"
)

// Типы транзакций
const (
	TnxEarn     = "EARN"
	TnxRedeem   = "REDEEM"
	TnxRefund   = "REFUND"
	TnxReferral = "REFERRAL"
)

// Статусы лотов
const (
	LotPending = "PENDING"
	LotActive  = "ACTIVE"
)

// Источники назначения уровня
const (
	TierSourceAuto      = "auto"
	TierSourceManual    = "manual"
	TierSourcePromocode = "promocode"
)

// Клиент программы лояльности
type Customer struct {
	ID                 uuid.UUID
	MerchantID         uuid.UUID
	Name               string
	AccrualsBlocked    bool // запрет начислений
	RedemptionsBlocked bool // запрет списаний
	CreatedAt          time.Time
}

// Счет баллов, один на пару клиент/мерчант
type Wallet struct {
	ID         uuid.UUID
	MerchantID uuid.UUID
	CustomerID uuid.UUID
	Balance    int64
	UpdatedAt  time.Time
}

// Запись в журнале операций, только добавление
type Transaction struct {
	ID         uuid.UUID
	MerchantID uuid.UUID
	CustomerID uuid.UUID
	WalletID   uuid.UUID
	Type       string
	Amount     int64 // со знаком: начисление > 0, списание < 0
	OrderID    string
	ReceiptID  *uuid.UUID
	OutletID   *uuid.UUID
	StaffID    *uuid.UUID
	DeviceID   string
	Note       string
	CreatedAt  time.Time
}

// Холд: предварительная резервация по продаже
type Hold struct {
	ID            uuid.UUID
	MerchantID    uuid.UUID
	CustomerID    uuid.UUID
	Mode          string
	Status        string
	OrderID       string // пустой, пока не привязан к заказу
	Total         int64
	EligibleTotal int64
	RedeemAmount  int64 // план списания
	EarnPoints    int64 // план начисления (база, без промо)
	QrJti         string
	ExpiresAt     *time.Time
	OutletID      *uuid.UUID
	StaffID       *uuid.UUID
	DeviceID      string
	ReceiptID     *uuid.UUID
	CreatedAt     time.Time
}

// Позиция холда: зафиксированное решение по ценам и промо,
// коммит не пересчитывает промо заново
type HoldItem struct {
	ID           uuid.UUID
	HoldID       uuid.UUID
	ProductID    *uuid.UUID
	ExternalID   string
	Name         string
	Qty          decimal.Decimal
	Price        decimal.Decimal
	BasePrice    *decimal.Decimal // цена до промо, если менялась
	Amount       int64
	RedeemShare  int64 // план списания на позицию
	EarnPoints   int64 // план начисления на позицию, с промо
	BasePoints   int64 // начисление по базовой ставке
	PromoBonus   int64 // добавка от промо-акции
	PromotionIDs []uuid.UUID
	AccruePoints bool
	AllowRedeem  bool
}

// Чек: финальная запись продажи, одна на (мерчант, заказ)
type Receipt struct {
	ID            uuid.UUID
	MerchantID    uuid.UUID
	CustomerID    uuid.UUID
	HoldID        *uuid.UUID
	OrderID       string
	Total         int64
	EligibleTotal int64
	RedeemApplied int64
	EarnApplied   int64
	OutletID      *uuid.UUID
	StaffID       *uuid.UUID
	CanceledAt    *time.Time
	CreatedAt     time.Time
}

type ReceiptItem struct {
	ID           uuid.UUID
	ReceiptID    uuid.UUID
	ProductID    *uuid.UUID
	Name         string
	Qty          decimal.Decimal
	Price        decimal.Decimal
	Amount       int64
	RedeemShare  int64
	EarnPoints   int64
	PromotionIDs []uuid.UUID
}

// Лот начисленных баллов, FIFO-списание
type EarnLot struct {
	ID             uuid.UUID
	MerchantID     uuid.UUID
	CustomerID     uuid.UUID
	Points         int64
	ConsumedPoints int64
	EarnedAt       time.Time
	MaturesAt      *time.Time // nil - активен сразу
	ExpiresAt      *time.Time // nil - не сгорает
	Status         string
	OrderID        string
	ReceiptID      *uuid.UUID
	Source         string // base / promo
}

// Одноразовый код (QR / короткий код)
type QrNonce struct {
	Jti        uuid.UUID
	MerchantID uuid.UUID
	CustomerID uuid.UUID
	ShortCode  bool
	IssuedAt   time.Time
	ExpiresAt  *time.Time
	UsedAt     *time.Time
}

// Уровень программы лояльности
type Tier struct {
	ID               uuid.UUID
	MerchantID       uuid.UUID
	Name             string
	ThresholdAmount  int64
	EarnRateBps      int32
	RedeemRateBps    int32
	MinPaymentAmount *int64
	IsInitial        bool
	IsHidden         bool
}

// Назначение уровня клиенту
type TierAssignment struct {
	ID         uuid.UUID
	MerchantID uuid.UUID
	CustomerID uuid.UUID
	TierID     uuid.UUID
	Source     string
	AssignedAt time.Time
	ExpiresAt  *time.Time
}

// Эффективные ставки клиента
type Rates struct {
	EarnBps        int32
	RedeemLimitBps int32
	TierMinPayment *int64
}

// Настройки мерчанта, read-only для ядра
type MerchantSettings struct {
	MerchantID                 uuid.UUID
	EarnBps                    int32 // базовая ставка начисления
	RedeemLimitBps             int32 // базовый лимит списания от чека
	RedeemCooldown             time.Duration
	EarnCooldown               time.Duration
	RedeemDailyCap             int64 // 0 - без лимита
	EarnDailyCap               int64
	EarnDelayDays              int32
	PointsTTLDays              int32
	PromoPointsTTLDays         int32
	AllowEarnRedeemSameReceipt bool
}

// Участие клиента в промо-акции
type PromotionParticipant struct {
	PromotionID    uuid.UUID
	CustomerID     uuid.UUID
	PurchasesCount int32
	LastPurchaseAt *time.Time
}

// Товар каталога (внешний справочник)
type Product struct {
	ID            uuid.UUID
	MerchantID    uuid.UUID
	ExternalID    string
	Name          string
	CategoryID    *uuid.UUID
	AccruePoints  bool
	AllowRedeem   bool
	RedeemPercent int32 // доля позиции, оплачиваемая баллами
}
