package loyalty

import (
	"context"
	"time"

	model "github.com/kh827y/loyalty/internal/models"

	"github.com/google/uuid"
)

//go:generate mockgen -destination=./../services/mock_loyalty_test.go -package=loyalty . PromotionStorage

// Единый фасад хранилища. Все мутации идут через WithTx,
// условные апдейты возвращают признак успеха вместо блокировок.
type Storage interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Storage) error) error

	CustomerGet(ctx context.Context, merchantID, customerID uuid.UUID) (model.Customer, error)
	SettingsGet(ctx context.Context, merchantID uuid.UUID) (model.MerchantSettings, error)
	ProductsFind(ctx context.Context, merchantID uuid.UUID, ids []uuid.UUID, externalIDs []string) ([]model.Product, error)

	WalletEnsure(ctx context.Context, merchantID, customerID uuid.UUID) (model.Wallet, error)
	WalletGet(ctx context.Context, merchantID, customerID uuid.UUID) (model.Wallet, error)
	WalletCredit(ctx context.Context, walletID uuid.UUID, amount int64) error
	WalletDebitIf(ctx context.Context, walletID uuid.UUID, amount int64) (bool, error)

	TnxCreate(ctx context.Context, tnx model.Transaction) (uuid.UUID, error)
	TnxLast(ctx context.Context, merchantID, customerID uuid.UUID, tnxType string) (*model.Transaction, error)
	TnxSumSince(ctx context.Context, merchantID, customerID uuid.UUID, tnxType string, since time.Time) (int64, error)
	TnxByOrder(ctx context.Context, merchantID uuid.UUID, orderID string, tnxType string) ([]model.Transaction, error)
	TnxByReceipt(ctx context.Context, merchantID, receiptID uuid.UUID, tnxType string) ([]model.Transaction, error)
	TnxList(ctx context.Context, merchantID, customerID uuid.UUID, before time.Time, limit int) ([]model.Transaction, error)

	HoldCreate(ctx context.Context, hold model.Hold, items []model.HoldItem) error
	HoldGet(ctx context.Context, id uuid.UUID) (model.Hold, error)
	HoldItems(ctx context.Context, holdID uuid.UUID) ([]model.HoldItem, error)
	HoldGetByJti(ctx context.Context, jti uuid.UUID) (*model.Hold, error)
	HoldFindEarnByOrder(ctx context.Context, merchantID, customerID uuid.UUID, orderID string) (*model.Hold, error)
	HoldClaim(ctx context.Context, id uuid.UUID, orderID string) (bool, error)
	HoldCancel(ctx context.Context, id uuid.UUID) (bool, error)
	HoldSetReceipt(ctx context.Context, id, receiptID uuid.UUID) error

	ReceiptGet(ctx context.Context, id uuid.UUID) (model.Receipt, error)
	ReceiptGetByOrder(ctx context.Context, merchantID uuid.UUID, orderID string) (*model.Receipt, error)
	ReceiptCreate(ctx context.Context, receipt model.Receipt, items []model.ReceiptItem) error
	ReceiptMarkCanceled(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	ReceiptOtherValidExists(ctx context.Context, merchantID, customerID, excludeID uuid.UUID) (bool, error)
	PurchaseSum(ctx context.Context, merchantID, customerID uuid.UUID, since time.Time) (int64, error)

	NonceGet(ctx context.Context, jti uuid.UUID) (*model.QrNonce, error)
	NonceInsertUsed(ctx context.Context, nonce model.QrNonce) (bool, error)
	NonceMarkUsed(ctx context.Context, jti uuid.UUID, at time.Time) (bool, error)
	NonceRelease(ctx context.Context, jti uuid.UUID, shortCode bool) error

	LotCreate(ctx context.Context, lot model.EarnLot) (uuid.UUID, error)
	LotsForConsume(ctx context.Context, merchantID, customerID uuid.UUID, now time.Time) ([]model.EarnLot, error)
	LotsForUnconsume(ctx context.Context, merchantID, customerID uuid.UUID) ([]model.EarnLot, error)
	LotsForRevoke(ctx context.Context, merchantID, customerID uuid.UUID, orderID string, receiptID *uuid.UUID) ([]model.EarnLot, error)
	LotsPendingByOrder(ctx context.Context, merchantID, customerID uuid.UUID, orderID string) ([]model.EarnLot, error)
	LotAddConsumed(ctx context.Context, id uuid.UUID, delta int64) error
	LotActivate(ctx context.Context, id uuid.UUID, earnedAt time.Time) error
	LotsSetReceipt(ctx context.Context, ids []uuid.UUID, receiptID uuid.UUID) error
	LotsPendingDue(ctx context.Context, now time.Time, limit int) ([]model.EarnLot, error)
	LotsExpiredDue(ctx context.Context, now time.Time, limit int) ([]model.EarnLot, error)

	TierList(ctx context.Context, merchantID uuid.UUID) ([]model.Tier, error)
	TierGet(ctx context.Context, id uuid.UUID) (model.Tier, error)
	TierInitial(ctx context.Context, merchantID uuid.UUID) (*model.Tier, error)
	AssignmentCurrent(ctx context.Context, merchantID, customerID uuid.UUID) (*model.TierAssignment, error)
	AssignmentUpsert(ctx context.Context, a model.TierAssignment) error

	SegmentIsAll(ctx context.Context, segmentID uuid.UUID) (bool, error)
	SegmentHasCustomer(ctx context.Context, segmentID, customerID uuid.UUID) (bool, error)
	PromoUsage(ctx context.Context, customerID uuid.UUID, promotionIDs []uuid.UUID) ([]model.PromotionParticipant, error)
	PromoUsageRecord(ctx context.Context, customerID uuid.UUID, promotionIDs []uuid.UUID, at time.Time) error

	OutboxAppend(ctx context.Context, merchantID uuid.UUID, eventType string, payload any) error
}

// Акции, настраиваются маркетингом отдельно от ядра
type PromotionStorage interface {
	PromotionsActive(ctx context.Context, merchantID uuid.UUID) ([]model.Promotion, error)
}

// Кэш балансов
type CacheStorage interface {
	GetBalance(ctx context.Context, merchantID, customerID uuid.UUID) (int64, error)
	SetBalance(ctx context.Context, merchantID, customerID uuid.UUID, balance int64) error
	InvalidateBalance(ctx context.Context, merchantID, customerID uuid.UUID) error
}

// Событие продажи для внешних движков
type PurchaseEvent struct {
	MerchantID uuid.UUID
	CustomerID uuid.UUID
	ReceiptID  uuid.UUID
	OrderID    string
	Total      int64
	StaffID    *uuid.UUID
	EventAt    time.Time
}

// Реферальные награды, вызов best-effort
type ReferralEngine interface {
	PurchaseCompleted(ctx context.Context, event PurchaseEvent) error
	PurchaseRefunded(ctx context.Context, event PurchaseEvent) error
}

// Мотивация персонала, вызов best-effort
type StaffMotivation interface {
	RecordPurchase(ctx context.Context, event PurchaseEvent) error
	RecordRefund(ctx context.Context, event PurchaseEvent) error
}
