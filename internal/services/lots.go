package loyalty

import (
	"context"
	"time"

	interf "github.com/kh827y/loyalty/internal/interfaces"
	model "github.com/kh827y/loyalty/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// События аудита лотов
const (
	EventLotConsumed   = "loyalty.earnlot.consumed"
	EventLotUnconsumed = "loyalty.earnlot.unconsumed"
	EventLotRevoked    = "loyalty.earnlot.revoked"
	EventLotActivated  = "loyalty.earnlot.activated"
	EventLotExpired    = "loyalty.earnlot.expired"
)

// Изменение потребленных баллов лота
type LotUpdate struct {
	LotID uuid.UUID
	Delta int64
}

// FIFO-списание: старые лоты тратятся первыми.
// Лоты ожидаются отсортированными по earnedAt по возрастанию.
func PlanConsume(lots []model.EarnLot, amount int64) []LotUpdate {
	var updates []LotUpdate
	for _, lot := range lots {
		if amount <= 0 {
			break
		}
		free := lot.Points - lot.ConsumedPoints
		if free <= 0 {
			continue
		}
		delta := free
		if delta > amount {
			delta = amount
		}
		updates = append(updates, LotUpdate{LotID: lot.ID, Delta: delta})
		amount -= delta
	}
	return updates
}

// Возврат потребления: последние потраченные возвращаются первыми.
// Лоты ожидаются отсортированными по earnedAt по убыванию.
func PlanUnconsume(lots []model.EarnLot, amount int64) []LotUpdate {
	var updates []LotUpdate
	for _, lot := range lots {
		if amount <= 0 {
			break
		}
		if lot.ConsumedPoints <= 0 {
			continue
		}
		delta := lot.ConsumedPoints
		if delta > amount {
			delta = amount
		}
		updates = append(updates, LotUpdate{LotID: lot.ID, Delta: -delta})
		amount -= delta
	}
	return updates
}

// Отзыв начисленного: остаток лота принудительно гасится
func PlanRevoke(lots []model.EarnLot, amount int64) []LotUpdate {
	var updates []LotUpdate
	for _, lot := range lots {
		if amount <= 0 {
			break
		}
		free := lot.Points - lot.ConsumedPoints
		if free <= 0 {
			continue
		}
		delta := free
		if delta > amount {
			delta = amount
		}
		updates = append(updates, LotUpdate{LotID: lot.ID, Delta: delta})
		amount -= delta
	}
	return updates
}

func (s *LoyaltyService) applyLotUpdates(ctx context.Context, tx interf.Storage, merchantID uuid.UUID, updates []LotUpdate, event string, orderID string) error {
	for _, u := range updates {
		if err := tx.LotAddConsumed(ctx, u.LotID, u.Delta); err != nil {
			return err
		}
		payload := map[string]any{"lotId": u.LotID, "delta": u.Delta, "orderId": orderID}
		if err := tx.OutboxAppend(ctx, merchantID, event, payload); err != nil {
			return err
		}
	}
	return nil
}

func (s *LoyaltyService) consumeLots(ctx context.Context, tx interf.Storage, merchantID, customerID uuid.UUID, amount int64, orderID string) error {
	if !s.flags.EarnLots || amount <= 0 {
		return nil
	}
	lots, err := tx.LotsForConsume(ctx, merchantID, customerID, time.Now())
	if err != nil {
		return err
	}
	return s.applyLotUpdates(ctx, tx, merchantID, PlanConsume(lots, amount), EventLotConsumed, orderID)
}

func (s *LoyaltyService) unconsumeLots(ctx context.Context, tx interf.Storage, merchantID, customerID uuid.UUID, amount int64, orderID string) error {
	if !s.flags.EarnLots || amount <= 0 {
		return nil
	}
	lots, err := tx.LotsForUnconsume(ctx, merchantID, customerID)
	if err != nil {
		return err
	}
	return s.applyLotUpdates(ctx, tx, merchantID, PlanUnconsume(lots, amount), EventLotUnconsumed, orderID)
}

func (s *LoyaltyService) revokeLots(ctx context.Context, tx interf.Storage, merchantID, customerID uuid.UUID, amount int64, orderID string, receiptID *uuid.UUID) error {
	if !s.flags.EarnLots || amount <= 0 {
		return nil
	}
	lots, err := tx.LotsForRevoke(ctx, merchantID, customerID, orderID, receiptID)
	if err != nil {
		return err
	}
	return s.applyLotUpdates(ctx, tx, merchantID, PlanRevoke(lots, amount), EventLotRevoked, orderID)
}

// Активация отложенных лотов, дозревших к настоящему моменту.
// Зачисляет баллы на счет и пишет транзакцию начисления.
func (s *LoyaltyService) MatureLots(ctx context.Context, batch int) (int, error) {
	lots, err := s.db.LotsPendingDue(ctx, time.Now(), batch)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, lot := range lots {
		lot := lot
		err := s.db.WithTx(ctx, func(ctx context.Context, tx interf.Storage) error {
			earnedAt := time.Now()
			if lot.MaturesAt != nil {
				earnedAt = *lot.MaturesAt
			}
			if err := tx.LotActivate(ctx, lot.ID, earnedAt); err != nil {
				return err
			}
			wallet, err := tx.WalletEnsure(ctx, lot.MerchantID, lot.CustomerID)
			if err != nil {
				return err
			}
			if err = tx.WalletCredit(ctx, wallet.ID, lot.Points); err != nil {
				return err
			}
			if s.flags.Ledger {
				_, err = tx.TnxCreate(ctx, model.Transaction{
					ID:         uuid.New(),
					MerchantID: lot.MerchantID,
					CustomerID: lot.CustomerID,
					WalletID:   wallet.ID,
					Type:       model.TnxEarn,
					Amount:     lot.Points,
					OrderID:    lot.OrderID,
					ReceiptID:  lot.ReceiptID,
					Note:       "scheduled earn matured",
					CreatedAt:  time.Now(),
				})
				if err != nil {
					return err
				}
			}
			return tx.OutboxAppend(ctx, lot.MerchantID, EventLotActivated, map[string]any{"lotId": lot.ID, "points": lot.Points, "orderId": lot.OrderID})
		})
		if err != nil {
			s.logger.Error("mature lot", zap.String("lot", lot.ID.String()), zap.Error(err))
			continue
		}
		s.invalidateBalance(ctx, lot.MerchantID, lot.CustomerID)
		done++
	}
	return done, nil
}

// Сгорание просроченных лотов: остаток гасится и снимается со счета.
// Снимается не больше, чем есть на балансе.
func (s *LoyaltyService) ExpireLots(ctx context.Context, batch int) (int, error) {
	lots, err := s.db.LotsExpiredDue(ctx, time.Now(), batch)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, lot := range lots {
		lot := lot
		err := s.db.WithTx(ctx, func(ctx context.Context, tx interf.Storage) error {
			remaining := lot.Points - lot.ConsumedPoints
			if remaining <= 0 {
				return nil
			}
			if err := tx.LotAddConsumed(ctx, lot.ID, remaining); err != nil {
				return err
			}
			wallet, err := tx.WalletEnsure(ctx, lot.MerchantID, lot.CustomerID)
			if err != nil {
				return err
			}
			debit := remaining
			if debit > wallet.Balance {
				debit = wallet.Balance
			}
			if debit > 0 {
				ok, err := tx.WalletDebitIf(ctx, wallet.ID, debit)
				if err != nil {
					return err
				}
				if ok && s.flags.Ledger {
					_, err = tx.TnxCreate(ctx, model.Transaction{
						ID:         uuid.New(),
						MerchantID: lot.MerchantID,
						CustomerID: lot.CustomerID,
						WalletID:   wallet.ID,
						Type:       model.TnxRedeem,
						Amount:     -debit,
						Note:       "points expired",
						CreatedAt:  time.Now(),
					})
					if err != nil {
						return err
					}
				}
			}
			return tx.OutboxAppend(ctx, lot.MerchantID, EventLotExpired, map[string]any{"lotId": lot.ID, "points": remaining})
		})
		if err != nil {
			s.logger.Error("expire lot", zap.String("lot", lot.ID.String()), zap.Error(err))
			continue
		}
		s.invalidateBalance(ctx, lot.MerchantID, lot.CustomerID)
		done++
	}
	return done, nil
}
