package loyalty

import (
	"context"
	"time"

	interf "github.com/kh827y/loyalty/internal/interfaces"
	model "github.com/kh827y/loyalty/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Эффективные ставки клиента по его уровню.
// Любая ошибка деградирует до нулевых ставок: продажа не блокируется,
// но и бонусы не обещаются.
func (s *LoyaltyService) ResolveRates(ctx context.Context, merchantID, customerID uuid.UUID) model.Rates {
	rates, err := s.resolveRates(ctx, s.db, merchantID, customerID)
	if err != nil {
		s.logger.Warn("resolve rates", zap.String("customer", customerID.String()), zap.Error(err))
		return model.Rates{}
	}
	return rates
}

func (s *LoyaltyService) resolveRates(ctx context.Context, db interf.Storage, merchantID, customerID uuid.UUID) (model.Rates, error) {
	now := time.Now()
	assignment, err := db.AssignmentCurrent(ctx, merchantID, customerID)
	if err != nil {
		return model.Rates{}, err
	}

	recompute := false
	if assignment == nil {
		recompute = true
	} else if assignment.ExpiresAt != nil && assignment.ExpiresAt.Before(now) {
		recompute = true
	} else if assignment.Source == model.TierSourcePromocode && assignment.ExpiresAt == nil {
		// промокодное назначение без срока живет стандартный период
		if assignment.AssignedAt.AddDate(0, 0, s.tierPeriodDays).Before(now) {
			recompute = true
		}
	}

	if recompute {
		if err = s.recomputeTierProgress(ctx, db, merchantID, customerID); err != nil {
			return model.Rates{}, err
		}
		assignment, err = db.AssignmentCurrent(ctx, merchantID, customerID)
		if err != nil {
			return model.Rates{}, err
		}
	}

	var tier model.Tier
	if assignment != nil {
		tier, err = db.TierGet(ctx, assignment.TierID)
		if err != nil {
			return model.Rates{}, err
		}
	} else {
		initial, err := db.TierInitial(ctx, merchantID)
		if err != nil {
			return model.Rates{}, err
		}
		if initial == nil {
			return model.Rates{}, nil
		}
		tier = *initial
	}
	return model.Rates{
		EarnBps:        tier.EarnRateBps,
		RedeemLimitBps: tier.RedeemRateBps,
		TierMinPayment: tier.MinPaymentAmount,
	}, nil
}

// Пересчет прогресса: сумма покупок за период против порогов уровней.
// Ручное назначение не понижается автоматикой.
func (s *LoyaltyService) recomputeTierProgress(ctx context.Context, db interf.Storage, merchantID, customerID uuid.UUID) error {
	now := time.Now()
	current, err := db.AssignmentCurrent(ctx, merchantID, customerID)
	if err != nil {
		return err
	}
	if current != nil && current.Source == model.TierSourceManual {
		if current.ExpiresAt == nil || current.ExpiresAt.After(now) {
			return nil
		}
	}

	sum, err := db.PurchaseSum(ctx, merchantID, customerID, now.AddDate(0, 0, -s.tierPeriodDays))
	if err != nil {
		return err
	}
	tiers, err := db.TierList(ctx, merchantID)
	if err != nil {
		return err
	}

	var target *model.Tier
	for i := range tiers {
		t := tiers[i]
		if t.IsHidden {
			continue
		}
		if t.ThresholdAmount <= sum {
			if target == nil || t.ThresholdAmount > target.ThresholdAmount {
				target = &tiers[i]
			}
		} else if target == nil && t.IsInitial {
			target = &tiers[i]
		}
	}
	if target == nil {
		initial, err := db.TierInitial(ctx, merchantID)
		if err != nil || initial == nil {
			return err
		}
		target = initial
	}

	expires := now.AddDate(0, 0, s.tierPeriodDays)
	return db.AssignmentUpsert(ctx, model.TierAssignment{
		ID:         uuid.New(),
		MerchantID: merchantID,
		CustomerID: customerID,
		TierID:     target.ID,
		Source:     model.TierSourceAuto,
		AssignedAt: now,
		ExpiresAt:  &expires,
	})
}

// Пересчет уровня после коммита/возврата, best-effort
func (s *LoyaltyService) refreshTier(ctx context.Context, merchantID, customerID uuid.UUID) {
	if err := s.recomputeTierProgress(ctx, s.db, merchantID, customerID); err != nil {
		s.logger.Warn("tier recompute", zap.String("customer", customerID.String()), zap.Error(err))
	}
}
