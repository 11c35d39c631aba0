package loyalty

import (
	"context"
	"sort"
	"time"

	model "github.com/kh827y/loyalty/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Загрузка активных акций мерчанта и разбор в правила движка
func (s *LoyaltyService) LoadActiveRules(ctx context.Context, merchantID uuid.UUID, now time.Time) ([]model.ActivePromotionRule, error) {
	promotions, err := s.promos.PromotionsActive(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	var rules []model.ActivePromotionRule
	for _, p := range promotions {
		rule, err := model.DecodePromotion(p, now)
		if err != nil {
			s.logger.Warn("skip promotion", zap.String("promotion", p.ID.String()), zap.Error(err))
			continue
		}
		if rule != nil {
			rules = append(rules, *rule)
		}
	}
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Effect.Priority() < rules[j].Effect.Priority()
	})
	return rules, nil
}

// Фильтр правил по клиенту: сегменты и лимиты использования.
// Без клиента проходят только правила без сегмента и без лимита.
func (s *LoyaltyService) FilterForCustomer(ctx context.Context, rules []model.ActivePromotionRule, customerID *uuid.UUID, now time.Time) ([]model.ActivePromotionRule, error) {
	if customerID == nil {
		var out []model.ActivePromotionRule
		for _, r := range rules {
			if r.SegmentID == nil && r.UsageLimit == "" {
				out = append(out, r)
			}
		}
		return out, nil
	}

	var limitedIDs []uuid.UUID
	for _, r := range rules {
		if r.UsageLimit != "" {
			limitedIDs = append(limitedIDs, r.ID)
		}
	}
	usage := make(map[uuid.UUID]model.PromotionParticipant)
	if len(limitedIDs) > 0 {
		participants, err := s.db.PromoUsage(ctx, *customerID, limitedIDs)
		if err != nil {
			return nil, err
		}
		for _, p := range participants {
			usage[p.PromotionID] = p
		}
	}

	keep := make([]bool, len(rules))
	g, gctx := errgroup.WithContext(ctx)
	for i := range rules {
		i := i
		g.Go(func() error {
			r := rules[i]
			if r.SegmentID != nil {
				all, err := s.db.SegmentIsAll(gctx, *r.SegmentID)
				if err != nil {
					return err
				}
				if !all {
					member, err := s.db.SegmentHasCustomer(gctx, *r.SegmentID, *customerID)
					if err != nil {
						return err
					}
					if !member {
						return nil
					}
				}
			}
			if r.UsageLimit != "" {
				if used, ok := usage[r.ID]; ok && usageExhausted(r.UsageLimit, used, now) {
					return nil
				}
			}
			keep[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []model.ActivePromotionRule
	for i, k := range keep {
		if k {
			out = append(out, rules[i])
		}
	}
	return out, nil
}

// Лимит исчерпан, если в текущем окне уже была покупка
func usageExhausted(limit string, p model.PromotionParticipant, now time.Time) bool {
	if p.PurchasesCount <= 0 {
		return false
	}
	switch limit {
	case model.UsageOncePerClient:
		return true
	case model.UsageOncePerDay:
		return p.LastPurchaseAt != nil && !p.LastPurchaseAt.Before(startOfDay(now))
	case model.UsageOncePerWeek:
		return p.LastPurchaseAt != nil && !p.LastPurchaseAt.Before(startOfWeek(now))
	case model.UsageOncePerMonth:
		return p.LastPurchaseAt != nil && !p.LastPurchaseAt.Before(startOfMonth(now))
	}
	return false
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// неделя начинается с понедельника
func startOfWeek(t time.Time) time.Time {
	day := startOfDay(t)
	weekday := int(day.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	return day.AddDate(0, 0, -(weekday - 1))
}

func startOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}
