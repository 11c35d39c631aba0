package loyalty

import (
	"context"

	model "github.com/kh827y/loyalty/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Сырая позиция из запроса кассы
type RawItem struct {
	ProductID  *uuid.UUID      `json:"productId"`
	ExternalID string          `json:"externalId"`
	Name       string          `json:"name"`
	Qty        decimal.Decimal `json:"qty"`
	Price      decimal.Decimal `json:"price"`
}

// Позиция после сопоставления с каталогом и применения промо
type Position struct {
	ProductID     *uuid.UUID
	ExternalID    string
	Name          string
	CategoryID    *uuid.UUID
	Qty           decimal.Decimal
	Price         decimal.Decimal
	BasePrice     *decimal.Decimal
	Amount        int64
	AccruePoints  bool
	AllowRedeem   bool
	RedeemPercent int32
	PromotionIDs  []uuid.UUID
	PointsRules   []model.ActivePromotionRule // кандидаты, выбор при расчете начисления
}

// Сопоставление позиций с каталогом и применение промо-правил.
// Порядок: фикс-цена -> каждый N-й бесплатно -> баллы (кандидаты).
func (s *LoyaltyService) ResolvePositions(ctx context.Context, merchantID uuid.UUID, items []RawItem, rules []model.ActivePromotionRule) ([]Position, error) {
	var ids []uuid.UUID
	var externals []string
	for _, it := range items {
		if it.ProductID != nil {
			ids = append(ids, *it.ProductID)
		} else if it.ExternalID != "" {
			externals = append(externals, it.ExternalID)
		}
	}
	products, err := s.db.ProductsFind(ctx, merchantID, ids, externals)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]model.Product, len(products))
	byExternal := make(map[string]model.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
		if p.ExternalID != "" {
			byExternal[p.ExternalID] = p
		}
	}

	var positions []Position
	for _, it := range items {
		if it.Qty.Sign() <= 0 || it.Price.Sign() < 0 {
			continue
		}
		pos := Position{
			ExternalID:    it.ExternalID,
			Name:          it.Name,
			Qty:           it.Qty,
			Price:         it.Price,
			AccruePoints:  true,
			AllowRedeem:   true,
			RedeemPercent: 100,
		}
		var product *model.Product
		if it.ProductID != nil {
			if p, ok := byID[*it.ProductID]; ok {
				product = &p
			}
		}
		if product == nil && it.ExternalID != "" {
			if p, ok := byExternal[it.ExternalID]; ok {
				product = &p
			}
		}
		if product != nil {
			id := product.ID
			pos.ProductID = &id
			pos.CategoryID = product.CategoryID
			pos.AccruePoints = product.AccruePoints
			pos.AllowRedeem = product.AllowRedeem
			if product.RedeemPercent > 0 {
				pos.RedeemPercent = product.RedeemPercent
			}
			if pos.Name == "" {
				pos.Name = product.Name
			}
		}
		pos.Amount = amountOf(pos.Price, pos.Qty)
		if pos.Amount <= 0 {
			continue
		}
		positions = append(positions, applyPromotions(pos, rules)...)
	}
	return positions, nil
}

func amountOf(price decimal.Decimal, qty decimal.Decimal) int64 {
	return price.Mul(qty).Round(0).IntPart()
}

// Применение скидочных промо к одной позиции, может расщепить ее на две
func applyPromotions(pos Position, rules []model.ActivePromotionRule) []Position {
	var fixed *model.ActivePromotionRule
	var nth *model.ActivePromotionRule
	for i := range rules {
		r := rules[i]
		if !r.Matches(pos.ProductID, pos.CategoryID) {
			continue
		}
		switch eff := r.Effect.(type) {
		case model.FixedPrice:
			// из нескольких фикс-цен берем лучшую для клиента
			if fixed == nil {
				fixed = &rules[i]
			} else if eff.Price < fixed.Effect.(model.FixedPrice).Price {
				fixed = &rules[i]
			}
		case model.NthFree:
			if nth == nil {
				nth = &rules[i]
			}
		case model.PointsMultiplier:
			pos.PointsRules = append(pos.PointsRules, r)
		}
	}

	if fixed != nil {
		price := decimal.NewFromInt(fixed.Effect.(model.FixedPrice).Price)
		if price.LessThan(pos.Price) {
			base := pos.Price
			pos.BasePrice = &base
			pos.Price = price
			pos.Amount = amountOf(pos.Price, pos.Qty)
			pos.PromotionIDs = append(pos.PromotionIDs, fixed.ID)
		}
	}
	if pos.Amount <= 0 {
		// цена упала до нуля, позиция бесплатна
		return []Position{pos}
	}

	if nth != nil {
		eff := nth.Effect.(model.NthFree)
		group := decimal.NewFromInt32(eff.BuyQty + eff.FreeQty)
		freeCount := pos.Qty.Div(group).Floor().Mul(decimal.NewFromInt32(eff.FreeQty))
		if freeCount.Sign() > 0 {
			free := pos
			free.Qty = freeCount
			if free.BasePrice == nil {
				base := pos.Price
				free.BasePrice = &base
			}
			free.Price = decimal.Zero
			free.Amount = 0
			free.PromotionIDs = append(append([]uuid.UUID{}, pos.PromotionIDs...), nth.ID)
			free.PointsRules = nil

			paid := pos
			paid.Qty = pos.Qty.Sub(freeCount)
			paid.Amount = amountOf(paid.Price, paid.Qty)
			paid.PromotionIDs = append(append([]uuid.UUID{}, pos.PromotionIDs...), nth.ID)
			if paid.Amount <= 0 {
				return []Position{free}
			}
			return []Position{free, paid}
		}
	}
	return []Position{pos}
}

// План начисления/списания по позиции
type ItemPlan struct {
	RedeemShare int64
	BasePoints  int64
	EarnPoints  int64
	PromoBonus  int64
	PromoID     *uuid.UUID
}

// Распределение скидки по потолкам позиций и расчет начисления
// на остаток после скидки. Для каждой позиции берется одно
// лучшее балльное правило, если оно платит больше базовой ставки.
func ApplyEarnAndRedeem(positions []Position, earnBps int32, discountToApply int64, allowEarn bool) []ItemPlan {
	amounts := make([]int64, len(positions))
	caps := make([]int64, len(positions))
	for i, p := range positions {
		amounts[i] = p.Amount
		caps[i] = RedeemCap(p.Amount, p.RedeemPercent, p.AllowRedeem)
	}
	shares := AllocateProRataWithCaps(amounts, caps, discountToApply)

	plans := make([]ItemPlan, len(positions))
	for i, p := range positions {
		plan := ItemPlan{RedeemShare: shares[i]}
		if allowEarn && p.AccruePoints {
			earnBase := p.Amount - shares[i]
			if earnBase < 0 {
				earnBase = 0
			}
			plan.BasePoints = earnBase * int64(earnBps) / 10000
			plan.EarnPoints = plan.BasePoints
			for _, r := range p.PointsRules {
				eff, ok := r.Effect.(model.PointsMultiplier)
				if !ok {
					continue
				}
				var pts int64
				switch eff.RuleType {
				case model.PointsRuleMultiplier:
					pts = plan.BasePoints * eff.Value
				case model.PointsRulePercent:
					pts = earnBase * eff.Value / 100
				case model.PointsRuleFixed:
					pts = decimal.NewFromInt(eff.Value).Mul(p.Qty).Floor().IntPart()
				}
				if pts > plan.EarnPoints {
					plan.EarnPoints = pts
					id := r.ID
					plan.PromoID = &id
				}
			}
			plan.PromoBonus = plan.EarnPoints - plan.BasePoints
		}
		plans[i] = plan
	}
	return plans
}
