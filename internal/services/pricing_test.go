package loyalty

import (
	"testing"

	model "github.com/kh827y/loyalty/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func position(price, qty int64) Position {
	p := Position{
		Qty:           decimal.NewFromInt(qty),
		Price:         decimal.NewFromInt(price),
		AccruePoints:  true,
		AllowRedeem:   true,
		RedeemPercent: 100,
	}
	p.Amount = amountOf(p.Price, p.Qty)
	return p
}

func TestApplyPromotionsNthFree(t *testing.T) {
	promoID := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	rules := []model.ActivePromotionRule{
		{ID: promoID, Effect: model.NthFree{BuyQty: 3, FreeQty: 1}},
	}

	// 10 штук по 10: две группы по 4, значит 2 бесплатных
	res := applyPromotions(position(10, 10), rules)
	require.Len(t, res, 2)

	free, paid := res[0], res[1]
	require.True(t, free.Qty.Equal(decimal.NewFromInt(2)))
	require.Equal(t, free.Amount, int64(0))
	require.True(t, free.Price.IsZero())
	require.Equal(t, free.PromotionIDs, []uuid.UUID{promoID})
	require.Nil(t, free.PointsRules)

	require.True(t, paid.Qty.Equal(decimal.NewFromInt(8)))
	require.Equal(t, paid.Amount, int64(80))
	require.Equal(t, paid.PromotionIDs, []uuid.UUID{promoID})
}

func TestApplyPromotionsNthFreeTooFew(t *testing.T) {
	rules := []model.ActivePromotionRule{
		{ID: uuid.New(), Effect: model.NthFree{BuyQty: 3, FreeQty: 1}},
	}
	// трех штук на группу не хватает, позиция не расщепляется
	res := applyPromotions(position(10, 3), rules)
	require.Len(t, res, 1)
	require.Equal(t, res[0].Amount, int64(30))
	require.Empty(t, res[0].PromotionIDs)
}

func TestApplyPromotionsBestFixedPrice(t *testing.T) {
	bestID := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	rules := []model.ActivePromotionRule{
		{ID: uuid.New(), Effect: model.FixedPrice{Price: 80}},
		{ID: bestID, Effect: model.FixedPrice{Price: 50}},
	}

	res := applyPromotions(position(100, 2), rules)
	require.Len(t, res, 1)
	require.Equal(t, res[0].Amount, int64(100))
	require.True(t, res[0].Price.Equal(decimal.NewFromInt(50)))
	require.NotNil(t, res[0].BasePrice)
	require.True(t, res[0].BasePrice.Equal(decimal.NewFromInt(100)))
	require.Equal(t, res[0].PromotionIDs, []uuid.UUID{bestID})
}

func TestApplyPromotionsFixedPriceAboveCurrent(t *testing.T) {
	rules := []model.ActivePromotionRule{
		{ID: uuid.New(), Effect: model.FixedPrice{Price: 200}},
	}
	// фикс-цена выше текущей не применяется
	res := applyPromotions(position(100, 1), rules)
	require.Len(t, res, 1)
	require.Equal(t, res[0].Amount, int64(100))
	require.Nil(t, res[0].BasePrice)
	require.Empty(t, res[0].PromotionIDs)
}

func TestApplyEarnAndRedeem(t *testing.T) {
	positions := []Position{position(100, 1), position(300, 1)}

	plans := ApplyEarnAndRedeem(positions, 500, 100, true)
	require.Len(t, plans, 2)
	require.Equal(t, plans[0].RedeemShare, int64(25))
	require.Equal(t, plans[1].RedeemShare, int64(75))
	// начисление на остаток после скидки
	require.Equal(t, plans[0].BasePoints, int64(3))  // (100-25)*5%
	require.Equal(t, plans[1].BasePoints, int64(11)) // (300-75)*5%
	require.Equal(t, plans[0].EarnPoints, plans[0].BasePoints)
	require.Equal(t, plans[0].PromoBonus, int64(0))
}

func TestApplyEarnAndRedeemNoEarn(t *testing.T) {
	plans := ApplyEarnAndRedeem([]Position{position(100, 1)}, 500, 0, false)
	require.Equal(t, plans[0].EarnPoints, int64(0))
	require.Equal(t, plans[0].BasePoints, int64(0))
}

func TestApplyEarnAndRedeemRespectsRedeemPercent(t *testing.T) {
	limited := position(100, 1)
	limited.RedeemPercent = 10
	positions := []Position{limited, position(100, 1)}

	plans := ApplyEarnAndRedeem(positions, 0, 100, false)
	require.Equal(t, plans[0].RedeemShare, int64(10))
	require.Equal(t, plans[1].RedeemShare, int64(90))
}

func TestApplyEarnAndRedeemPointsRules(t *testing.T) {
	multiplier := model.ActivePromotionRule{
		ID:     uuid.MustParse("33333333-3333-3333-3333-333333333333"),
		Effect: model.PointsMultiplier{RuleType: model.PointsRuleMultiplier, Value: 2},
	}
	percent := model.ActivePromotionRule{
		ID:     uuid.MustParse("44444444-4444-4444-4444-444444444444"),
		Effect: model.PointsMultiplier{RuleType: model.PointsRulePercent, Value: 10},
	}

	pos := position(1000, 1)
	pos.PointsRules = []model.ActivePromotionRule{multiplier, percent}

	// база 5%: 50 баллов; x2 дает 100, 10% дает 100; берется первое лучшее
	plans := ApplyEarnAndRedeem([]Position{pos}, 500, 0, true)
	require.Equal(t, plans[0].BasePoints, int64(50))
	require.Equal(t, plans[0].EarnPoints, int64(100))
	require.Equal(t, plans[0].PromoBonus, int64(50))
	require.NotNil(t, plans[0].PromoID)
	require.Equal(t, *plans[0].PromoID, multiplier.ID)
}

func TestApplyEarnAndRedeemFixedPoints(t *testing.T) {
	fixed := model.ActivePromotionRule{
		ID:     uuid.New(),
		Effect: model.PointsMultiplier{RuleType: model.PointsRuleFixed, Value: 5},
	}

	pos := Position{
		Qty:           decimal.NewFromFloat(2.5),
		Price:         decimal.NewFromInt(100),
		AccruePoints:  true,
		AllowRedeem:   true,
		RedeemPercent: 100,
		PointsRules:   []model.ActivePromotionRule{fixed},
	}
	pos.Amount = amountOf(pos.Price, pos.Qty)

	// 5 баллов за штуку, 2.5 штуки: floor(12.5) = 12
	plans := ApplyEarnAndRedeem([]Position{pos}, 100, 0, true)
	require.Equal(t, plans[0].BasePoints, int64(2)) // 250 * 1%
	require.Equal(t, plans[0].EarnPoints, int64(12))
	require.Equal(t, plans[0].PromoBonus, int64(10))
}
