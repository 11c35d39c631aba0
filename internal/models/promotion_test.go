package loyalty

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func fixedPriceMeta(price int64) PromotionMetadata {
	return PromotionMetadata{Kind: RuleFixedPrice, Price: &price}
}

func TestDecodePromotion(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	productID := uuid.New()

	tests := []struct {
		name      string
		promotion Promotion
		effect    PromotionEffect
		skipped   bool
		wantErr   bool
	}{
		{
			name: "фикс-цена",
			promotion: Promotion{
				ID: uuid.New(), Status: "ACTIVE", RewardType: "DISCOUNT",
				Metadata: fixedPriceMeta(50),
			},
			effect: FixedPrice{Price: 50},
		},
		{
			name: "каждый четвертый бесплатно, freeQty по умолчанию",
			promotion: Promotion{
				ID: uuid.New(), Status: "ACTIVE", RewardType: "DISCOUNT",
				Metadata: PromotionMetadata{Kind: RuleNthFree, BuyQty: 3},
			},
			effect: NthFree{BuyQty: 3, FreeQty: 1},
		},
		{
			name: "балльный множитель",
			promotion: Promotion{
				ID: uuid.New(), Status: "ACTIVE", RewardType: "POINTS",
				Metadata: PromotionMetadata{PointsRuleType: PointsRuleMultiplier, PointsValue: 2, ProductIDs: []uuid.UUID{productID}},
			},
			effect: PointsMultiplier{RuleType: PointsRuleMultiplier, Value: 2},
		},
		{
			name: "неактивная",
			promotion: Promotion{
				ID: uuid.New(), Status: "DRAFT", RewardType: "DISCOUNT",
				Metadata: fixedPriceMeta(50),
			},
			skipped: true,
		},
		{
			name: "архивная",
			promotion: Promotion{
				ID: uuid.New(), Status: "ACTIVE", Archived: true, RewardType: "DISCOUNT",
				Metadata: fixedPriceMeta(50),
			},
			skipped: true,
		},
		{
			name: "еще не началась",
			promotion: Promotion{
				ID: uuid.New(), Status: "ACTIVE", RewardType: "DISCOUNT", StartAt: &future,
				Metadata: fixedPriceMeta(50),
			},
			skipped: true,
		},
		{
			name: "уже закончилась",
			promotion: Promotion{
				ID: uuid.New(), Status: "ACTIVE", RewardType: "DISCOUNT", EndAt: &past,
				Metadata: fixedPriceMeta(50),
			},
			skipped: true,
		},
		{
			name: "балльная без целей не поддерживается",
			promotion: Promotion{
				ID: uuid.New(), Status: "ACTIVE", RewardType: "POINTS",
				Metadata: PromotionMetadata{PointsRuleType: PointsRuleMultiplier, PointsValue: 2},
			},
			skipped: true,
		},
		{
			name: "балльная с неизвестным типом",
			promotion: Promotion{
				ID: uuid.New(), Status: "ACTIVE", RewardType: "POINTS",
				Metadata: PromotionMetadata{PointsRuleType: "cashback", PointsValue: 2, ProductIDs: []uuid.UUID{productID}},
			},
			skipped: true,
		},
		{
			name: "отрицательная фикс-цена",
			promotion: Promotion{
				ID: uuid.New(), Status: "ACTIVE", RewardType: "DISCOUNT",
				Metadata: fixedPriceMeta(-10),
			},
			skipped: true,
		},
		{
			name: "неизвестный тип награды",
			promotion: Promotion{
				ID: uuid.New(), Status: "ACTIVE", RewardType: "CASHBACK",
				Metadata: fixedPriceMeta(50),
			},
			wantErr: true,
		},
	}

	for _, ts := range tests {
		rule, err := DecodePromotion(ts.promotion, now)
		if ts.wantErr {
			require.Error(t, err, ts.name)
			continue
		}
		require.NoError(t, err, ts.name)
		if ts.skipped {
			require.Nil(t, rule, ts.name)
			continue
		}
		require.NotNil(t, rule, ts.name)
		require.Equal(t, rule.Effect, ts.effect, ts.name)
	}
}

func TestActivePromotionRuleMatches(t *testing.T) {
	productID := uuid.New()
	categoryID := uuid.New()
	other := uuid.New()

	targeted := ActivePromotionRule{
		Effect:      PointsMultiplier{RuleType: PointsRuleMultiplier, Value: 2},
		ProductIDs:  []uuid.UUID{productID},
		CategoryIDs: []uuid.UUID{categoryID},
	}
	require.True(t, targeted.Matches(&productID, nil))
	require.True(t, targeted.Matches(nil, &categoryID))
	require.False(t, targeted.Matches(&other, &other))
	require.False(t, targeted.Matches(nil, nil))

	// скидка без целей действует на весь чек
	broad := ActivePromotionRule{Effect: FixedPrice{Price: 10}}
	require.True(t, broad.Matches(nil, nil))
	require.True(t, broad.Matches(&other, nil))

	// балльная без целей не действует
	points := ActivePromotionRule{Effect: PointsMultiplier{RuleType: PointsRuleMultiplier, Value: 2}}
	require.False(t, points.Matches(&other, nil))
}
