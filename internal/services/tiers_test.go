package loyalty

import (
	"context"
	"testing"
	"time"

	model "github.com/kh827y/loyalty/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func tierFixture(store *memStore, merchantID uuid.UUID) (base, silver, gold model.Tier) {
	base = model.Tier{
		ID: uuid.New(), MerchantID: merchantID, Name: "Base",
		EarnRateBps: 300, RedeemRateBps: 3000, IsInitial: true,
	}
	silver = model.Tier{
		ID: uuid.New(), MerchantID: merchantID, Name: "Silver",
		ThresholdAmount: 10000, EarnRateBps: 500, RedeemRateBps: 5000,
	}
	gold = model.Tier{
		ID: uuid.New(), MerchantID: merchantID, Name: "Gold",
		ThresholdAmount: 50000, EarnRateBps: 700, RedeemRateBps: 7000,
	}
	store.tiers = append(store.tiers, base, silver, gold)
	return base, silver, gold
}

func TestResolveRatesInitialTier(t *testing.T) {
	store := newMemStore()
	serv := NewLoyaltyService(zap.NewNop(), store, nil, nil, nil, nil, model.FeatureFlags{})
	merchantID := uuid.New()
	customerID := uuid.New()
	tierFixture(store, merchantID)

	rates := serv.ResolveRates(context.Background(), merchantID, customerID)
	require.Equal(t, rates.EarnBps, int32(300))
	require.Equal(t, rates.RedeemLimitBps, int32(3000))
}

func TestResolveRatesPromotesByPurchases(t *testing.T) {
	store := newMemStore()
	serv := NewLoyaltyService(zap.NewNop(), store, nil, nil, nil, nil, model.FeatureFlags{})
	ctx := context.Background()
	merchantID := uuid.New()
	customerID := uuid.New()
	tierFixture(store, merchantID)

	require.NoError(t, store.ReceiptCreate(ctx, model.Receipt{
		ID: uuid.New(), MerchantID: merchantID, CustomerID: customerID,
		OrderID: "order-1", Total: 12000, CreatedAt: time.Now().Add(-24 * time.Hour),
	}, nil))

	rates := serv.ResolveRates(ctx, merchantID, customerID)
	require.Equal(t, rates.EarnBps, int32(500))
	require.Equal(t, rates.RedeemLimitBps, int32(5000))
}

func TestResolveRatesIgnoresCanceledPurchases(t *testing.T) {
	store := newMemStore()
	serv := NewLoyaltyService(zap.NewNop(), store, nil, nil, nil, nil, model.FeatureFlags{})
	ctx := context.Background()
	merchantID := uuid.New()
	customerID := uuid.New()
	tierFixture(store, merchantID)

	canceled := time.Now()
	require.NoError(t, store.ReceiptCreate(ctx, model.Receipt{
		ID: uuid.New(), MerchantID: merchantID, CustomerID: customerID,
		OrderID: "order-1", Total: 60000, CanceledAt: &canceled, CreatedAt: time.Now().Add(-24 * time.Hour),
	}, nil))

	rates := serv.ResolveRates(ctx, merchantID, customerID)
	require.Equal(t, rates.EarnBps, int32(300))
}

func TestResolveRatesManualAssignmentNotDowngraded(t *testing.T) {
	store := newMemStore()
	serv := NewLoyaltyService(zap.NewNop(), store, nil, nil, nil, nil, model.FeatureFlags{})
	ctx := context.Background()
	merchantID := uuid.New()
	customerID := uuid.New()
	_, _, gold := tierFixture(store, merchantID)

	// вручную выданный голд живет без покупок
	require.NoError(t, store.AssignmentUpsert(ctx, model.TierAssignment{
		ID: uuid.New(), MerchantID: merchantID, CustomerID: customerID,
		TierID: gold.ID, Source: model.TierSourceManual, AssignedAt: time.Now().Add(-time.Hour),
	}))

	rates := serv.ResolveRates(ctx, merchantID, customerID)
	require.Equal(t, rates.EarnBps, int32(700))
}

func TestResolveRatesExpiredAssignmentRecomputed(t *testing.T) {
	store := newMemStore()
	serv := NewLoyaltyService(zap.NewNop(), store, nil, nil, nil, nil, model.FeatureFlags{})
	ctx := context.Background()
	merchantID := uuid.New()
	customerID := uuid.New()
	_, _, gold := tierFixture(store, merchantID)

	expired := time.Now().Add(-time.Hour)
	require.NoError(t, store.AssignmentUpsert(ctx, model.TierAssignment{
		ID: uuid.New(), MerchantID: merchantID, CustomerID: customerID,
		TierID: gold.ID, Source: model.TierSourceAuto,
		AssignedAt: time.Now().AddDate(-1, 0, -1), ExpiresAt: &expired,
	}))

	// покупок за период нет: автоназначение откатывается на начальный
	rates := serv.ResolveRates(ctx, merchantID, customerID)
	require.Equal(t, rates.EarnBps, int32(300))

	current, err := store.AssignmentCurrent(ctx, merchantID, customerID)
	require.NoError(t, err)
	require.NotNil(t, current)
	require.Equal(t, current.Source, model.TierSourceAuto)
}
