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

func lot(id string, points, consumed int64) model.EarnLot {
	return model.EarnLot{
		ID:             uuid.MustParse(id),
		Points:         points,
		ConsumedPoints: consumed,
	}
}

func TestPlanConsume(t *testing.T) {
	lots := []model.EarnLot{
		lot("11111111-1111-1111-1111-111111111111", 10, 0),
		lot("22222222-2222-2222-2222-222222222222", 20, 5),
		lot("33333333-3333-3333-3333-333333333333", 30, 0),
	}

	updates := PlanConsume(lots, 18)
	require.Equal(t, updates, []LotUpdate{
		{LotID: lots[0].ID, Delta: 10},
		{LotID: lots[1].ID, Delta: 8},
	})
}

func TestPlanConsumeSkipsExhausted(t *testing.T) {
	lots := []model.EarnLot{
		lot("11111111-1111-1111-1111-111111111111", 10, 10),
		lot("22222222-2222-2222-2222-222222222222", 20, 0),
	}

	updates := PlanConsume(lots, 5)
	require.Equal(t, updates, []LotUpdate{{LotID: lots[1].ID, Delta: 5}})
}

func TestPlanUnconsume(t *testing.T) {
	lots := []model.EarnLot{
		lot("22222222-2222-2222-2222-222222222222", 20, 15),
		lot("11111111-1111-1111-1111-111111111111", 10, 10),
	}

	updates := PlanUnconsume(lots, 18)
	require.Equal(t, updates, []LotUpdate{
		{LotID: lots[0].ID, Delta: -15},
		{LotID: lots[1].ID, Delta: -3},
	})
}

func TestPlanRevoke(t *testing.T) {
	lots := []model.EarnLot{
		lot("11111111-1111-1111-1111-111111111111", 30, 25),
		lot("22222222-2222-2222-2222-222222222222", 20, 0),
	}

	updates := PlanRevoke(lots, 15)
	require.Equal(t, updates, []LotUpdate{
		{LotID: lots[0].ID, Delta: 5},
		{LotID: lots[1].ID, Delta: 10},
	})
}

func TestMatureLots(t *testing.T) {
	store := newMemStore()
	serv := NewLoyaltyService(zap.NewNop(), store, nil, nil, nil, nil, model.FeatureFlags{Ledger: true, EarnLots: true})
	ctx := context.Background()

	merchantID := uuid.New()
	customerID := uuid.New()
	maturesAt := time.Now().Add(-time.Hour)
	_, err := store.LotCreate(ctx, model.EarnLot{
		ID:         uuid.New(),
		MerchantID: merchantID,
		CustomerID: customerID,
		Points:     40,
		Status:     model.LotPending,
		MaturesAt:  &maturesAt,
		OrderID:    "order-1",
	})
	require.NoError(t, err)

	done, err := serv.MatureLots(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, done, 1)

	wallet, err := store.WalletGet(ctx, merchantID, customerID)
	require.NoError(t, err)
	require.Equal(t, wallet.Balance, int64(40))

	// повторный прогон ничего не находит
	done, err = serv.MatureLots(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, done, 0)
}

func TestExpireLots(t *testing.T) {
	store := newMemStore()
	serv := NewLoyaltyService(zap.NewNop(), store, nil, nil, nil, nil, model.FeatureFlags{Ledger: true, EarnLots: true})
	ctx := context.Background()

	merchantID := uuid.New()
	customerID := uuid.New()
	wallet, err := store.WalletEnsure(ctx, merchantID, customerID)
	require.NoError(t, err)
	require.NoError(t, store.WalletCredit(ctx, wallet.ID, 30))

	expiresAt := time.Now().Add(-time.Minute)
	_, err = store.LotCreate(ctx, model.EarnLot{
		ID:             uuid.New(),
		MerchantID:     merchantID,
		CustomerID:     customerID,
		Points:         50,
		ConsumedPoints: 10,
		EarnedAt:       time.Now().Add(-48 * time.Hour),
		Status:         model.LotActive,
		ExpiresAt:      &expiresAt,
	})
	require.NoError(t, err)

	done, err := serv.ExpireLots(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, done, 1)

	// остаток лота 40, на счете было 30: в минус не уходим
	fresh, err := store.WalletGet(ctx, merchantID, customerID)
	require.NoError(t, err)
	require.Equal(t, fresh.Balance, int64(0))

	// запись сгорания без заказа не попадает в кулдауны
	last, err := store.TnxLast(ctx, merchantID, customerID, model.TnxRedeem)
	require.NoError(t, err)
	require.Nil(t, last)

	done, err = serv.ExpireLots(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, done, 0)
}
