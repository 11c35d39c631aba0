package loyalty

import (
	"context"
	"os"
	"strconv"
	"time"

	interf "github.com/kh827y/loyalty/internal/interfaces"
	model "github.com/kh827y/loyalty/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type LoyaltyService struct {
	logger         *zap.Logger
	db             interf.Storage
	promos         interf.PromotionStorage
	cache          interf.CacheStorage
	referral       interf.ReferralEngine
	staff          interf.StaffMotivation
	flags          model.FeatureFlags
	tierPeriodDays int
}

func NewLoyaltyService(logger *zap.Logger, db interf.Storage, promos interf.PromotionStorage, cache interf.CacheStorage, referral interf.ReferralEngine, staff interf.StaffMotivation, flags model.FeatureFlags) *LoyaltyService {
	days := 365
	if env := os.Getenv("LOYALTY_TIER_PERIOD_DAYS"); env != "" {
		if v, err := strconv.Atoi(env); err == nil && v > 0 {
			days = v
		}
	}
	return &LoyaltyService{
		logger:         logger,
		db:             db,
		promos:         promos,
		cache:          cache,
		referral:       referral,
		staff:          staff,
		flags:          flags,
		tierPeriodDays: days,
	}
}

// баланс
func (s *LoyaltyService) Balance(ctx context.Context, merchantID, customerID uuid.UUID) (int64, error) {
	if s.cache != nil {
		balance, err := s.cache.GetBalance(ctx, merchantID, customerID)
		if err == nil {
			return balance, nil
		}
	}
	wallet, err := s.db.WalletGet(ctx, merchantID, customerID)
	if err != nil {
		return 0, err
	}
	if s.cache != nil {
		_ = s.cache.SetBalance(ctx, merchantID, customerID, wallet.Balance)
	}
	return wallet.Balance, nil
}

// инвалидировать кэш баланса
func (s *LoyaltyService) invalidateBalance(ctx context.Context, merchantID, customerID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateBalance(ctx, merchantID, customerID); err != nil {
		s.logger.Error("invalidate balance cache", zap.Error(err))
	}
}

// транзакции, курсор по createdAt
func (s *LoyaltyService) Transactions(ctx context.Context, merchantID, customerID uuid.UUID, before time.Time, limit int) ([]model.Transaction, error) {
	if before.IsZero() {
		before = time.Now()
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	return s.db.TnxList(ctx, merchantID, customerID, before, limit)
}
