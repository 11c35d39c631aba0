package loyalty

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

type CacheService struct {
	client *redis.Client
}

func NewCacheService() (serv *CacheService, err error) {

	// config
	addr := os.Getenv("LOYALTY_CACHE_URL")
	if addr == "" {
		return nil, fmt.Errorf("env LOYALTY_CACHE_URL is not set")
	}
	user := os.Getenv("LOYALTY_CACHE_USER")
	pwd := os.Getenv("LOYALTY_CACHE_PWD")

	// redis
	db := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    pwd,
		Username:    user,
		DB:          0,
		MaxRetries:  5,
		DialTimeout: 10 * time.Second,
	})
	err = db.Ping(context.Background()).Err()
	if err != nil {
		return nil, err
	}

	return &CacheService{db}, nil
}

func balanceKey(merchantID, customerID uuid.UUID) string {
	return "balance:" + merchantID.String() + ":" + customerID.String()
}

func (c *CacheService) GetBalance(ctx context.Context, merchantID, customerID uuid.UUID) (int64, error) {
	val, err := c.client.Get(ctx, balanceKey(merchantID, customerID)).Result()
	if err == redis.Nil {
		return 0, fmt.Errorf("not found")
	} else if err != nil {
		return 0, err
	}
	return strconv.ParseInt(val, 10, 64)
}

func (c *CacheService) SetBalance(ctx context.Context, merchantID, customerID uuid.UUID, balance int64) error {
	return c.client.Set(ctx, balanceKey(merchantID, customerID), balance, 5*time.Minute).Err()
}

func (c *CacheService) InvalidateBalance(ctx context.Context, merchantID, customerID uuid.UUID) error {
	return c.client.Del(ctx, balanceKey(merchantID, customerID)).Err()
}
