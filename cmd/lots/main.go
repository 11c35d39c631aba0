// Job - обслуживание лотов начисления
// Активация созревших отложенных начислений и сгорание просроченных баллов
package main

import (
	"context"
	"os"
	"strconv"

	"go.uber.org/zap"

	db "github.com/kh827y/loyalty/internal/db"
	interf "github.com/kh827y/loyalty/internal/interfaces"
	model "github.com/kh827y/loyalty/internal/models"
	services "github.com/kh827y/loyalty/internal/services"
)

func main() {
	// log
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// database
	var storage interf.Storage
	dt, err := db.NewLoyaltyDB(logger)
	if err != nil {
		panic(err)
	}
	defer dt.Close()
	storage = dt

	// cache
	var cache interf.CacheStorage
	redis, err := db.NewCacheService()
	if err != nil {
		logger.Error(err.Error())
	} else {
		cache = redis
	}

	serv := services.NewLoyaltyService(logger, storage, nil, cache, nil, nil, model.FlagsFromEnv())

	batch := 500
	if env := os.Getenv("LOYALTY_LOTS_BATCH"); env != "" {
		if v, err := strconv.Atoi(env); err == nil && v > 0 {
			batch = v
		}
	}

	ctx := context.Background()
	matured, err := serv.MatureLots(ctx, batch)
	if err != nil {
		logger.Error(err.Error())
		return
	}
	expired, err := serv.ExpireLots(ctx, batch)
	if err != nil {
		logger.Error(err.Error())
		return
	}
	logger.Info("Job lots is finished",
		zap.Int("matured", matured),
		zap.Int("expired", expired),
	)
}
