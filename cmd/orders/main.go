// Job - обработка новых заказов
// Опрос Kafka -> начисление баллов по заказу (quote + commit)
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	db "github.com/kh827y/loyalty/internal/db"
	kafka "github.com/kh827y/loyalty/internal/external/kafka"
	interf "github.com/kh827y/loyalty/internal/interfaces"
	model "github.com/kh827y/loyalty/internal/models"
	services "github.com/kh827y/loyalty/internal/services"
	"go.uber.org/zap"
)

func main() {
	// log
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// kafka
	reader, err := kafka.NewReader("orders", "orders_loyalty")
	if err != nil {
		panic(err)
	}
	defer reader.Close()

	// database
	var storage interf.Storage
	dt, err := db.NewLoyaltyDB(logger)
	if err != nil {
		panic(err)
	}
	defer dt.Close()
	storage = dt

	// promotions
	var promos interf.PromotionStorage
	pr, err := db.NewPromotionsDB()
	if err != nil {
		panic(err)
	}
	promos = pr

	// cache
	var cache interf.CacheStorage
	redis, err := db.NewCacheService()
	if err != nil {
		logger.Error(err.Error())
	} else {
		cache = redis
	}

	// services
	serv := services.NewLoyaltyService(logger, storage, promos, cache, nil, nil, model.FlagsFromEnv())

	// start
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer pr.Close(ctx)

	var semcount int
	semenv := os.Getenv("LOYALTY_ORDERS_COUNT")
	if semenv == "" {
		semcount = 5
	} else {
		semcount, err = strconv.Atoi(semenv)
		if err != nil {
			semcount = 5
		}
	}
	if semcount == 0 {
		semcount = 1
	}

	wg := &sync.WaitGroup{}
	semaphore := make(chan struct{}, semcount)

loop:
	for {
		select {
		case <-interrupt:
			cancel()
			break loop
		case <-ctx.Done():
			break loop
		default:

			order, err := reader.NextMessage(ctx)
			if err != nil {
				logger.Error(err.Error())
				return
			}

			semaphore <- struct{}{}
			wg.Add(1)
			go func(order string) {
				defer wg.Done()
				defer func() { <-semaphore }()
				err = serv.ProcessOrder(ctx, order)
				if err != nil {
					logger.Error(err.Error())
					return
				}
			}(order)
		}
	}
	wg.Wait()
}
