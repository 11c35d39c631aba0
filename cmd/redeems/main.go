// Job - Обработка списаний баллов
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	db "github.com/kh827y/loyalty/internal/db"
	rabbit "github.com/kh827y/loyalty/internal/external/rabbitmq"
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

	// rabbitmq
	reader, err := rabbit.NewRabbitConsumer()
	if err != nil {
		logger.Error(err.Error())
		panic(err)
	}
	defer reader.Close()

	// database
	var storage interf.Storage
	dt, err := db.NewLoyaltyDB(logger)
	if err != nil {
		logger.Error(err.Error())
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
	semenv := os.Getenv("LOYALTY_REDEEM_COUNT")
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

	// os signals
	go func() {
		<-interrupt
		cancel()
	}()

	// workers
	wg := &sync.WaitGroup{}
	wg.Add(semcount)
	for i := 0; i < semcount; i++ {
		go worker(ctx, serv, wg, logger, reader)
	}
	wg.Wait()
}

// worker for rabbitmq messages
func worker(ctx context.Context, serv *services.LoyaltyService, wg *sync.WaitGroup, logger *zap.Logger, reader *rabbit.RabbitConsumer) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
			msg, ok := <-reader.Msg
			if !ok {
				return
			}
			redeemId, reason, err := serv.ProcessRedeem(ctx, string(msg.Body))
			if err != nil {
				logger.Error(err.Error())
				if redeemId != "" {
					_ = reader.Processed(ctx, redeemId, false, err.Error())
				}
				continue
			}
			if reason != "" {
				err = reader.Processed(ctx, redeemId, false, reason)
			} else {
				err = reader.Processed(ctx, redeemId, true, "")
			}
			if err != nil {
				logger.Error(err.Error())
				continue
			}
		}
	}
}
