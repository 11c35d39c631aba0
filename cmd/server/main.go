// HTTP API сервис лояльности: quote/commit/cancel/refund, баланс и история
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	api "github.com/kh827y/loyalty/internal/api"
	db "github.com/kh827y/loyalty/internal/db"
	motivationclient "github.com/kh827y/loyalty/internal/external/motivation"
	referralclient "github.com/kh827y/loyalty/internal/external/referral"
	interf "github.com/kh827y/loyalty/internal/interfaces"
	model "github.com/kh827y/loyalty/internal/models"
	services "github.com/kh827y/loyalty/internal/services"
	apiotel "github.com/kh827y/loyalty/observability/otel"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

func main() {
	// log
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// config
	port := os.Getenv("LOYALTY_HTTP_PORT")
	if port == "" {
		panic("env LOYALTY_HTTP_PORT is not set")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// tracing
	shutdownTracer, err := apiotel.InitTracer(ctx, "loyalty", logger)
	if err != nil {
		panic(err)
	}
	defer shutdownTracer()

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
	defer pr.Close(ctx)
	promos = pr

	// cache
	var cache interf.CacheStorage
	redis, err := db.NewCacheService()
	if err != nil {
		logger.Error(err.Error())
	} else {
		cache = redis
	}

	// внешние движки, без них сервис работает
	var referral interf.ReferralEngine
	rc, err := referralclient.NewReferralClient()
	if err != nil {
		logger.Error(err.Error())
	} else {
		referral = rc
	}
	var staff interf.StaffMotivation
	mc, err := motivationclient.NewMotivationClient()
	if err != nil {
		logger.Error(err.Error())
	} else {
		staff = mc
	}

	serv := services.NewLoyaltyService(logger, storage, promos, cache, referral, staff, model.FlagsFromEnv())

	// api handlers
	r := api.NewHandler(serv, logger)
	root := http.NewServeMux()
	root.Handle("/metrics", promhttp.Handler())
	root.Handle("/", otelhttp.NewHandler(r, "loyalty"))
	srv := &http.Server{
		Handler:      root,
		Addr:         ":" + port,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}
	go srv.ListenAndServe()

	// shutdown
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt
	timeout, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	err = srv.Shutdown(timeout)
	if err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}
