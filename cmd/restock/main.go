package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/openfridge/fridge/internal/config"
	"github.com/openfridge/fridge/internal/fridge"
	kafkax "github.com/openfridge/fridge/internal/kafka"
	"github.com/openfridge/fridge/internal/logger"
	"github.com/openfridge/fridge/internal/postgres"
	"github.com/openfridge/fridge/internal/redisx"
	"github.com/openfridge/fridge/internal/restock"
)

func mustAtoi(s, def string) int {
	if s == "" {
		s = def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 1
	}
	return i
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	service := cfg.ServiceName + "-restock"
	log := logger.Must(cfg.LogLevel, cfg.LogEncoding).With(zap.String("service", service))
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Producer outlives ctx so buffered events flush on shutdown.
	pctx, pcancel := context.WithCancel(context.Background())
	defer pcancel()
	prod := kafkax.NewProducer(cfg.KafkaBrokers, fridge.TopicRestockNeeded, 1024, log)
	prod.Start(pctx)

	svc := &restock.Service{
		Items:       &fridge.Repo{DB: db},
		Redis:       rdb,
		Producer:    prod,
		Log:         log,
		ServiceName: service,
	}

	// Consumer
	group := getenv("RESTOCK_GROUP", "restock-svc")
	workers := mustAtoi(os.Getenv("RESTOCK_WORKERS"), "4")
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, fridge.TopicSaleSettled, workers, log)

	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Info("restock consumer started",
			zap.String("group", group), zap.String("topic", fridge.TopicSaleSettled), zap.Int("workers", workers))
		if err := cons.Start(ctx, svc.HandleSaleSettled); err != nil {
			log.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down consumer")
	cancel()
	<-done
	prod.Close()
	pcancel()
	prod.WaitClosed()
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
