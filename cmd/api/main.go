package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/openfridge/fridge/internal/clock"
	"github.com/openfridge/fridge/internal/config"
	"github.com/openfridge/fridge/internal/fridge"
	"github.com/openfridge/fridge/internal/httpx"
	kafkax "github.com/openfridge/fridge/internal/kafka"
	"github.com/openfridge/fridge/internal/lock"
	"github.com/openfridge/fridge/internal/logger"
	"github.com/openfridge/fridge/internal/payment"
	"github.com/openfridge/fridge/internal/postgres"
	"github.com/openfridge/fridge/internal/redisx"
	"github.com/openfridge/fridge/internal/settlement"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.Must(cfg.LogLevel, cfg.LogEncoding).With(zap.String("service", cfg.ServiceName))
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Fatal("db migrate", zap.Error(err))
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producers, one per topic. They outlive ctx so the shutdown
	// path can flush them after the server stops.
	pctx, pcancel := context.WithCancel(context.Background())
	defer pcancel()
	sales := kafkax.NewProducer(cfg.KafkaBrokers, fridge.TopicSaleSettled, 1024, log)
	sales.Start(pctx)
	doors := kafkax.NewProducer(cfg.KafkaBrokers, fridge.TopicDoorUnlocked, 1024, log)
	doors.Start(pctx)

	// Payments: card and wallet go through Stripe when a key is set;
	// crypto always has a gateway, in demo mode without a key.
	payments := payment.NewRegistry()
	if cfg.StripeSecretKey != "" {
		payments.Register(payment.NewStripeGateway(cfg.StripeSecretKey), fridge.PaymentCard, fridge.PaymentWallet)
	} else {
		log.Warn("STRIPE_SECRET_KEY not set, card and wallet payments disabled")
	}
	coinbase := payment.NewCoinbaseGateway(cfg.CoinbaseAPIKey)
	if coinbase.Demo() {
		log.Warn("COINBASE_COMMERCE_API_KEY not set, crypto checkout runs in demo mode")
	}
	payments.Register(coinbase, fridge.PaymentCrypto)

	repo := &fridge.Repo{DB: db}
	unlocker := &lock.Unlocker{Client: lock.NewClient(), Clock: clock.Real(), Redis: rdb, Log: log.Named("lock")}
	svc := &settlement.Service{
		Store:    settlement.PGStore{Repo: repo, SettlementRepo: &fridge.SettlementRepo{DB: db}},
		Unlocker: unlocker,
		Redis:    rdb,
		Sales:    sales,
		Doors:    doors,
		Clock:    clock.Real(),
		Log:      log.Named("settlement"),
		Producer: cfg.ServiceName,
	}
	if cfg.VerifyPayments {
		svc.Verifier = payments
	}

	router := httpx.NewRouter(log.Named("http"))
	(&httpx.CheckoutHandler{Payments: payments, Settler: svc, Log: log.Named("checkout")}).Register(router)
	(&httpx.MachinesHandler{Store: repo, Settler: svc, Holds: unlocker, Redis: rdb}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if err := g.Wait(); err != nil {
		log.Error("server exit", zap.Error(err))
	}

	sales.Close()
	doors.Close()
	pcancel()
	sales.WaitClosed()
	doors.WaitClosed()
}
