package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/openfridge/fridge/internal/checkout"
	"github.com/openfridge/fridge/internal/clock"
	"github.com/openfridge/fridge/internal/config"
	"github.com/openfridge/fridge/internal/httpx"
	"github.com/openfridge/fridge/internal/kiosk"
	"github.com/openfridge/fridge/internal/logger"
	"github.com/openfridge/fridge/internal/presence"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	k := cfg.Kiosk

	flag.StringVar(&k.Addr, "addr", k.Addr, "display HTTP listen address")
	flag.StringVar(&k.APIURL, "api", k.APIURL, "fridge API base URL")
	flag.StringVar(&k.MachineID, "machine", k.MachineID, "machine id this kiosk is mounted on")
	flag.DurationVar(&k.HandleTimeout, "handle-timeout", k.HandleTimeout, "payment handle request timeout")
	flag.DurationVar(&k.SettleTimeout, "settle-timeout", k.SettleTimeout, "settlement request timeout")
	flag.DurationVar(&k.PresenceInterval, "presence-interval", k.PresenceInterval, "presence sampling interval")
	flag.DurationVar(&k.InactivityTimeout, "inactivity", k.InactivityTimeout, "return to idle after this long with an empty cart")
	flag.DurationVar(&k.ReceiptCountdown, "receipt", k.ReceiptCountdown, "receipt screen countdown")
	flag.DurationVar(&k.ContactTimeout, "contact-timeout", k.ContactTimeout, "auto-skip the contact step after this long")
	pollInterval := flag.Duration("poll", 2*time.Second, "payment status poll interval, 0 to disable")
	flag.Parse()

	log := logger.Must(cfg.LogLevel, cfg.LogEncoding).With(zap.String("service", "fridge-kiosk"))
	defer func() { _ = log.Sync() }()
	if k.MachineID == "" {
		log.Fatal("machine id required: set --machine or KIOSK_MACHINE_ID")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := kiosk.NewAPIClient(k.APIURL)
	name := ""
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if cat, err := api.Catalog(cctx, k.MachineID); err != nil {
		log.Warn("catalog unavailable at startup, greeting without machine name", zap.Error(err))
	} else {
		name = cat.Machine.Name
	}
	cancel()

	clk := clock.Real()
	src := presence.NewPushSource(clk, presence.DefaultMaxAge)
	rt := &kiosk.Runtime{
		Machine: checkout.NewMachine(checkout.Config{
			MachineID:         k.MachineID,
			MachineName:       name,
			InactivityTimeout: k.InactivityTimeout,
			ReceiptCountdown:  k.ReceiptCountdown,
			ContactTimeout:    k.ContactTimeout,
		}),
		API:   api,
		Clock: clk,
		Detector: presence.NewDetector(clk, k.PresenceInterval, log.Named("presence"),
			presence.FaceStrategy{Counter: src},
			presence.NewMotionStrategy(src)),
		Greeter: presence.NewGreeter(clk, func(text string) {
			log.Info("greeting", zap.String("text", text))
		}),
		Log:           log.Named("session"),
		HandleTimeout: k.HandleTimeout,
		SettleTimeout: k.SettleTimeout,
		PollInterval:  *pollInterval,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, httpx.AccessLog(log.Named("http")), middleware.Recoverer)
	(&kiosk.DisplayHandler{Runtime: rt, Source: src, Catalog: api, MachineID: k.MachineID, Log: log}).Register(r)
	srv := &http.Server{Addr: k.Addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.Run(gctx) })
	g.Go(func() error {
		log.Info("display listening", zap.String("addr", k.Addr), zap.String("machine_id", k.MachineID))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if err := g.Wait(); err != nil {
		log.Error("kiosk exit", zap.Error(err))
	}
}
