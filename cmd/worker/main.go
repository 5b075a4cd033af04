package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-bookstore-orders/internal/app"
	"github.com/ariefcatur/go-bookstore-orders/internal/cache"
	"github.com/ariefcatur/go-bookstore-orders/internal/config"
	kafkax "github.com/ariefcatur/go-bookstore-orders/internal/kafka"
	"github.com/ariefcatur/go-bookstore-orders/internal/logging"
	"github.com/ariefcatur/go-bookstore-orders/internal/notify"
	"github.com/ariefcatur/go-bookstore-orders/internal/payment"
	"github.com/ariefcatur/go-bookstore-orders/internal/redisx"
)

// The worker expires unpaid orders and, when Kafka is configured, turns
// lifecycle events into invoice and receipt notifications.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logging.Setup(cfg.ServiceName + "-worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Error("startup", "error", err)
		os.Exit(1)
	}
	defer deps.Close()

	g, ctx := errgroup.WithContext(ctx)

	// Reaper
	reaper := &payment.Reaper{Coordinator: deps.Payments, Interval: cfg.ReaperInterval}
	g.Go(func() error {
		log.Info("reaper started", "interval", cfg.ReaperInterval, "window", cfg.PaymentWindow)
		return reaper.Run(ctx)
	})

	// Notifications
	if len(cfg.KafkaBrokers) > 0 {
		h := &notify.Handler{
			Store:    deps.Store,
			Invoices: deps.Invoices,
			Sender:   notify.LogSender{Log: log},
			Log:      log,
		}
		if deps.Redis != nil {
			h.Dedup = &redisx.Deduper{Redis: deps.Redis, Service: "notify"}
		} else {
			h.Dedup = cache.NewSeen(100_000, redisx.TTLDedup)
		}
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.NotifyGroup, cfg.KafkaTopic, cfg.NotifyWorkers, log)
		g.Go(func() error {
			log.Info("notify consumer started", "group", cfg.NotifyGroup, "topic", cfg.KafkaTopic, "workers", cfg.NotifyWorkers)
			return cons.Start(ctx, h.HandleMessage)
		})
	}

	if err := g.Wait(); err != nil {
		log.Error("worker exit", "error", err)
		deps.Close()
		os.Exit(1)
	}
	log.Info("worker stopped")
}
