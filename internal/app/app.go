// Package app wires the components shared by the api and worker binaries.
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-bookstore-orders/internal/config"
	"github.com/ariefcatur/go-bookstore-orders/internal/inventory"
	"github.com/ariefcatur/go-bookstore-orders/internal/invoice"
	kafkax "github.com/ariefcatur/go-bookstore-orders/internal/kafka"
	"github.com/ariefcatur/go-bookstore-orders/internal/orders"
	"github.com/ariefcatur/go-bookstore-orders/internal/payment"
	"github.com/ariefcatur/go-bookstore-orders/internal/redisx"
	"github.com/ariefcatur/go-bookstore-orders/internal/storage"
)

type Deps struct {
	Cfg      config.Config
	Log      *slog.Logger
	Store    orders.Store
	Redis    *redis.Client // nil without REDIS_ADDR
	Cache    orders.OrderCache
	Events   orders.Publisher
	Ledger   *inventory.Ledger
	Payments *payment.Coordinator
	Invoices *invoice.Generator

	producer *kafkax.Producer
}

// Build opens storage and the optional Redis and Kafka connections.
func Build(ctx context.Context, cfg config.Config, log *slog.Logger) (*Deps, error) {
	store, err := storage.Open(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	d := &Deps{Cfg: cfg, Log: log, Store: store, Ledger: inventory.NewLedger()}

	if cfg.RedisAddr != "" {
		d.Redis = redisx.New(cfg.RedisAddr)
		if err := d.Redis.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable, continuing", "addr", cfg.RedisAddr, "error", err)
		}
		d.Cache = &redisx.OrderCache{Redis: d.Redis, Log: log}
	} else {
		// a per-process cache would serve stale orders written by the
		// other binary, so reads go straight to the store
		d.Cache = orders.NopCache{}
	}

	if len(cfg.KafkaBrokers) > 0 {
		d.producer = kafkax.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic, 1024, log)
		d.producer.Start()
		d.Events = d.producer
	} else {
		log.Warn("KAFKA_BROKERS not set, lifecycle events are dropped")
		d.Events = orders.NopPublisher{}
	}

	var capturer payment.Capturer = payment.SimulatedCapturer{}
	if cfg.CardGatewayURL != "" {
		capturer = payment.NewHTTPCapturer(cfg.CardGatewayURL, cfg.CardGatewayKey, 10*time.Second)
	}
	d.Payments = &payment.Coordinator{
		Store:          store,
		Ledger:         d.Ledger,
		Capturer:       capturer,
		Events:         d.Events,
		Cache:          d.Cache,
		Log:            log,
		Producer:       cfg.ServiceName,
		PaymentWindow:  cfg.PaymentWindow,
		CaptureRetries: cfg.CaptureRetries,
		CaptureBackoff: cfg.CaptureBackoff,
	}

	c := cfg.Company
	d.Invoices = invoice.NewGenerator(invoice.Company{
		Name:       c.Name,
		Street:     c.Street,
		City:       c.City,
		State:      c.State,
		PostalCode: c.PostalCode,
		Country:    c.Country,
		Email:      c.Email,
	}, cfg.InvoiceDueDays, cfg.CloudinaryCloud, cfg.DefaultCoverURL)
	return d, nil
}

// Close flushes pending events and releases connections.
func (d *Deps) Close() {
	if d.producer != nil {
		d.producer.Close()
		d.producer.WaitClosed()
	}
	if d.Redis != nil {
		_ = d.Redis.Close()
	}
	if err := d.Store.Close(); err != nil {
		d.Log.Warn("close store", "error", err)
	}
}
