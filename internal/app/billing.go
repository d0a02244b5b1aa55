package app

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/customer-portal/internal/billing"
	"github.com/odyssey-erp/customer-portal/internal/billing/export"
	"github.com/odyssey-erp/customer-portal/internal/events/kafka"
	"github.com/odyssey-erp/customer-portal/internal/platform/cache"
	"github.com/odyssey-erp/customer-portal/internal/shared"
	"github.com/odyssey-erp/customer-portal/report"
)

// Billing bundles the billing services shared by the portal and the worker.
type Billing struct {
	Store     Store
	Redis     *redis.Client
	Cache     *billing.Cache
	Publisher billing.Publisher
	PDFClient *report.Client

	// Idempotency is nil without Redis.
	Idempotency *shared.IdempotencyStore

	Dashboard  *billing.DashboardService
	Invoices   *billing.InvoiceService
	Payments   *billing.PaymentService
	Statements *billing.Assembler
	Exporter   *export.Exporter
}

// RedisOptions returns the Redis location from configuration.
func (c *Config) RedisOptions() cache.Options {
	return cache.Options{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB}
}

// NewBilling opens the store and wires cache, events and exports. Redis is
// optional: without it reads go straight to the store. The returned func
// releases everything in reverse order.
func NewBilling(ctx context.Context, cfg *Config, logger *slog.Logger) (*Billing, func(), error) {
	var closers []func()
	release := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	store, closeStore, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	closers = append(closers, closeStore)

	b := &Billing{Store: store, Publisher: billing.NopPublisher{}}

	client, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		logger.Warn("redis unavailable, billing cache disabled", slog.Any("error", err))
	} else {
		b.Redis = client
		b.Cache = billing.NewCache(client, cfg.CacheTTL)
		b.Idempotency = shared.NewIdempotencyStore(client, cfg.IdempotencyTTL)
		closers = append(closers, func() {
			if err := client.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		})
	}

	if cfg.PublishesEvents() {
		publisher := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopicPrefix)
		b.Publisher = publisher
		closers = append(closers, func() {
			if err := publisher.Close(); err != nil {
				logger.Warn("kafka close", slog.Any("error", err))
			}
		})
	}

	services := billing.ServiceConfig{Cache: b.Cache, Publisher: b.Publisher, Logger: logger}
	b.Dashboard = billing.NewDashboardService(store, store, services)
	b.Invoices = billing.NewInvoiceService(store, services)
	b.Payments = billing.NewPaymentService(store, services)
	b.Statements = billing.NewAssembler(store, store, nil)

	b.PDFClient = report.NewClient(cfg.GotenbergURL)
	formatter, err := export.NewFormatter(cfg.Currency)
	if err != nil {
		release()
		return nil, nil, err
	}
	renderer, err := export.NewRenderer(b.PDFClient, formatter, nil)
	if err != nil {
		release()
		return nil, nil, err
	}
	b.Exporter = export.NewExporter(b.Statements, renderer)

	return b, release, nil
}
