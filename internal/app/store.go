package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/customer-portal/internal/billing"
	"github.com/odyssey-erp/customer-portal/internal/billing/store/memory"
	"github.com/odyssey-erp/customer-portal/internal/billing/store/postgres"
	"github.com/odyssey-erp/customer-portal/internal/billing/store/sqlite"
	"github.com/odyssey-erp/customer-portal/internal/platform/db"
)

// Store is the billing persistence surface plus customer provisioning.
type Store interface {
	billing.Store
	CreateCustomer(ctx context.Context, customer billing.Customer) error
}

// OpenStore connects the configured driver. The returned func releases it.
func OpenStore(ctx context.Context, cfg *Config, logger *slog.Logger) (Store, func(), error) {
	switch cfg.StoreDriver {
	case DriverMemory:
		logger.Warn("using in-memory store, data is lost on restart")
		return memory.New(), func() {}, nil
	case DriverSQLite:
		store, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Warn("sqlite close", slog.Any("error", err))
			}
		}, nil
	case DriverPostgres:
		pool, err := db.New(ctx, cfg.PGDSN)
		if err != nil {
			return nil, nil, err
		}
		repo := postgres.NewRepository(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return repo, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
