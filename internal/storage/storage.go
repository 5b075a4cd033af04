// Package storage opens the configured order store.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ariefcatur/go-bookstore-orders/internal/config"
	"github.com/ariefcatur/go-bookstore-orders/internal/orders"
	"github.com/ariefcatur/go-bookstore-orders/internal/postgres"
	"github.com/ariefcatur/go-bookstore-orders/internal/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

func Open(ctx context.Context, cfg config.Config, log *slog.Logger) (orders.Store, error) {
	switch cfg.StorageDriver {
	case DriverPostgres, "":
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
		if err != nil {
			return nil, fmt.Errorf("postgres connect: %w", err)
		}
		s := postgres.NewStore(pool)
		if err := s.EnsureSchema(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("postgres schema: %w", err)
		}
		log.Info("storage ready", "driver", DriverPostgres)
		return s, nil

	case DriverSQLite:
		s, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite open: %w", err)
		}
		v, _ := s.SchemaVersion(ctx)
		log.Info("storage ready", "driver", DriverSQLite, "path", cfg.SQLitePath, "schema", v)
		return s, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
}
