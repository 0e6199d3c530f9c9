// Package factory opens the credential store selected by configuration.
package factory

import (
	"context"
	"fmt"

	"github.com/rhuss/credgate/pkg/config"
	"github.com/rhuss/credgate/pkg/storage"
	"github.com/rhuss/credgate/pkg/storage/memory"
	"github.com/rhuss/credgate/pkg/storage/postgres"
	"github.com/rhuss/credgate/pkg/storage/sqlite"
)

// Open returns the backend for cfg.Storage.Type, or nil for "none".
// clientHeader narrows API key lookups to a claimed client.
func Open(ctx context.Context, cfg config.StorageConfig, clientHeader string) (storage.Backend, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "memory":
		return memory.New(clientHeader), nil
	case "postgres":
		s, err := postgres.New(ctx, postgres.Config{
			DSN:            cfg.Postgres.DSN,
			MaxConns:       cfg.Postgres.MaxConns,
			MigrateOnStart: cfg.Postgres.MigrateOnStart,
			QueryTimeout:   cfg.QueryTimeout,
			ClientHeader:   clientHeader,
		})
		if err != nil {
			return nil, fmt.Errorf("opening postgres store: %w", err)
		}
		return s, nil
	case "sqlite":
		s, err := sqlite.New(ctx, sqlite.Config{
			Path:         cfg.SQLite.Path,
			BusyTimeout:  cfg.SQLite.BusyTimeout,
			QueryTimeout: cfg.QueryTimeout,
			ClientHeader: clientHeader,
		})
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}
