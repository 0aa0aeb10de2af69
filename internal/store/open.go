package store

import (
	"context"
	"fmt"

	"github.com/example/fitlife/internal/config"
	"github.com/example/fitlife/internal/logging"
)

// Open builds the adapter selected by cfg.Adapter, applies its schema and wraps it in Guarded.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Adapter {
	case "sqlite":
		s, err = NewSQLiteStore(ctx, cfg.SQLiteFile)
	case "postgres":
		dsn, dsnErr := cfg.BuildPostgresDSN()
		if dsnErr != nil {
			return nil, dsnErr
		}
		if err := ApplyMigrations(cfg.MigrationsDir, dsn); err != nil {
			return nil, fmt.Errorf("postgres migrations: %w", err)
		}
		s, err = NewPostgresStore(ctx, dsn)
	case "badger":
		s, err = NewBadgerStore(cfg.BadgerDir)
	case "memory":
		s = NewMemoryStore()
	default:
		return nil, fmt.Errorf("unsupported adapter %q", cfg.Adapter)
	}
	if err != nil {
		return nil, err
	}

	logging.Info().Str("adapter", cfg.Adapter).Msg("credential store ready")
	return NewGuarded(s, cfg.Timeout), nil
}
