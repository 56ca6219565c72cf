package storage

import (
	"context"
	"fmt"
)

// Config selects a storage backend.
type Config struct {
	// Driver is one of "memory", "sqlite", "postgres", "postgrespool".
	Driver string
	// DSN is the database connection string (file path for sqlite).
	DSN string
}

// Open constructs the storage backend for the given config.
func Open(ctx context.Context, cfg Config) (Storage, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStorage(), nil
	case "sqlite", "sqlite3":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "meterflow.db"
		}
		return NewGormStorage("sqlite", dsn)
	case "postgres", "postgrespool":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("driver %q requires a DSN", cfg.Driver)
		}
		return NewGormStorage(cfg.Driver, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", cfg.Driver)
	}
}
