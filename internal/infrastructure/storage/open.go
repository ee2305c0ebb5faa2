package storage

import (
	"context"
	"log/slog"

	"LeadScanner/internal/config"
	"LeadScanner/internal/ports"
)

// FromConfig builds the store selected by the database section.
func FromConfig(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (ports.Store, error) {
	var store ports.Store
	if cfg.Driver == "memory" {
		store = NewMemoryStore()
	} else {
		sqlStore, err := Open(ctx, cfg.Driver, cfg.DSN)
		if err != nil {
			return nil, err
		}
		store = sqlStore
	}

	if logger != nil {
		logger.Info("ledger opened", "driver", cfg.Driver, "seen_cache_ttl", cfg.SeenCacheTTL)
	}

	if cfg.SeenCacheTTL > 0 {
		return NewCachedStore(store, cfg.SeenCacheTTL), nil
	}
	return store, nil
}
