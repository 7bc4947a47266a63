package localstore

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-session/internal/config"
)

// Open constructs the Store selected by configuration.
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger) (Store, error) {
	switch cfg.StoreDriver {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(ctx, cfg.SQLitePath, log)
	case "redis":
		return NewRedisStore(ctx, cfg.RedisURL, cfg.SessionTokenTTL, log)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.StoreDriver)
	}
}
