package kvstore

import (
	"context"
	"fmt"

	"github.com/dvilelaf/tsunami/pkg/database"
	"github.com/dvilelaf/tsunami/pkg/logging"
	"github.com/dvilelaf/tsunami/pkg/redis"
)

// Backend kinds accepted by Open.
const (
	KindSQLite   = "sqlite"
	KindPostgres = "postgres"
	KindRedis    = "redis"
	KindMemory   = "memory"
)

// Config selects and addresses a backend.
type Config struct {
	Kind        string
	SQLitePath  string
	PostgresURL string
	RedisURL    string
	RedisPrefix string
}

// Open connects the configured backend and returns a ready Store.
func Open(ctx context.Context, cfg Config, logger logging.Logger) (*Store, error) {
	backend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	logger.WithField("backend", cfg.Kind).Info("Cursor store opened")
	return NewStore(NewConnection(backend, logger)), nil
}

func openBackend(ctx context.Context, cfg Config, logger logging.Logger) (Backend, error) {
	switch cfg.Kind {
	case KindSQLite, "":
		db, err := database.Connect(ctx, database.DefaultConfig(database.DriverSQLite, cfg.SQLitePath), logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return NewSQLBackend(ctx, db, database.DriverSQLite)
	case KindPostgres:
		db, err := database.Connect(ctx, database.DefaultConfig(database.DriverPostgres, cfg.PostgresURL), logger)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return NewSQLBackend(ctx, db, database.DriverPostgres)
	case KindRedis:
		rcfg, err := redis.ConfigFromURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		client, err := redis.NewUniversalClient(ctx, rcfg)
		if err != nil {
			return nil, fmt.Errorf("open redis store: %w", err)
		}
		return NewRedisBackend(client, cfg.RedisPrefix), nil
	case KindMemory:
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Kind)
	}
}
