package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/do/v2"

	"github.com/pcider/printbot/internal/config"
	"github.com/pcider/printbot/internal/repository"
)

const databaseInitTimeout = 15 * time.Second

// Pinger is implemented by every persister and backs the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (repository.Persister, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return NewPersister(cfg)
	})
}

// NewPersister builds the persister selected by STORE_BACKEND.
func NewPersister(cfg *config.Config) (repository.Persister, error) {
	ctx, cancel := context.WithTimeout(context.Background(), databaseInitTimeout)
	defer cancel()

	switch cfg.StoreBackend {
	case config.StoreFile:
		return NewFilePersister(cfg.StateFile), nil

	case config.StorePostgres:
		p, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect database: %w", err)
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		if err := RunMigration(ctx, p); err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to run migration: %w", err)
		}
		return NewPostgresPersister(p), nil

	case config.StoreRedis:
		rdb, err := NewRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		return NewRedisPersister(rdb), nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
