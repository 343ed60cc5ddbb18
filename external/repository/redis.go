package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/pcider/printbot/internal/repository"
)

const stateKey = "printbot:state"

// RedisPersister stores the session document under one key.
type RedisPersister struct {
	rdb *redis.Client
	key string
}

// NewRedisClient creates a client from a URL such as "redis://localhost:6379/0".
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

func NewRedisPersister(rdb *redis.Client) *RedisPersister {
	return &RedisPersister{rdb: rdb, key: stateKey}
}

func (r *RedisPersister) Load(ctx context.Context) (*repository.State, error) {
	data, err := r.rdb.Get(ctx, r.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return repository.NewState(), nil
		}
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	return repository.DecodeState(data)
}

func (r *RedisPersister) Save(ctx context.Context, state *repository.State) error {
	data, err := repository.EncodeState(state)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

func (r *RedisPersister) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *RedisPersister) Shutdown() error {
	return r.rdb.Close()
}
