package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/buildops/backend/internal/infrastructure/config"
)

// Store is everything the sync engine needs from a TTL store
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Take(ctx context.Context, key string) ([]byte, bool, error)
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unmark(ctx context.Context, key string) error
	IsProcessed(ctx context.Context, key string) (bool, error)
	Close() error
}

// NewRedisClient connects to redis and verifies the connection
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr(), err)
	}
	return client, nil
}

// NewStore returns a RedisStore over client when one is given, otherwise a
// MemoryStore. A process-local store does not share OAuth states or webhook
// dedupe keys between instances, so it is logged as a warning.
func NewStore(client redis.UniversalClient, cfg config.RedisConfig, logger *zap.Logger) Store {
	if client != nil {
		logger.Info("Using redis store", zap.String("addr", cfg.Addr()), zap.String("prefix", cfg.KeyPrefix))
		return NewRedisStore(client, cfg.KeyPrefix)
	}
	logger.Warn("Redis disabled, using in-memory store; cache and dedupe state is per instance")
	return NewMemoryStore()
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
)
