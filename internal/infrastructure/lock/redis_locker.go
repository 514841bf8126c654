// Package lock provides the mutual exclusion used to keep two syncs of the
// same tenant and entity type from running at once.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/buildops/backend/internal/domain/ledgersync"
)

const (
	defaultRetryInterval = 100 * time.Millisecond
	defaultRetries       = 3
)

// RedisLocker obtains locks through redislock so that instances behind a load
// balancer exclude each other.
type RedisLocker struct {
	client    *redislock.Client
	keyPrefix string
	retry     redislock.RetryStrategy
}

// NewRedisLocker creates a locker over client
func NewRedisLocker(client redis.UniversalClient, keyPrefix string) *RedisLocker {
	return &RedisLocker{
		client:    redislock.New(client),
		keyPrefix: keyPrefix + "lock:",
		retry:     redislock.LimitRetry(redislock.LinearBackoff(defaultRetryInterval), defaultRetries),
	}
}

// Acquire obtains key for ttl. A lock still held after the retries returns
// ErrSyncInProgress.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	lk, err := l.client.Obtain(ctx, l.keyPrefix+key, ttl, &redislock.Options{RetryStrategy: l.retry})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ledgersync.ErrSyncInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}
	return func(ctx context.Context) error {
		if err := lk.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			return err
		}
		return nil
	}, nil
}

var _ ledgersync.SyncLocker = (*RedisLocker)(nil)
