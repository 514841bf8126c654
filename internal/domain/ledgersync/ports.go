package ledgersync

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ResponseCache holds recent ledger responses so repeated reads within the TTL
// do not reach the ledger again.
type ResponseCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every key starting with prefix
	DeletePrefix(ctx context.Context, prefix string) error
}

type writeKeyCtx struct{}

// WithWriteKey names the local change a ledger write carries. Clients derive
// the write's idempotency key from it, so a retried write of the same change
// is applied once.
func WithWriteKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, writeKeyCtx{}, key)
}

// WriteKey returns the key set by WithWriteKey, or ""
func WriteKey(ctx context.Context) string {
	k, _ := ctx.Value(writeKeyCtx{}).(string)
	return k
}

// StateStore holds single-use values such as OAuth state parameters
type StateStore interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Take returns and removes the value; ok is false when missing or expired
	Take(ctx context.Context, key string) (value []byte, ok bool, err error)
}

// SyncLocker excludes concurrent syncs for the same key across instances
type SyncLocker interface {
	// Acquire obtains the lock or returns ErrSyncInProgress. The returned
	// function releases it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

// Throttle enforces a minimum interval between runs for a key.
// Allow only looks; a run counts once Record is called for it.
type Throttle interface {
	// Allow returns a RetryAfterError wrapping ErrSyncThrottled when the
	// last recorded run for key is too recent
	Allow(key string) error
	// Record marks a run for key as started
	Record(key string)
}

// JobSubmitter queues background sync work
type JobSubmitter interface {
	SubmitSync(ctx context.Context, req SyncRequest) error
}

// SyncRequest asks for one entity type to be synced in the given directions
type SyncRequest struct {
	TenantID   uuid.UUID
	EntityType EntityType
	Directions []Direction
	Trigger    Trigger
	Force      bool
}
