package shared

import (
	"context"
	"time"
)

// IdempotencyStore remembers processed message keys (e.g. inbound webhook events)
// so that redelivered messages are handled once.
type IdempotencyStore interface {
	// MarkProcessed marks a key as processed with a TTL.
	// Returns true if the key was newly marked, false if it was already processed.
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Unmark forgets a key so a redelivery of its message is handled again
	Unmark(ctx context.Context, key string) error

	// IsProcessed checks if a key has already been processed
	IsProcessed(ctx context.Context, key string) (bool, error)

	// Close releases resources
	Close() error
}
