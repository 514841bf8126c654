package lock

import (
	"context"
	"sync"
	"time"

	"github.com/buildops/backend/internal/domain/ledgersync"
)

// MemoryLocker is a process-local SyncLocker for single-instance deployments.
// A lock whose ttl has passed is treated as free, matching the redis lock.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]memoryLock
	now   func() time.Time
	token uint64
}

type memoryLock struct {
	token     uint64
	expiresAt time.Time
}

// NewMemoryLocker creates an empty locker
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]memoryLock), now: time.Now}
}

// Acquire obtains key or returns ErrSyncInProgress without waiting
func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if cur, ok := l.held[key]; ok && now.Before(cur.expiresAt) {
		return nil, ledgersync.ErrSyncInProgress
	}
	l.token++
	token := l.token
	l.held[key] = memoryLock{token: token, expiresAt: now.Add(ttl)}

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		// only the holder that set this token may release it
		if cur, ok := l.held[key]; ok && cur.token == token {
			delete(l.held, key)
		}
		return nil
	}, nil
}

var _ ledgersync.SyncLocker = (*MemoryLocker)(nil)
