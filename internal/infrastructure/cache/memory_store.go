package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/buildops/backend/internal/domain/ledgersync"
	"github.com/buildops/backend/internal/domain/shared"
)

// DefaultJanitorInterval is how often expired entries are swept
const DefaultJanitorInterval = time.Minute

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is a process-local TTL store. It serves as the ledger response
// cache, the OAuth state store and the webhook idempotency store when redis is
// disabled, and in tests.
//
// Expired entries are never returned; a janitor goroutine removes them so the
// map does not grow without bound.
type MemoryStore struct {
	mu        sync.RWMutex
	entries   map[string]memoryEntry
	now       func() time.Time
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// MemoryStoreOption configures a MemoryStore
type MemoryStoreOption func(*memoryStoreOptions)

type memoryStoreOptions struct {
	janitorInterval time.Duration
	now             func() time.Time
}

// WithJanitorInterval sets the sweep interval; 0 disables the janitor
func WithJanitorInterval(d time.Duration) MemoryStoreOption {
	return func(o *memoryStoreOptions) { o.janitorInterval = d }
}

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) MemoryStoreOption {
	return func(o *memoryStoreOptions) { o.now = now }
}

// NewMemoryStore creates a store and starts its janitor
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	o := memoryStoreOptions{janitorInterval: DefaultJanitorInterval, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	s := &MemoryStore{
		entries:  make(map[string]memoryEntry),
		now:      o.now,
		stopChan: make(chan struct{}),
	}
	if o.janitorInterval > 0 {
		s.wg.Add(1)
		go s.janitor(o.janitorInterval)
	}
	return s
}

// Get returns a live value
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok || e.expired(s.now()) {
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set stores value for ttl; a non-positive ttl never expires
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	s.entries[key] = s.newEntry(value, ttl)
	s.mu.Unlock()
	return nil
}

// Delete removes a key
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// DeletePrefix removes every key starting with prefix
func (s *MemoryStore) DeletePrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			delete(s.entries, k)
		}
	}
	return nil
}

// Put stores a single-use value
func (s *MemoryStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.Set(ctx, key, value, ttl)
}

// Take returns and removes a value in one step
func (s *MemoryStore) Take(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	delete(s.entries, key)
	if e.expired(s.now()) {
		return nil, false, nil
	}
	return e.value, true, nil
}

// MarkProcessed returns true when key was not already marked
func (s *MemoryStore) MarkProcessed(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && !e.expired(s.now()) {
		return false, nil
	}
	s.entries[key] = s.newEntry([]byte{1}, ttl)
	return true, nil
}

// Unmark removes a processed mark
func (s *MemoryStore) Unmark(ctx context.Context, key string) error {
	return s.Delete(ctx, key)
}

// IsProcessed reports whether key is marked
func (s *MemoryStore) IsProcessed(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Get(ctx, key)
	return ok, err
}

// Close stops the janitor. Safe to call more than once.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
	})
	return nil
}

// Len returns the number of stored entries, including expired ones not yet swept
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemoryStore) newEntry(value []byte, ttl time.Duration) memoryEntry {
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	return e
}

func (s *MemoryStore) janitor(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *MemoryStore) sweep() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, k)
		}
	}
}

var (
	_ ledgersync.ResponseCache = (*MemoryStore)(nil)
	_ ledgersync.StateStore    = (*MemoryStore)(nil)
	_ shared.IdempotencyStore  = (*MemoryStore)(nil)
)
