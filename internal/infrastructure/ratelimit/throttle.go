package ratelimit

import (
	"sync"
	"time"

	"github.com/buildops/backend/internal/domain/ledgersync"
)

// MinIntervalThrottle rejects a run for a key when the previous accepted run
// started less than interval ago.
type MinIntervalThrottle struct {
	mu       sync.Mutex
	interval time.Duration
	last     map[string]time.Time
	now      func() time.Time
}

// NewMinIntervalThrottle creates a throttle; a non-positive interval disables it
func NewMinIntervalThrottle(interval time.Duration) *MinIntervalThrottle {
	return &MinIntervalThrottle{
		interval: interval,
		last:     make(map[string]time.Time),
		now:      time.Now,
	}
}

// Allow reports whether a run for key may start now. It records nothing.
func (t *MinIntervalThrottle) Allow(key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.interval <= 0 {
		return nil
	}
	if prev, ok := t.last[key]; ok {
		if wait := t.interval - t.now().Sub(prev); wait > 0 {
			return ledgersync.NewThrottledError(wait)
		}
	}
	return nil
}

// Record starts the interval for key. Forced runs are recorded too.
func (t *MinIntervalThrottle) Record(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.last[key] = now
	t.prune(now)
}

// prune drops keys whose interval has long passed so the map stays bounded
// by the number of keys active within the interval.
func (t *MinIntervalThrottle) prune(now time.Time) {
	if len(t.last) < 1024 {
		return
	}
	for k, at := range t.last {
		if now.Sub(at) >= t.interval {
			delete(t.last, k)
		}
	}
}

var _ ledgersync.Throttle = (*MinIntervalThrottle)(nil)
