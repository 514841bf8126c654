// Package ratelimit holds per-key token buckets and the minimum-interval sync
// throttle.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// KeyedLimiter keeps one token bucket per key. Buckets that have not been
// touched for idleTTL are evicted on the next sweep.
type KeyedLimiter struct {
	mu       sync.Mutex
	limiters map[string]*keyedEntry
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	now      func() time.Time

	stopChan  chan struct{}
	closeOnce sync.Once
}

type keyedEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewKeyedLimiter creates a limiter allowing limit events per second with the
// given burst. A positive idleTTL starts a cleanup goroutine stopped by Close.
func NewKeyedLimiter(limit rate.Limit, burst int, idleTTL time.Duration) *KeyedLimiter {
	if burst < 1 {
		burst = 1
	}
	kl := &KeyedLimiter{
		limiters: make(map[string]*keyedEntry),
		limit:    limit,
		burst:    burst,
		idleTTL:  idleTTL,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
	if idleTTL > 0 {
		go kl.cleanup()
	}
	return kl
}

// PerMinute converts a requests-per-minute figure into a rate.Limit
func PerMinute(n int) rate.Limit {
	if n <= 0 {
		return rate.Inf
	}
	return rate.Every(time.Minute / time.Duration(n))
}

// PerWindow converts "n requests per window" into a rate.Limit
func PerWindow(n int, window time.Duration) rate.Limit {
	if n <= 0 || window <= 0 {
		return rate.Inf
	}
	return rate.Every(window / time.Duration(n))
}

func (kl *KeyedLimiter) get(key string) *rate.Limiter {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	e, ok := kl.limiters[key]
	if !ok {
		e = &keyedEntry{limiter: rate.NewLimiter(kl.limit, kl.burst)}
		kl.limiters[key] = e
	}
	e.lastSeen = kl.now()
	return e.limiter
}

// Wait blocks until key may proceed or ctx is done
func (kl *KeyedLimiter) Wait(ctx context.Context, key string) error {
	return kl.get(key).Wait(ctx)
}

// Allow reports whether one event for key may happen now, consuming a token if so
func (kl *KeyedLimiter) Allow(key string) bool {
	return kl.get(key).AllowN(kl.now(), 1)
}

// Reserve reports how long key must wait for a token. When the wait is non-zero
// the reservation is cancelled so nothing is consumed.
func (kl *KeyedLimiter) Reserve(key string) (time.Duration, bool) {
	now := kl.now()
	r := kl.get(key).ReserveN(now, 1)
	if !r.OK() {
		return 0, false
	}
	delay := r.DelayFrom(now)
	if delay > 0 {
		r.CancelAt(now)
		return delay, false
	}
	return 0, true
}

// Burst returns the configured bucket size
func (kl *KeyedLimiter) Burst() int {
	return kl.burst
}

// Tokens returns the tokens currently available for key
func (kl *KeyedLimiter) Tokens(key string) float64 {
	return kl.get(key).TokensAt(kl.now())
}

// Len returns the number of tracked keys
func (kl *KeyedLimiter) Len() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.limiters)
}

// Close stops the cleanup goroutine
func (kl *KeyedLimiter) Close() {
	kl.closeOnce.Do(func() { close(kl.stopChan) })
}

func (kl *KeyedLimiter) cleanup() {
	ticker := time.NewTicker(kl.idleTTL)
	defer ticker.Stop()
	for {
		select {
		case <-kl.stopChan:
			return
		case <-ticker.C:
			kl.evictIdle()
		}
	}
}

func (kl *KeyedLimiter) evictIdle() {
	cutoff := kl.now().Add(-kl.idleTTL)
	kl.mu.Lock()
	defer kl.mu.Unlock()
	for key, e := range kl.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(kl.limiters, key)
		}
	}
}
