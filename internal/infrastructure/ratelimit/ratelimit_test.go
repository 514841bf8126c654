package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/buildops/backend/internal/domain/ledgersync"
)

func TestKeyedLimiter_AllowPerKey(t *testing.T) {
	kl := NewKeyedLimiter(rate.Every(time.Hour), 2, 0)
	defer kl.Close()

	assert.True(t, kl.Allow("a"))
	assert.True(t, kl.Allow("a"))
	assert.False(t, kl.Allow("a"), "burst exhausted")
	assert.True(t, kl.Allow("b"), "keys have separate buckets")
	assert.Equal(t, 2, kl.Len())
}

func TestKeyedLimiter_ReserveDoesNotConsume(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	kl := NewKeyedLimiter(rate.Every(10*time.Second), 1, 0)
	kl.now = func() time.Time { return now }
	defer kl.Close()

	wait, ok := kl.Reserve("k")
	assert.True(t, ok)
	assert.Zero(t, wait)

	wait, ok = kl.Reserve("k")
	assert.False(t, ok)
	assert.InDelta(t, float64(10*time.Second), float64(wait), float64(time.Millisecond))

	// the rejected reservation was cancelled, so the wait did not grow
	wait, _ = kl.Reserve("k")
	assert.InDelta(t, float64(10*time.Second), float64(wait), float64(time.Millisecond))
}

func TestKeyedLimiter_WaitHonoursContext(t *testing.T) {
	kl := NewKeyedLimiter(rate.Every(time.Hour), 1, 0)
	defer kl.Close()

	require.NoError(t, kl.Wait(context.Background(), "k"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, kl.Wait(ctx, "k"))
}

func TestKeyedLimiter_EvictIdle(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	kl := NewKeyedLimiter(rate.Inf, 1, 0)
	kl.idleTTL = time.Minute
	kl.now = func() time.Time { return now }

	kl.Allow("old")
	now = now.Add(2 * time.Minute)
	kl.Allow("fresh")

	kl.evictIdle()
	assert.Equal(t, 1, kl.Len())
}

func TestPerMinute(t *testing.T) {
	assert.Equal(t, rate.Every(time.Second), PerMinute(60))
	assert.Equal(t, rate.Inf, PerMinute(0))
}

func TestPerWindow(t *testing.T) {
	assert.Equal(t, rate.Every(500*time.Millisecond), PerWindow(20, 10*time.Second))
	assert.Equal(t, rate.Inf, PerWindow(0, time.Minute))
	assert.Equal(t, rate.Inf, PerWindow(10, 0))
}

func TestMinIntervalThrottle(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	th := NewMinIntervalThrottle(30 * time.Second)
	th.now = func() time.Time { return now }

	require.NoError(t, th.Allow("t1:CONTACT:PULL"))
	th.Record("t1:CONTACT:PULL")

	now = now.Add(10 * time.Second)
	err := th.Allow("t1:CONTACT:PULL")
	require.ErrorIs(t, err, ledgersync.ErrSyncThrottled)
	retry, ok := ledgersync.RetryAfter(err)
	require.True(t, ok)
	assert.Equal(t, 20*time.Second, retry)

	assert.NoError(t, th.Allow("t1:CONTACT:PUSH"), "keys are independent")

	th.Record("t1:CONTACT:PULL")
	now = now.Add(20 * time.Second)
	assert.ErrorIs(t, th.Allow("t1:CONTACT:PULL"), ledgersync.ErrSyncThrottled,
		"a forced run is recorded and restarts the interval")

	now = now.Add(10 * time.Second)
	assert.NoError(t, th.Allow("t1:CONTACT:PULL"))
}

func TestMinIntervalThrottle_AllowRecordsNothing(t *testing.T) {
	th := NewMinIntervalThrottle(time.Minute)
	for range 3 {
		require.NoError(t, th.Allow("t1:INVOICE:PUSH"))
	}
	th.Record("t1:INVOICE:PUSH")
	assert.ErrorIs(t, th.Allow("t1:INVOICE:PUSH"), ledgersync.ErrSyncThrottled)
}

func TestMinIntervalThrottle_Disabled(t *testing.T) {
	th := NewMinIntervalThrottle(0)
	th.Record("k")
	assert.NoError(t, th.Allow("k"))
}
