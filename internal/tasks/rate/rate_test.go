package rate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLimiter(t *testing.T, max int) (*QueueRateLimiter, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	clock := time.Unix(1_700_000_000, 0)
	l := NewQueueRateLimiter(client, QueueConfig{
		Name:      "smtp",
		RateLimit: RateLimit{Window: time.Second, MaxJobs: max},
	})
	l.now = func() time.Time { return clock }
	return l, &clock
}

func TestQueueRateLimiter_SlidingWindow(t *testing.T) {
	l, clock := newLimiter(t, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "cfg-1")
		require.NoError(t, err)
		assert.True(t, ok, "call %d", i)
		*clock = clock.Add(100 * time.Millisecond)
	}

	ok, wait, err := l.Reserve(ctx, "cfg-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 700*time.Millisecond, wait)

	// other keys have their own window
	ok, err = l.Allow(ctx, "cfg-2")
	require.NoError(t, err)
	assert.True(t, ok)

	*clock = clock.Add(701 * time.Millisecond)
	ok, err = l.Allow(ctx, "cfg-1")
	require.NoError(t, err)
	assert.True(t, ok, "first entry left the window")
}

func TestQueueRateLimiter_Unlimited(t *testing.T) {
	l, _ := newLimiter(t, 0)
	for i := 0; i < 50; i++ {
		ok, err := l.Allow(context.Background(), "x")
		require.NoError(t, err)
		require.True(t, ok)
	}
}

func TestQueueRateLimiter_ReserveLimitPerCall(t *testing.T) {
	l, _ := newLimiter(t, 100)
	ctx := context.Background()

	ok, _, err := l.ReserveLimit(ctx, "smtp-a", 1, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, wait, err := l.ReserveLimit(ctx, "smtp-a", 1, time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "per-call limit wins over the configured one")
	assert.Equal(t, time.Second, wait)
}
