package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type RateLimit struct {
	Window  time.Duration
	MaxJobs int
}

type QueueConfig struct {
	Name      string
	RateLimit RateLimit
}

// QueueRateLimiter is a sliding-window limiter backed by one sorted set
// per key, so every worker process shares the same budget.
type QueueRateLimiter struct {
	client redis.Scripter
	config QueueConfig
	now    func() time.Time
}

// slidingWindow trims entries older than the window, then admits the call
// only if fewer than limit remain. Returns {allowed, oldest score}.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  return {0, tonumber(oldest[2])}
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return {1, now}
`)

func NewQueueRateLimiter(client redis.Scripter, cfg QueueConfig) *QueueRateLimiter {
	return &QueueRateLimiter{client: client, config: cfg, now: time.Now}
}

func (l *QueueRateLimiter) key(id string) string {
	return fmt.Sprintf("ratelimit:%s:%s", l.config.Name, id)
}

// Allow records one job for id if the window has room.
func (l *QueueRateLimiter) Allow(ctx context.Context, id string) (bool, error) {
	ok, _, err := l.Reserve(ctx, id)
	return ok, err
}

// Reserve is Allow plus the time until the oldest entry leaves the window
// when the call is rejected.
func (l *QueueRateLimiter) Reserve(ctx context.Context, id string) (bool, time.Duration, error) {
	return l.ReserveLimit(ctx, id, l.config.RateLimit.MaxJobs, l.config.RateLimit.Window)
}

// ReserveLimit is Reserve with a per-call budget, for keys whose limit is
// stored elsewhere (e.g. the max send rate of an SMTP config).
func (l *QueueRateLimiter) ReserveLimit(ctx context.Context, id string, limit int, windowDur time.Duration) (bool, time.Duration, error) {
	if limit <= 0 {
		return true, 0, nil
	}

	now := l.now().UnixMilli()
	window := windowDur.Milliseconds()
	if window <= 0 {
		window = 1000
	}

	res, err := slidingWindow.Run(ctx, l.client,
		[]string{l.key(id)},
		now, window, limit, fmt.Sprintf("%d-%s", now, uuid.NewString()),
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limiter script: %w", err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("rate limiter script: unexpected reply %v", res)
	}
	if res[0] == 1 {
		return true, 0, nil
	}

	wait := time.Duration(res[1]+window-now) * time.Millisecond
	if wait <= 0 {
		wait = time.Millisecond
	}
	return false, wait, nil
}
