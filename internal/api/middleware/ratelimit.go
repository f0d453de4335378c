package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateLimitConfig holds configuration for rate limiting
type RateLimitConfig struct {
	// Redis client for storing counters. When nil, limits are kept in
	// process memory.
	RedisClient *redis.Client

	// Default limit, in requests per window
	DefaultLimit  int
	DefaultWindow time.Duration

	// Endpoint-specific limits keyed by "METHOD:route"
	EndpointLimits map[string]EndpointLimit
}

// EndpointLimit allows Limit requests per Window.
type EndpointLimit struct {
	Limit  int
	Window time.Duration
}

// Default rate limit configurations
var defaultEndpointLimits = map[string]EndpointLimit{
	// Authentication endpoints - stricter limits
	"POST:/api/v1/auth/login":    {Limit: 10, Window: time.Minute},
	"POST:/api/v1/auth/register": {Limit: 5, Window: time.Hour},
	"POST:/api/v1/auth/refresh":  {Limit: 30, Window: time.Minute},

	// Test sends go out through real SMTP
	"POST:/api/v1/campaigns/:id/test": {Limit: 10, Window: time.Minute},
	"POST:/api/v1/imports":            {Limit: 20, Window: time.Minute},
}

// RateLimiter creates a new rate limiting middleware
func RateLimiter(config RateLimitConfig) echo.MiddlewareFunc {
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = 300
	}
	if config.DefaultWindow <= 0 {
		config.DefaultWindow = time.Minute
	}
	if config.EndpointLimits == nil {
		config.EndpointLimits = defaultEndpointLimits
	}
	local := newMemoryLimiter()

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			clientID := getClientID(c)
			endpointKey := c.Request().Method + ":" + c.Path()
			limitConfig := getLimitConfig(endpointKey, config)

			var (
				allowed    bool
				remaining  int
				retryAfter time.Duration
			)
			if config.RedisClient != nil {
				var err error
				allowed, remaining, retryAfter, err = checkRedis(c.Request().Context(), config.RedisClient, clientID, endpointKey, limitConfig)
				if err != nil {
					// Redis trouble must not take the API down
					allowed, remaining, retryAfter = local.check(clientID+"|"+endpointKey, limitConfig)
				}
			} else {
				allowed, remaining, retryAfter = local.check(clientID+"|"+endpointKey, limitConfig)
			}

			setRateLimitHeaders(c, limitConfig.Limit, remaining)

			if !allowed {
				seconds := int(retryAfter.Round(time.Second).Seconds())
				if seconds < 1 {
					seconds = 1
				}
				c.Response().Header().Set("Retry-After", strconv.Itoa(seconds))
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":       "rate_limit_exceeded",
					"message":     "Rate limit exceeded. Try again later.",
					"retry_after": seconds,
				})
			}

			return next(c)
		}
	}
}

// getClientID prefers the authenticated user and falls back to the IP.
func getClientID(c echo.Context) string {
	if userID := GetUserID(c); userID != "" {
		return fmt.Sprintf("user:%s", userID)
	}
	return fmt.Sprintf("ip:%s", c.RealIP())
}

func getLimitConfig(endpointKey string, config RateLimitConfig) EndpointLimit {
	if limit, exists := config.EndpointLimits[endpointKey]; exists {
		return limit
	}
	return EndpointLimit{Limit: config.DefaultLimit, Window: config.DefaultWindow}
}

// checkRedis counts requests in a fixed window shared by every API replica.
func checkRedis(ctx context.Context, client *redis.Client, clientID, endpointKey string, limit EndpointLimit) (bool, int, time.Duration, error) {
	window := time.Now().UnixNano() / int64(limit.Window)
	key := fmt.Sprintf("rate_limit:%s:%s:%d", clientID, endpointKey, window)

	pipe := client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	ttl := pipe.PTTL(ctx, key)
	pipe.Expire(ctx, key, limit.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, 0, err
	}

	count := int(incr.Val())
	if count > limit.Limit {
		wait := ttl.Val()
		if wait <= 0 {
			wait = limit.Window
		}
		return false, 0, wait, nil
	}
	return true, limit.Limit - count, 0, nil
}

// memoryLimiter keeps one token bucket per client and endpoint.
type memoryLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newMemoryLimiter() *memoryLimiter {
	return &memoryLimiter{limiters: make(map[string]*rate.Limiter)}
}

func (m *memoryLimiter) check(key string, limit EndpointLimit) (bool, int, time.Duration) {
	m.mu.Lock()
	l, ok := m.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Limit(float64(limit.Limit)/limit.Window.Seconds()), limit.Limit)
		m.limiters[key] = l
	}
	m.mu.Unlock()

	r := l.Reserve()
	if delay := r.Delay(); delay > 0 {
		r.Cancel()
		return false, 0, delay
	}
	return true, int(l.Tokens()), 0
}

func setRateLimitHeaders(c echo.Context, limit, remaining int) {
	if remaining < 0 {
		remaining = 0
	}
	c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	c.Response().Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
}
