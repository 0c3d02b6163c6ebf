package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/narrately/api/internal/logger"
	"github.com/narrately/api/pkg/response"
)

// Counter counts hits of key within a fixed window starting at the first hit
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)
}

type RateLimiter struct {
	counter Counter
	log     *logger.Logger
}

func NewRateLimiter(counter Counter, log *logger.Logger) *RateLimiter {
	if log == nil {
		log = logger.Nop()
	}
	return &RateLimiter{counter: counter, log: log.WithComponent("ratelimit")}
}

// Limit creates a rate limiting middleware
func (rl *RateLimiter) Limit(keyPrefix string, maxRequests int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if maxRequests <= 0 {
			return c.Next()
		}
		clientID := ClientID(c)
		key := fmt.Sprintf("ratelimit:%s:%s", keyPrefix, clientID)

		count, ttl, err := rl.counter.Incr(c.UserContext(), key, window)
		if err != nil {
			// fail open
			rl.log.Warn("rate limit counter failed", "key", key, "error", err.Error())
			return c.Next()
		}

		if count > int64(maxRequests) {
			if ttl <= 0 {
				ttl = window
			}
			return response.QuotaExceeded(c, ttl)
		}

		c.Set("X-RateLimit-Limit", fmt.Sprintf("%d", maxRequests))
		c.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", maxRequests-int(count)))

		return c.Next()
	}
}

// StatusLimit limits job status polls per minute
func (rl *RateLimiter) StatusLimit(maxPerMin int) fiber.Handler {
	return rl.Limit("status", maxPerMin, time.Minute)
}

// SubmitLimit limits job submissions per hour
func (rl *RateLimiter) SubmitLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("submit", maxPerHour, time.Hour)
}

// PreviewLimit limits TTS previews per minute
func (rl *RateLimiter) PreviewLimit(maxPerMin int) fiber.Handler {
	return rl.Limit("preview", maxPerMin, time.Minute)
}

// ActivityLimit limits activity queries per minute
func (rl *RateLimiter) ActivityLimit(maxPerMin int) fiber.Handler {
	return rl.Limit("activity", maxPerMin, time.Minute)
}

// RedisCounter keeps fixed-window counters in Redis
type RedisCounter struct {
	redis *redis.Client
}

func NewRedisCounter(rdb *redis.Client) *RedisCounter {
	return &RedisCounter{redis: rdb}
}

func (r *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	count, err := r.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, err
	}
	// Set expiration on first request
	if count == 1 {
		if err := r.redis.Expire(ctx, key, window).Err(); err != nil {
			return count, window, err
		}
		return count, window, nil
	}
	ttl, err := r.redis.TTL(ctx, key).Result()
	if err != nil {
		return count, 0, err
	}
	if ttl < 0 {
		// a crash between INCR and EXPIRE left the key without a TTL
		_ = r.redis.Expire(ctx, key, window).Err()
		ttl = window
	}
	return count, ttl, nil
}

// MemoryCounter keeps fixed-window counters in process
type MemoryCounter struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
	now     func() time.Time
}

type memoryWindow struct {
	count   int64
	resetAt time.Time
}

func NewMemoryCounter(now func() time.Time) *MemoryCounter {
	if now == nil {
		now = time.Now
	}
	return &MemoryCounter{windows: make(map[string]*memoryWindow), now: now}
}

func (m *MemoryCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	w, ok := m.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &memoryWindow{resetAt: now.Add(window)}
		m.windows[key] = w
		m.sweep(now)
	}
	w.count++
	return w.count, w.resetAt.Sub(now), nil
}

// sweep drops expired windows; called only when a window is created.
func (m *MemoryCounter) sweep(now time.Time) {
	for k, w := range m.windows {
		if !now.Before(w.resetAt) {
			delete(m.windows, k)
		}
	}
}
