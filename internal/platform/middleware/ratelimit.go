package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	// Prefix namespaces keys so several limiters can share one store.
	Prefix            string
	RequestsPerSecond float64
	BurstSize         int
}

// DefaultRateLimitConfig returns default rate limiting settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Prefix:            "api",
		RequestsPerSecond: 100,
		BurstSize:         200,
	}
}

// PerMinute builds a config allowing n requests per minute with a burst of n.
func PerMinute(prefix string, n int) RateLimitConfig {
	return RateLimitConfig{Prefix: prefix, RequestsPerSecond: float64(n) / 60, BurstSize: n}
}

// LimitStore decides whether one more request under key fits cfg. When it
// does not, retryAfter says how long the client should wait.
type LimitStore interface {
	Allow(ctx context.Context, key string, cfg RateLimitConfig) (ok bool, retryAfter time.Duration, err error)
}

// RateLimit limits requests per client IP, or per authenticated user when
// one is set. Store errors are logged and the request is let through.
func RateLimit(cfg RateLimitConfig, store LimitStore, logger zerolog.Logger) echo.MiddlewareFunc {
	if store == nil {
		store = NewMemoryLimitStore()
	}
	limit := strconv.FormatFloat(math.Max(cfg.RequestsPerSecond, 1), 'f', 0, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := cfg.Prefix + ":" + c.RealIP()
			if uid, ok := c.Get("user_id").(string); ok && uid != "" {
				key = cfg.Prefix + ":user:" + uid
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)

			ok, retry, err := store.Allow(c.Request().Context(), key, cfg)
			if err != nil {
				logger.Warn().Err(err).Str("key", key).Msg("rate limit store unavailable, allowing request")
				return next(c)
			}
			if !ok {
				secs := int(math.Ceil(retry.Seconds()))
				if secs < 1 {
					secs = 1
				}
				h.Set("Retry-After", strconv.Itoa(secs))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}

// tokenBucket implements a token bucket rate limiter.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func (b *tokenBucket) take(now time.Time) (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens = math.Min(b.maxTokens, b.tokens+now.Sub(b.lastRefill).Seconds()*b.refillRate)
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	if b.refillRate <= 0 {
		return false, time.Second
	}
	return false, time.Duration((1 - b.tokens) / b.refillRate * float64(time.Second))
}

// idle reports whether the bucket would be back at capacity by now, or has
// not been touched for maxIdle. Such a bucket is equivalent to a new one.
func (b *tokenBucket) idle(now time.Time, maxIdle time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	elapsed := now.Sub(b.lastRefill)
	return elapsed >= maxIdle || b.tokens+elapsed.Seconds()*b.refillRate >= b.maxTokens
}

const (
	sweepInterval = time.Minute
	maxBucketIdle = 10 * time.Minute
)

// MemoryLimitStore keeps one token bucket per key in process memory.
// Buckets that have refilled are dropped at most once per sweepInterval,
// so keys from one-off clients do not accumulate.
type MemoryLimitStore struct {
	mu        sync.RWMutex
	buckets   map[string]*tokenBucket
	now       func() time.Time
	lastSweep time.Time
}

func NewMemoryLimitStore() *MemoryLimitStore {
	return &MemoryLimitStore{buckets: make(map[string]*tokenBucket), now: time.Now}
}

func (s *MemoryLimitStore) Allow(_ context.Context, key string, cfg RateLimitConfig) (bool, time.Duration, error) {
	now := s.now()
	s.sweep(now)
	ok, retry := s.bucket(key, cfg, now).take(now)
	return ok, retry, nil
}

// Len is the number of live buckets.
func (s *MemoryLimitStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buckets)
}

func (s *MemoryLimitStore) sweep(now time.Time) {
	s.mu.RLock()
	due := now.Sub(s.lastSweep) >= sweepInterval
	s.mu.RUnlock()
	if !due {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if now.Sub(s.lastSweep) < sweepInterval {
		return
	}
	s.lastSweep = now
	for k, b := range s.buckets {
		if b.idle(now, maxBucketIdle) {
			delete(s.buckets, k)
		}
	}
}

func (s *MemoryLimitStore) bucket(key string, cfg RateLimitConfig, now time.Time) *tokenBucket {
	s.mu.RLock()
	b, ok := s.buckets[key]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.buckets[key]; ok {
		return b
	}
	b = &tokenBucket{
		tokens:     float64(cfg.BurstSize),
		maxTokens:  float64(cfg.BurstSize),
		refillRate: cfg.RequestsPerSecond,
		lastRefill: now,
	}
	s.buckets[key] = b
	return b
}
