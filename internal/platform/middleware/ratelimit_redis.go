package middleware

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimitStore counts requests in fixed windows shared by every server
// instance. A window lasts as long as it takes to refill a full burst.
type RedisLimitStore struct {
	client redis.Cmdable
}

func NewRedisLimitStore(client redis.Cmdable) *RedisLimitStore {
	return &RedisLimitStore{client: client}
}

func (s *RedisLimitStore) Allow(ctx context.Context, key string, cfg RateLimitConfig) (bool, time.Duration, error) {
	window := windowFor(cfg)
	slot := time.Now().UnixNano() / int64(window)
	rkey := fmt.Sprintf("ratelimit:%s:%d", key, slot)

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, rkey)
	pipe.Expire(ctx, rkey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("redis rate limit: %w", err)
	}

	if incr.Val() > int64(cfg.BurstSize) {
		ttl, err := s.client.PTTL(ctx, rkey).Result()
		if err != nil || ttl <= 0 {
			ttl = window
		}
		return false, ttl, nil
	}
	return true, 0, nil
}

func windowFor(cfg RateLimitConfig) time.Duration {
	if cfg.RequestsPerSecond <= 0 || cfg.BurstSize <= 0 {
		return time.Second
	}
	secs := math.Max(float64(cfg.BurstSize)/cfg.RequestsPerSecond, 1)
	return time.Duration(secs * float64(time.Second))
}
