package rediscache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type RateLimiter struct {
	c *redis.Client
}

func NewRateLimiter(addr string) *RateLimiter {
	return &RateLimiter{
		c: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

// Allow делает INCR по ключу и ставит TTL при первом инкременте.
// retryAfter — остаток окна, чтобы 429 мог отдать Retry-After.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, time.Duration, error) {
	pipe := rl.c.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	ttl := pipe.TTL(ctx, key)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return false, 0, 0, errors.Wrap(err, "redis ratelimit")
	}

	n := incr.Val()
	retryAfter := ttl.Val()
	if retryAfter < 0 {
		retryAfter = window
	}
	return n <= limit, n, retryAfter, nil
}
