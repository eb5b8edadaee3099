package redis

import (
	"context"
	"fmt"
	"time"

	"whatsapp-voice-subscription/internal/domain/ports/repository"
)

var _ repository.RateLimiter = (*RateLimiter)(nil)

// RateLimiter is a fixed-window counter: INCR, and EXPIRE on the first hit.
type RateLimiter struct {
	client RedisClient
	prefix string
	limit  int
	window time.Duration
}

func NewRateLimiter(client RedisClient, prefix string, limit int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	if limit <= 0 {
		limit = 30
	}
	return &RateLimiter{client: client, prefix: prefix, limit: limit, window: window}
}

func (r *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	k := r.key(key)
	count, err := r.client.Incr(ctx, k)
	if err != nil {
		return false, err
	}

	if count == 1 {
		err = r.client.Expire(ctx, k, r.window)
		if err != nil {
			return false, err
		}
	}

	if count > int64(r.limit) {
		return false, nil
	}

	return true, nil
}

func (r *RateLimiter) key(k string) string {
	bucket := time.Now().UnixNano() / int64(r.window)
	return fmt.Sprintf("%s%s:%d", r.prefix, k, bucket)
}
