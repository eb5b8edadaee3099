package redis

import (
	"context"
	"time"

	"whatsapp-voice-subscription/internal/domain/ports/repository"
)

var _ repository.EventDeduper = (*Deduper)(nil)

// Deduper remembers webhook delivery ids for ttl.
type Deduper struct {
	client RedisClient
	prefix string
	ttl    time.Duration
}

func NewDeduper(client RedisClient, prefix string, ttl time.Duration) *Deduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Deduper{client: client, prefix: prefix, ttl: ttl}
}

func (d *Deduper) MarkFirst(ctx context.Context, key string) (bool, error) {
	return d.client.SetNX(ctx, d.prefix+key, 1, d.ttl)
}

// Forget drops a mark so a delivery that failed before processing can be retried.
func (d *Deduper) Forget(ctx context.Context, key string) error {
	return d.client.Del(ctx, d.prefix+key)
}
