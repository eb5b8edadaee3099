package repository

import "context"

// UserLocker serializes read-modify-write sequences per user. Work inside the
// critical section must run on the returned context, which may carry the
// lock's own storage handle. The returned release func must be called exactly
// once; an error from it means writes made under the lock were not persisted.
type UserLocker interface {
	Lock(ctx context.Context, phone string) (held context.Context, release func() error, err error)
}

// EventDeduper remembers delivery ids. MarkFirst returns true the first time key
// is marked and false for every repeat inside the retention window.
type EventDeduper interface {
	MarkFirst(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

// RateLimiter is a fixed-window counter per key.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}
