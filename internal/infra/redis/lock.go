package redis

import (
	"context"
	"fmt"
	"time"

	"whatsapp-voice-subscription/internal/domain/ports/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var _ repository.UserLocker = (*RedisLocker)(nil)

// maxLockErrors is how many consecutive SetNX failures TryLock tolerates
// before giving up.
const maxLockErrors = 3

// RedisLocker is the distributed per-user lock: SET NX with a TTL and a
// token-checked Lua unlock.
type RedisLocker struct {
	cli   RedisClient
	ttl   time.Duration
	retry time.Duration
	log   *zerolog.Logger
}

func NewLocker(c RedisClient, ttl time.Duration, logger *zerolog.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	l := logger.With().Str("component", "RedisLocker").Logger()
	return &RedisLocker{cli: c, ttl: ttl, retry: 25 * time.Millisecond, log: &l}
}

func lockKey(phone string) string { return "lock:user:" + phone }

// Lock retries until the lock is free, ctx is done or Redis keeps failing.
func (l *RedisLocker) Lock(ctx context.Context, phone string) (context.Context, func() error, error) {
	key := lockKey(phone)
	token, err := l.TryLock(ctx, key, l.ttl)
	if err != nil {
		return nil, nil, err
	}
	return ctx, func() error {
		// ctx may already be cancelled; the unlock must still run
		uctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := l.Unlock(uctx, key, token); err != nil {
			l.log.Warn().Err(err).Str("key", key).Msg("unlock failed; lock expires with ttl")
		}
		return nil
	}, nil
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	t := time.NewTicker(l.retry)
	defer t.Stop()
	failures := 0
	for {
		ok, err := l.cli.SetNX(ctx, key, token, ttl)
		switch {
		case err == nil && ok:
			return token, nil
		case err != nil:
			failures++
			if failures >= maxLockErrors {
				return "", fmt.Errorf("acquire %s: %w", key, err)
			}
		default:
			failures = 0
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return "", fmt.Errorf("acquire %s: %w", key, err)
			}
			return "", fmt.Errorf("acquire %s: %w", key, ctx.Err())
		case <-t.C:
		}
	}
}

const luaUnlock = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`

func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	_, err := l.cli.Eval(ctx, luaUnlock, []string{key}, token)
	return err
}
