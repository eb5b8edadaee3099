package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	mu     sync.Mutex
	vals   map[string]int64
	owners map[string]interface{}
	ttl    map[string]time.Duration
	err    error
	setnx  int
}

func newFakeClient() *fakeClient {
	return &fakeClient{vals: map[string]int64{}, owners: map[string]interface{}{}, ttl: map[string]time.Duration{}}
}

func (f *fakeClient) Ping(ctx context.Context) error { return f.err }

func (f *fakeClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setnx++
	if f.err != nil {
		return false, f.err
	}
	if _, ok := f.vals[key]; ok {
		return false, nil
	}
	f.vals[key] = 1
	f.owners[key] = value
	f.ttl[key] = expiration
	return true, nil
}

func (f *fakeClient) Incr(ctx context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.vals[key]++
	return f.vals[key], nil
}

func (f *fakeClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ttl[key] = expiration
	return nil
}

func (f *fakeClient) Del(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.vals, k)
		delete(f.owners, k)
	}
	return nil
}

// Eval understands only the token-checked unlock script.
func (f *fakeClient) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if script != luaUnlock || len(keys) != 1 || len(args) != 1 {
		return nil, errors.New("unexpected script")
	}
	if f.owners[keys[0]] != args[0] {
		return int64(0), nil
	}
	delete(f.vals, keys[0])
	delete(f.owners, keys[0])
	return int64(1), nil
}

func (f *fakeClient) Close() error { return nil }

func (f *fakeClient) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeClient) setnxCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.setnx
}

func TestDeduper_MarkFirst(t *testing.T) {
	ctx := context.Background()
	fc := newFakeClient()
	d := NewDeduper(fc, "paypal:event:", 0)

	first, err := d.MarkFirst(ctx, "WH-1")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := d.MarkFirst(ctx, "WH-1")
	require.NoError(t, err)
	assert.False(t, again, "repeat delivery must be reported as seen")
	assert.Equal(t, 24*time.Hour, fc.ttl["paypal:event:WH-1"])

	require.NoError(t, d.Forget(ctx, "WH-1"))
	retry, err := d.MarkFirst(ctx, "WH-1")
	require.NoError(t, err)
	assert.True(t, retry)
}

func TestRateLimiter_Allow(t *testing.T) {
	ctx := context.Background()
	fc := newFakeClient()
	rl := NewRateLimiter(fc, "rl:", 3, time.Hour)

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "4915112345678")
		require.NoError(t, err)
		assert.True(t, ok, "call %d should pass", i+1)
	}
	ok, err := rl.Allow(ctx, "4915112345678")
	require.NoError(t, err)
	assert.False(t, ok)

	other, err := rl.Allow(ctx, "4915199999999")
	require.NoError(t, err)
	assert.True(t, other, "limits are per key")
}

func TestRateLimiter_PropagatesErrors(t *testing.T) {
	fc := newFakeClient()
	fc.err = errors.New("connection refused")
	rl := NewRateLimiter(fc, "rl:", 3, time.Minute)

	_, err := rl.Allow(context.Background(), "k")
	require.Error(t, err)
}

func TestLocker_AcquireAndRelease(t *testing.T) {
	ctx := context.Background()
	fc := newFakeClient()
	l := NewLocker(fc, 5*time.Second, nopLogger())

	held, release, err := l.Lock(ctx, "4915112345678")
	require.NoError(t, err)
	assert.Equal(t, ctx, held)
	assert.Equal(t, 5*time.Second, fc.ttl["lock:user:4915112345678"])

	require.NoError(t, release())
	_, again, err := l.Lock(ctx, "4915112345678")
	require.NoError(t, err, "released key can be taken again")
	require.NoError(t, again())
}

func TestLocker_ContentionWaitsForDeadline(t *testing.T) {
	fc := newFakeClient()
	l := NewLocker(fc, time.Second, nopLogger())

	_, release, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	_, _, err = l.Lock(ctx, "a")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	_, releaseB, err := l.Lock(context.Background(), "b")
	require.NoError(t, err, "other keys are independent")
	require.NoError(t, releaseB())
}

func TestLocker_StaleTokenDoesNotUnlock(t *testing.T) {
	ctx := context.Background()
	fc := newFakeClient()
	l := NewLocker(fc, time.Second, nopLogger())

	token, err := l.TryLock(ctx, "k", time.Second)
	require.NoError(t, err)
	require.NoError(t, l.Unlock(ctx, "k", "someone-else"))
	_, held := fc.owners["k"]
	assert.True(t, held)

	require.NoError(t, l.Unlock(ctx, "k", token))
	_, held = fc.owners["k"]
	assert.False(t, held)
}

func TestLocker_UnreachableServerFailsFast(t *testing.T) {
	fc := newFakeClient()
	fc.setErr(errors.New("dial tcp 127.0.0.1:6379: connect: connection refused"))
	l := NewLocker(fc, time.Second, nopLogger())

	done := make(chan error, 1)
	go func() {
		// no deadline: only the error budget can end the wait
		_, _, err := l.Lock(context.Background(), "a")
		done <- err
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
	case <-time.After(2 * time.Second):
		t.Fatal("lock kept retrying against an unreachable server")
	}
	assert.Equal(t, maxLockErrors, fc.setnxCalls())
}

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}
