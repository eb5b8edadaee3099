package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"whatsapp-voice-subscription/internal/domain"
	"whatsapp-voice-subscription/internal/domain/ports/repository"
	"whatsapp-voice-subscription/internal/infra/metrics"
)

// Executor runs tasks off the caller's goroutine (worker pool in production).
type Executor interface {
	Submit(task func(ctx context.Context) error) error
}

// InlineExecutor runs the task on the calling goroutine. Task errors are not
// returned, matching the worker pool.
type InlineExecutor struct{}

func (InlineExecutor) Submit(task func(ctx context.Context) error) error {
	_ = task(context.Background())
	return nil
}

// Timeouts bound every outbound collaborator call.
type Timeouts struct {
	Messaging     time.Duration
	Billing       time.Duration
	Transcription time.Duration
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Messaging <= 0 {
		t.Messaging = 10 * time.Second
	}
	if t.Billing <= 0 {
		t.Billing = 15 * time.Second
	}
	if t.Transcription <= 0 {
		t.Transcription = 90 * time.Second
	}
	return t
}

// callCollaborator runs fn under a deadline. Every failure, the deadline
// included, is returned as ErrCollaboratorUnavailable wrapping the cause.
func callCollaborator(ctx context.Context, timeout time.Duration, collaborator, op string, fn func(ctx context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := fn(cctx)
	result := "ok"
	if err != nil {
		result = "error"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(cctx.Err(), context.DeadlineExceeded) {
			result = "timeout"
		}
	}
	metrics.ObserveCollaborator(collaborator, op, result, time.Since(start))
	if err != nil {
		return fmt.Errorf("%s %s: %w: %w", collaborator, op, domain.ErrCollaboratorUnavailable, err)
	}
	return nil
}

// lockTimeout bounds lock acquisition plus the critical section. It must stay
// below the Redis lock TTL.
const lockTimeout = 10 * time.Second

// withUserLock runs fn while holding the per-user lock for phone. fn receives
// the locker's context. A lock that cannot be taken in time is reported as
// ErrCollaboratorUnavailable.
func withUserLock(ctx context.Context, locker repository.UserLocker, phone string, fn func(ctx context.Context) error) (err error) {
	lctx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	held, release, err := locker.Lock(lctx, phone)
	if err != nil {
		metrics.IncLockFailure()
		return fmt.Errorf("lock user: %w: %w", domain.ErrCollaboratorUnavailable, err)
	}
	defer func() {
		if rerr := release(); rerr != nil && err == nil {
			err = fmt.Errorf("release user lock: %w", rerr)
		}
	}()
	return fn(held)
}
