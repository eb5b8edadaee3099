// Package locker holds the in-process UserLocker used by single-instance
// deployments and tests.
package locker

import (
	"context"
	"sync"

	"whatsapp-voice-subscription/internal/domain/ports/repository"
)

var _ repository.UserLocker = (*Local)(nil)

// Local is a keyed mutex. Entries are reference counted and removed when the
// last holder or waiter leaves.
type Local struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{locks: map[string]*entry{}}
}

func (l *Local) Lock(ctx context.Context, phone string) (context.Context, func() error, error) {
	l.mu.Lock()
	e, ok := l.locks[phone]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.locks[phone] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.leave(phone, e)
		return nil, nil, ctx.Err()
	}

	var once sync.Once
	return ctx, func() error {
		once.Do(func() {
			<-e.ch
			l.leave(phone, e)
		})
		return nil
	}, nil
}

func (l *Local) leave(phone string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, phone)
	}
}

// Len reports how many keys are currently tracked.
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
