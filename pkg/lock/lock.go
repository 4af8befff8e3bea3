// Package lock guards workflows against concurrent runs of the same id.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrHeld is returned by TryAcquire when another holder owns the key.
var ErrHeld = errors.New("lock already held")

// Release gives the lock back. It is safe to call once.
type Release func(ctx context.Context) error

// Locker hands out non-blocking exclusive locks by key.
type Locker interface {
	TryAcquire(ctx context.Context, key string) (Release, error)
}

// Local is an in-process Locker.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

func (l *Local) TryAcquire(_ context.Context, key string) (Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[key]; ok {
		return nil, ErrHeld
	}

	l.held[key] = struct{}{}

	var once sync.Once

	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})

		return nil
	}, nil
}
