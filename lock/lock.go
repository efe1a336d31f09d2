package lock

import "context"

// Locker provides mutual exclusion with context support.
type Locker interface {
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
	TryLock(ctx context.Context) (bool, error)
}

// WithLock runs fn while holding l.
func WithLock(ctx context.Context, l Locker, fn func() error) error {
	if err := l.Lock(ctx); err != nil {
		return err
	}
	defer l.Unlock(ctx) //nolint:errcheck
	return fn()
}

// WithTryLock runs fn only if l can be acquired without waiting.
// It returns busy unchanged when the lock is held elsewhere.
func WithTryLock(ctx context.Context, l Locker, busy error, fn func() error) error {
	ok, err := l.TryLock(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return busy
	}
	defer l.Unlock(ctx) //nolint:errcheck
	return fn()
}
