// Package flock implements lock.Locker with flock(2), so the API server and
// CLI invocations on the same host exclude each other.
package flock

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"

	"github.com/projecteru2/hatchery/lock"
)

const pollInterval = 100 * time.Millisecond

var _ lock.Locker = (*Lock)(nil)

// Lock pairs an in-process token with a file lock. Each acquisition opens
// its own descriptor; flock(2) treats separate descriptors as separate
// owners even inside one process.
type Lock struct {
	path  string
	token chan struct{}
	held  *flock.Flock
}

// New returns an unlocked Lock on path. The file is created on first use.
func New(path string) *Lock {
	return &Lock{path: path, token: make(chan struct{}, 1)}
}

// Lock waits for the lock until ctx ends.
func (l *Lock) Lock(ctx context.Context) error {
	select {
	case l.token <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("lock %s: %w", l.path, ctx.Err())
	}
	fl := flock.New(l.path)
	ok, err := fl.TryLockContext(ctx, pollInterval)
	if err == nil && !ok {
		err = ctx.Err()
	}
	if err != nil {
		<-l.token
		return fmt.Errorf("flock %s: %w", l.path, err)
	}
	l.held = fl
	return nil
}

// TryLock takes the lock only if nobody holds it. (false, nil) means busy.
func (l *Lock) TryLock(context.Context) (bool, error) {
	select {
	case l.token <- struct{}{}:
	default:
		return false, nil
	}
	fl := flock.New(l.path)
	ok, err := fl.TryLock()
	if err != nil || !ok {
		<-l.token
		if err != nil {
			return false, fmt.Errorf("flock %s: %w", l.path, err)
		}
		return false, nil
	}
	l.held = fl
	return true, nil
}

// Unlock releases the file lock and the token. Unlocking an unheld Lock is
// a no-op.
func (l *Lock) Unlock(context.Context) error {
	fl := l.held
	l.held = nil
	select {
	case <-l.token:
	default:
	}
	if fl == nil {
		return nil
	}
	if err := fl.Unlock(); err != nil {
		return fmt.Errorf("unflock %s: %w", l.path, err)
	}
	return nil
}
