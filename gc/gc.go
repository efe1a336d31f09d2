// Package gc removes host state that no VM directory accounts for: orphan
// domains, dead display sessions and stale scratch files.
package gc

import (
	"context"

	"github.com/projecteru2/hatchery/lock"
)

// Module is one participant in a GC cycle. S is the module's snapshot type.
type Module[S any] struct {
	Name string

	// Locker coordinates with live operations. GC aborts the cycle when it
	// cannot take every module's lock without waiting.
	Locker lock.Locker

	// ReadDB captures the module's state. Called with Locker held.
	ReadDB func(ctx context.Context) (S, error)

	// Resolve picks the IDs to remove. others holds every module's
	// snapshot keyed by module name.
	Resolve func(snap S, others map[string]any) []string

	// Collect removes ids. Called with Locker held.
	Collect func(ctx context.Context, ids []string) error
}

func (m Module[S]) getName() string        { return m.Name }
func (m Module[S]) getLocker() lock.Locker { return m.Locker }

func (m Module[S]) readSnapshot(ctx context.Context) (any, error) {
	return m.ReadDB(ctx)
}

func (m Module[S]) resolveTargets(snap any, others map[string]any) []string {
	s, _ := snap.(S)
	return m.Resolve(s, others)
}

func (m Module[S]) collect(ctx context.Context, ids []string) error {
	return m.Collect(ctx, ids)
}
