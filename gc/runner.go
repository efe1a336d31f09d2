package gc

import (
	"context"

	"github.com/projecteru2/hatchery/lock"
)

// runner lets Orchestrator hold Module values of different snapshot types.
// Callers only see Module and Register.
type runner interface {
	getName() string
	getLocker() lock.Locker
	readSnapshot(ctx context.Context) (any, error)
	resolveTargets(snap any, others map[string]any) []string
	collect(ctx context.Context, ids []string) error
}
