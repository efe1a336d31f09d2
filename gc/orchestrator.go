package gc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/projecteru2/core/log"
)

// Orchestrator runs GC across all registered modules.
type Orchestrator struct {
	modules []runner
}

// New creates an empty Orchestrator.
func New() *Orchestrator { return &Orchestrator{} }

// Register adds m to o. Methods cannot take type parameters, hence the
// free function.
func Register[S any](o *Orchestrator, m Module[S]) {
	o.modules = append(o.modules, m)
}

// Run performs one cycle. Every module is locked up front and stays locked
// until collection ends; a busy module aborts the cycle before anything is
// read. Targets are resolved with all snapshots in view, since the domain
// module needs the set of VM directories to spot orphans. The returned map
// holds the IDs each module was asked to remove.
func (o *Orchestrator) Run(ctx context.Context) (map[string][]string, error) {
	held, err := o.lockAll(ctx)
	defer func() {
		for _, m := range held {
			_ = m.getLocker().Unlock(ctx)
		}
	}()
	if err != nil {
		return nil, err
	}

	snaps := map[string]any{}
	for _, m := range held {
		s, err := m.readSnapshot(ctx)
		if err != nil {
			return nil, fmt.Errorf("gc: snapshot %s: %w", m.getName(), err)
		}
		snaps[m.getName()] = s
	}

	logger := log.WithFunc("gc.Run")
	targets := map[string][]string{}
	var errs []error
	for _, m := range held {
		name := m.getName()
		ids := m.resolveTargets(snaps[name], snaps)
		if len(ids) == 0 {
			continue
		}
		targets[name] = ids
		logger.Infof(ctx, "%s: removing %s", name, strings.Join(ids, ", "))
		if err := m.collect(ctx, ids); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return targets, errors.Join(errs...)
}

// lockAll returns the modules it managed to lock even on failure so the
// caller can release them.
func (o *Orchestrator) lockAll(ctx context.Context) ([]runner, error) {
	var held []runner
	var busy []string
	for _, m := range o.modules {
		ok, err := m.getLocker().TryLock(ctx)
		switch {
		case err != nil:
			log.WithFunc("gc.lockAll").Warnf(ctx, "lock %s: %v", m.getName(), err)
			busy = append(busy, m.getName())
		case !ok:
			busy = append(busy, m.getName())
		default:
			held = append(held, m)
		}
	}
	if len(busy) > 0 {
		return held, fmt.Errorf("gc: modules busy: %s", strings.Join(busy, ", "))
	}
	return held, nil
}
