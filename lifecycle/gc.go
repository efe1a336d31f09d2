package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/hatchery/gc"
	"github.com/projecteru2/hatchery/lock/flock"
	"github.com/projecteru2/hatchery/types"
	"github.com/projecteru2/hatchery/utils"
)

const (
	domainsModule = "domains"
	scratchModule = "scratch"
)

type domainSnapshot struct {
	vms     map[string]struct{} // VM names with a directory in any namespace
	domains []string            // VM names of domains carrying our description marker
}

// DomainsGCModule finds domains we defined that have no VM directory left
// anywhere and force-removes them. Domains without our description marker
// belong to someone else and are never candidates.
func (m *Manager) DomainsGCModule() gc.Module[domainSnapshot] {
	return gc.Module[domainSnapshot]{
		Name:   domainsModule,
		Locker: flock.New(m.conf.DomainsLockPath()),
		ReadDB: func(ctx context.Context) (domainSnapshot, error) {
			snap := domainSnapshot{vms: make(map[string]struct{})}
			refs, err := m.ns.All()
			if err != nil {
				return snap, err
			}
			for _, r := range refs {
				snap.vms[r.Name] = struct{}{}
			}
			names, err := m.hyper.Domains(ctx)
			if err != nil {
				return snap, err
			}
			logger := log.WithFunc("lifecycle.gc")
			suffix := types.DomainName("")
			for _, n := range names {
				vm, ok := strings.CutSuffix(n, suffix)
				if !ok || vm == "" {
					continue
				}
				if _, live := snap.vms[vm]; !live && !m.managed(ctx, vm) {
					logger.Debugf(ctx, "skip foreign domain %s", n)
					continue
				}
				snap.domains = append(snap.domains, vm)
			}
			return snap, nil
		},
		Resolve: func(snap domainSnapshot, _ map[string]any) []string {
			return utils.FilterUnreferenced(snap.domains, snap.vms)
		},
		Collect: func(ctx context.Context, vms []string) error {
			var errs []error
			for _, vm := range vms {
				// an operation holding the VM lock may be creating it right now
				err := m.exclusive(ctx, vm, func() error {
					if taken, err := m.ns.Taken(vm); err != nil || taken {
						return err
					}
					return m.forceRemoveDomain(ctx, vm)
				})
				switch {
				case errors.Is(err, types.ErrBusy):
					log.WithFunc("lifecycle.gc").Warnf(ctx, "skip orphan domain %s: %v", vm, err)
				case err != nil:
					errs = append(errs, fmt.Errorf("remove orphan domain %s: %w", vm, err))
				}
			}
			return errors.Join(errs...)
		},
	}
}

// managed reports whether the domain carries our marker. A failed lookup
// counts as foreign.
func (m *Manager) managed(ctx context.Context, vm string) bool {
	desc, err := m.hyper.Description(ctx, vm)
	if err != nil {
		log.WithFunc("lifecycle.managed").Warnf(ctx, "describe %s: %v", vm, err)
		return false
	}
	return types.IsManagedDomain(desc)
}

// ScratchGCModule removes scratch files left by interrupted tool runs.
func (m *Manager) ScratchGCModule() gc.Module[[]string] {
	dir := m.conf.ScratchDir()
	return gc.Module[[]string]{
		Name:   scratchModule,
		Locker: m.netLock,
		ReadDB: func(context.Context) ([]string, error) {
			entries, err := os.ReadDir(dir)
			if err != nil && !os.IsNotExist(err) {
				return nil, err
			}
			stale := utils.OlderThan(utils.StaleTempAge)
			var names []string
			for _, e := range entries {
				if stale(e) {
					names = append(names, e.Name())
				}
			}
			return names, nil
		},
		Resolve: func(names []string, _ map[string]any) []string { return names },
		Collect: func(ctx context.Context, names []string) error {
			targets := make(map[string]struct{}, len(names))
			for _, n := range names {
				targets[n] = struct{}{}
			}
			return utils.RemoveMatching(ctx, dir, func(e os.DirEntry) bool {
				_, ok := targets[e.Name()]
				return ok
			})
		},
	}
}

// RegisterGC registers the lifecycle GC modules with orch.
func (m *Manager) RegisterGC(orch *gc.Orchestrator) {
	gc.Register(orch, m.DomainsGCModule())
	gc.Register(orch, m.ScratchGCModule())
}
