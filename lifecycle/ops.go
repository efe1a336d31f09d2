package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/projecteru2/core/log"
	"golang.org/x/sync/errgroup"

	"github.com/projecteru2/hatchery/definition"
	"github.com/projecteru2/hatchery/progress"
	lifecycleProgress "github.com/projecteru2/hatchery/progress/lifecycle"
	"github.com/projecteru2/hatchery/types"
)

const dirPerm = 0o700

// Create validates spec, writes the VM directory under user's namespace
// and boots it. Any failure after the directory exists tears down both
// the directory and the domain before returning.
func (m *Manager) Create(ctx context.Context, user string, spec types.VMSpec, tracker progress.Tracker) (*types.VMInfo, error) {
	logger := log.WithFunc("lifecycle.Create")
	if tracker == nil {
		tracker = progress.Nop
	}
	spec.Normalize(m.now())
	def, err := m.gen.Generate(spec, user)
	if err != nil {
		return nil, err
	}
	userDir, err := m.ns.UserDir(user)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(userDir, spec.Name)

	var info *types.VMInfo
	err = m.exclusive(ctx, spec.Name, func() error {
		taken, err := m.ns.Taken(spec.Name)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("%s: %w", spec.Name, types.ErrConflict)
		}
		if err := os.Mkdir(dir, dirPerm); err != nil {
			return fmt.Errorf("create VM directory: %w", err)
		}
		if err := def.WriteTo(dir); err != nil {
			m.rollback(ctx, spec.Name, dir)
			return err
		}
		tracker.OnEvent(lifecycleProgress.Event{Phase: lifecycleProgress.PhaseDefine, VMName: spec.Name})
		logger.Infof(ctx, "creating %s for %s (%s/%s, box %s)", spec.Name, user, spec.OS, spec.Role, def.Profile.Box)

		started := false
		err = m.pooled(ctx, func(ctx context.Context) error {
			started = true
			if err := m.boot(ctx, spec.Name, dir, def.Profile.Box, tracker); err != nil {
				tracker.OnEvent(lifecycleProgress.Event{Phase: lifecycleProgress.PhaseRollback, VMName: spec.Name, Detail: err.Error()})
				m.rollback(ctx, spec.Name, dir)
				return err
			}
			info = &types.VMInfo{Name: spec.Name, Owner: user, Path: dir, State: m.hyper.State(ctx, spec.Name)}
			return nil
		})
		if err != nil && !started {
			// the pool refused the task: no domain exists, only the directory
			tracker.OnEvent(lifecycleProgress.Event{Phase: lifecycleProgress.PhaseRollback, VMName: spec.Name, Detail: err.Error()})
			if rmErr := os.RemoveAll(dir); rmErr != nil {
				logger.Warnf(ctx, "rollback %s: remove %s: %v", spec.Name, dir, rmErr)
			}
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	tracker.OnEvent(lifecycleProgress.Event{Phase: lifecycleProgress.PhaseDone, VMName: spec.Name})
	logger.Infof(ctx, "%s created, state %s", spec.Name, info.State)
	return info, nil
}

// Start boots an existing VM. Failures leave the directory in place.
func (m *Manager) Start(ctx context.Context, user, vm string, tracker progress.Tracker) error {
	if tracker == nil {
		tracker = progress.Nop
	}
	return m.withVM(ctx, user, vm, func(ref *types.VMRef) error {
		box := ""
		if meta, err := definition.ReadMeta(ref.Dir); err == nil {
			box = meta.Box
		}
		err := m.pooled(ctx, func(ctx context.Context) error {
			return m.boot(ctx, ref.Name, ref.Dir, box, tracker)
		})
		if err != nil {
			return err
		}
		tracker.OnEvent(lifecycleProgress.Event{Phase: lifecycleProgress.PhaseDone, VMName: ref.Name})
		log.WithFunc("lifecycle.Start").Infof(ctx, "%s started", ref.Name)
		return nil
	})
}

// Stop closes the display session and halts the VM, destroying the domain
// directly when a graceful halt fails or times out.
func (m *Manager) Stop(ctx context.Context, user, vm string) error {
	logger := log.WithFunc("lifecycle.Stop")
	return m.withVM(ctx, user, vm, func(ref *types.VMRef) error {
		m.gw.Close(ctx, ref.Name)
		haltErr := m.prov.Halt(ctx, ref.Dir)
		if haltErr == nil {
			logger.Infof(ctx, "%s halted", ref.Name)
			return nil
		}
		logger.Warnf(ctx, "graceful halt of %s failed, forcing: %v", ref.Name, haltErr)
		if err := m.hyper.Destroy(ctx, ref.Name); err != nil {
			return fmt.Errorf("stop %s: %w", ref.Name, errors.Join(haltErr, err))
		}
		logger.Infof(ctx, "%s force-stopped", ref.Name)
		return nil
	})
}

// Delete closes the display session, tears down the domain and removes
// the VM directory. The directory goes even when teardown fails.
func (m *Manager) Delete(ctx context.Context, user, vm string) error {
	logger := log.WithFunc("lifecycle.Delete")
	return m.withVM(ctx, user, vm, func(ref *types.VMRef) error {
		m.gw.Close(ctx, ref.Name)

		var vmErr error
		if err := m.prov.Destroy(ctx, ref.Dir); err != nil {
			logger.Warnf(ctx, "graceful destroy of %s failed, forcing: %v", ref.Name, err)
			vmErr = m.forceRemoveDomain(ctx, ref.Name)
			if vmErr != nil {
				vmErr = fmt.Errorf("delete %s: %w", ref.Name, errors.Join(err, vmErr))
			}
		}

		if rmErr := os.RemoveAll(ref.Dir); rmErr != nil {
			if vmErr != nil {
				logger.Warnf(ctx, "remove %s: %v", ref.Dir, rmErr)
				return vmErr
			}
			return fmt.Errorf("remove VM directory: %w", rmErr)
		}
		if vmErr != nil {
			return vmErr
		}
		logger.Infof(ctx, "%s deleted", ref.Name)
		return nil
	})
}

// List returns the VMs visible to user with their live state.
func (m *Manager) List(ctx context.Context, user string) ([]types.VMInfo, error) {
	refs, err := m.ns.Visible(user)
	if err != nil {
		return nil, err
	}
	infos := make([]types.VMInfo, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.conf.PoolSize)
	for i, ref := range refs {
		g.Go(func() error {
			infos[i] = types.VMInfo{Name: ref.Name, Owner: ref.Owner, Path: ref.Dir, State: m.hyper.State(gctx, ref.Name)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return infos, nil
}

// Console returns the browser URL of the VM's display. It holds the VM
// lock so a session cannot appear while Stop or Delete is tearing down.
func (m *Manager) Console(ctx context.Context, user, vm string) (string, error) {
	var url string
	err := m.withVM(ctx, user, vm, func(ref *types.VMRef) error {
		var err error
		url, err = m.gw.Ensure(ctx, ref.Name)
		return err
	})
	return url, err
}

// Serial returns the host PTY of a running VM's serial console. Only
// profiles with a serial port have one.
func (m *Manager) Serial(ctx context.Context, user, vm string) (string, error) {
	meta, err := m.Specs(ctx, user, vm)
	if err != nil {
		return "", err
	}
	if !meta.Serial {
		return "", types.Validationf("%s has no serial console", vm)
	}
	if state := m.hyper.State(ctx, vm); state != types.StateRunning {
		return "", fmt.Errorf("%s is %s: %w", vm, state, types.ErrNotRunning)
	}
	return m.hyper.SerialPath(ctx, vm)
}

// Specs returns the VM's recorded resources and guest settings.
func (m *Manager) Specs(_ context.Context, user, vm string) (*types.VMMeta, error) {
	ref, err := m.ns.Resolve(user, vm)
	if err != nil {
		return nil, err
	}
	meta, err := definition.ReadMeta(ref.Dir)
	if err != nil {
		return nil, err
	}
	meta.Owner = ref.Owner
	return meta, nil
}

// boot runs the prerequisites, installs the box if missing and brings the
// machine up.
func (m *Manager) boot(ctx context.Context, vm, dir, box string, tracker progress.Tracker) error {
	tracker.OnEvent(lifecycleProgress.Event{Phase: lifecycleProgress.PhasePrepare, VMName: vm})
	if err := m.Prerequisites(ctx); err != nil {
		return err
	}
	if box != "" {
		if err := m.ensureBox(ctx, vm, box, tracker); err != nil {
			return err
		}
	}
	tracker.OnEvent(lifecycleProgress.Event{Phase: lifecycleProgress.PhaseBoot, VMName: vm})
	if err := m.prov.Up(ctx, dir); err != nil {
		return fmt.Errorf("bring up %s: %w", vm, err)
	}
	return nil
}

func (m *Manager) ensureBox(ctx context.Context, vm, box string, tracker progress.Tracker) error {
	ok, err := m.prov.HasBox(ctx, box)
	if err != nil {
		return fmt.Errorf("check box %s: %w", box, err)
	}
	if ok {
		return nil
	}
	tracker.OnEvent(lifecycleProgress.Event{Phase: lifecycleProgress.PhaseBox, VMName: vm, Detail: box})
	log.WithFunc("lifecycle.ensureBox").Infof(ctx, "box %s missing, installing", box)
	if err := m.prov.AddBox(ctx, box); err != nil {
		return fmt.Errorf("install box %s: %w", box, err)
	}
	return nil
}

// rollback tears down a partially created VM. Every step is best effort.
func (m *Manager) rollback(ctx context.Context, vm, dir string) {
	logger := log.WithFunc("lifecycle.rollback")
	if err := m.prov.Destroy(ctx, dir); err != nil {
		logger.Warnf(ctx, "rollback %s: vagrant destroy: %v", vm, err)
	}
	if err := m.forceRemoveDomain(ctx, vm); err != nil {
		logger.Warnf(ctx, "rollback %s: %v", vm, err)
	}
	if err := os.RemoveAll(dir); err != nil {
		logger.Warnf(ctx, "rollback %s: remove %s: %v", vm, dir, err)
	}
}

// forceRemoveDomain destroys and undefines the domain with its storage.
// Both steps tolerate an absent domain.
func (m *Manager) forceRemoveDomain(ctx context.Context, vm string) error {
	return errors.Join(m.hyper.Destroy(ctx, vm), m.hyper.Undefine(ctx, vm))
}
