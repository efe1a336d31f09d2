// Package lifecycle orchestrates VM create, start, stop and delete on top
// of the provisioning tool, falling back to the hypervisor directly when
// the tool fails.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/projecteru2/core/log"
	"golang.org/x/sync/singleflight"

	"github.com/projecteru2/hatchery/config"
	"github.com/projecteru2/hatchery/definition"
	"github.com/projecteru2/hatchery/hypervisor"
	"github.com/projecteru2/hatchery/lock"
	"github.com/projecteru2/hatchery/lock/flock"
	"github.com/projecteru2/hatchery/namespace"
	"github.com/projecteru2/hatchery/provisioner"
	"github.com/projecteru2/hatchery/types"
)

// Gateway is the display session side of the orchestrator.
type Gateway interface {
	Ensure(ctx context.Context, vmName string) (string, error)
	Close(ctx context.Context, vmName string)
}

// Manager runs lifecycle operations. Operations on one VM name are
// single-flight across processes; a concurrent request gets ErrBusy.
type Manager struct {
	conf  *config.Config
	ns    *namespace.Namespaces
	gen   *definition.Generator
	prov  provisioner.Provisioner
	hyper hypervisor.Hypervisor
	gw    Gateway

	locks   *flock.Set
	netLock lock.Locker
	pool    *ants.Pool
	prereq  singleflight.Group
	now     func() time.Time
}

// New creates a Manager. Create and start run on a bounded worker pool of
// conf.PoolSize goroutines.
func New(conf *config.Config, ns *namespace.Namespaces, gen *definition.Generator,
	prov provisioner.Provisioner, hyper hypervisor.Hypervisor, gw Gateway) (*Manager, error) {
	pool, err := ants.NewPool(conf.PoolSize, ants.WithMaxBlockingTasks(conf.PoolSize*4)) //nolint:mnd
	if err != nil {
		return nil, fmt.Errorf("create ants pool: %w", err)
	}
	return &Manager{
		conf:    conf,
		ns:      ns,
		gen:     gen,
		prov:    prov,
		hyper:   hyper,
		gw:      gw,
		locks:   flock.NewSet(),
		netLock: flock.New(conf.NetworkLockPath()),
		pool:    pool,
		now:     time.Now,
	}, nil
}

// Close releases the worker pool.
func (m *Manager) Close() {
	if m.pool != nil {
		m.pool.Release()
	}
}

// IsAdmin reports whether user may manage every namespace.
func (m *Manager) IsAdmin(user string) bool { return m.ns.IsAdmin(user) }

// withVM resolves vm for user and runs fn holding the VM's lock.
func (m *Manager) withVM(ctx context.Context, user, vm string, fn func(*types.VMRef) error) error {
	ref, err := m.ns.Resolve(user, vm)
	if err != nil {
		return err
	}
	return m.exclusive(ctx, ref.Name, func() error { return fn(ref) })
}

func (m *Manager) exclusive(ctx context.Context, vm string, fn func() error) error {
	busy := fmt.Errorf("%s: another operation is in progress: %w", vm, types.ErrBusy)
	return lock.WithTryLock(ctx, m.locks.Get(m.conf.VMLockPath(vm)), busy, fn)
}

// pooled runs fn on the worker pool and waits for it. fn receives a context
// detached from the caller: once a tool is launched only its own timeout
// stops it.
func (m *Manager) pooled(ctx context.Context, fn func(context.Context) error) error {
	done := make(chan error, 1)
	task := context.WithoutCancel(ctx)
	if err := m.pool.Submit(func() { done <- fn(task) }); err != nil {
		if errors.Is(err, ants.ErrPoolOverload) {
			return fmt.Errorf("too many VM operations queued: %w", types.ErrResourceExhausted)
		}
		return fmt.Errorf("submit task: %w", err)
	}
	return <-done
}

// Prerequisites makes sure the provider stack answers and the VM network
// exists and is active. Concurrent callers share one check.
func (m *Manager) Prerequisites(ctx context.Context) error {
	_, err, _ := m.prereq.Do("prerequisites", func() (any, error) {
		if err := m.EnsureProvider(ctx); err != nil {
			return nil, err
		}
		return nil, lock.WithLock(ctx, m.netLock, func() error {
			return m.hyper.EnsureNetwork(ctx)
		})
	})
	return err
}

// EnsureProvider checks that vagrant, its libvirt plugin and virsh respond.
func (m *Manager) EnsureProvider(ctx context.Context) error {
	logger := log.WithFunc("lifecycle.EnsureProvider")
	vagrantVersion, err := m.prov.Version(ctx)
	if err != nil {
		return fmt.Errorf("provisioning tool unavailable (%w): %w", err, types.ErrNotReady)
	}
	plugins, err := m.prov.Plugins(ctx)
	if err != nil {
		return fmt.Errorf("list provisioning plugins (%w): %w", err, types.ErrNotReady)
	}
	if !slices.Contains(plugins, "vagrant-libvirt") {
		return fmt.Errorf("vagrant-libvirt plugin not installed: %w", types.ErrNotReady)
	}
	virshVersion, err := m.hyper.Version(ctx)
	if err != nil {
		return fmt.Errorf("hypervisor control tool unavailable (%w): %w", err, types.ErrNotReady)
	}
	logger.Debugf(ctx, "provider ready: %s, virsh %s", vagrantVersion, virshVersion)
	return nil
}

// Ready is the boolean form of EnsureProvider.
func (m *Manager) Ready(ctx context.Context) bool {
	if err := m.EnsureProvider(ctx); err != nil {
		log.WithFunc("lifecycle.Ready").Warnf(ctx, "provider not ready: %v", err)
		return false
	}
	return true
}
