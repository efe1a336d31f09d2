// Package gateway runs one websockify proxy per VM so a browser can reach
// the VM's VNC display through noVNC.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/projecteru2/core/log"

	"github.com/projecteru2/hatchery/config"
	"github.com/projecteru2/hatchery/lock"
	"github.com/projecteru2/hatchery/lock/flock"
	"github.com/projecteru2/hatchery/runner"
	"github.com/projecteru2/hatchery/storage"
	storejson "github.com/projecteru2/hatchery/storage/json"
	"github.com/projecteru2/hatchery/types"
	"github.com/projecteru2/hatchery/utils"
)

const (
	label = "websockify"
	// loopback is where VNC servers listen and where ports are probed.
	loopback = "127.0.0.1"

	terminateGrace = 5 * time.Second
	readyTimeout   = 5 * time.Second
)

// Inspector is the slice of the hypervisor the gateway needs.
type Inspector interface {
	State(ctx context.Context, vmName string) types.RuntimeState
	DisplayPort(ctx context.Context, vmName string) (int, bool)
}

type entry struct {
	types.Session
	done <-chan struct{}
}

// Manager is the session registry. All reads and writes of the session
// table happen under mu; a per-VM mutex keeps ensure/close for one VM
// name from interleaving while other VMs proceed.
type Manager struct {
	spawner runner.Spawner
	hyper   Inspector
	tool    runner.Tool
	webDir  string
	host    string
	first   int
	last    int
	store   storage.Store[types.SessionIndex]
	locker  lock.Locker

	mu       sync.Mutex
	sessions map[string]*entry
	reserved map[int]struct{}
	vmLocks  map[string]*sync.Mutex

	// overridable in tests
	portInUse func(port int) bool
	alive     func(s types.Session) bool
	owned     func(s types.Session) bool
	terminate func(ctx context.Context, pid int) error
	ready     func(ctx context.Context, port int, done <-chan struct{}) error
}

// New creates a Manager from conf.
func New(conf *config.Config, spawner runner.Spawner, hyper Inspector) (*Manager, error) {
	tool, err := runner.ParseTool(label, conf.Websockify)
	if err != nil {
		return nil, err
	}
	locker := flock.New(conf.SessionIndexLock())
	m := &Manager{
		spawner:  spawner,
		hyper:    hyper,
		tool:     tool,
		webDir:   conf.NoVNCWebDir,
		host:     conf.ConsoleHost,
		first:    conf.PortRangeStart,
		last:     conf.PortRangeEnd,
		store:    storejson.New[types.SessionIndex](conf.SessionIndexFile(), locker),
		locker:   locker,
		sessions: make(map[string]*entry),
		reserved: make(map[int]struct{}),
		vmLocks:  make(map[string]*sync.Mutex),
	}
	m.portInUse = func(port int) bool { return utils.PortInUse(loopback, port) }
	m.alive = func(s types.Session) bool { return utils.IsProcessAlive(s.PID) }
	m.owned = func(s types.Session) bool { return utils.VerifyProcess(s.PID, label) }
	m.terminate = func(ctx context.Context, pid int) error { return utils.TerminateGroup(ctx, pid, terminateGrace) }
	m.ready = m.waitListening
	return m, nil
}

// Ensure returns the console URL for a running VM, reusing a live session
// or starting a new proxy.
func (m *Manager) Ensure(ctx context.Context, vmName string) (string, error) {
	logger := log.WithFunc("gateway.Ensure")

	if state := m.hyper.State(ctx, vmName); state != types.StateRunning {
		return "", fmt.Errorf("%s is %s: %w", vmName, state, types.ErrNotRunning)
	}

	vmMu := m.vmLock(vmName)
	vmMu.Lock()
	defer vmMu.Unlock()

	vncPort, ok := m.hyper.DisplayPort(ctx, vmName)
	if s, live := m.lookup(ctx, vmName); live {
		if ok && s.VNCPort == vncPort {
			return m.URL(s.LocalPort), nil
		}
		// restarted outside our control: the old proxy points at a port
		// the domain no longer owns
		logger.Warnf(ctx, "display proxy for %s forwards to vnc %d, domain now on %d, replacing it", vmName, s.VNCPort, vncPort)
		m.closeLocked(ctx, vmName)
	}
	if !ok {
		return "", fmt.Errorf("%s exposes no VNC display: %w", vmName, types.ErrNotRunning)
	}

	port, err := m.reserve()
	if err != nil {
		return "", err
	}
	defer m.release(port)

	c := m.tool.Command("--web", m.webDir, strconv.Itoa(port), loopback+":"+strconv.Itoa(vncPort))
	proc, err := m.spawner.Spawn(ctx, c)
	if err != nil {
		return "", fmt.Errorf("start display proxy for %s: %w", vmName, err)
	}
	if err := m.ready(ctx, port, proc.Done); err != nil {
		if termErr := m.terminate(ctx, proc.PID); termErr != nil {
			logger.Warnf(ctx, "terminate failed proxy %d: %v", proc.PID, termErr)
		}
		return "", fmt.Errorf("display proxy for %s on port %d: %w", vmName, port, err)
	}

	e := &entry{
		Session: types.Session{
			ID:        uuid.NewString(),
			VMName:    vmName,
			LocalPort: port,
			VNCPort:   vncPort,
			PID:       proc.PID,
			StartedAt: time.Now().UTC(),
		},
		done: proc.Done,
	}
	m.mu.Lock()
	m.sessions[vmName] = e
	m.mu.Unlock()
	m.persist(ctx)
	go m.watch(context.WithoutCancel(ctx), e) //nolint:contextcheck

	logger.Infof(ctx, "display proxy for %s: port %d -> vnc %d (pid %d)", vmName, port, vncPort, proc.PID)
	return m.URL(port), nil
}

// Close stops the VM's proxy if any. The session record is always removed,
// even when signalling fails or the process is already gone. A proxy this
// process does not know about, started by the server while the caller is
// the CLI, is found through the session index.
func (m *Manager) Close(ctx context.Context, vmName string) {
	vmMu := m.vmLock(vmName)
	vmMu.Lock()
	defer vmMu.Unlock()
	m.closeLocked(ctx, vmName)
}

// closeLocked is Close for a caller holding the VM lock.
func (m *Manager) closeLocked(ctx context.Context, vmName string) {
	m.mu.Lock()
	e := m.sessions[vmName]
	delete(m.sessions, vmName)
	m.mu.Unlock()
	if e == nil {
		m.closeRecorded(ctx, vmName)
		return
	}
	m.persist(ctx)
	if err := m.terminate(ctx, e.PID); err != nil {
		log.WithFunc("gateway.Close").Warnf(ctx, "terminate proxy %d for %s: %v", e.PID, vmName, err)
	}
	log.WithFunc("gateway.Close").Infof(ctx, "display proxy for %s closed", vmName)
}

// Get returns a copy of the VM's live session.
func (m *Manager) Get(vmName string) (types.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[vmName]
	if !ok {
		return types.Session{}, false
	}
	return e.Session, true
}

// List returns copies of every session.
func (m *Manager) List() []types.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Session, 0, len(m.sessions))
	for _, e := range m.sessions {
		out = append(out, e.Session)
	}
	return out
}

// CloseAll stops every proxy, used on server shutdown.
func (m *Manager) CloseAll(ctx context.Context) {
	for _, s := range m.List() {
		m.Close(ctx, s.VMName)
	}
}

// URL builds the browser-facing noVNC address for a local proxy port.
func (m *Manager) URL(port int) string {
	return fmt.Sprintf("http://%s:%d/vnc.html?autoconnect=true&resize=scale&keyboard=fr", m.host, port)
}

// lookup returns the live session for vmName, dropping it if its proxy died.
// Caller holds the VM lock.
func (m *Manager) lookup(ctx context.Context, vmName string) (types.Session, bool) {
	m.mu.Lock()
	e := m.sessions[vmName]
	if e == nil {
		m.mu.Unlock()
		return types.Session{}, false
	}
	if m.alive(e.Session) && !closed(e.done) {
		s := e.Session
		m.mu.Unlock()
		return s, true
	}
	delete(m.sessions, vmName)
	m.mu.Unlock()
	log.WithFunc("gateway.lookup").Warnf(ctx, "display proxy for %s (pid %d) died, dropping session", vmName, e.PID)
	m.persist(ctx)
	return types.Session{}, false
}

// reserve picks the first port in range that is neither listening nor
// held by a session or an in-flight spawn.
func (m *Manager) reserve() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	skip := make(map[int]struct{}, len(m.sessions)+len(m.reserved))
	for p := range m.reserved {
		skip[p] = struct{}{}
	}
	for _, e := range m.sessions {
		skip[e.LocalPort] = struct{}{}
	}
	if p := utils.FirstFreePort(m.first, m.last, skip, m.portInUse); p != 0 {
		m.reserved[p] = struct{}{}
		return p, nil
	}
	return 0, fmt.Errorf("no free display port in %d-%d: %w", m.first, m.last, types.ErrResourceExhausted)
}

func (m *Manager) release(port int) {
	m.mu.Lock()
	delete(m.reserved, port)
	m.mu.Unlock()
}

func (m *Manager) vmLock(vmName string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.vmLocks[vmName]
	if !ok {
		l = &sync.Mutex{}
		m.vmLocks[vmName] = l
	}
	return l
}

// watch drops the session as soon as its proxy exits on its own.
func (m *Manager) watch(ctx context.Context, e *entry) {
	<-e.done
	m.mu.Lock()
	cur := m.sessions[e.VMName]
	if cur == nil || cur.ID != e.ID {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, e.VMName)
	m.mu.Unlock()
	log.WithFunc("gateway.watch").Warnf(ctx, "display proxy for %s exited", e.VMName)
	m.persist(ctx)
}

// waitListening waits for the proxy to accept connections, failing fast
// if it exits.
func (m *Manager) waitListening(ctx context.Context, port int, done <-chan struct{}) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 50 * time.Millisecond
	eb.MaxInterval = 500 * time.Millisecond
	eb.MaxElapsedTime = readyTimeout
	return backoff.Retry(func() error {
		if closed(done) {
			return backoff.Permanent(fmt.Errorf("%s exited during startup: %w", label, types.ErrExternalTool))
		}
		if !m.portInUse(port) {
			return errNotListening
		}
		return nil
	}, backoff.WithContext(eb, ctx))
}

var errNotListening = errors.New("not listening yet")

func closed(ch <-chan struct{}) bool {
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
