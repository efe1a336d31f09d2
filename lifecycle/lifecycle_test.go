package lifecycle

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projecteru2/hatchery/config"
	"github.com/projecteru2/hatchery/definition"
	"github.com/projecteru2/hatchery/gc"
	"github.com/projecteru2/hatchery/hypervisor/libvirt"
	"github.com/projecteru2/hatchery/namespace"
	"github.com/projecteru2/hatchery/progress"
	lifecycleProgress "github.com/projecteru2/hatchery/progress/lifecycle"
	"github.com/projecteru2/hatchery/provisioner/vagrant"
	"github.com/projecteru2/hatchery/runner/runnertest"
	"github.com/projecteru2/hatchery/types"
)

type fakeGateway struct {
	mu     sync.Mutex
	closed []string
}

func (g *fakeGateway) Ensure(_ context.Context, vm string) (string, error) {
	return "http://localhost:6080/vnc.html?vm=" + vm, nil
}

func (g *fakeGateway) Close(_ context.Context, vm string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = append(g.closed, vm)
}

type fixture struct {
	m    *Manager
	conf *config.Config
	fake *runnertest.Fake
	gw   *fakeGateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conf := config.DefaultConfig()
	conf.RootDir = t.TempDir()
	conf.RunDir = t.TempDir()
	conf.PoolSize = 2
	require.NoError(t, conf.EnsureDirs())

	fake := runnertest.New()
	fake.On("vagrant", "plugin list", runnertest.Ok("vagrant-libvirt (0.12.2, global)\n"))
	fake.On("vagrant", "--version", runnertest.Ok("Vagrant 2.4.1\n"))
	fake.On("vagrant", "box list", runnertest.Ok("generic/debian12 (libvirt, 4.3.12)\n"))
	fake.On("virsh", "--version", runnertest.Ok("10.0.0\n"))
	fake.On("virsh", "net-list", runnertest.Ok("default\n"))
	fake.On("virsh", "domstate", runnertest.Ok("running\n"))

	prov, err := vagrant.New(conf, fake)
	require.NoError(t, err)
	hyper, err := libvirt.New(conf, fake)
	require.NoError(t, err)
	ns := namespace.New(conf.VMsDir(), namespace.NewStaticPolicy(conf.Admins))
	gen := definition.New(definition.DefaultTable(), conf.Network.Name)
	gw := &fakeGateway{}

	m, err := New(conf, ns, gen, prov, hyper, gw)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return &fixture{m: m, conf: conf, fake: fake, gw: gw}
}

func serverSpec(name string) types.VMSpec {
	return types.VMSpec{
		Name:          name,
		Role:          types.RoleServer,
		OS:            types.GuestDebian,
		GuestUsername: "alice",
		GuestPassword: "abcdef",
		AdminPassword: "rootpw1",
	}
}

func (f *fixture) create(t *testing.T, user, name string) {
	t.Helper()
	_, err := f.m.Create(t.Context(), user, serverSpec(name), nil)
	require.NoError(t, err)
}

func TestCreateBootsVM(t *testing.T) {
	f := newFixture(t)
	var phases []lifecycleProgress.Phase
	tracker := progress.NewTracker(func(e lifecycleProgress.Event) { phases = append(phases, e.Phase) })

	info, err := f.m.Create(t.Context(), "alice", serverSpec("vm-1"), tracker)
	require.NoError(t, err)
	assert.Equal(t, types.StateRunning, info.State)
	assert.Equal(t, "alice", info.Owner)

	dir := f.conf.VMDir("alice", "vm-1")
	assert.Equal(t, dir, info.Path)
	assert.FileExists(t, filepath.Join(dir, definition.VagrantfileName))
	assert.FileExists(t, filepath.Join(dir, definition.MetaFileName))

	var upDir string
	for _, c := range f.fake.Commands() {
		if c.Label == "vagrant" && len(c.Args) > 0 && c.Args[0] == "up" {
			upDir = c.Dir
		}
	}
	assert.Equal(t, dir, upDir)
	assert.True(t, f.fake.Called("vagrant", "up --provider=libvirt"))
	assert.False(t, f.fake.Called("vagrant", "box add"))
	assert.Equal(t, []lifecycleProgress.Phase{
		lifecycleProgress.PhaseDefine,
		lifecycleProgress.PhasePrepare,
		lifecycleProgress.PhaseBoot,
		lifecycleProgress.PhaseDone,
	}, phases)
}

func TestCreateInstallsMissingBox(t *testing.T) {
	f := newFixture(t)
	f.fake.On("vagrant", "box list", runnertest.Ok("There are no installed boxes! Use `vagrant box add` to add some.\n"))

	f.create(t, "alice", "vm-1")
	assert.True(t, f.fake.Called("vagrant", "box add generic/debian12 --provider libvirt --clean"))
}

func TestCreateRejectsInvalidSpecWithoutSideEffects(t *testing.T) {
	f := newFixture(t)
	spec := serverSpec("win-1")
	spec.OS = types.GuestWindows
	spec.GuestPassword = "abc"

	_, err := f.m.Create(t.Context(), "alice", spec, nil)
	assert.ErrorIs(t, err, types.ErrValidation)
	assert.Empty(t, f.fake.Calls())
	assert.NoDirExists(t, f.conf.UserDir("alice"))
}

func TestCreateRollsBackOnBootFailure(t *testing.T) {
	f := newFixture(t)
	f.fake.On("vagrant", "up", runnertest.Fail(1, "Call to virDomainCreateWithFlags failed"))

	_, err := f.m.Create(t.Context(), "alice", serverSpec("vm-1"), nil)
	require.ErrorIs(t, err, types.ErrExternalTool)
	assert.Contains(t, err.Error(), "virDomainCreateWithFlags")

	assert.NoDirExists(t, f.conf.VMDir("alice", "vm-1"))
	assert.True(t, f.fake.Called("vagrant", "destroy -f"))
	assert.True(t, f.fake.Called("virsh", "destroy vm-1_default"))
	assert.True(t, f.fake.Called("virsh", "undefine --remove-all-storage vm-1_default"))
}

func TestCreateRemovesDirectoryWhenPoolIsFull(t *testing.T) {
	f := newFixture(t)
	pool, err := ants.NewPool(1, ants.WithNonblocking(true))
	require.NoError(t, err)
	f.m.pool.Release()
	f.m.pool = pool

	release := make(chan struct{})
	require.NoError(t, pool.Submit(func() { <-release }))
	defer close(release)

	_, err = f.m.Create(t.Context(), "alice", serverSpec("vm-1"), nil)
	require.ErrorIs(t, err, types.ErrResourceExhausted)
	assert.NoDirExists(t, f.conf.VMDir("alice", "vm-1"))
	assert.False(t, f.fake.Called("vagrant", "up"))

	taken, err := f.m.ns.Taken("vm-1")
	require.NoError(t, err)
	assert.False(t, taken)
}

func TestCreateNotReady(t *testing.T) {
	f := newFixture(t)
	f.fake.On("vagrant", "plugin list", runnertest.Ok(""))

	_, err := f.m.Create(t.Context(), "alice", serverSpec("vm-1"), nil)
	assert.ErrorIs(t, err, types.ErrNotReady)
	assert.False(t, f.fake.Called("vagrant", "up"))
	assert.NoDirExists(t, f.conf.VMDir("alice", "vm-1"))
}

func TestCreateRejectsNameUsedElsewhere(t *testing.T) {
	f := newFixture(t)
	f.create(t, "alice", "vm-1")

	_, err := f.m.Create(t.Context(), "bob", serverSpec("vm-1"), nil)
	assert.ErrorIs(t, err, types.ErrConflict)
	assert.NotContains(t, err.Error(), "alice")
	assert.DirExists(t, f.conf.VMDir("alice", "vm-1"))
}

func TestCreateDefinesMissingNetwork(t *testing.T) {
	f := newFixture(t)
	f.fake.On("virsh", "net-list", runnertest.Ok(""))

	f.create(t, "alice", "vm-1")
	assert.True(t, f.fake.Called("virsh", "net-define"))
	assert.True(t, f.fake.Called("virsh", "net-autostart default"))
	assert.True(t, f.fake.Called("virsh", "net-start default"))
}

func TestStartKeepsDirectoryOnFailure(t *testing.T) {
	f := newFixture(t)
	f.create(t, "alice", "vm-1")
	f.fake.On("vagrant", "up", runnertest.Fail(1, "boom"))

	err := f.m.Start(t.Context(), "alice", "vm-1", nil)
	assert.ErrorIs(t, err, types.ErrExternalTool)
	assert.DirExists(t, f.conf.VMDir("alice", "vm-1"))
}

func TestStopFallsBackToDestroy(t *testing.T) {
	f := newFixture(t)
	f.create(t, "alice", "vm-1")
	f.fake.On("vagrant", "halt", runnertest.Timeout())

	require.NoError(t, f.m.Stop(t.Context(), "alice", "vm-1"))
	assert.True(t, f.fake.Called("virsh", "destroy vm-1_default"))
	assert.Equal(t, []string{"vm-1"}, f.gw.closed)

	// already stopped: virsh reports the domain is not running
	f.fake.On("virsh", "destroy", runnertest.Fail(1, "error: Requested operation is not valid: domain is not running"))
	assert.NoError(t, f.m.Stop(t.Context(), "alice", "vm-1"))
}

func TestStopSurfacesFailedFallback(t *testing.T) {
	f := newFixture(t)
	f.create(t, "alice", "vm-1")
	f.fake.On("vagrant", "halt", runnertest.Fail(1, "halt failed"))
	f.fake.On("virsh", "destroy", runnertest.Fail(1, "error: failed to connect to the hypervisor"))

	err := f.m.Stop(t.Context(), "alice", "vm-1")
	assert.ErrorIs(t, err, types.ErrExternalTool)
}

func TestDeleteRemovesDirectory(t *testing.T) {
	f := newFixture(t)
	f.create(t, "alice", "vm-1")

	require.NoError(t, f.m.Delete(t.Context(), "alice", "vm-1"))
	assert.NoDirExists(t, f.conf.VMDir("alice", "vm-1"))
	assert.False(t, f.fake.Called("virsh", "undefine"))
	assert.Equal(t, []string{"vm-1"}, f.gw.closed)
}

func TestDeleteRemovesDirectoryWhenTeardownFails(t *testing.T) {
	f := newFixture(t)
	f.create(t, "alice", "vm-1")
	f.fake.On("vagrant", "destroy", runnertest.Fail(1, "vagrant broke"))
	f.fake.On("virsh", "destroy", runnertest.Fail(1, "error: failed to connect to the hypervisor"))

	err := f.m.Delete(t.Context(), "alice", "vm-1")
	assert.ErrorIs(t, err, types.ErrExternalTool)
	assert.NoDirExists(t, f.conf.VMDir("alice", "vm-1"))
	assert.True(t, f.fake.Called("virsh", "undefine --remove-all-storage vm-1_default"))
}

func TestOwnershipIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	f.create(t, "alice", "vm-a")
	f.create(t, "bob", "vm-b")

	assert.ErrorIs(t, f.m.Stop(ctx, "bob", "vm-a"), types.ErrUnauthorized)
	assert.ErrorIs(t, f.m.Delete(ctx, "bob", "vm-a"), types.ErrUnauthorized)
	_, err := f.m.Console(ctx, "bob", "vm-a")
	assert.ErrorIs(t, err, types.ErrUnauthorized)
	assert.DirExists(t, f.conf.VMDir("alice", "vm-a"))

	// administrators reach every namespace
	require.NoError(t, f.m.Stop(ctx, "admin", "vm-a"))
	_, err = f.m.Specs(ctx, "admin", "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestBusyVMRejected(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	f.create(t, "alice", "vm-1")

	l := f.m.locks.Get(f.conf.VMLockPath("vm-1"))
	ok, err := l.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	assert.ErrorIs(t, f.m.Stop(ctx, "alice", "vm-1"), types.ErrBusy)
	assert.ErrorIs(t, f.m.Delete(ctx, "alice", "vm-1"), types.ErrBusy)
	_, err = f.m.Console(ctx, "alice", "vm-1")
	assert.ErrorIs(t, err, types.ErrBusy)

	require.NoError(t, l.Unlock(ctx))
	assert.NoError(t, f.m.Stop(ctx, "alice", "vm-1"))
}

func TestListScopedByIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	f.create(t, "alice", "vm-a")
	f.create(t, "bob", "vm-b")
	f.fake.On("virsh", "domstate vm-b_default", runnertest.Ok("arrêté\n"))

	mine, err := f.m.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "vm-a", mine[0].Name)
	assert.Equal(t, types.StateRunning, mine[0].State)

	all, err := f.m.List(ctx, "root")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "bob", all[1].Owner)
	assert.Equal(t, types.StateShutOff, all[1].State)

	nobody, err := f.m.List(ctx, "carol")
	require.NoError(t, err)
	assert.Empty(t, nobody)
}

func TestSpecsAndConsole(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	f.create(t, "alice", "vm-1")

	meta, err := f.m.Specs(ctx, "alice", "vm-1")
	require.NoError(t, err)
	assert.Equal(t, 2048, meta.MemoryMB)
	assert.Equal(t, 2, meta.CPUs)
	assert.True(t, meta.Serial)
	assert.Equal(t, "alice", meta.GuestUsername)

	url, err := f.m.Console(ctx, "alice", "vm-1")
	require.NoError(t, err)
	assert.Contains(t, url, "vm-1")
}

func TestSerial(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	f.create(t, "alice", "vm-1")
	f.fake.On("virsh", "ttyconsole vm-1_default", runnertest.Ok("/dev/pts/3\n"))

	path, err := f.m.Serial(ctx, "alice", "vm-1")
	require.NoError(t, err)
	assert.Equal(t, "/dev/pts/3", path)

	_, err = f.m.Serial(ctx, "bob", "vm-1")
	assert.ErrorIs(t, err, types.ErrUnauthorized)

	f.fake.On("virsh", "domstate", runnertest.Ok("shut off\n"))
	_, err = f.m.Serial(ctx, "alice", "vm-1")
	assert.ErrorIs(t, err, types.ErrNotRunning)

	client := serverSpec("desk-1")
	client.Role = types.RoleClient
	_, err = f.m.Create(ctx, "alice", client, nil)
	require.NoError(t, err)
	_, err = f.m.Serial(ctx, "alice", "desk-1")
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestStopAfterDirectoryRemoved(t *testing.T) {
	f := newFixture(t)
	f.create(t, "alice", "vm-1")
	require.NoError(t, os.RemoveAll(f.conf.VMDir("alice", "vm-1")))

	err := f.m.Stop(t.Context(), "alice", "vm-1")
	assert.ErrorIs(t, err, types.ErrUnauthorized)
}

func TestGCRemovesOrphanDomains(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	f.create(t, "alice", "vm-1")
	f.fake.On("virsh", "list --all --name", runnertest.Ok("vm-1_default\nghost_default\nother-project_default\nhand-made\n\n"))
	f.fake.On("virsh", "desc ghost_default", runnertest.Ok(types.DomainDescription("alice", "ghost")+"\n"))
	f.fake.On("virsh", "desc other-project_default", runnertest.Ok("No description for domain: other-project_default\n"))

	stale := filepath.Join(f.conf.ScratchDir(), "net-old.xml")
	require.NoError(t, os.WriteFile(stale, []byte("<network/>"), 0o600))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))
	fresh := filepath.Join(f.conf.ScratchDir(), "net-new.xml")
	require.NoError(t, os.WriteFile(fresh, []byte("<network/>"), 0o600))

	orch := gc.New()
	f.m.RegisterGC(orch)
	targets, err := orch.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"ghost"}, targets["domains"])
	assert.True(t, f.fake.Called("virsh", "destroy ghost_default"))
	assert.True(t, f.fake.Called("virsh", "undefine --remove-all-storage ghost_default"))
	assert.False(t, f.fake.Called("virsh", "undefine --remove-all-storage vm-1_default"))
	assert.False(t, f.fake.Called("virsh", "hand-made"))
	assert.False(t, f.fake.Called("virsh", "destroy other-project_default"))
	assert.False(t, f.fake.Called("virsh", "desc vm-1_default"))

	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh)
}
