package utils

import (
	"context"
	"errors"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitFor(t *testing.T) {
	ctx := context.Background()
	calls := 0
	err := WaitFor(ctx, time.Second, time.Millisecond, func() (bool, error) {
		calls++
		return calls == 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	err = WaitFor(ctx, 20*time.Millisecond, 5*time.Millisecond, func() (bool, error) { return false, nil })
	assert.ErrorContains(t, err, "timeout")

	boom := errors.New("boom")
	assert.ErrorIs(t, WaitFor(ctx, time.Second, time.Millisecond, func() (bool, error) { return false, boom }), boom)
}

func TestPorts(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close() //nolint:errcheck
	busy := ln.Addr().(*net.TCPAddr).Port

	assert.True(t, PortInUse("127.0.0.1", busy))
	inUse := func(p int) bool { return PortInUse("127.0.0.1", p) }
	free := FirstFreePort(busy, busy+1, nil, inUse)
	assert.Equal(t, busy+1, free)
	assert.Zero(t, FirstFreePort(busy, busy, nil, inUse))
	assert.Zero(t, FirstFreePort(busy+1, busy+1, map[int]struct{}{busy + 1: {}}, inUse))
}

func TestTerminateGroup(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid
	go func() { _ = cmd.Wait() }()

	require.True(t, IsProcessAlive(pid))
	require.NoError(t, TerminateGroup(context.Background(), pid, 2*time.Second))
	assert.Eventually(t, func() bool { return !IsProcessAlive(pid) }, 2*time.Second, 10*time.Millisecond)

	// Already gone.
	assert.NoError(t, TerminateGroup(context.Background(), pid, 10*time.Millisecond))
}

func TestScanAndFilter(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, EnsureDirs(filepath.Join(dir, "a"), filepath.Join(dir, "b")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file"), nil, 0o600))

	names, err := ScanSubdirs(dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, names)

	missing, err := ScanSubdirs(filepath.Join(dir, "nope"))
	require.NoError(t, err)
	assert.Empty(t, missing)

	out := FilterUnreferenced([]string{"a", "b", "c"}, map[string]struct{}{"a": {}}, map[string]struct{}{"c": {}})
	assert.Equal(t, []string{"b"}, out)
}

func TestAtomicWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.json")
	require.NoError(t, AtomicWriteJSON(path, map[string]int{"a": 1}, 0o600))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestVerifyProcess(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	defer func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()
	assert.True(t, VerifyProcess(cmd.Process.Pid, "sleep"))
	assert.False(t, VerifyProcess(cmd.Process.Pid, "websockify"))
	assert.False(t, VerifyProcess(0, "sleep"))
}
