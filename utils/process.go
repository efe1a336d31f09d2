package utils

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"
)

const processPollInterval = 100 * time.Millisecond

// IsProcessAlive returns true if a process with the given PID currently exists.
// Uses kill(pid, 0); no signal is delivered.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// TerminateGroup sends SIGTERM to the process group led by pid, waits up to
// gracePeriod for the leader to exit, then sends SIGKILL to the group.
// A group that is already gone is not an error.
func TerminateGroup(ctx context.Context, pid int, gracePeriod time.Duration) error {
	if pid <= 0 {
		return nil
	}
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		// Not a group leader; fall back to the process itself.
		if err := syscall.Kill(pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
			return err
		}
	}
	if err := WaitFor(ctx, gracePeriod, processPollInterval, func() (bool, error) {
		return !IsProcessAlive(pid), nil
	}); err == nil {
		return nil
	}
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return syscall.Kill(pid, syscall.SIGKILL)
	}
	return nil
}

// VerifyProcess reports whether pid is alive and its command line mentions
// name, guarding against signalling a recycled PID.
func VerifyProcess(pid int, name string) bool {
	if !IsProcessAlive(pid) {
		return false
	}
	raw, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil {
		return false
	}
	return strings.Contains(strings.ReplaceAll(string(raw), "\x00", " "), name)
}
