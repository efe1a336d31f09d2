package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/hatchery/types"
)

// waitDelay bounds how long Wait blocks on inherited pipes after the
// process group was killed.
const waitDelay = 2 * time.Second

// compile-time interface checks.
var (
	_ Runner  = (*Exec)(nil)
	_ Spawner = (*Exec)(nil)
)

// Exec runs commands with os/exec. Each child leads its own process group
// so a timeout kills the tool together with everything it forked.
type Exec struct{}

// New returns the os/exec backed Runner.
func New() *Exec { return &Exec{} }

func (e *Exec) Run(ctx context.Context, c Command) (*Result, error) {
	logger := log.WithFunc("runner.Run")

	runCtx := ctx
	cancel := func() {}
	if c.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
	}
	defer cancel()

	cmd := e.build(runCtx, c)
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &types.ToolError{Tool: c.Label, Args: c.Args, ExitCode: -1, Stderr: err.Error()}
	}
	waitErr := cmd.Wait()
	res := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: cmd.ProcessState.ExitCode(),
		Duration: time.Since(start),
	}

	switch {
	case waitErr == nil:
		logger.Debugf(ctx, "%s finished in %s", c.Label, res.Duration)
		return res, nil
	case ctx.Err() != nil:
		return res, fmt.Errorf("%s: %w", c.Label, ctx.Err())
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		logger.Warnf(ctx, "%s killed after %s", c.Label, c.Timeout)
		return res, fmt.Errorf("%s after %s: %w", c.Label, c.Timeout, types.ErrTimeout)
	}

	var exitErr *exec.ExitError
	if !errors.As(waitErr, &exitErr) {
		return res, fmt.Errorf("wait %s: %w", c.Label, waitErr)
	}
	return res, &types.ToolError{Tool: c.Label, Args: c.Args, ExitCode: res.ExitCode, Stderr: res.Stderr}
}

// Spawn starts a detached child. The child outlives ctx; callers stop it
// through its process group.
func (e *Exec) Spawn(ctx context.Context, c Command) (*Process, error) {
	cmd := e.build(context.WithoutCancel(ctx), c) //nolint:contextcheck
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", os.DevNull, err)
	}
	defer devNull.Close() //nolint:errcheck
	cmd.Stdin, cmd.Stdout, cmd.Stderr = devNull, devNull, devNull

	if err := cmd.Start(); err != nil {
		return nil, &types.ToolError{Tool: c.Label, Args: c.Args, ExitCode: -1, Stderr: err.Error()}
	}
	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()
	log.WithFunc("runner.Spawn").Infof(ctx, "%s started, pid %d", c.Label, cmd.Process.Pid)
	return &Process{PID: cmd.Process.Pid, Done: done}, nil
}

func (e *Exec) build(ctx context.Context, c Command) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...) //nolint:gosec // configured host tools
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd
}
