// Package runnertest provides a scripted Runner for tests that must not
// touch a live hypervisor.
package runnertest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/projecteru2/hatchery/runner"
	"github.com/projecteru2/hatchery/types"
)

// Handler produces the outcome of one matched command.
type Handler func(runner.Command) (*runner.Result, error)

type rule struct {
	label   string
	pattern string
	fn      Handler
}

// Fake records every command and answers from registered rules. The most
// recently registered matching rule wins; unmatched commands succeed with
// empty output.
type Fake struct {
	mu      sync.Mutex
	rules   []rule
	calls   []runner.Command
	nextPID int
	running map[int]chan struct{}
	// SpawnErr, when set, fails every Spawn.
	SpawnErr error
}

// New returns an empty Fake.
func New() *Fake { return &Fake{nextPID: 40000, running: make(map[int]chan struct{})} }

// On registers fn for commands of the given tool whose arguments contain
// pattern as a contiguous run of words.
func (f *Fake) On(label, pattern string, fn Handler) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rule{label: label, pattern: pattern, fn: fn})
	return f
}

func (f *Fake) Run(_ context.Context, c runner.Command) (*runner.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	var fn Handler
	for i := len(f.rules) - 1; i >= 0; i-- {
		if r := f.rules[i]; r.label == c.Label && matches(c.Args, r.pattern) {
			fn = r.fn
			break
		}
	}
	f.mu.Unlock()
	if fn == nil {
		return &runner.Result{}, nil
	}
	return fn(c)
}

func (f *Fake) Spawn(_ context.Context, c runner.Command) (*runner.Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	if f.SpawnErr != nil {
		return nil, f.SpawnErr
	}
	f.nextPID++
	done := make(chan struct{})
	f.running[f.nextPID] = done
	return &runner.Process{PID: f.nextPID, Done: done}, nil
}

// Exit marks a spawned child as exited by closing its Done channel.
func (f *Fake) Exit(pid int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if done, ok := f.running[pid]; ok {
		close(done)
		delete(f.running, pid)
	}
}

// Calls returns the recorded commands rendered with Command.String.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.String()
	}
	return out
}

// Commands returns the recorded commands.
func (f *Fake) Commands() []runner.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]runner.Command(nil), f.calls...)
}

// Called reports whether any recorded command of label contains pattern.
func (f *Fake) Called(label, pattern string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c.Label == label && matches(c.Args, pattern) {
			return true
		}
	}
	return false
}

// Ok answers with stdout and exit code 0.
func Ok(stdout string) Handler {
	return func(runner.Command) (*runner.Result, error) {
		return &runner.Result{Stdout: stdout}, nil
	}
}

// Fail answers with a non-zero exit.
func Fail(code int, stderr string) Handler {
	return func(c runner.Command) (*runner.Result, error) {
		return &runner.Result{Stderr: stderr, ExitCode: code},
			&types.ToolError{Tool: c.Label, Args: c.Args, ExitCode: code, Stderr: stderr}
	}
}

// Timeout answers as if the command ran past its deadline.
func Timeout() Handler {
	return func(c runner.Command) (*runner.Result, error) {
		return &runner.Result{ExitCode: -1}, fmt.Errorf("%s after %s: %w", c.Label, c.Timeout, types.ErrTimeout)
	}
}

func matches(args []string, pattern string) bool {
	if pattern == "" {
		return true
	}
	return strings.Contains(" "+strings.Join(args, " ")+" ", " "+pattern+" ")
}
