// Package runner runs the host tools (vagrant, virsh, websockify) with an
// explicit timeout and returns a structured result.
package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
)

// Command is one invocation of an external tool.
type Command struct {
	// Label names the tool in logs and errors ("virsh", "vagrant").
	Label string
	Name  string
	Args  []string
	// Dir is the working directory; vagrant finds its Vagrantfile there.
	Dir string
	// Env is appended to the server's environment.
	Env []string
	// Timeout bounds the run; the whole process group is killed on expiry.
	// Zero means no bound beyond ctx.
	Timeout time.Duration
}

// String renders the command for diagnostics.
func (c Command) String() string {
	return strings.TrimSpace(c.Label + " " + strings.Join(c.Args, " "))
}

// Result is the captured outcome of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Process is a spawned long-running child.
type Process struct {
	PID int
	// Done is closed once the child has exited and been reaped.
	Done <-chan struct{}
}

// Runner executes commands to completion.
//
// Run returns a *types.ToolError for a non-zero exit and an error wrapping
// types.ErrTimeout when Timeout expires. The Result is non-nil whenever the
// process was started.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// Spawner starts detached children in their own process group.
type Spawner interface {
	Spawn(ctx context.Context, cmd Command) (*Process, error)
}

// Tool is a configured command line prefix such as "sudo virsh".
type Tool struct {
	Label  string
	Name   string
	Prefix []string
}

// ParseTool splits a configured command line with shell quoting rules.
func ParseTool(label, line string) (Tool, error) {
	words, err := shellwords.Parse(line)
	if err != nil {
		return Tool{}, fmt.Errorf("parse %s command %q: %w", label, line, err)
	}
	if len(words) == 0 {
		return Tool{}, fmt.Errorf("empty %s command", label)
	}
	return Tool{Label: label, Name: words[0], Prefix: words[1:]}, nil
}

// Command builds a Command running the tool with args appended.
func (t Tool) Command(args ...string) Command {
	full := make([]string, 0, len(t.Prefix)+len(args))
	full = append(full, t.Prefix...)
	full = append(full, args...)
	return Command{Label: t.Label, Name: t.Name, Args: full}
}
