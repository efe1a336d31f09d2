package types

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks a malformed request; nothing was touched on disk.
	ErrValidation = errors.New("invalid request")
	// ErrUnauthorized marks a failed ownership check.
	ErrUnauthorized = errors.New("access denied")
	// ErrNotFound is returned when no VM directory exists for the name.
	ErrNotFound = errors.New("VM not found")
	// ErrConflict is returned when a VM name is already taken on this host.
	ErrConflict = errors.New("VM name already in use")
	// ErrNotRunning is returned for display requests against a stopped VM.
	ErrNotRunning = errors.New("VM is not running")
	// ErrBusy is returned when another lifecycle operation holds the VM.
	ErrBusy = errors.New("another operation is in progress for this VM")
	// ErrExternalTool wraps a non-zero exit from vagrant, virsh or websockify.
	ErrExternalTool = errors.New("external tool failed")
	// ErrTimeout is returned when a bounded wait expires.
	ErrTimeout = errors.New("operation timed out")
	// ErrResourceExhausted is returned when no proxy port or worker is free.
	ErrResourceExhausted = errors.New("resources exhausted")
	// ErrNotReady is returned when the host tools are missing or unresponsive.
	ErrNotReady = errors.New("virtualization provider not ready")
)

// Validationf builds an ErrValidation carrying a human readable reason.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// ToolError carries the structured outcome of a failed external command.
type ToolError struct {
	Tool     string
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *ToolError) Error() string {
	op := e.Tool
	if len(e.Args) > 0 {
		op += " " + e.Args[0]
	}
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("%s exited with code %d", op, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with code %d: %s", op, e.ExitCode, msg)
}

func (e *ToolError) Unwrap() error { return ErrExternalTool }
