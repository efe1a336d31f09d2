package hypervisor

import (
	"context"

	"github.com/projecteru2/hatchery/types"
)

// Hypervisor controls domains directly, bypassing the provisioning tool.
// Every method addresses a VM by name; the domain name is derived with
// types.DomainName.
type Hypervisor interface {
	// State never fails: any query error yields types.StateUnknown.
	State(ctx context.Context, vmName string) types.RuntimeState
	// DisplayPort returns the VNC port of a running domain, or false.
	DisplayPort(ctx context.Context, vmName string) (int, bool)
	// Destroy and Undefine succeed when the domain is already gone.
	Destroy(ctx context.Context, vmName string) error
	Undefine(ctx context.Context, vmName string) error
	// SerialPath returns the host PTY behind the domain's serial console.
	SerialPath(ctx context.Context, vmName string) (string, error)
	// Description returns the domain's libvirt description, empty when unset.
	Description(ctx context.Context, vmName string) (string, error)
	// Domains lists every defined domain name.
	Domains(ctx context.Context) ([]string, error)
	// EnsureNetwork defines, starts and autostarts the VM network as needed.
	EnsureNetwork(ctx context.Context) error
	// Version checks the control tool responds.
	Version(ctx context.Context) (string, error)
}
