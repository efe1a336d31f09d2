package core

import (
	"context"
	"fmt"
	"io"
	"os/user"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/projecteru2/hatchery/config"
	"github.com/projecteru2/hatchery/definition"
	"github.com/projecteru2/hatchery/gateway"
	"github.com/projecteru2/hatchery/hypervisor/libvirt"
	"github.com/projecteru2/hatchery/lifecycle"
	"github.com/projecteru2/hatchery/namespace"
	"github.com/projecteru2/hatchery/progress"
	lifecycleProgress "github.com/projecteru2/hatchery/progress/lifecycle"
	"github.com/projecteru2/hatchery/provisioner/vagrant"
	"github.com/projecteru2/hatchery/runner"
)

// BaseHandler provides shared config access for all command handlers.
type BaseHandler struct {
	ConfProvider func() *config.Config
}

// Init returns the command context and validated config in one call.
func (h BaseHandler) Init(cmd *cobra.Command) (context.Context, *config.Config, error) {
	conf, err := h.Conf()
	if err != nil {
		return nil, nil, err
	}
	return CommandContext(cmd), conf, nil
}

// Conf validates and returns the config. All handlers call this first.
func (h BaseHandler) Conf() (*config.Config, error) {
	if h.ConfProvider == nil {
		return nil, fmt.Errorf("config provider is nil")
	}
	conf := h.ConfProvider()
	if conf == nil {
		return nil, fmt.Errorf("config not initialized")
	}
	return conf, nil
}

// CommandContext returns command context, falling back to Background.
func CommandContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}

// Stack is every component a VM command needs, wired to the host tools.
type Stack struct {
	Conf    *config.Config
	Hyper   *libvirt.Virsh
	Gateway *gateway.Manager
	VMs     *lifecycle.Manager
}

// InitStack creates the runtime directories and wires the components.
func InitStack(conf *config.Config) (*Stack, error) {
	if err := conf.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("create directories: %w", err)
	}
	run := runner.New()
	prov, err := vagrant.New(conf, run)
	if err != nil {
		return nil, fmt.Errorf("init vagrant: %w", err)
	}
	hyper, err := libvirt.New(conf, run)
	if err != nil {
		return nil, fmt.Errorf("init virsh: %w", err)
	}
	table, err := definition.NewTable(conf.Profiles)
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}
	gw, err := gateway.New(conf, run, hyper)
	if err != nil {
		return nil, fmt.Errorf("init display gateway: %w", err)
	}
	ns := namespace.New(conf.VMsDir(), namespace.NewStaticPolicy(conf.Admins))
	vms, err := lifecycle.New(conf, ns, definition.New(table, conf.Network.Name), prov, hyper, gw)
	if err != nil {
		return nil, err
	}
	return &Stack{Conf: conf, Hyper: hyper, Gateway: gw, VMs: vms}, nil
}

// Close releases the worker pool.
func (s *Stack) Close() {
	s.VMs.Close()
}

// Identity is the namespace a CLI command acts on: --user, or the
// invoking OS account.
func Identity(cmd *cobra.Command) (string, error) {
	if name, _ := cmd.Flags().GetString("user"); name != "" {
		return name, nil
	}
	u, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("current user: %w", err)
	}
	return u.Username, nil
}

// PhasePrinter writes one line per lifecycle phase to w.
func PhasePrinter(w io.Writer) progress.Tracker {
	return progress.NewTracker(func(e lifecycleProgress.Event) {
		if e.Detail != "" {
			_, _ = fmt.Fprintf(w, "%s: %s (%s)\n", e.VMName, e.Phase, e.Detail)
			return
		}
		_, _ = fmt.Fprintf(w, "%s: %s\n", e.VMName, e.Phase)
	})
}

// FormatMB renders a size in MiB for humans.
func FormatMB(mb int) string {
	return units.BytesSize(float64(mb) * units.MiB)
}
