// Package libvirt implements hypervisor.Hypervisor on top of virsh.
package libvirt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/projecteru2/core/log"

	"github.com/projecteru2/hatchery/config"
	"github.com/projecteru2/hatchery/hypervisor"
	"github.com/projecteru2/hatchery/runner"
	"github.com/projecteru2/hatchery/types"
)

const label = "virsh"

// compile-time interface check.
var _ hypervisor.Hypervisor = (*Virsh)(nil)

// Virsh drives libvirt through the virsh CLI.
type Virsh struct {
	tool    runner.Tool
	uri     string
	run     runner.Runner
	timeout time.Duration
	network config.Network
	scratch string
}

// New creates a Virsh backend from conf.
func New(conf *config.Config, run runner.Runner) (*Virsh, error) {
	tool, err := runner.ParseTool(label, conf.Virsh)
	if err != nil {
		return nil, err
	}
	return &Virsh{
		tool:    tool,
		uri:     conf.LibvirtURI,
		run:     run,
		timeout: conf.QueryTimeout(),
		network: conf.Network,
		scratch: conf.ScratchDir(),
	}, nil
}

func (v *Virsh) State(ctx context.Context, vmName string) types.RuntimeState {
	res, err := v.exec(ctx, "domstate", types.DomainName(vmName))
	if err != nil {
		log.WithFunc("libvirt.State").Warnf(ctx, "domstate %s: %v", vmName, err)
		return types.StateUnknown
	}
	return ParseDomState(res.Stdout)
}

func (v *Virsh) DisplayPort(ctx context.Context, vmName string) (int, bool) {
	res, err := v.exec(ctx, "dumpxml", types.DomainName(vmName))
	if err != nil {
		log.WithFunc("libvirt.DisplayPort").Warnf(ctx, "dumpxml %s: %v", vmName, err)
		return 0, false
	}
	return ParseVNCPort(res.Stdout)
}

// Destroy powers the domain off immediately.
func (v *Virsh) Destroy(ctx context.Context, vmName string) error {
	_, err := v.exec(ctx, "destroy", types.DomainName(vmName))
	return ignoreMissing(err)
}

// Undefine removes the domain definition together with its volumes.
func (v *Virsh) Undefine(ctx context.Context, vmName string) error {
	_, err := v.exec(ctx, "undefine", "--remove-all-storage", types.DomainName(vmName))
	return ignoreMissing(err)
}

// SerialPath asks libvirt for the PTY of the first serial console.
func (v *Virsh) SerialPath(ctx context.Context, vmName string) (string, error) {
	res, err := v.exec(ctx, "ttyconsole", types.DomainName(vmName))
	if err != nil {
		return "", fmt.Errorf("ttyconsole %s: %w", vmName, err)
	}
	path := strings.TrimSpace(firstLine(res.Stdout))
	if !strings.HasPrefix(path, "/dev/") {
		return "", fmt.Errorf("%s has no serial console: %w", vmName, types.ErrNotFound)
	}
	return path, nil
}

func (v *Virsh) Description(ctx context.Context, vmName string) (string, error) {
	res, err := v.exec(ctx, "desc", types.DomainName(vmName))
	if err != nil {
		return "", fmt.Errorf("desc %s: %w", vmName, err)
	}
	desc := strings.TrimSpace(res.Stdout)
	if strings.HasPrefix(desc, "No description for domain") {
		return "", nil
	}
	return desc, nil
}

func (v *Virsh) Domains(ctx context.Context) ([]string, error) {
	res, err := v.exec(ctx, "list", "--all", "--name")
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	return ParseNames(res.Stdout), nil
}

// EnsureNetwork makes sure the VM network is defined, active and set to
// autostart. Each step runs only when needed, so repeated calls are cheap.
func (v *Virsh) EnsureNetwork(ctx context.Context) error {
	logger := log.WithFunc("libvirt.EnsureNetwork")
	name := v.network.Name

	res, err := v.exec(ctx, "net-list", "--all", "--name")
	if err != nil {
		return fmt.Errorf("list networks: %w", err)
	}
	if !slices.Contains(ParseNames(res.Stdout), name) {
		logger.Infof(ctx, "network %s missing, defining it", name)
		if err := v.defineNetwork(ctx); err != nil {
			return err
		}
		// A freshly defined network needs autostart too.
		if _, err := v.exec(ctx, "net-autostart", name); err != nil {
			return fmt.Errorf("autostart network %s: %w", name, err)
		}
	}

	res, err = v.exec(ctx, "net-list", "--name")
	if err != nil {
		return fmt.Errorf("list active networks: %w", err)
	}
	if !slices.Contains(ParseNames(res.Stdout), name) {
		logger.Infof(ctx, "network %s inactive, starting it", name)
		if _, err := v.exec(ctx, "net-start", name); err != nil {
			return fmt.Errorf("start network %s: %w", name, err)
		}
	}
	return nil
}

func (v *Virsh) defineNetwork(ctx context.Context) error {
	doc, err := NetworkXML(v.network)
	if err != nil {
		return err
	}
	path := filepath.Join(v.scratch, "network-"+uuid.NewString()+".xml")
	if err := os.WriteFile(path, doc, 0o600); err != nil {
		return fmt.Errorf("write network definition: %w", err)
	}
	defer os.Remove(path) //nolint:errcheck
	if _, err := v.exec(ctx, "net-define", path); err != nil {
		return fmt.Errorf("define network %s: %w", v.network.Name, err)
	}
	return nil
}

func (v *Virsh) Version(ctx context.Context) (string, error) {
	c := v.tool.Command("--version")
	c.Timeout = v.timeout
	res, err := v.run.Run(ctx, c)
	if err != nil {
		return "", fmt.Errorf("virsh --version: %w", err)
	}
	return strings.TrimSpace(res.Stdout), nil
}

func (v *Virsh) exec(ctx context.Context, args ...string) (*runner.Result, error) {
	c := v.tool.Command(append([]string{"-c", v.uri}, args...)...)
	c.Timeout = v.timeout
	return v.run.Run(ctx, c)
}

func ignoreMissing(err error) error {
	var toolErr *types.ToolError
	if errors.As(err, &toolErr) && isMissing(toolErr.Stderr) {
		return nil
	}
	return err
}
