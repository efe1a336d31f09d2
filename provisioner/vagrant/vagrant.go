// Package vagrant implements provisioner.Provisioner with the vagrant CLI
// and the vagrant-libvirt provider.
package vagrant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/hatchery/config"
	"github.com/projecteru2/hatchery/provisioner"
	"github.com/projecteru2/hatchery/runner"
)

const (
	label = "vagrant"
	// Provider is the vagrant provider every VM uses.
	Provider = "libvirt"
)

// compile-time interface check.
var _ provisioner.Provisioner = (*Vagrant)(nil)

// Vagrant runs vagrant sub-commands.
type Vagrant struct {
	tool runner.Tool
	run  runner.Runner
	env  []string

	upTimeout      time.Duration
	haltTimeout    time.Duration
	destroyTimeout time.Duration
	boxAddTimeout  time.Duration
	queryTimeout   time.Duration
}

// New creates a Vagrant driver from conf.
func New(conf *config.Config, run runner.Runner) (*Vagrant, error) {
	tool, err := runner.ParseTool(label, conf.Vagrant)
	if err != nil {
		return nil, err
	}
	env := []string{
		"VAGRANT_DEFAULT_PROVIDER=" + Provider,
		"VAGRANT_IGNORE_WINRM_PLUGIN=1",
	}
	if conf.VagrantHome != "" {
		env = append(env, "VAGRANT_HOME="+conf.VagrantHome)
	}
	if conf.TmpDir != "" {
		env = append(env, "TMPDIR="+conf.TmpDir)
	}
	return &Vagrant{
		tool:           tool,
		run:            run,
		env:            env,
		upTimeout:      conf.UpTimeout(),
		haltTimeout:    conf.HaltTimeout(),
		destroyTimeout: conf.DestroyTimeout(),
		boxAddTimeout:  conf.BoxAddTimeout(),
		queryTimeout:   conf.QueryTimeout(),
	}, nil
}

// Up boots (and on first run, creates and provisions) the machine in dir.
func (v *Vagrant) Up(ctx context.Context, dir string) error {
	_, err := v.exec(ctx, dir, v.upTimeout, "up", "--provider="+Provider)
	return err
}

// Halt asks the guest to shut down, bounded by the halt timeout.
func (v *Vagrant) Halt(ctx context.Context, dir string) error {
	_, err := v.exec(ctx, dir, v.haltTimeout, "halt")
	return err
}

// Destroy removes the machine without prompting.
func (v *Vagrant) Destroy(ctx context.Context, dir string) error {
	_, err := v.exec(ctx, dir, v.destroyTimeout, "destroy", "-f")
	return err
}

func (v *Vagrant) HasBox(ctx context.Context, box string) (bool, error) {
	res, err := v.exec(ctx, "", v.queryTimeout, "box", "list")
	if err != nil {
		return false, fmt.Errorf("list boxes: %w", err)
	}
	for _, b := range ParseBoxList(res.Stdout) {
		if b.Name == box && b.Provider == Provider {
			return true, nil
		}
	}
	return false, nil
}

func (v *Vagrant) AddBox(ctx context.Context, box string) error {
	log.WithFunc("vagrant.AddBox").Infof(ctx, "installing box %s", box)
	if _, err := v.exec(ctx, "", v.boxAddTimeout, "box", "add", box, "--provider", Provider, "--clean"); err != nil {
		return fmt.Errorf("add box %s: %w", box, err)
	}
	return nil
}

func (v *Vagrant) Version(ctx context.Context) (string, error) {
	res, err := v.exec(ctx, "", v.queryTimeout, "--version")
	if err != nil {
		return "", fmt.Errorf("vagrant --version: %w", err)
	}
	return strings.TrimSpace(res.Stdout), nil
}

func (v *Vagrant) Plugins(ctx context.Context) ([]string, error) {
	res, err := v.exec(ctx, "", v.queryTimeout, "plugin", "list")
	if err != nil {
		return nil, fmt.Errorf("list plugins: %w", err)
	}
	return ParsePluginList(res.Stdout), nil
}

func (v *Vagrant) exec(ctx context.Context, dir string, timeout time.Duration, args ...string) (*runner.Result, error) {
	c := v.tool.Command(args...)
	c.Dir = dir
	c.Env = v.env
	c.Timeout = timeout
	return v.run.Run(ctx, c)
}
