package vm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	cmdcore "github.com/projecteru2/hatchery/cmd/core"
	"github.com/projecteru2/hatchery/console"
	"github.com/projecteru2/hatchery/types"
)

type Handler struct {
	cmdcore.BaseHandler
}

// initStack is the shared init: context, wired stack and caller identity.
func (h Handler) initStack(cmd *cobra.Command) (context.Context, *cmdcore.Stack, string, error) {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return nil, nil, "", err
	}
	user, err := cmdcore.Identity(cmd)
	if err != nil {
		return nil, nil, "", err
	}
	stack, err := cmdcore.InitStack(conf)
	if err != nil {
		return nil, nil, "", err
	}
	return ctx, stack, user, nil
}

func (h Handler) Create(cmd *cobra.Command, args []string) error {
	ctx, stack, user, err := h.initStack(cmd)
	if err != nil {
		return err
	}
	defer stack.Close()
	logger := log.WithFunc("cmd.create")

	spec, err := specFromFlags(cmd, args)
	if err != nil {
		return err
	}
	if spec.GuestUsername == "" {
		spec.GuestUsername = user
	}
	if spec.GuestPassword == "" {
		if spec.GuestPassword, err = prompt("Guest password: "); err != nil {
			return err
		}
	}
	if spec.AdminPassword == "" && spec.OS == types.GuestDebian {
		if spec.AdminPassword, err = prompt("Root password: "); err != nil {
			return err
		}
	}

	info, err := stack.VMs.Create(ctx, user, spec, cmdcore.PhasePrinter(os.Stderr))
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	logger.Infof(ctx, "VM created: %s (owner %s, state %s)", info.Name, info.Owner, info.State)
	return nil
}

func (h Handler) Start(cmd *cobra.Command, args []string) error {
	ctx, stack, user, err := h.initStack(cmd)
	if err != nil {
		return err
	}
	defer stack.Close()
	tracker := cmdcore.PhasePrinter(os.Stderr)
	return batchVMCmd(ctx, "start", "started", func(ctx context.Context, vm string) error {
		return stack.VMs.Start(ctx, user, vm, tracker)
	}, args)
}

func (h Handler) Stop(cmd *cobra.Command, args []string) error {
	ctx, stack, user, err := h.initStack(cmd)
	if err != nil {
		return err
	}
	defer stack.Close()
	return batchVMCmd(ctx, "stop", "stopped", func(ctx context.Context, vm string) error {
		return stack.VMs.Stop(ctx, user, vm)
	}, args)
}

func (h Handler) RM(cmd *cobra.Command, args []string) error {
	ctx, stack, user, err := h.initStack(cmd)
	if err != nil {
		return err
	}
	defer stack.Close()
	return batchVMCmd(ctx, "rm", "deleted", func(ctx context.Context, vm string) error {
		return stack.VMs.Delete(ctx, user, vm)
	}, args)
}

func (h Handler) List(cmd *cobra.Command, _ []string) error {
	ctx, stack, user, err := h.initStack(cmd)
	if err != nil {
		return err
	}
	defer stack.Close()

	vms, err := stack.VMs.List(ctx, user)
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}
	if len(vms) == 0 {
		fmt.Println("No VMs found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0) //nolint:mnd
	_, _ = fmt.Fprintln(w, "NAME\tOWNER\tSTATE\tCPU\tMEMORY\tOS\tROLE\tCREATED")
	for _, vm := range vms {
		meta, err := stack.VMs.Specs(ctx, user, vm.Name)
		if err != nil {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t-\t-\t-\t-\t-\n", vm.Name, vm.Owner, vm.State)
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			vm.Name,
			vm.Owner,
			vm.State,
			meta.CPUs,
			cmdcore.FormatMB(meta.MemoryMB),
			meta.OS,
			meta.Role,
			meta.CreatedAt.Local().Format(time.DateTime),
		)
	}
	w.Flush() //nolint:errcheck,gosec
	return nil
}

func (h Handler) Inspect(cmd *cobra.Command, args []string) error {
	ctx, stack, user, err := h.initStack(cmd)
	if err != nil {
		return err
	}
	defer stack.Close()

	meta, err := stack.VMs.Specs(ctx, user, args[0])
	if err != nil {
		return fmt.Errorf("inspect: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}

func (h Handler) Serial(cmd *cobra.Command, args []string) error {
	ctx, stack, user, err := h.initStack(cmd)
	if err != nil {
		return err
	}
	defer stack.Close()
	name := args[0]

	ptyPath, err := stack.VMs.Serial(ctx, user, name)
	if err != nil {
		return fmt.Errorf("serial: %w", err)
	}
	pty, err := os.OpenFile(ptyPath, os.O_RDWR, 0) //nolint:gosec // path reported by libvirt
	if err != nil {
		return fmt.Errorf("open PTY %s: %w", ptyPath, err)
	}
	defer pty.Close() //nolint:errcheck

	escapeStr, _ := cmd.Flags().GetString("escape-char")
	escapeChar, err := console.ParseEscapeChar(escapeStr)
	if err != nil {
		return err
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return fmt.Errorf("stdin is not a terminal")
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("set raw mode: %w", err)
	}
	defer func() {
		_ = term.Restore(fd, oldState)
		fmt.Fprintf(os.Stderr, "\r\nDisconnected from %s.\r\n", name)
	}()

	fmt.Fprintf(os.Stderr, "Connected to %s (escape sequence: %s.)\r\n", name, console.FormatEscapeChar(escapeChar))
	if err := console.Relay(ctx, pty, os.Stdin, os.Stdout, escapeChar); err != nil {
		fmt.Fprintf(os.Stderr, "\r\nrelay error: %v\r\n", err)
	}
	return nil
}

// batchVMCmd runs fn for every VM, best effort, and joins the failures.
func batchVMCmd(ctx context.Context, verb, done string, fn func(context.Context, string) error, vms []string) error {
	logger := log.WithFunc("cmd." + verb)
	var errs []error
	for _, vm := range vms {
		if err := fn(ctx, vm); err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", verb, vm, err))
			continue
		}
		logger.Infof(ctx, "%s: %s", done, vm)
	}
	return errors.Join(errs...)
}

func specFromFlags(cmd *cobra.Command, args []string) (types.VMSpec, error) {
	osName, _ := cmd.Flags().GetString("os")
	roleName, _ := cmd.Flags().GetString("role")
	guest, err := types.ParseGuestOS(osName)
	if err != nil {
		return types.VMSpec{}, err
	}
	role, err := types.ParseRole(roleName)
	if err != nil {
		return types.VMSpec{}, err
	}
	spec := types.VMSpec{OS: guest, Role: role}
	if len(args) > 0 {
		spec.Name = args[0]
	}
	spec.GuestUsername, _ = cmd.Flags().GetString("username")
	spec.GuestPassword, _ = cmd.Flags().GetString("password")
	spec.AdminPassword, _ = cmd.Flags().GetString("root-password")
	return spec, nil
}

// prompt reads a secret from the terminal without echo.
func prompt(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("%smissing and stdin is not a terminal", label)
	}
	fmt.Fprint(os.Stderr, label)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(raw), nil
}
