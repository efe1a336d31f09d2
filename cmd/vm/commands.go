package vm

import (
	"github.com/spf13/cobra"

	"github.com/projecteru2/hatchery/console"
)

// Actions defines VM lifecycle operations.
type Actions interface {
	Create(cmd *cobra.Command, args []string) error
	Start(cmd *cobra.Command, args []string) error
	Stop(cmd *cobra.Command, args []string) error
	List(cmd *cobra.Command, args []string) error
	Inspect(cmd *cobra.Command, args []string) error
	Serial(cmd *cobra.Command, args []string) error
	RM(cmd *cobra.Command, args []string) error
}

// Command builds the "vm" parent command with all subcommands.
func Command(h Actions) *cobra.Command {
	vmCmd := &cobra.Command{
		Use:   "vm",
		Short: "Manage virtual machines",
	}
	vmCmd.PersistentFlags().String("user", "", "act on this user's namespace (default: the invoking account)")

	createCmd := &cobra.Command{
		Use:   "create [flags] [NAME]",
		Short: "Create and boot a VM",
		Args:  cobra.MaximumNArgs(1),
		RunE:  h.Create,
	}
	createCmd.Flags().String("os", "debian", "guest OS (debian, windows)")
	createCmd.Flags().String("role", "client", "machine role (client, server)")
	createCmd.Flags().String("username", "", "guest account to create")
	createCmd.Flags().String("password", "", "guest account password (prompted when empty)")
	createCmd.Flags().String("root-password", "", "administrator password (prompted when empty)")

	startCmd := &cobra.Command{
		Use:   "start VM [VM...]",
		Short: "Boot stopped VM(s)",
		Args:  cobra.MinimumNArgs(1),
		RunE:  h.Start,
	}

	stopCmd := &cobra.Command{
		Use:   "stop VM [VM...]",
		Short: "Halt running VM(s), forcing power off when halt fails",
		Args:  cobra.MinimumNArgs(1),
		RunE:  h.Stop,
	}

	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List visible VMs with state",
		RunE:    h.List,
	}

	inspectCmd := &cobra.Command{
		Use:   "inspect VM",
		Short: "Show VM resources and guest settings (JSON)",
		Args:  cobra.ExactArgs(1),
		RunE:  h.Inspect,
	}

	serialCmd := &cobra.Command{
		Use:   "serial VM",
		Short: "Attach to the serial console of a running server VM",
		Args:  cobra.ExactArgs(1),
		RunE:  h.Serial,
	}
	serialCmd.Flags().String("escape-char", console.DefaultEscape, "escape character (single char or ^X caret notation)")

	rmCmd := &cobra.Command{
		Use:   "rm VM [VM...]",
		Short: "Destroy VM(s) and remove their directories",
		Args:  cobra.MinimumNArgs(1),
		RunE:  h.RM,
	}

	vmCmd.AddCommand(
		createCmd,
		startCmd,
		stopCmd,
		listCmd,
		inspectCmd,
		serialCmd,
		rmCmd,
	)
	return vmCmd
}
