package requests

import "github.com/spf13/cobra"

// Actions defines capacity request review.
type Actions interface {
	Submit(cmd *cobra.Command, args []string) error
	List(cmd *cobra.Command, args []string) error
	Approve(cmd *cobra.Command, args []string) error
	Reject(cmd *cobra.Command, args []string) error
}

// Command builds the "requests" parent command.
func Command(h Actions) *cobra.Command {
	reqCmd := &cobra.Command{
		Use:   "requests",
		Short: "Submit and review VM capacity requests",
	}
	reqCmd.PersistentFlags().String("user", "", "act as this user (default: the invoking account)")

	submitCmd := &cobra.Command{
		Use:   "submit [flags] VM",
		Short: "Ask administrators for more resources on a VM",
		Args:  cobra.ExactArgs(1),
		RunE:  h.Submit,
	}
	submitCmd.Flags().String("ram", "", "requested memory, e.g. 8GB or 8192")
	submitCmd.Flags().Int("cpu", 0, "requested vCPUs")
	submitCmd.Flags().String("storage", "", "requested disk, e.g. 80GB")
	submitCmd.Flags().String("reason", "", "why the VM needs more")

	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List requests (administrators see every user's)",
		RunE:    h.List,
	}
	listCmd.Flags().String("status", "", "only pending, approved or rejected")

	approveCmd := &cobra.Command{
		Use:   "approve [flags] ID",
		Short: "Approve a pending request",
		Args:  cobra.ExactArgs(1),
		RunE:  h.Approve,
	}
	rejectCmd := &cobra.Command{
		Use:   "reject [flags] ID",
		Short: "Reject a pending request",
		Args:  cobra.ExactArgs(1),
		RunE:  h.Reject,
	}
	for _, c := range []*cobra.Command{approveCmd, rejectCmd} {
		c.Flags().String("notes", "", "note recorded with the decision")
	}

	reqCmd.AddCommand(submitCmd, listCmd, approveCmd, rejectCmd)
	return reqCmd
}
