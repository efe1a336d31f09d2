package server

import "github.com/spf13/cobra"

// Actions defines the long-running API server.
type Actions interface {
	Serve(cmd *cobra.Command, args []string) error
}

// Command builds the "serve" command.
func Command(h Actions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the JSON API consumed by the web front end",
		Args:  cobra.NoArgs,
		RunE:  h.Serve,
	}
	cmd.Flags().String("listen", "", "listen address (overrides config)")
	return cmd
}
