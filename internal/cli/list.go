package cli

import (
	"github.com/spf13/cobra"
)

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print the local snapshot",
		Long: `Print the records held in the local snapshot. The network is not used.

Records with updates still in the outbox are marked pending.

Example:
  offsync list --db ./offsync.db
  offsync list --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), cmd, rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			set := a.replica.LoadLocal(cmd.Context())
			return renderRecords(newFormatter(cmd, rootOpts), set, a.replica)
		},
	}
}
