package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// NewOutboxCommand creates the outbox command.
func NewOutboxCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "outbox",
		Short: "List queued remote updates",
		Long: `List the outbox entries in the order they will be replayed.

Example:
  offsync outbox
  offsync outbox --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), cmd, rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			rows := outboxRows(a)
			return newFormatter(cmd, rootOpts).Render(rows, func(w io.Writer) {
				writeOutbox(w, rows)
			})
		},
	}
}

type outboxRow struct {
	ID        string    `json:"id"`
	Seq       int64     `json:"seq"`
	Effect    string    `json:"effect"`
	Body      string    `json:"body,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func outboxRows(a *app) []outboxRow {
	entries := a.replica.Outbox()
	rows := make([]outboxRow, len(entries))
	for i, e := range entries {
		rows[i] = outboxRow{
			ID:        e.ID,
			Seq:       e.Seq,
			Effect:    e.Effect.String(),
			Body:      string(e.Effect.Body),
			CreatedAt: e.CreatedAt,
		}
	}
	return rows
}

func writeOutbox(w io.Writer, rows []outboxRow) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "Outbox is empty")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tEFFECT\tBODY\tID")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", r.Seq, r.Effect, r.Body, r.ID)
	}
	tw.Flush()
}
