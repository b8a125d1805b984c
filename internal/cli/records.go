package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/roach88/offsync/internal/record"
	"github.com/roach88/offsync/internal/replica"
)

// emptyState is printed when there is no local data at all.
const emptyState = "No data available"

// recordRow is the JSON form of one record.
type recordRow struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Pending bool   `json:"pending,omitempty"`
}

func recordRows(set record.Set, rep *replica.Replica) []recordRow {
	rows := make([]recordRow, 0, len(set))
	for _, r := range set {
		rows = append(rows, recordRow{ID: r.ID, Name: r.Name, Pending: rep.Pending(r.ID)})
	}
	return rows
}

// writeRecords prints rows as an aligned table, or the empty state.
func writeRecords(w io.Writer, rows []recordRow) {
	if len(rows) == 0 {
		fmt.Fprintln(w, emptyState)
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\t")
	for _, r := range rows {
		mark := ""
		if r.Pending {
			mark = "(pending)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.ID, r.Name, mark)
	}
	tw.Flush()
}

func renderRecords(f *OutputFormatter, set record.Set, rep *replica.Replica) error {
	rows := recordRows(set, rep)
	return f.Render(rows, func(w io.Writer) {
		writeRecords(w, rows)
	})
}
