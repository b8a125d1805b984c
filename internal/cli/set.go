package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/offsync/internal/replica"
)

// SetOptions holds flags for the set command.
type SetOptions struct {
	*RootOptions
	Wait time.Duration
}

// NewSetCommand creates the set command.
func NewSetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "set <id> <name>",
		Short: "Set the name of a record",
		Long: `Set the name of a record. The local snapshot changes at once and the
remote update is queued in the outbox.

When the remote service is reachable the outbox is replayed before the
command returns; an update that fails stays queued for the next run or
sync. Offline the update is only queued. With --wait the outbox is
replayed in the background and the command waits up to the given
duration for it to drain.

Example:
  offsync set 1 "New Value"
  offsync set 1 "New Value" --wait 10s`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSet(cmd, opts, args[0], args[1])
		},
	}

	cmd.Flags().DurationVar(&opts.Wait, "wait", 0, "replay the outbox and wait up to this long for it to drain")

	return cmd
}

type setResult struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Queued  int    `json:"queued"`
	Drained bool   `json:"drained"`
}

func runSet(cmd *cobra.Command, opts *SetOptions, id, name string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	a.replica.LoadLocal(ctx)
	if err := a.replica.Write(ctx, id, name); err != nil {
		return fail(newFormatter(cmd, opts.RootOptions), ErrCodeInvalidArgs, WrapExitError(ExitCommandError, "invalid update", err))
	}

	result := setResult{ID: id, Name: name}
	if opts.Wait > 0 {
		a.replica.Start(ctx)

		waitCtx, cancel := context.WithTimeout(ctx, opts.Wait)
		err := a.replica.WaitDrained(waitCtx)
		cancel()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		result.Drained = err == nil
	} else {
		err := a.replica.Flush(ctx)
		switch {
		case errors.Is(err, replica.ErrOffline):
			// Queued for the next run or sync.
		case err != nil:
			return WrapExitError(ExitFailure, "replay failed", err)
		default:
			result.Drained = a.replica.QueueLen() == 0
		}
	}
	result.Queued = a.replica.QueueLen()

	f := newFormatter(cmd, opts.RootOptions)
	if err := f.Render(result, func(w io.Writer) {
		switch {
		case result.Drained:
			fmt.Fprintf(w, "updated %s = %q\n", id, name)
		default:
			fmt.Fprintf(w, "updated %s = %q locally, %d queued\n", id, name, result.Queued)
		}
	}); err != nil {
		return err
	}

	if opts.Wait > 0 && !result.Drained {
		return NewExitError(ExitFailure, fmt.Sprintf("outbox not drained within %s", opts.Wait))
	}
	return nil
}
