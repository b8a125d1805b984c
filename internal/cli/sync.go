package cli

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/offsync/internal/replica"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Timeout time.Duration
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replay the outbox and refresh from the remote service",
		Long: `Replay every queued update in order, then replace the local snapshot
with the remote record set. Failed updates are retried with the configured
delay until --timeout expires.

Example:
  offsync sync
  offsync sync --timeout 1m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts)
		},
	}

	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "give up after this long")

	return cmd
}

func runSync(cmd *cobra.Command, opts *SyncOptions) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	a.replica.LoadLocal(ctx)

	syncCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	f := newFormatter(cmd, opts.RootOptions)
	if err := a.replica.Sync(syncCtx); err != nil {
		switch {
		case errors.Is(err, replica.ErrOffline):
			_ = f.Error(ErrCodeOffline, "remote service unreachable", map[string]int{"queued": a.replica.QueueLen()})
			return WrapExitError(ExitFailure, "sync failed", err)
		case errors.Is(err, context.DeadlineExceeded):
			_ = f.Error(ErrCodeTimeout, "outbox not drained before timeout", map[string]int{"queued": a.replica.QueueLen()})
			return WrapExitError(ExitFailure, "sync timed out", err)
		default:
			_ = f.Error(ErrCodeGeneric, err.Error(), nil)
			return WrapExitError(ExitFailure, "sync failed", err)
		}
	}
	return renderRecords(f, a.replica.Records(), a.replica)
}
