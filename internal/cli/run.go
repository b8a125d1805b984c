package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/offsync/internal/record"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Keep the local copy in sync until interrupted",
		Long: `Load the local snapshot, refresh it from the remote service when
reachable, and keep replaying the outbox and reconciling until interrupted.

The record set is printed at start and after every change.

Example:
  offsync run --config ./offsync.yaml
  offsync run --db ./offsync.db --remote https://api.example.com --verbose`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplica(cmd, rootOpts)
		},
	}
}

func runReplica(cmd *cobra.Command, opts *RootOptions) error {
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	a, err := openApp(ctx, cmd, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if a.offline != nil {
		if err := a.offline.Start(); err != nil {
			slog.Warn("offline switch not watched, falling back to polling", "error", err)
		}
	}

	f := newFormatter(cmd, opts)
	changes := make(chan record.Set, 16)
	unsubscribe := a.replica.Subscribe(func(set record.Set) {
		select {
		case changes <- set:
		default:
			slog.Warn("output lagging, dropping intermediate record set")
		}
	})
	defer unsubscribe()

	set := a.replica.Load(ctx)
	drainChanges(changes)
	if err := renderRecords(f, set, a.replica); err != nil {
		return err
	}

	a.replica.Start(ctx)
	st := a.replica.Status()
	slog.Info("offsync running", "state", st.State.String(), "queued", st.Queued)

	for {
		select {
		case <-ctx.Done():
			a.replica.Stop()
			st := a.replica.Status()
			slog.Info("offsync stopped", "queued", st.Queued, "reconciled", st.Reconciled)
			return nil
		case set := <-changes:
			if err := renderRecords(f, set, a.replica); err != nil {
				return err
			}
		}
	}
}

// drainChanges discards notifications already reflected in the initial print.
func drainChanges(changes <-chan record.Set) {
	for {
		select {
		case <-changes:
		default:
			return
		}
	}
}
