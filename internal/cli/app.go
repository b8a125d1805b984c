package cli

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/offsync/internal/auth"
	"github.com/roach88/offsync/internal/config"
	"github.com/roach88/offsync/internal/connectivity"
	"github.com/roach88/offsync/internal/engine"
	"github.com/roach88/offsync/internal/remote"
	"github.com/roach88/offsync/internal/replica"
	"github.com/roach88/offsync/internal/store"
)

// memoryPath selects the in-memory backend instead of SQLite.
const memoryPath = ":memory:"

// app is everything a command needs, built from config and flags.
type app struct {
	cfg     *config.Config
	backend store.Backend
	replica *replica.Replica
	offline *connectivity.SwitchFile // nil when no offline file is configured
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(opts *RootOptions) (*config.Config, *ExitError) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Store.Path = opts.Database
	}
	if opts.RemoteURL != "" {
		cfg.Remote.BaseURL = opts.RemoteURL
	}
	return cfg, nil
}

func openBackend(path string) (store.Backend, *ExitError) {
	if path == memoryPath {
		return store.NewMemory(), nil
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

func credentials(cfg *config.Config) auth.Source {
	if cfg.Auth.TokenCommand != "" {
		return auth.NewCommand(cfg.Auth.TokenCommand, cfg.Auth.Token)
	}
	return auth.NewStatic(cfg.Auth.Token)
}

func retryPolicy(cfg *config.Config) engine.FixedPolicy {
	return engine.FixedPolicy{
		Interval:            cfg.Replay.RetryDelay.Std(),
		DiscardClientErrors: cfg.Replay.DiscardClientErrors,
		MaxAttempts:         cfg.Replay.MaxAttempts,
	}
}

// openApp wires the replica from configuration. The replica does not start
// background tasks on its own; commands start it when they need replay.
// A failure is rendered with its error code before it is returned.
func openApp(ctx context.Context, cmd *cobra.Command, opts *RootOptions) (*app, error) {
	f := newFormatter(cmd, opts)

	cfg, exitErr := loadConfig(opts)
	if exitErr != nil {
		return nil, fail(f, ErrCodeConfig, exitErr)
	}

	backend, exitErr := openBackend(cfg.Store.Path)
	if exitErr != nil {
		return nil, fail(f, ErrCodeStore, exitErr)
	}

	creds := credentials(cfg)
	client := remote.New(cfg.Remote.BaseURL,
		remote.Endpoints{Collection: cfg.Remote.Collection},
		remote.WithTimeout(cfg.Remote.Timeout.Std()),
		remote.WithCredentials(creds),
	)

	a := &app{cfg: cfg, backend: backend}
	if cfg.Connectivity.OfflineFile != "" {
		a.offline = connectivity.NewSwitchFile(cfg.Connectivity.OfflineFile)
	}

	rep, err := replica.New(ctx, replica.Deps{
		Backend:      backend,
		Remote:       client,
		Connectivity: a.source(opts),
		Credentials:  creds,
	}, append([]replica.Option{
		replica.WithRetryPolicy(retryPolicy(cfg)),
		replica.WithPollInterval(cfg.Connectivity.PollInterval.Std()),
		replica.WithReconcileInterval(cfg.Reconcile.Interval.Std()),
		replica.WithAutoStart(false),
	}, opts.ReplicaOptions...)...)
	if err != nil {
		_ = backend.Close()
		return nil, fail(f, ErrCodeGeneric, WrapExitError(ExitCommandError, "failed to build replica", err))
	}
	a.replica = rep

	slog.Debug("offsync ready",
		"db", cfg.Store.Path,
		"remote", cfg.Remote.BaseURL,
		"collection", cfg.Remote.Collection,
		"queued", rep.QueueLen(),
	)
	return a, nil
}

// source combines the offline switch with the HTTP probe, if configured.
func (a *app) source(opts *RootOptions) connectivity.Source {
	if opts.Connectivity != nil {
		return opts.Connectivity
	}

	var sources []connectivity.Source
	if a.offline != nil {
		sources = append(sources, a.offline)
	}
	if a.cfg.Connectivity.ProbeURL != "" {
		sources = append(sources, connectivity.NewHTTPProbe(a.cfg.Connectivity.ProbeURL))
	}
	if len(sources) == 0 {
		return connectivity.NewManual(true)
	}
	return connectivity.All(sources...)
}

func (a *app) Close() {
	a.replica.Stop()
	if a.offline != nil {
		if err := a.offline.Stop(); err != nil {
			slog.Warn("error stopping offline switch watcher", "error", err)
		}
	}
	if err := a.backend.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}
