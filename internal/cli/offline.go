package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/offsync/internal/connectivity"
)

// NewOfflineCommand creates the offline command.
func NewOfflineCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "offline on|off|status",
		Short: "Force offline mode with the offline switch file",
		Long: `Force offline mode. While the configured offline file exists the
remote service is treated as unreachable, and a running offsync notices
the change immediately.

Example:
  offsync offline on
  offsync offline status`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOffline(cmd, rootOpts, args[0])
		},
	}
}

type offlineStatus struct {
	Offline bool   `json:"offline"`
	File    string `json:"file"`
}

func runOffline(cmd *cobra.Command, opts *RootOptions, action string) error {
	f := newFormatter(cmd, opts)

	cfg, exitErr := loadConfig(opts)
	if exitErr != nil {
		return fail(f, ErrCodeConfig, exitErr)
	}
	if cfg.Connectivity.OfflineFile == "" {
		return fail(f, ErrCodeConfig, NewExitError(ExitCommandError, "connectivity.offline_file is not configured"))
	}
	sw := connectivity.NewSwitchFile(cfg.Connectivity.OfflineFile)

	switch action {
	case "on", "off":
		if err := sw.SetOffline(action == "on"); err != nil {
			return fail(f, ErrCodeGeneric, WrapExitError(ExitFailure, "failed to toggle offline mode", err))
		}
	case "status":
	default:
		return fail(f, ErrCodeInvalidArgs, NewExitError(ExitCommandError, fmt.Sprintf("unknown action %q: must be on, off or status", action)))
	}

	status := offlineStatus{Offline: !sw.Reachable(cmd.Context()), File: sw.Path()}
	return f.Render(status, func(w io.Writer) {
		if status.Offline {
			fmt.Fprintln(w, "offline (forced)")
			return
		}
		fmt.Fprintln(w, "online")
	})
}
