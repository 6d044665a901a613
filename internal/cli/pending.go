package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/countersync/internal/journal"
)

// NewPendingCommand creates the pending command.
func NewPendingCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List actions the server has not confirmed",
		Long: `Read the sync journal and list every sent action without a
confirmation. Does not connect to the server.

Actions older than the pending timeout are marked stale.

Example:
  countersync pending --journal ./sync.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPending(rootOpts, cmd)
		},
	}
}

func runPending(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, err := opts.loadConfig()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}
	if cfg.JournalPath == "" {
		return formatter.Fail(ExitCommandError, ErrCodeJournal, "no journal configured (use --journal or COUNTERSYNC_JOURNAL)", nil)
	}

	j, err := journal.Open(cfg.JournalPath)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeJournal, "failed to open journal", err)
	}
	defer j.Close()

	actions, err := j.PendingActions(commandContext(cmd))
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeJournal, "failed to read journal", err)
	}

	now := time.Now()
	views := make([]PendingView, 0, len(actions))
	for _, a := range actions {
		views = append(views, pendingViewOf(a, now, cfg.PendingTimeout))
	}

	if opts.Format == "json" {
		return formatter.Success(views)
	}
	if len(views) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No pending actions.")
		return nil
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACTION\tKIND\tTARGET\tISSUED\tSTALE")
	for _, v := range views {
		target := fmt.Sprintf("%d", v.Target)
		if v.Target == 0 {
			target = fmt.Sprintf("~%d", v.Correlation)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", v.ActionID, v.Kind, target, v.IssuedAt, v.Stale)
	}
	return tw.Flush()
}
