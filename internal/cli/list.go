package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
)

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Sync once and print all counters",
		Long: `Connect, request a full snapshot and print the counters.

Example:
  countersync list
  countersync list --format json --addr sync.example.com:443`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(rootOpts, cmd)
		},
	}
}

func runList(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	ctx := commandContext(cmd)

	c, err := newClient(ctx, opts, cmd)
	if err != nil {
		return reportSetupError(formatter, err)
	}
	defer c.Close()

	conn, err := c.connect(ctx)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeConnect, "initial sync failed", err)
	}
	defer conn.close()

	formatter.VerboseLog("synced %d counter(s)", c.eng.Store().Len())
	return formatter.Counters(c.eng.Snapshot())
}

// commandContext returns the command's context, or Background when the
// command runs outside Execute (as in tests).
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// reportSetupError prints a newClient failure and keeps its exit code.
func reportSetupError(f *OutputFormatter, err error) error {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if outErr := f.Error(ErrCodeConfig, exitErr.Message, errDetails(exitErr.Err)); outErr != nil {
			return outErr
		}
		return exitErr
	}
	return f.Fail(ExitCommandError, ErrCodeGeneric, "setup failed", err)
}

func errDetails(err error) any {
	if err == nil {
		return nil
	}
	return err.Error()
}
