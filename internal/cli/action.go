package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/countersync/internal/engine"
	"github.com/roach88/countersync/internal/entity"
	"github.com/roach88/countersync/internal/pipeline"
	"github.com/roach88/countersync/internal/reconcile"
)

// ActionOptions holds flags shared by the action commands.
type ActionOptions struct {
	*RootOptions
	NoWait bool
	Value  int64 // create only
}

// ActionResult is the outcome of one action command.
type ActionResult struct {
	ActionID  string       `json:"action_id,omitempty"`
	Kind      string       `json:"kind"`
	BatchID   string       `json:"batch_id,omitempty"`
	Confirmed bool         `json:"confirmed"`
	Counter   *CounterView `json:"counter,omitempty"`
}

func (r ActionResult) String() string {
	status := "sent"
	if r.Confirmed {
		status = "confirmed"
	}
	if r.Counter == nil {
		return fmt.Sprintf("%s %s", r.Kind, status)
	}
	return fmt.Sprintf("%s %s: %s %s = %d", r.Kind, status, displayID(*r.Counter), r.Counter.Name, r.Counter.Value)
}

type intent func(ctx context.Context, eng *engine.Engine, args []string) (pipeline.Result, error)

type actionDef struct {
	use   string
	short string
	kind  entity.ActionKind
	args  cobra.PositionalArgs
	run   intent
}

var actionDefs = []actionDef{
	{
		use:   "create <name>",
		short: "Create a counter",
		kind:  entity.ActionCreate,
		args:  cobra.ExactArgs(1),
		// run is bound per command so it can read --value.
	},
	{
		use:   "increment <id>",
		short: "Add one to a counter",
		kind:  entity.ActionIncrement,
		args:  idArgs(1),
		run: func(ctx context.Context, eng *engine.Engine, args []string) (pipeline.Result, error) {
			ref, err := parseRef(args[0])
			if err != nil {
				return pipeline.Result{}, err
			}
			return eng.Increment(ctx, ref)
		},
	},
	{
		use:   "decrement <id>",
		short: "Subtract one from a counter",
		kind:  entity.ActionDecrement,
		args:  idArgs(1),
		run: func(ctx context.Context, eng *engine.Engine, args []string) (pipeline.Result, error) {
			ref, err := parseRef(args[0])
			if err != nil {
				return pipeline.Result{}, err
			}
			return eng.Decrement(ctx, ref)
		},
	},
	{
		use:   "rename <id> <name>",
		short: "Rename a counter",
		kind:  entity.ActionRename,
		args:  idArgs(2),
		run: func(ctx context.Context, eng *engine.Engine, args []string) (pipeline.Result, error) {
			ref, err := parseRef(args[0])
			if err != nil {
				return pipeline.Result{}, err
			}
			return eng.Rename(ctx, ref, args[1])
		},
	},
	{
		use:   "set <id> <value>",
		short: "Set a counter's value",
		kind:  entity.ActionSetValue,
		args: cobra.MatchAll(idArgs(2), func(cmd *cobra.Command, args []string) error {
			if _, err := strconv.ParseInt(args[1], 10, 64); err != nil {
				return usageError(fmt.Sprintf("invalid value %q", args[1]))
			}
			return nil
		}),
		run: func(ctx context.Context, eng *engine.Engine, args []string) (pipeline.Result, error) {
			ref, err := parseRef(args[0])
			if err != nil {
				return pipeline.Result{}, err
			}
			value, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return pipeline.Result{}, usageError(fmt.Sprintf("invalid value %q", args[1]))
			}
			return eng.SetValue(ctx, ref, value)
		},
	},
	{
		use:   "delete <id>",
		short: "Delete a counter",
		kind:  entity.ActionDelete,
		args:  idArgs(1),
		run: func(ctx context.Context, eng *engine.Engine, args []string) (pipeline.Result, error) {
			ref, err := parseRef(args[0])
			if err != nil {
				return pipeline.Result{}, err
			}
			return eng.Delete(ctx, ref)
		},
	},
}

// NewActionCommands creates one command per counter action.
func NewActionCommands(rootOpts *RootOptions) []*cobra.Command {
	cmds := make([]*cobra.Command, 0, len(actionDefs))
	for _, def := range actionDefs {
		cmds = append(cmds, newActionCommand(rootOpts, def))
	}
	return cmds
}

func newActionCommand(rootOpts *RootOptions, def actionDef) *cobra.Command {
	opts := &ActionOptions{RootOptions: rootOpts}
	run := def.run
	if def.kind == entity.ActionCreate {
		run = func(ctx context.Context, eng *engine.Engine, args []string) (pipeline.Result, error) {
			return eng.Create(ctx, args[0], opts.Value)
		}
	}

	cmd := &cobra.Command{
		Use:   def.use,
		Short: def.short,
		Long: def.short + `.

Connects, syncs, applies the change locally and waits until the server
confirms it. Counters are addressed by their server ID.

Exit codes:
  0 - Action confirmed (or sent, with --no-wait)
  1 - Unknown counter, stream failure or no confirmation in time
  2 - Invalid arguments or configuration`,
		Args:          def.args,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(opts, def.kind, run, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.NoWait, "no-wait", false, "return once the action is sent")
	if def.kind == entity.ActionCreate {
		cmd.Flags().Int64Var(&opts.Value, "value", 0, "initial value")
	}
	return cmd
}

func runAction(opts *ActionOptions, kind entity.ActionKind, run intent, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	ctx := commandContext(cmd)

	c, err := newClient(ctx, opts.RootOptions, cmd)
	if err != nil {
		return reportSetupError(formatter, err)
	}
	defer c.Close()

	conn, err := c.connect(ctx)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeConnect, "initial sync failed", err)
	}
	defer conn.close()

	res, err := run(ctx, c.eng, args)
	var exitErr *ExitError
	switch {
	case errors.As(err, &exitErr):
		return formatter.Fail(exitErr.Code, ErrCodeGeneric, exitErr.Message, nil)
	case errors.Is(err, pipeline.ErrUnknownEntity):
		return formatter.Fail(ExitFailure, ErrCodeUnknownCounter, fmt.Sprintf("no counter %s", args[0]), err)
	case err != nil:
		return formatter.Fail(ExitFailure, ErrCodeConnect, kind.String()+" failed", err)
	}

	result := ActionResult{Kind: kind.String()}
	if len(res.Sent) > 0 {
		result.ActionID = res.Sent[0].ActionID
	}
	formatter.VerboseLog("%s applied locally, deferred=%t", kind, res.Deferred)

	if opts.NoWait || len(res.Sent) == 0 {
		result.Counter = counterAfter(c, kind, res)
		return formatter.Success(result)
	}

	u, err := conn.await(ctx, func(u engine.Update) bool {
		if u.Outcome.Kind != reconcile.EnvelopeActionResponse {
			return false
		}
		return u.Outcome.ActionID == "" || u.Outcome.ActionID == result.ActionID
	})
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeTimeout, kind.String()+" not confirmed", err)
	}

	result.Confirmed = true
	result.BatchID = u.Outcome.BatchID
	result.Counter = counterAfter(c, kind, res)
	return formatter.Success(result)
}

// counterAfter looks the counter up again so the output shows server truth.
func counterAfter(c *client, kind entity.ActionKind, res pipeline.Result) *CounterView {
	if kind == entity.ActionDelete {
		return nil
	}
	counter, ok := c.eng.Store().Get(entity.RefOf(res.Counter))
	if !ok {
		return nil
	}
	v := viewOf(counter)
	return &v
}

func parseRef(arg string) (entity.Ref, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return entity.Ref{}, usageError(fmt.Sprintf("invalid counter id %q", arg))
	}
	return entity.ByServerID(entity.ServerID(id)), nil
}

// idArgs checks the argument count and that the first argument is a
// server ID, before anything is dialed.
func idArgs(n int) cobra.PositionalArgs {
	return cobra.MatchAll(cobra.ExactArgs(n), func(cmd *cobra.Command, args []string) error {
		_, err := parseRef(args[0])
		return err
	})
}

func usageError(msg string) *ExitError {
	return NewExitError(ExitCommandError, msg)
}
