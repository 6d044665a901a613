package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/countersync/internal/engine"
	"github.com/roach88/countersync/internal/reconcile"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Once bool
}

// UpdateView is one line of watch output.
type UpdateView struct {
	Kind      string        `json:"kind"`
	BatchID   string        `json:"batch_id,omitempty"`
	ActionID  string        `json:"action_id,omitempty"`
	Applied   int           `json:"applied"`
	Missed    int           `json:"missed,omitempty"`
	Skipped   int           `json:"skipped,omitempty"`
	Promoted  int           `json:"promoted,omitempty"`
	Duplicate bool          `json:"duplicate,omitempty"`
	Counters  []CounterView `json:"counters"`
}

func (v UpdateView) String() string {
	s := fmt.Sprintf("[%s] batch=%s applied=%d", v.Kind, v.BatchID, v.Applied)
	if v.Missed > 0 {
		s += fmt.Sprintf(" missed=%d", v.Missed)
	}
	if v.Skipped > 0 {
		s += fmt.Sprintf(" skipped=%d", v.Skipped)
	}
	if v.Duplicate {
		s += " duplicate"
	}
	return s + fmt.Sprintf(" counters=%d", len(v.Counters))
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stay connected and print every batch",
		Long: `Keep a sync session open and print each batch the server delivers.

A broken stream is retried after the reconnect delay; the new session
resumes after the last acknowledged batch.

Example:
  countersync watch
  countersync watch --transport websocket --ws-url ws://localhost:8080/sync
  countersync watch --journal ./sync.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Once, "once", false, "exit when the stream breaks instead of reconnecting")
	return cmd
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := newClient(ctx, opts.RootOptions, cmd)
	if err != nil {
		return reportSetupError(formatter, err)
	}
	defer c.Close()

	// The observer runs on the engine loop; printing happens here. Updates
	// still buffered when the loop returns are printed before exiting.
	emit := func(u engine.Update) {
		if err := formatter.Success(updateView(c, u)); err != nil {
			c.logger.Warn("write update failed", "error", err)
		}
	}
	finished := make(chan struct{})
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for {
			select {
			case u := <-c.updates:
				emit(u)
			case <-finished:
				for {
					select {
					case u := <-c.updates:
						emit(u)
					default:
						return
					}
				}
			}
		}
	}()

	err = watchLoop(ctx, c, opts.Once)
	close(finished)
	<-printed
	return err
}

// watchLoop runs sessions until ctx ends. Stream failures reconnect after
// cfg.ReconnectDelay unless once is set.
func watchLoop(ctx context.Context, c *client, once bool) error {
	for attempt := 1; ; attempt++ {
		sess := c.newSession()
		c.logger.Info("session starting", "attempt", attempt, "transport", c.cfg.Transport)
		err := c.eng.Run(ctx, sess)
		_ = sess.Close()

		switch {
		case ctx.Err() != nil || err == nil:
			c.logger.Info("watch stopped")
			return nil
		case !engine.IsStreamError(err):
			return WrapExitError(ExitFailure, "engine error", err)
		case once:
			return WrapExitError(ExitFailure, "stream ended", err)
		}

		c.logger.Warn("stream failed, reconnecting", "delay", c.cfg.ReconnectDelay, "error", err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

func updateView(c *client, u engine.Update) UpdateView {
	out := u.Outcome
	v := UpdateView{
		Kind:      out.Kind.String(),
		BatchID:   out.BatchID,
		ActionID:  out.ActionID,
		Applied:   out.Applied,
		Missed:    out.Missed,
		Skipped:   out.Skipped,
		Promoted:  len(out.Promoted),
		Duplicate: u.Duplicate,
	}
	if out.Kind == reconcile.EnvelopeReset {
		v.Applied = out.Installed
	}
	v.Counters = viewsOf(c.eng.Snapshot())
	return v
}
