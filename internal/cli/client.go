package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/countersync/internal/config"
	"github.com/roach88/countersync/internal/engine"
	"github.com/roach88/countersync/internal/journal"
	"github.com/roach88/countersync/internal/pipeline"
	"github.com/roach88/countersync/internal/reconcile"
	"github.com/roach88/countersync/internal/session"
	"github.com/roach88/countersync/internal/store"
)

// errSyncTimeout is returned when no reset response arrives in time.
var errSyncTimeout = errors.New("timed out waiting for initial sync")

const updateBuffer = 256

// client is an engine with its transport, journal and session for one
// command invocation.
type client struct {
	cfg     config.Config
	logger  *slog.Logger
	eng     *engine.Engine
	opener  session.Opener
	journal *journal.Journal
	updates chan engine.Update

	release func() error
}

// newClient loads config, opens the journal and builds the engine. Nothing
// is dialed until a session runs.
func newClient(ctx context.Context, opts *RootOptions, cmd *cobra.Command) (*client, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	logger := opts.newLogger(cmd.ErrOrStderr())

	opener, release, err := opts.openTransport(cfg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to set up transport", err)
	}

	c := &client{
		cfg:     cfg,
		logger:  logger,
		opener:  opener,
		updates: make(chan engine.Update, updateBuffer),
		release: release,
	}

	engOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithPipelineOptions(pipeline.WithPendingTimeout(cfg.PendingTimeout)),
	}
	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			_ = release()
			return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		restored, err := engine.RestoreOptions(ctx, j)
		if err != nil {
			_ = j.Close()
			_ = release()
			return nil, WrapExitError(ExitCommandError, "failed to restore journal", err)
		}
		c.journal = j
		engOpts = append(engOpts, restored...)
	}

	c.eng = engine.New(store.New(), engOpts...)
	c.eng.Observe(func(u engine.Update) {
		select {
		case c.updates <- u:
		default:
			logger.Warn("update dropped", "kind", u.Outcome.Kind.String(), "batch", u.Outcome.BatchID)
		}
	})
	return c, nil
}

// newSession creates a session tagged with the configured identity.
func (c *client) newSession() *session.Session {
	return session.New(c.opener, session.Metadata{
		UserID:   c.cfg.UserID,
		DeviceID: c.cfg.DeviceID,
	}, session.WithLogger(c.logger))
}

// Close releases the journal and transport.
func (c *client) Close() error {
	var errs []error
	if c.journal != nil {
		errs = append(errs, c.journal.Close())
	}
	errs = append(errs, c.release())
	return errors.Join(errs...)
}

// connection is one running session for a short-lived command.
type connection struct {
	c    *client
	sess *session.Session
	done chan error
}

// connect starts the engine on a new session and waits for the initial
// reset to be applied.
func (c *client) connect(ctx context.Context) (*connection, error) {
	conn := &connection{c: c, sess: c.newSession(), done: make(chan error, 1)}
	go func() { conn.done <- c.eng.Run(ctx, conn.sess) }()

	timeout := time.NewTimer(c.cfg.DialTimeout + c.cfg.PendingTimeout)
	defer timeout.Stop()
	for {
		select {
		case u := <-c.updates:
			if u.Outcome.Kind == reconcile.EnvelopeReset {
				return conn, nil
			}
		case err := <-conn.done:
			_ = conn.sess.Close()
			if err == nil {
				err = engine.ErrStopped
			}
			return nil, err
		case <-timeout.C:
			conn.close()
			return nil, errSyncTimeout
		case <-ctx.Done():
			conn.close()
			return nil, ctx.Err()
		}
	}
}

// await waits for the update matched by fn, the stream ending, or the
// pending timeout.
func (conn *connection) await(ctx context.Context, fn func(engine.Update) bool) (engine.Update, error) {
	timeout := time.NewTimer(conn.c.cfg.PendingTimeout)
	defer timeout.Stop()
	for {
		select {
		case u := <-conn.c.updates:
			if fn(u) {
				return u, nil
			}
		case err := <-conn.done:
			conn.done <- err
			if err == nil {
				err = engine.ErrStopped
			}
			return engine.Update{}, fmt.Errorf("stream ended before confirmation: %w", err)
		case <-timeout.C:
			return engine.Update{}, fmt.Errorf("no confirmation after %s", conn.c.cfg.PendingTimeout)
		case <-ctx.Done():
			return engine.Update{}, ctx.Err()
		}
	}
}

// close stops the engine and the session.
func (conn *connection) close() {
	conn.c.eng.Stop()
	select {
	case <-conn.done:
	case <-time.After(conn.c.cfg.DialTimeout):
		conn.c.logger.Warn("engine did not stop in time")
	}
	_ = conn.sess.Close()
}
