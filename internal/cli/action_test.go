package cli

import (
	"context"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/countersync/internal/entity"
	"github.com/roach88/countersync/internal/wire"
)

func actionCommand(t *testing.T, opts *RootOptions, name string) *cobra.Command {
	t.Helper()
	for _, c := range NewActionCommands(opts) {
		if c.Name() == name {
			return c
		}
	}
	t.Fatalf("no action command %q", name)
	return nil
}

func TestCreate_WaitsForConfirmation(t *testing.T) {
	srv := newTestServer(t)
	opts := &RootOptions{Format: "json", Opener: srv.tr}

	buf, done := execute(context.Background(), actionCommand(t, opts, "create"), "jars", "--value", "2")
	conn := srv.sync("b1")

	actionID, p := srv.expectAction(conn)
	assert.Equal(t, entity.ActionCreate, p.Kind)
	assert.Equal(t, "jars", p.Name)
	assert.Equal(t, int64(2), p.Value)
	require.True(t, p.CorrelationID.Valid())

	// Server truth wins over the optimistic value.
	require.NoError(t, conn.Send(wire.NewActionResponse(actionID, "b2",
		wire.CreateEvent(10, p.CorrelationID, entity.Fields{Name: "jars", Value: 5}))))
	srv.expectKind(conn, wire.KindAcknowledge)
	require.NoError(t, wait(t, done))

	var res ActionResult
	decodeData(t, buf, &res)
	assert.True(t, res.Confirmed)
	assert.Equal(t, actionID, res.ActionID)
	assert.Equal(t, "b2", res.BatchID)
	require.NotNil(t, res.Counter)
	assert.Equal(t, int64(10), res.Counter.ID)
	assert.Equal(t, int64(5), res.Counter.Value)
}

func TestIncrement_SendsTargetAndWaits(t *testing.T) {
	srv := newTestServer(t)
	opts := &RootOptions{Format: "text", Opener: srv.tr}

	buf, done := execute(context.Background(), actionCommand(t, opts, "increment"), "4")
	conn := srv.sync("b1", counter(4, "apples", 1))

	actionID, p := srv.expectAction(conn)
	assert.Equal(t, entity.ActionIncrement, p.Kind)
	assert.Equal(t, entity.ServerID(4), p.Target)

	require.NoError(t, conn.Send(wire.NewActionResponse(actionID, "b2",
		wire.UpdateEvent(4, entity.Fields{Name: "apples", Value: 2}))))
	require.NoError(t, wait(t, done))

	assert.Contains(t, buf.String(), "increment confirmed: 4 apples = 2")
}

func TestSet_NoWaitReturnsAfterSend(t *testing.T) {
	srv := newTestServer(t)
	opts := &RootOptions{Format: "json", Opener: srv.tr}

	buf, done := execute(context.Background(), actionCommand(t, opts, "set"), "4", "9", "--no-wait")
	conn := srv.sync("b1", counter(4, "apples", 1))
	_, p := srv.expectAction(conn)
	assert.Equal(t, entity.ActionSetValue, p.Kind)
	assert.Equal(t, int64(9), p.Value)
	require.NoError(t, wait(t, done))

	var res ActionResult
	decodeData(t, buf, &res)
	assert.False(t, res.Confirmed)
	require.NotNil(t, res.Counter)
	assert.Equal(t, int64(9), res.Counter.Value)
}

func TestDelete_PrintsNoCounter(t *testing.T) {
	srv := newTestServer(t)
	opts := &RootOptions{Format: "json", Opener: srv.tr}

	buf, done := execute(context.Background(), actionCommand(t, opts, "delete"), "4")
	conn := srv.sync("b1", counter(4, "apples", 1))
	actionID, p := srv.expectAction(conn)
	assert.Equal(t, entity.ActionDelete, p.Kind)

	require.NoError(t, conn.Send(wire.NewActionResponse(actionID, "b2", wire.DeleteEvent(4))))
	require.NoError(t, wait(t, done))

	var res ActionResult
	decodeData(t, buf, &res)
	assert.True(t, res.Confirmed)
	assert.Nil(t, res.Counter)
}

func TestIncrement_UnknownCounter(t *testing.T) {
	srv := newTestServer(t)
	opts := &RootOptions{Format: "text", Opener: srv.tr}

	buf, done := execute(context.Background(), actionCommand(t, opts, "increment"), "99")
	srv.sync("b1", counter(4, "apples", 1))

	err := wait(t, done)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), ErrCodeUnknownCounter)
}

func TestRename_NotConfirmedInTime(t *testing.T) {
	srv := newTestServer(t)
	t.Setenv("COUNTERSYNC_PENDING_TIMEOUT", "100ms")
	opts := &RootOptions{Format: "text", Opener: srv.tr}

	buf, done := execute(context.Background(), actionCommand(t, opts, "rename"), "4", "plums")
	conn := srv.sync("b1", counter(4, "apples", 1))
	_, p := srv.expectAction(conn)
	assert.Equal(t, "plums", p.Name)

	err := wait(t, done)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), ErrCodeTimeout)
}

func TestActionArgs_RejectedBeforeDialing(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"increment", []string{"abc"}},
		{"decrement", []string{"0"}},
		{"delete", []string{"-3"}},
		{"rename", []string{"x", "name"}},
		{"set", []string{"4", "lots"}},
		{"set", []string{"4"}},
		{"create", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t)
			opts := &RootOptions{Format: "text", Opener: srv.tr}

			_, done := execute(context.Background(), actionCommand(t, opts, tt.name), tt.args...)
			err := wait(t, done)
			require.Error(t, err)
			assert.Equal(t, 0, srv.tr.Opened())
		})
	}
}

func TestParseRef(t *testing.T) {
	ref, err := parseRef("12")
	require.NoError(t, err)
	assert.Equal(t, entity.ByServerID(12), ref)

	_, err = parseRef("0")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
