package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/countersync/internal/entity"
	"github.com/roach88/countersync/internal/session"
	"github.com/roach88/countersync/internal/wire"
)

const testTimeout = 2 * time.Second

// testServer plays the server side of in-process sessions.
type testServer struct {
	t  *testing.T
	tr *session.MemoryTransport
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	t.Setenv("COUNTERSYNC_PENDING_TIMEOUT", "1s")
	t.Setenv("COUNTERSYNC_DIAL_TIMEOUT", "1s")
	t.Setenv("COUNTERSYNC_RECONNECT_DELAY", "10ms")
	t.Setenv("COUNTERSYNC_JOURNAL", "")
	return &testServer{t: t, tr: session.NewMemoryTransport()}
}

func (s *testServer) accept() *session.MemoryConn {
	s.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	conn, err := s.tr.Accept(ctx)
	require.NoError(s.t, err)
	return conn
}

func (s *testServer) recv(conn *session.MemoryConn) *wire.ClientMessage {
	s.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	msg, err := conn.Recv(ctx)
	require.NoError(s.t, err)
	return msg
}

func (s *testServer) expectKind(conn *session.MemoryConn, kind string) *wire.ClientMessage {
	s.t.Helper()
	msg := s.recv(conn)
	require.Equal(s.t, kind, msg.Kind())
	return msg
}

// sync accepts a session and answers its reset with events.
func (s *testServer) sync(batchID string, events ...wire.EntityEvent) *session.MemoryConn {
	s.t.Helper()
	conn := s.accept()
	s.expectKind(conn, wire.KindReset)
	require.NoError(s.t, conn.Send(wire.NewResetResponse(batchID, events...)))
	ack := s.expectKind(conn, wire.KindAcknowledge)
	assert.Equal(s.t, batchID, ack.EntityEventAcknowledgement.BatchID)
	return conn
}

func (s *testServer) expectAction(conn *session.MemoryConn) (string, wire.ActionPayload) {
	s.t.Helper()
	msg := s.expectKind(conn, wire.KindAction)
	p, err := wire.DecodeAction(msg.ActionRequest.Content)
	require.NoError(s.t, err)
	return msg.ActionRequest.ActionID, p
}

// execute runs cmd in the background and returns its stdout and result.
func execute(ctx context.Context, cmd *cobra.Command, args ...string) (*bytes.Buffer, <-chan error) {
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()
	return buf, done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("command did not return")
		return nil
	}
}

func decodeData(t *testing.T, buf *bytes.Buffer, v any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.Equal(t, "ok", resp.Status, buf.String())
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func counter(id int64, name string, value int64) wire.EntityEvent {
	return wire.CreateEvent(entity.ServerID(id), 0, entity.Fields{Name: name, Value: value})
}

func TestList_PrintsSnapshot(t *testing.T) {
	srv := newTestServer(t)
	opts := &RootOptions{Format: "json", Opener: srv.tr}

	buf, done := execute(context.Background(), NewListCommand(opts))
	srv.sync("b1", counter(1, "apples", 3), counter(2, "pears", 0))
	require.NoError(t, wait(t, done))

	var views []CounterView
	decodeData(t, buf, &views)
	assert.Equal(t, []CounterView{
		{ID: 1, Name: "apples", Value: 3, Confirmed: true},
		{ID: 2, Name: "pears", Value: 0, Confirmed: true},
	}, views)
}

func TestList_TextTable(t *testing.T) {
	srv := newTestServer(t)
	opts := &RootOptions{Format: "text", Opener: srv.tr}

	buf, done := execute(context.Background(), NewListCommand(opts))
	srv.sync("b1", counter(7, "jars", 12))
	require.NoError(t, wait(t, done))

	out := buf.String()
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "jars")
	assert.Contains(t, out, "12")
}

func TestList_SendsIdentityMetadata(t *testing.T) {
	srv := newTestServer(t)
	opts := &RootOptions{Format: "json", Opener: srv.tr, UserID: "alice", DeviceID: "phone"}

	_, done := execute(context.Background(), NewListCommand(opts))
	conn := srv.sync("b1")
	require.NoError(t, wait(t, done))

	assert.Equal(t, session.Metadata{UserID: "alice", DeviceID: "phone"}, conn.Metadata)
}

func TestList_StreamFailureBeforeSync(t *testing.T) {
	srv := newTestServer(t)
	opts := &RootOptions{Format: "text", Opener: srv.tr}

	buf, done := execute(context.Background(), NewListCommand(opts))
	conn := srv.accept()
	srv.expectKind(conn, wire.KindReset)
	conn.Fail(nil)

	err := wait(t, done)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), ErrCodeConnect)
}

func TestList_InvalidConfig(t *testing.T) {
	srv := newTestServer(t)
	opts := &RootOptions{Format: "text", Opener: srv.tr, Transport: "carrier-pigeon"}

	_, done := execute(context.Background(), NewListCommand(opts))
	err := wait(t, done)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, 0, srv.tr.Opened())
}
