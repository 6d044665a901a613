package cli

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/countersync/internal/entity"
	"github.com/roach88/countersync/internal/wire"
)

func TestWatch_ReconnectsAndResumes(t *testing.T) {
	srv := newTestServer(t)
	opts := &RootOptions{Format: "text", Opener: srv.tr}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	buf, done := execute(ctx, NewWatchCommand(opts))

	first := srv.sync("b1", counter(1, "apples", 3))
	first.Fail(nil)

	second := srv.accept()
	resume := srv.expectKind(second, wire.KindResume)
	assert.Equal(t, "b1", resume.ResumeRequest.LastProcessedEntityEventBatchID)

	require.NoError(t, second.Send(wire.NewNotification("b2",
		wire.UpdateEvent(1, entity.Fields{Name: "apples", Value: 5}))))
	ack := srv.expectKind(second, wire.KindAcknowledge)
	assert.Equal(t, "b2", ack.EntityEventAcknowledgement.BatchID)

	cancel()
	require.NoError(t, wait(t, done))

	out := buf.String()
	assert.Contains(t, out, "[reset] batch=b1 applied=1")
	assert.Contains(t, out, "[notification] batch=b2 applied=1")
	assert.Equal(t, 2, srv.tr.Opened())
}

func TestWatch_OnceExitsOnStreamFailure(t *testing.T) {
	srv := newTestServer(t)
	opts := &RootOptions{Format: "json", Opener: srv.tr}

	_, done := execute(context.Background(), NewWatchCommand(opts), "--once")
	conn := srv.sync("b1")
	conn.Fail(nil)

	err := wait(t, done)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, 1, srv.tr.Opened())
}

func TestUpdateView_String(t *testing.T) {
	v := UpdateView{Kind: "notification", BatchID: "b9", Applied: 2, Missed: 1, Duplicate: true}
	assert.Equal(t, "[notification] batch=b9 applied=2 missed=1 duplicate counters=0", v.String())
}
