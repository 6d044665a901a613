package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/countersync/internal/clock"
	"github.com/roach88/countersync/internal/entity"
	"github.com/roach88/countersync/internal/store"
	"github.com/roach88/countersync/internal/wire"
)

func newReconciler() (*Reconciler, *store.Store) {
	st := store.New()
	return New(st, WithTruthClock(clock.New())), st
}

func body(name string, value int64) *wire.Any {
	return wire.EncodeCounterBody(entity.Fields{Name: name, Value: value})
}

func createEv(id entity.ServerID, corr entity.CorrelationID, name string, value int64) Event {
	return Event{ServerID: id, TypeID: wire.TypeCounterBody, Content: Create{CorrelationID: corr, Body: body(name, value)}}
}

func updateEv(id entity.ServerID, name string, value int64) Event {
	return Event{ServerID: id, TypeID: wire.TypeCounterBody, Content: Update{Body: body(name, value)}}
}

func deleteEv(id entity.ServerID) Event {
	return Event{ServerID: id, TypeID: wire.TypeCounterBody, Content: Delete{}}
}

func TestApply_ResetReplacesStore(t *testing.T) {
	r, st := newReconciler()
	st.Append(entity.Counter{CorrelationID: -99, Name: "optimistic"})

	out := r.Apply(Envelope{
		Kind:    EnvelopeReset,
		BatchID: "b0",
		Events: []Event{
			createEv(1, -1, "a", 1),
			{ServerID: 2, TypeID: wire.TypeCounterBody, Content: Create{CorrelationID: -2}},
			createEv(3, -3, "c", -4),
		},
	})

	assert.Equal(t, 2, out.Installed)
	assert.Equal(t, 1, out.Skipped)
	assert.True(t, out.Acknowledge)

	snap := st.Snapshot()
	require.Len(t, snap, 2)
	assert.ElementsMatch(t, []entity.ServerID{1, 3}, []entity.ServerID{snap[0].ServerID, snap[1].ServerID})
	c, ok := st.Get(entity.ByServerID(3))
	require.True(t, ok)
	assert.Equal(t, entity.CorrelationID(-3), c.CorrelationID)
	assert.Equal(t, "c", c.Name)
	assert.Equal(t, int64(-4), c.Value)
	assert.Equal(t, out.Seq, c.ServerSeq)
}

func TestApply_ResetWithoutBatchIDIsNotAcknowledged(t *testing.T) {
	r, _ := newReconciler()
	out := r.Apply(Envelope{Kind: EnvelopeReset})
	assert.False(t, out.Acknowledge)
	assert.Equal(t, 0, out.Installed)
}

func TestApply_NotificationCreateAppends(t *testing.T) {
	r, st := newReconciler()
	out := r.Apply(Envelope{
		Kind:    EnvelopeNotification,
		BatchID: "b1",
		Events:  []Event{createEv(7, -70, "x", 1)},
	})

	assert.Equal(t, 1, out.Applied)
	assert.True(t, out.Acknowledge)
	c, ok := st.Get(entity.ByServerID(7))
	require.True(t, ok)
	assert.Equal(t, entity.CorrelationID(-70), c.CorrelationID)
}

func TestApply_CreateThenDeleteInSameBatchNetsToAbsence(t *testing.T) {
	r, st := newReconciler()
	out := r.Apply(Envelope{
		Kind:    EnvelopeNotification,
		BatchID: "b1",
		Events:  []Event{createEv(7, -70, "X", 1), deleteEv(7)},
	})

	assert.Equal(t, 2, out.Applied)
	_, ok := st.Get(entity.ByServerID(7))
	assert.False(t, ok)
	assert.Equal(t, 0, st.Len())
}

func TestApply_ReplayedCreateDuplicates(t *testing.T) {
	r, st := newReconciler()
	env := Envelope{Kind: EnvelopeNotification, BatchID: "b1", Events: []Event{createEv(7, -70, "x", 1)}}
	r.Apply(env)
	r.Apply(env)
	assert.Equal(t, 2, st.Len())
}

func TestApply_UpdateOverwritesWithServerTruth(t *testing.T) {
	r, st := newReconciler()
	st.Append(entity.Counter{ServerID: 5, CorrelationID: -5, Name: "a", Value: 9, LocalSeq: 3})

	out := r.Apply(Envelope{Kind: EnvelopeNotification, BatchID: "b2", Events: []Event{updateEv(5, "b", 2)}})

	assert.Equal(t, 1, out.Applied)
	c, _ := st.Get(entity.ByServerID(5))
	assert.Equal(t, "b", c.Name)
	assert.Equal(t, int64(2), c.Value)
	assert.Equal(t, int64(3), c.LocalSeq)
	assert.Equal(t, out.Seq, c.ServerSeq)
}

func TestApply_UpdateWithForeignDiscriminatorIsIgnored(t *testing.T) {
	r, st := newReconciler()
	st.Append(entity.Counter{ServerID: 5, CorrelationID: -5, Name: "a", Value: 9})
	before := st.Snapshot()

	ev := updateEv(5, "b", 2)
	ev.TypeID = "sync.entities.NoteBody"
	out := r.Apply(Envelope{Kind: EnvelopeNotification, BatchID: "b2", Events: []Event{ev}})

	assert.Equal(t, 1, out.Ignored)
	assert.Equal(t, before, st.Snapshot())
}

func TestApply_UpdateAcceptsPrefixedDiscriminator(t *testing.T) {
	r, st := newReconciler()
	st.Append(entity.Counter{ServerID: 5, CorrelationID: -5, Name: "a"})

	ev := updateEv(5, "b", 2)
	ev.TypeID = "type.googleapis.com/" + wire.TypeCounterBody
	r.Apply(Envelope{Kind: EnvelopeNotification, Events: []Event{ev}})

	c, _ := st.Get(entity.ByServerID(5))
	assert.Equal(t, "b", c.Name)
}

func TestApply_MissesAreTolerated(t *testing.T) {
	r, st := newReconciler()
	st.Append(entity.Counter{ServerID: 1, CorrelationID: -1, Name: "a"})
	before := st.Snapshot()

	out := r.Apply(Envelope{
		Kind:    EnvelopeNotification,
		BatchID: "b3",
		Events:  []Event{deleteEv(99), updateEv(98, "z", 1)},
	})

	assert.Equal(t, 2, out.Missed)
	assert.Equal(t, before, st.Snapshot())
	assert.True(t, out.Acknowledge)
}

func TestApply_CollectsUpdateAndDeleteTargets(t *testing.T) {
	r, st := newReconciler()
	st.Append(entity.Counter{ServerID: 1, CorrelationID: -1, Name: "a"})
	st.Append(entity.Counter{ServerID: 2, CorrelationID: -2, Name: "b"})

	foreign := Event{ServerID: 3, TypeID: "sync.entities.NoteBody", Content: Update{Body: body("n", 0)}}
	out := r.Apply(Envelope{
		Kind:    EnvelopeActionResponse,
		BatchID: "b4",
		Events: []Event{
			updateEv(1, "a", 2),
			updateEv(1, "a", 3),
			deleteEv(2),
			deleteEv(9),
			foreign,
		},
	})

	assert.Equal(t, []entity.ServerID{1, 2, 9}, out.Targets)
	assert.Equal(t, 1, out.Missed)
	assert.Equal(t, 1, out.Ignored)
}

func TestApply_DecodeFailureSkipsOnlyThatEvent(t *testing.T) {
	r, st := newReconciler()
	bad := Event{ServerID: 8, TypeID: wire.TypeCounterBody, Content: Create{
		CorrelationID: -8,
		Body:          &wire.Any{TypeURL: wire.TypeCounterBody, Value: []byte{0xff, 0xff}},
	}}

	out := r.Apply(Envelope{
		Kind:    EnvelopeNotification,
		BatchID: "b4",
		Events:  []Event{createEv(7, -7, "ok", 1), bad, createEv(9, -9, "ok2", 2)},
	})

	assert.Equal(t, 2, out.Applied)
	assert.Equal(t, 1, out.Skipped)
	assert.Equal(t, 2, st.Len())
	assert.True(t, out.Acknowledge)
}

func TestApply_NoneContentIsIgnored(t *testing.T) {
	r, st := newReconciler()
	out := r.Apply(Envelope{
		Kind:   EnvelopeNotification,
		Events: []Event{{ServerID: 1, Content: None{}}, {ServerID: 2}},
	})
	assert.Equal(t, 2, out.Ignored)
	assert.Equal(t, 0, st.Len())
	assert.False(t, out.Acknowledge)
}

func TestApply_ActionResponsePromotesOptimisticCounter(t *testing.T) {
	r, st := newReconciler()
	r.AppendLocal(entity.Counter{CorrelationID: -1, Name: "A", Value: 0, LocalSeq: 1})

	out := r.Apply(Envelope{
		Kind:     EnvelopeActionResponse,
		BatchID:  "b5",
		ActionID: "action-1",
		Events:   []Event{createEv(42, -1, "A", 0)},
	})

	require.Len(t, out.Promoted, 1)
	assert.Equal(t, Binding{CorrelationID: -1, ServerID: 42}, out.Promoted[0])
	assert.True(t, out.Acknowledge)
	assert.Equal(t, "action-1", out.ActionID)

	require.Equal(t, 1, st.Len())
	c, ok := st.Get(entity.ByServerID(42))
	require.True(t, ok)
	assert.Equal(t, entity.CorrelationID(-1), c.CorrelationID)
	assert.Equal(t, int64(0), c.Value)
	assert.True(t, c.Confirmed())
}

func TestApply_ActionResponseCreateOverwritesWithServerBody(t *testing.T) {
	r, st := newReconciler()
	r.AppendLocal(entity.Counter{CorrelationID: -1, Name: "draft", Value: 3})

	r.Apply(Envelope{Kind: EnvelopeActionResponse, Events: []Event{createEv(42, -1, "final", 10)}})

	c, _ := st.Get(entity.ByCorrelationID(-1))
	assert.Equal(t, "final", c.Name)
	assert.Equal(t, int64(10), c.Value)
}

func TestApply_ActionResponseCreateWithUnknownCorrelationMisses(t *testing.T) {
	r, st := newReconciler()
	out := r.Apply(Envelope{Kind: EnvelopeActionResponse, BatchID: "b6", Events: []Event{createEv(42, -1, "A", 0)}})
	assert.Equal(t, 1, out.Missed)
	assert.Equal(t, 0, st.Len())
}

func TestApply_ActionResponseNeverRebindsServerID(t *testing.T) {
	r, st := newReconciler()
	st.Append(entity.Counter{ServerID: 42, CorrelationID: -1, Name: "A"})

	out := r.Apply(Envelope{Kind: EnvelopeActionResponse, Events: []Event{createEv(43, -1, "B", 1)}})

	assert.Equal(t, 1, out.Missed)
	c, _ := st.Get(entity.ByCorrelationID(-1))
	assert.Equal(t, entity.ServerID(42), c.ServerID)
	assert.Equal(t, "A", c.Name)
}

func TestApply_IgnoredEnvelopeDoesNotTouchStore(t *testing.T) {
	r, st := newReconciler()
	st.Append(entity.Counter{ServerID: 1, CorrelationID: -1})

	out := r.Apply(Envelope{Kind: EnvelopeIgnored, BatchID: "b7"})

	assert.False(t, out.Acknowledge)
	assert.Equal(t, int64(0), out.Seq)
	assert.Equal(t, 1, st.Len())
}

func TestApply_TruthClockAdvancesPerEnvelope(t *testing.T) {
	r, _ := newReconciler()
	first := r.Apply(Envelope{Kind: EnvelopeNotification})
	second := r.Apply(Envelope{Kind: EnvelopeNotification})
	assert.Less(t, first.Seq, second.Seq)
}

func TestRemoveLocal_ConfirmedCounter(t *testing.T) {
	r, st := newReconciler()
	st.Append(entity.Counter{ServerID: 4, CorrelationID: -4})

	c, ok := r.RemoveLocal(entity.ByServerID(4))
	require.True(t, ok)
	assert.Equal(t, entity.ServerID(4), c.ServerID)
	assert.Equal(t, 0, st.Len())
	assert.False(t, r.Tombstoned(-4))
}

func TestRemoveLocal_UnconfirmedCounterCancelsConfirmation(t *testing.T) {
	r, st := newReconciler()
	r.AppendLocal(entity.Counter{CorrelationID: -1, Name: "A"})

	_, ok := r.RemoveLocal(entity.ByCorrelationID(-1))
	require.True(t, ok)
	assert.True(t, r.Tombstoned(-1))

	out := r.Apply(Envelope{Kind: EnvelopeActionResponse, BatchID: "b8", Events: []Event{createEv(42, -1, "A", 0)}})

	assert.Equal(t, []Binding{{CorrelationID: -1, ServerID: 42}}, out.Cancelled)
	assert.Empty(t, out.Promoted)
	assert.Equal(t, 0, st.Len())
	assert.False(t, r.Tombstoned(-1))
}

func TestRemoveLocal_TombstoneAlsoCancelsNotificationCreate(t *testing.T) {
	r, st := newReconciler()
	r.AppendLocal(entity.Counter{CorrelationID: -1, Name: "A"})
	r.RemoveLocal(entity.ByCorrelationID(-1))

	out := r.Apply(Envelope{Kind: EnvelopeNotification, Events: []Event{createEv(42, -1, "A", 0)}})

	require.Len(t, out.Cancelled, 1)
	assert.Equal(t, 0, st.Len())
}

func TestRemoveLocal_Miss(t *testing.T) {
	r, _ := newReconciler()
	_, ok := r.RemoveLocal(entity.ByServerID(1))
	assert.False(t, ok)
}

func TestMutateLocal_StampsIntentSeq(t *testing.T) {
	r, _ := newReconciler()
	r.AppendLocal(entity.Counter{ServerID: 1, CorrelationID: -1, Value: 5})

	c, ok := r.MutateLocal(entity.ByServerID(1), 9, func(c *entity.Counter) { c.Value++ })
	require.True(t, ok)
	assert.Equal(t, int64(6), c.Value)
	assert.Equal(t, int64(9), c.LocalSeq)

	_, ok = r.MutateLocal(entity.ByServerID(2), 10, func(c *entity.Counter) { c.Value++ })
	assert.False(t, ok)
}
