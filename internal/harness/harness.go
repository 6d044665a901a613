package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/countersync/internal/engine"
	"github.com/roach88/countersync/internal/entity"
	"github.com/roach88/countersync/internal/pipeline"
	"github.com/roach88/countersync/internal/reconcile"
	"github.com/roach88/countersync/internal/session"
	"github.com/roach88/countersync/internal/store"
	"github.com/roach88/countersync/internal/testutil"
	"github.com/roach88/countersync/internal/wire"
)

// stepTimeout bounds every wait on the engine.
const stepTimeout = 2 * time.Second

var scenarioMetadata = session.Metadata{UserID: "scenario-user", DeviceID: "scenario-device"}

// Harness drives one engine through a scenario over an in-memory transport.
// The harness plays the server: it accepts the stream, delivers scripted
// messages and records everything the client sends.
type Harness struct {
	eng      *engine.Engine
	tr       *session.MemoryTransport
	conn     *session.MemoryConn
	sessions []*session.Session
	updates  chan engine.Update
	runErr   chan error
	ctx      context.Context
	logger   *slog.Logger
	intent   *testutil.DeterministicClock
	truth    *testutil.DeterministicClock
	result   *Result
	step     int
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh store with deterministic action IDs,
// correlation IDs and clocks, so traces are identical across runs.
//
// Execution flow:
// 1. Start the engine and record its opening request
// 2. Execute steps, recording server, intent and client events
// 3. Snapshot the store and pending creates
// 4. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	intent, truth := testutil.NewDeterministicClock(), testutil.NewDeterministicClock()
	eng := engine.New(store.New(),
		engine.WithLogger(logger),
		engine.WithClocks(intent, truth),
		engine.WithStaleInterval(0),
		engine.WithPipelineOptions(
			pipeline.WithIDGenerator(testutil.NewSequenceIDs(scenario.IDPrefix)),
			pipeline.WithCorrelationSource(testutil.NewSequenceCorrelations()),
			pipeline.WithNow(testutil.NewManualTime(time.Unix(0, 0).UTC()).Now),
		),
	)

	h := &Harness{
		eng:     eng,
		tr:      session.NewMemoryTransport(),
		updates: make(chan engine.Update, 256),
		runErr:  make(chan error, 1),
		ctx:     ctx,
		logger:  logger,
		intent:  intent,
		truth:   truth,
		result:  NewResult(),
	}
	eng.Observe(func(u engine.Update) { h.updates <- u })
	defer h.closeSessions()

	if err := h.connect(); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	for i, step := range scenario.Steps {
		h.step = i
		if err := h.executeStep(step); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	if err := h.snapshot(); err != nil {
		return nil, fmt.Errorf("failed to snapshot state: %w", err)
	}

	for _, errMsg := range EvaluateAssertions(h.result, scenario.Assertions) {
		h.result.AddError(errMsg)
	}
	return h.result, nil
}

// connect starts Run on a new session and records the opening request.
func (h *Harness) connect() error {
	sess := session.New(h.tr, scenarioMetadata, session.WithLogger(h.logger))
	h.sessions = append(h.sessions, sess)
	go func() { h.runErr <- h.eng.Run(h.ctx, sess) }()

	ctx, cancel := context.WithTimeout(h.ctx, stepTimeout)
	defer cancel()
	conn, err := h.tr.Accept(ctx)
	if err != nil {
		return fmt.Errorf("accept stream: %w", err)
	}
	h.conn = conn

	msg, err := conn.Recv(ctx)
	if err != nil {
		return fmt.Errorf("opening request: %w", err)
	}
	h.recordClient(msg)
	return nil
}

func (h *Harness) closeSessions() {
	for _, s := range h.sessions {
		s.Close()
	}
}

func (h *Harness) executeStep(step Step) error {
	switch {
	case step.Server != "":
		return h.executeServer(step)
	case step.Intent != "":
		return h.executeIntent(step)
	case step.Reconnect:
		return h.executeReconnect()
	default:
		return errors.New("empty step")
	}
}

// executeServer delivers one message and waits until the engine has
// processed it. Acknowledgements and follow-up actions are sent before the
// engine notifies observers, so draining afterwards is deterministic.
func (h *Harness) executeServer(step Step) error {
	msg, err := buildServerMessage(step)
	if err != nil {
		return err
	}
	if err := h.conn.Send(msg); err != nil {
		return fmt.Errorf("deliver %s: %w", step.Server, err)
	}

	var u engine.Update
	select {
	case u = <-h.updates:
	case <-time.After(stepTimeout):
		return fmt.Errorf("timed out waiting for %s to be processed", step.Server)
	}

	h.result.AddTrace(TraceEvent{
		Step:      h.step,
		Direction: DirServer,
		Kind:      step.Server,
		BatchID:   step.Batch,
		ActionID:  step.ActionID,
		Outcome:   summarize(u),
	})
	h.drainClient()
	return nil
}

func (h *Harness) executeIntent(step Step) error {
	kind, err := entity.ParseActionKind(step.Intent)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(h.ctx, stepTimeout)
	defer cancel()

	ref := step.Ref.Ref()
	var res pipeline.Result
	switch kind {
	case entity.ActionCreate:
		res, err = h.eng.Create(ctx, step.Name, step.Value)
	case entity.ActionIncrement:
		res, err = h.eng.Increment(ctx, ref)
	case entity.ActionDecrement:
		res, err = h.eng.Decrement(ctx, ref)
	case entity.ActionRename:
		res, err = h.eng.Rename(ctx, ref, step.Name)
	case entity.ActionSetValue:
		res, err = h.eng.SetValue(ctx, ref, step.Value)
	case entity.ActionDelete:
		res, err = h.eng.Delete(ctx, ref)
	}

	ev := TraceEvent{
		Step:        h.step,
		Direction:   DirIntent,
		Kind:        step.Intent,
		Target:      int64(res.Counter.ServerID),
		Correlation: int64(res.Counter.CorrelationID),
		Name:        res.Counter.Name,
		Value:       res.Counter.Value,
		Deferred:    res.Deferred,
	}

	switch {
	case errors.Is(err, pipeline.ErrUnknownEntity):
		ev.Error = ExpectUnknownEntity
	case err != nil:
		return fmt.Errorf("%s: %w", step.Intent, err)
	}
	if step.ExpectError != ev.Error {
		h.result.AddError(fmt.Sprintf("step %d: %s: expected error %q, got %q", h.step, step.Intent, step.ExpectError, ev.Error))
	}

	h.result.AddTrace(ev)
	h.drainClient()
	return nil
}

// executeReconnect ends the stream from the server side and reconnects.
func (h *Harness) executeReconnect() error {
	h.conn.Fail(nil)
	select {
	case err := <-h.runErr:
		if !engine.IsStreamError(err) {
			return fmt.Errorf("engine stopped with %v, want a stream error", err)
		}
	case <-time.After(stepTimeout):
		return errors.New("timed out waiting for the engine to see the disconnect")
	}
	h.result.AddTrace(TraceEvent{Step: h.step, Direction: DirLink, Kind: "disconnect"})
	return h.connect()
}

// drainClient records every client message already sent.
func (h *Harness) drainClient() {
	done, cancel := context.WithCancel(context.Background())
	cancel()
	for {
		msg, err := h.conn.Recv(done)
		if err != nil {
			return
		}
		h.recordClient(msg)
	}
}

func (h *Harness) recordClient(msg *wire.ClientMessage) {
	ev := TraceEvent{Step: h.step, Direction: DirClient, Kind: msg.Kind()}
	switch {
	case msg.ResumeRequest != nil:
		ev.BatchID = msg.ResumeRequest.LastProcessedEntityEventBatchID
	case msg.EntityEventAcknowledgement != nil:
		ev.BatchID = msg.EntityEventAcknowledgement.BatchID
	case msg.ActionRequest != nil:
		ev.ActionID = msg.ActionRequest.ActionID
		p, err := wire.DecodeAction(msg.ActionRequest.Content)
		if err != nil {
			h.result.AddError(fmt.Sprintf("step %d: undecodable action %s: %v", h.step, ev.ActionID, err))
			break
		}
		ev.Kind = p.Kind.String()
		ev.Target = int64(p.Target)
		ev.Correlation = int64(p.CorrelationID)
		ev.Name = p.Name
		ev.Value = p.Value
	}
	h.result.AddTrace(ev)
}

func (h *Harness) snapshot() error {
	for _, c := range h.eng.Snapshot() {
		h.result.State = append(h.result.State, CounterState{
			ID:          int64(c.ServerID),
			Correlation: int64(c.CorrelationID),
			Name:        c.Name,
			Value:       c.Value,
		})
	}

	ctx, cancel := context.WithTimeout(h.ctx, stepTimeout)
	defer cancel()
	pending, err := h.eng.Pending(ctx)
	if err != nil {
		return err
	}
	h.result.Pending = len(pending)
	h.result.IntentTicks = h.intent.Ticks()
	h.result.TruthTicks = h.truth.Ticks()
	return nil
}

func summarize(u engine.Update) *OutcomeSummary {
	out := u.Outcome
	if out.Kind == reconcile.EnvelopeIgnored {
		return nil
	}
	return &OutcomeSummary{
		Applied:   out.Applied,
		Missed:    out.Missed,
		Skipped:   out.Skipped,
		Ignored:   out.Ignored,
		Promoted:  len(out.Promoted),
		Cancelled: len(out.Cancelled),
		Duplicate: u.Duplicate,
	}
}

// buildServerMessage converts a server step to its wire message.
func buildServerMessage(step Step) (*wire.ServerMessage, error) {
	events := make([]wire.EntityEvent, 0, len(step.Events))
	for i, spec := range step.Events {
		ev, err := buildEvent(spec)
		if err != nil {
			return nil, fmt.Errorf("events[%d]: %w", i, err)
		}
		events = append(events, ev)
	}

	switch step.Server {
	case ServerResetResponse:
		return wire.NewResetResponse(step.Batch, events...), nil
	case ServerNotification:
		return wire.NewNotification(step.Batch, events...), nil
	case ServerActionResponse:
		return wire.NewActionResponse(step.ActionID, step.Batch, events...), nil
	case ServerAckResponse:
		return &wire.ServerMessage{EntityEventAcknowledgementResponse: &wire.EntityEventAcknowledgementResponse{BatchID: step.Batch}}, nil
	case ServerError:
		return &wire.ServerMessage{Error: &wire.ErrorResponse{Code: step.Code, Message: step.Message}}, nil
	case ServerEmpty:
		return &wire.ServerMessage{}, nil
	default:
		return nil, fmt.Errorf("unknown server message %q", step.Server)
	}
}

func buildEvent(spec EventSpec) (wire.EntityEvent, error) {
	id := entity.ServerID(spec.ID)
	fields := entity.Fields{Name: spec.Name, Value: spec.Value}

	var ev wire.EntityEvent
	switch spec.Op {
	case OpCreate:
		ev = wire.CreateEvent(id, entity.CorrelationID(spec.Correlation), fields)
	case OpUpdate:
		ev = wire.UpdateEvent(id, fields)
	case OpDelete:
		ev = wire.DeleteEvent(id)
	case OpEmpty:
		ev = wire.DeleteEvent(id)
		ev.Delete = nil
	default:
		return wire.EntityEvent{}, fmt.Errorf("unknown op %q", spec.Op)
	}

	if spec.TypeID != "" {
		ev.EntityMetadata.TypeID = spec.TypeID
	}
	if spec.Corrupt {
		body := &wire.Any{TypeURL: wire.TypeCounterBody, Value: []byte{0xff, 0xff}}
		switch {
		case ev.Create != nil:
			ev.Create.Body = body
		case ev.Update != nil:
			ev.Update.Body = body
		}
	}
	return ev, nil
}
