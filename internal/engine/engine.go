package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/countersync/internal/clock"
	"github.com/roach88/countersync/internal/entity"
	"github.com/roach88/countersync/internal/journal"
	"github.com/roach88/countersync/internal/pipeline"
	"github.com/roach88/countersync/internal/reconcile"
	"github.com/roach88/countersync/internal/session"
	"github.com/roach88/countersync/internal/store"
	"github.com/roach88/countersync/internal/wire"
)

// Session is the part of session.Session the engine drives.
type Session interface {
	Subscribe(sub session.Subscriber) error
	Reset(ctx context.Context) error
	Resume(ctx context.Context, lastBatchID string) error
	SendAction(ctx context.Context, req wire.ActionRequest) error
	Acknowledge(ctx context.Context, batchID string) error
}

// Update is what observers see after each inbound message. Ignored
// messages produce an Update with Outcome.Kind EnvelopeIgnored.
type Update struct {
	Outcome reconcile.Outcome

	// Duplicate is set when the batch had been acknowledged before and was
	// only acknowledged again, not applied.
	Duplicate bool
}

// Observer is notified from the loop goroutine. It must not block and
// must not call back into the engine synchronously.
type Observer func(Update)

// DefaultStaleInterval is how often pending creates are checked for staleness.
const DefaultStaleInterval = 5 * time.Second

// Engine is the single-writer sync loop.
//
// Intents from callers and messages from the session are queued as events
// and processed one at a time in FIFO order, so an intent never interleaves
// with the application of a batch.
//
// Thread-safety model:
//   - Create, Increment, ..., Pending: safe from any goroutine
//   - Snapshot, Store: safe from any goroutine (the store has its own lock)
//   - Run: must be called from exactly one goroutine at a time
type Engine struct {
	store   *store.Store
	rec     *reconcile.Reconciler
	pipe    *pipeline.Pipeline
	journal *journal.Journal
	queue   *eventQueue
	intent  clock.Ticker
	truth   clock.Ticker
	logger  *slog.Logger

	staleInterval time.Duration
	resetOnStart  bool
	pipelineOpts  []pipeline.Option

	// Loop-only state.
	session Session
	synced  bool
	lastAck string

	mu        sync.Mutex
	observers []Observer
}

// Option configures an Engine.
type Option func(*Engine)

// WithJournal records acknowledged batches and sent actions in j.
func WithJournal(j *journal.Journal) Option {
	return func(e *Engine) {
		e.journal = j
	}
}

// WithClockAt starts both logical clocks after seq.
func WithClockAt(seq int64) Option {
	return func(e *Engine) {
		e.intent = clock.NewAt(seq)
		e.truth = clock.NewAt(seq)
	}
}

// WithClocks replaces the intent and truth clocks.
func WithClocks(intent, truth clock.Ticker) Option {
	return func(e *Engine) {
		e.intent = intent
		e.truth = truth
	}
}

// WithLogger sets the logger used by the engine and its components.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithPipelineOptions passes options through to the pipeline.
func WithPipelineOptions(opts ...pipeline.Option) Option {
	return func(e *Engine) {
		e.pipelineOpts = append(e.pipelineOpts, opts...)
	}
}

// WithStaleInterval sets how often pending creates are checked. Zero
// disables the check.
func WithStaleInterval(d time.Duration) Option {
	return func(e *Engine) {
		e.staleInterval = d
	}
}

// WithResetOnStart makes every Run start with a reset, even when a resume
// cursor is known.
func WithResetOnStart() Option {
	return func(e *Engine) {
		e.resetOnStart = true
	}
}

// New creates an Engine that owns st.
func New(st *store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:         st,
		queue:         newEventQueue(),
		intent:        clock.New(),
		truth:         clock.New(),
		logger:        slog.Default(),
		staleInterval: DefaultStaleInterval,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.rec = reconcile.New(st,
		reconcile.WithTruthClock(e.truth),
		reconcile.WithLogger(e.logger),
	)
	popts := append([]pipeline.Option{
		pipeline.WithIntentClock(e.intent),
		pipeline.WithLogger(e.logger),
	}, e.pipelineOpts...)
	e.pipe = pipeline.New(e.rec, loopSender{e}, popts...)
	return e
}

// loopSender forwards pipeline sends to the session of the current Run.
type loopSender struct {
	e *Engine
}

func (s loopSender) SendAction(ctx context.Context, req wire.ActionRequest) error {
	if s.e.session == nil {
		return fmt.Errorf("send action %s: no session", req.ActionID)
	}
	return s.e.session.SendAction(ctx, req)
}

// Observe registers fn for every inbound message.
func (e *Engine) Observe(fn Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, fn)
}

// Run drives sess until the stream breaks, ctx is cancelled or Stop is
// called. It starts with a reset, or with a resume when this engine has
// already synced and acknowledged a batch.
//
// A broken stream returns a RuntimeError with ErrCodeStreamFailed and
// leaves the engine reusable: the host may call Run again with a new
// session. Intents submitted meanwhile stay queued.
//
// ERROR HANDLING: failures while processing one event are logged and the
// loop continues.
func (e *Engine) Run(ctx context.Context, sess Session) error {
	if e.queue.Closed() {
		return ErrStopped
	}
	e.session = sess
	defer func() { e.session = nil }()

	err := sess.Subscribe(session.Subscriber{
		OnMessage: func(m *wire.ServerMessage) {
			e.queue.Enqueue(Event{Type: EventTypeMessage, Message: m})
		},
		OnTerminal: func(err error) {
			e.queue.Enqueue(Event{Type: EventTypeTerminal, Err: err})
		},
	})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	if err := e.start(ctx); err != nil {
		return NewStreamError(err)
	}

	var stale <-chan time.Time
	if e.staleInterval > 0 {
		ticker := time.NewTicker(e.staleInterval)
		defer ticker.Stop()
		stale = ticker.C
	}

	e.logger.Info("engine starting")
	for {
		event, ok := e.queue.TryDequeue()
		if ok {
			if event.Type == EventTypeTerminal {
				e.logger.Error("engine stopping: stream ended", "error", event.Err)
				return NewStreamError(event.Err)
			}
			if err := e.processEvent(ctx, event); err != nil {
				logEventError(e.logger, event, err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.queue.Close()
			e.drain()
			return ctx.Err()

		case <-stale:
			e.pipe.MarkStale()

		case <-e.queue.Wait():
			// The signal channel is closed when the queue is closed.
			if e.queue.Closed() && e.queue.Len() == 0 {
				e.logger.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue. Run returns once the queued events are processed.
func (e *Engine) Stop() {
	e.queue.Close()
}

// start sends the opening request of a Run.
func (e *Engine) start(ctx context.Context) error {
	if e.synced && !e.resetOnStart {
		if cursor := e.resumeCursor(ctx); cursor != "" {
			e.logger.Info("resuming", "after_batch", cursor)
			return e.session.Resume(ctx, cursor)
		}
	}
	e.logger.Info("requesting reset")
	return e.session.Reset(ctx)
}

func (e *Engine) resumeCursor(ctx context.Context) string {
	if e.lastAck != "" || e.journal == nil {
		return e.lastAck
	}
	last, ok, err := e.journal.LastAcknowledged(ctx)
	if err != nil {
		e.logger.Warn("resume cursor unavailable", "error", err)
		return ""
	}
	if !ok {
		return ""
	}
	return last.BatchID
}

// drain fails every queued intent after the loop stopped.
func (e *Engine) drain() {
	for {
		event, ok := e.queue.TryDequeue()
		if !ok {
			return
		}
		if event.Type == EventTypeIntent {
			event.reply <- intentReply{err: ErrStopped}
		}
	}
}

// processEvent routes an event to its handler. Called only from Run.
func (e *Engine) processEvent(ctx context.Context, event Event) error {
	switch event.Type {
	case EventTypeIntent:
		res, err := event.intent(ctx, e.pipe)
		e.recordSent(ctx, res.Sent)
		event.reply <- intentReply{result: res, err: err}
		return nil

	case EventTypeMessage:
		if event.Message == nil {
			return fmt.Errorf("message event missing message")
		}
		return e.processMessage(ctx, event.Message)

	default:
		return fmt.Errorf("unknown event type: %d", event.Type)
	}
}

// processMessage classifies, deduplicates, applies and acknowledges one
// inbound message. Called only from Run.
func (e *Engine) processMessage(ctx context.Context, msg *wire.ServerMessage) error {
	env := pipeline.Classify(msg)
	if env.Kind == reconcile.EnvelopeIgnored {
		if msg.Error != nil {
			e.logger.Warn("server error", "code", msg.Error.Code, "message", msg.Error.Message)
		} else {
			e.logger.Debug("message ignored", "kind", msg.Kind())
		}
		e.notify(Update{Outcome: reconcile.Outcome{Kind: reconcile.EnvelopeIgnored}})
		return nil
	}

	// A reset replaces the whole store, so it is applied even when its batch
	// was acknowledged by an earlier process.
	if env.BatchID != "" && env.Kind != reconcile.EnvelopeReset && e.journal != nil {
		acked, err := e.journal.IsAcknowledged(ctx, env.BatchID)
		if err != nil {
			e.logger.Warn("journal lookup failed, applying batch", "batch", env.BatchID, "error", err)
		}
		if acked {
			e.logger.Info("batch already acknowledged, skipping", "batch", env.BatchID)
			if err := e.session.Acknowledge(ctx, env.BatchID); err != nil {
				return NewAckError(env.BatchID, err)
			}
			e.lastAck = env.BatchID
			e.notify(Update{Outcome: reconcile.Outcome{Kind: env.Kind, BatchID: env.BatchID, ActionID: env.ActionID}, Duplicate: true})
			return nil
		}
	}

	out := e.rec.Apply(env)
	if out.Kind == reconcile.EnvelopeReset {
		e.synced = true
	}

	// The store is already mutated and tombstones consumed, so a failed ack
	// must not skip the follow-ups. The batch stays unjournaled and a
	// redelivery is applied again.
	var ackErr error
	if out.Acknowledge {
		if err := e.session.Acknowledge(ctx, out.BatchID); err != nil {
			ackErr = NewAckError(out.BatchID, err)
		} else {
			e.lastAck = out.BatchID
			e.recordAck(ctx, out, len(env.Events))
		}
	}

	e.recordResolutions(ctx, out)

	sent, err := e.pipe.Reconciled(ctx, out)
	e.recordSent(ctx, sent)
	if err != nil {
		e.logger.Warn("follow-up actions failed", "batch", out.BatchID, "error", err)
	}

	e.notify(Update{Outcome: out})

	if ackErr != nil {
		return ackErr
	}
	if out.Skipped > 0 {
		return NewDecodeError(out.BatchID, out.Skipped)
	}
	return nil
}

func (e *Engine) recordAck(ctx context.Context, out reconcile.Outcome, events int) {
	if e.journal == nil {
		return
	}
	_, err := e.journal.RecordAck(ctx, journal.Batch{
		BatchID:    out.BatchID,
		Seq:        out.Seq,
		Kind:       out.Kind.String(),
		EventCount: events,
	})
	if err != nil {
		e.logger.Warn("journal ack write failed", "batch", out.BatchID, "error", err)
	}
}

func (e *Engine) recordResolutions(ctx context.Context, out reconcile.Outcome) {
	if e.journal == nil {
		return
	}
	switch {
	case out.ActionID != "":
		if _, err := e.journal.ResolveAction(ctx, out.ActionID, out.Seq); err != nil {
			e.logger.Warn("journal resolve failed", "action_id", out.ActionID, "error", err)
		}
	case out.Kind == reconcile.EnvelopeActionResponse:
		for _, id := range out.Targets {
			if _, err := e.journal.ResolveOldestOn(ctx, id, out.Seq); err != nil {
				e.logger.Warn("journal resolve failed", "id", id, "error", err)
			}
		}
	}
	bindings := append(append([]reconcile.Binding(nil), out.Promoted...), out.Cancelled...)
	for _, b := range bindings {
		if _, err := e.journal.ResolveCreate(ctx, b.CorrelationID, b.ServerID, out.Seq); err != nil {
			e.logger.Warn("journal resolve failed", "correlation", b.CorrelationID, "error", err)
		}
	}
}

func (e *Engine) recordSent(ctx context.Context, sent []pipeline.Sent) {
	if e.journal == nil {
		return
	}
	for _, s := range sent {
		err := e.journal.RecordAction(ctx, journal.Action{
			ActionID:      s.ActionID,
			Kind:          s.Payload.Kind,
			CorrelationID: s.Payload.CorrelationID,
			ServerID:      s.Payload.Target,
			Seq:           s.Seq,
			IssuedAt:      s.IssuedAt,
		})
		if err != nil {
			e.logger.Warn("journal action write failed", "action_id", s.ActionID, "error", err)
		}
	}
}

func (e *Engine) notify(u Update) {
	e.mu.Lock()
	observers := append([]Observer(nil), e.observers...)
	e.mu.Unlock()
	for _, fn := range observers {
		fn(u)
	}
}

// submit runs fn inside the loop and waits for its result.
func (e *Engine) submit(ctx context.Context, fn intentFunc) (pipeline.Result, error) {
	reply := make(chan intentReply, 1)
	if !e.queue.Enqueue(Event{Type: EventTypeIntent, intent: fn, reply: reply}) {
		return pipeline.Result{}, ErrStopped
	}
	select {
	case r := <-reply:
		return r.result, r.err
	case <-ctx.Done():
		return pipeline.Result{}, ctx.Err()
	}
}

// Create adds a counter optimistically and sends a Create action.
func (e *Engine) Create(ctx context.Context, name string, value int64) (pipeline.Result, error) {
	return e.submit(ctx, func(ctx context.Context, p *pipeline.Pipeline) (pipeline.Result, error) {
		return p.Create(ctx, name, value)
	})
}

// Increment adds one to the counter addressed by ref.
func (e *Engine) Increment(ctx context.Context, ref entity.Ref) (pipeline.Result, error) {
	return e.submit(ctx, func(ctx context.Context, p *pipeline.Pipeline) (pipeline.Result, error) {
		return p.Increment(ctx, ref)
	})
}

// Decrement subtracts one from the counter addressed by ref.
func (e *Engine) Decrement(ctx context.Context, ref entity.Ref) (pipeline.Result, error) {
	return e.submit(ctx, func(ctx context.Context, p *pipeline.Pipeline) (pipeline.Result, error) {
		return p.Decrement(ctx, ref)
	})
}

// Rename renames the counter addressed by ref.
func (e *Engine) Rename(ctx context.Context, ref entity.Ref, name string) (pipeline.Result, error) {
	return e.submit(ctx, func(ctx context.Context, p *pipeline.Pipeline) (pipeline.Result, error) {
		return p.Rename(ctx, ref, name)
	})
}

// SetValue sets the value of the counter addressed by ref.
func (e *Engine) SetValue(ctx context.Context, ref entity.Ref, value int64) (pipeline.Result, error) {
	return e.submit(ctx, func(ctx context.Context, p *pipeline.Pipeline) (pipeline.Result, error) {
		return p.SetValue(ctx, ref, value)
	})
}

// Delete removes the counter addressed by ref.
func (e *Engine) Delete(ctx context.Context, ref entity.Ref) (pipeline.Result, error) {
	return e.submit(ctx, func(ctx context.Context, p *pipeline.Pipeline) (pipeline.Result, error) {
		return p.Delete(ctx, ref)
	})
}

// Pending returns the creates that are not confirmed yet.
func (e *Engine) Pending(ctx context.Context) ([]pipeline.PendingCreate, error) {
	var pending []pipeline.PendingCreate
	_, err := e.submit(ctx, func(_ context.Context, p *pipeline.Pipeline) (pipeline.Result, error) {
		pending = p.Pending()
		return pipeline.Result{}, nil
	})
	return pending, err
}

// Snapshot returns a copy of the counters in store order.
func (e *Engine) Snapshot() []entity.Counter {
	return e.store.Snapshot()
}

// Store returns the read-only store view.
func (e *Engine) Store() store.Reader {
	return e.store
}

// QueueLen returns the current number of queued events.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// logEventError logs an event processing failure with its context.
func logEventError(logger *slog.Logger, event Event, err error) {
	switch event.Type {
	case EventTypeMessage:
		env := pipeline.Classify(event.Message)
		logger.Error("message processing failed",
			"error", err,
			"kind", env.Kind.String(),
			"batch", env.BatchID,
			"events", len(env.Events),
		)
	default:
		logger.Error("event processing failed",
			"error", err,
			"event_type", event.Type.String(),
		)
	}
}
