package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/countersync/internal/clock"
	"github.com/roach88/countersync/internal/entity"
	"github.com/roach88/countersync/internal/reconcile"
	"github.com/roach88/countersync/internal/wire"
)

// ErrUnknownEntity is returned when an intent addresses a counter that is
// not in the store.
var ErrUnknownEntity = errors.New("unknown entity")

// DefaultPendingTimeout is how long a create may stay unconfirmed before it
// is reported stale.
const DefaultPendingTimeout = 30 * time.Second

// ActionSender hands an action request to the transport. Implementations
// must not block on the server's response.
type ActionSender interface {
	SendAction(ctx context.Context, req wire.ActionRequest) error
}

// Sent describes one action handed to the sender.
type Sent struct {
	ActionID string
	Payload  wire.ActionPayload
	Seq      int64
	IssuedAt time.Time
}

// Result is what an intent did locally and on the wire.
type Result struct {
	// Counter is the counter after the optimistic write. For a delete it is
	// the counter that was removed.
	Counter entity.Counter

	// Sent lists the actions handed to the sender. It is empty when the
	// action was deferred or suppressed.
	Sent []Sent

	// Deferred is set when the action waits for the create to be confirmed.
	Deferred bool
}

// PendingCreate is a create that has not been confirmed yet.
type PendingCreate struct {
	ActionID      string
	CorrelationID entity.CorrelationID
	Name          string
	Seq           int64
	IssuedAt      time.Time
	Stale         bool
}

// Pipeline applies intents optimistically and forwards them to the sender.
//
// Thread-safety: not safe for concurrent use. The engine calls it from its
// event loop, the same goroutine that applies envelopes.
type Pipeline struct {
	rec     *reconcile.Reconciler
	sender  ActionSender
	ids     IDGenerator
	corr    CorrelationSource
	intent  clock.Ticker
	now     func() time.Time
	timeout time.Duration
	logger  *slog.Logger

	pending  []PendingCreate
	deferred map[entity.CorrelationID][]wire.ActionPayload
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithIDGenerator sets the action ID generator. Defaults to UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(p *Pipeline) {
		p.ids = g
	}
}

// WithCorrelationSource sets the correlation ID source. Defaults to
// MillisCorrelationSource on the pipeline's clock.
func WithCorrelationSource(s CorrelationSource) Option {
	return func(p *Pipeline) {
		p.corr = s
	}
}

// WithIntentClock sets the clock that stamps optimistic writes.
func WithIntentClock(c clock.Ticker) Option {
	return func(p *Pipeline) {
		p.intent = c
	}
}

// WithNow sets the wall clock used for pending timestamps.
func WithNow(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// WithPendingTimeout sets how long a create may stay unconfirmed.
func WithPendingTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		p.timeout = d
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// New creates a Pipeline writing through rec and sending through sender.
func New(rec *reconcile.Reconciler, sender ActionSender, opts ...Option) *Pipeline {
	p := &Pipeline{
		rec:      rec,
		sender:   sender,
		ids:      UUIDv7Generator{},
		intent:   clock.New(),
		now:      time.Now,
		timeout:  DefaultPendingTimeout,
		logger:   slog.Default(),
		deferred: make(map[entity.CorrelationID][]wire.ActionPayload),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.corr == nil {
		p.corr = NewMillisCorrelationSource(p.now)
	}
	return p
}

// NormalizeName trims surrounding space and converts a counter name to NFC.
func NormalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// Create appends an optimistic counter and sends a Create action carrying
// a fresh correlation ID.
func (p *Pipeline) Create(ctx context.Context, name string, value int64) (Result, error) {
	c := entity.Counter{
		CorrelationID: p.corr.Next(),
		Name:          NormalizeName(name),
		Value:         value,
		LocalSeq:      p.intent.Next(),
	}
	p.rec.AppendLocal(c)

	payload := wire.ActionPayload{
		Kind:          entity.ActionCreate,
		CorrelationID: c.CorrelationID,
		Name:          c.Name,
		Value:         c.Value,
	}
	sent, err := p.send(ctx, payload, c.LocalSeq)
	res := Result{Counter: c}
	if sent != nil {
		res.Sent = []Sent{*sent}
		p.pending = append(p.pending, PendingCreate{
			ActionID:      sent.ActionID,
			CorrelationID: c.CorrelationID,
			Name:          c.Name,
			Seq:           c.LocalSeq,
			IssuedAt:      sent.IssuedAt,
		})
	}
	return res, err
}

// Increment adds one to the counter's value.
func (p *Pipeline) Increment(ctx context.Context, ref entity.Ref) (Result, error) {
	return p.mutate(ctx, ref, wire.ActionPayload{Kind: entity.ActionIncrement}, func(c *entity.Counter) {
		c.Value++
	})
}

// Decrement subtracts one from the counter's value.
func (p *Pipeline) Decrement(ctx context.Context, ref entity.Ref) (Result, error) {
	return p.mutate(ctx, ref, wire.ActionPayload{Kind: entity.ActionDecrement}, func(c *entity.Counter) {
		c.Value--
	})
}

// Rename replaces the counter's name.
func (p *Pipeline) Rename(ctx context.Context, ref entity.Ref, name string) (Result, error) {
	name = NormalizeName(name)
	return p.mutate(ctx, ref, wire.ActionPayload{Kind: entity.ActionRename, Name: name}, func(c *entity.Counter) {
		c.Name = name
	})
}

// SetValue replaces the counter's value.
func (p *Pipeline) SetValue(ctx context.Context, ref entity.Ref, value int64) (Result, error) {
	return p.mutate(ctx, ref, wire.ActionPayload{Kind: entity.ActionSetValue, Value: value}, func(c *entity.Counter) {
		c.Value = value
	})
}

func (p *Pipeline) mutate(ctx context.Context, ref entity.Ref, payload wire.ActionPayload, fn func(*entity.Counter)) (Result, error) {
	seq := p.intent.Next()
	c, ok := p.rec.MutateLocal(ref, seq, fn)
	if !ok {
		return Result{}, fmt.Errorf("%s %s: %w", payload.Kind, ref, ErrUnknownEntity)
	}
	if !c.Confirmed() {
		p.deferred[c.CorrelationID] = append(p.deferred[c.CorrelationID], payload)
		p.logger.Debug("action deferred until create is confirmed",
			"kind", payload.Kind.String(),
			"correlation", c.CorrelationID,
		)
		return Result{Counter: c, Deferred: true}, nil
	}

	payload.Target = c.ServerID
	res := Result{Counter: c}
	sent, err := p.send(ctx, payload, seq)
	if sent != nil {
		res.Sent = []Sent{*sent}
	}
	return res, err
}

// Delete removes the counter locally. A confirmed counter gets a Delete
// action; an unconfirmed one is cancelled and its deferred actions dropped.
func (p *Pipeline) Delete(ctx context.Context, ref entity.Ref) (Result, error) {
	seq := p.intent.Next()
	c, ok := p.rec.RemoveLocal(ref)
	if !ok {
		return Result{}, fmt.Errorf("%s %s: %w", entity.ActionDelete, ref, ErrUnknownEntity)
	}
	if !c.Confirmed() {
		delete(p.deferred, c.CorrelationID)
		p.resolvePending(c.CorrelationID)
		p.logger.Info("unconfirmed counter deleted, delete deferred to confirmation",
			"correlation", c.CorrelationID,
		)
		return Result{Counter: c, Deferred: true}, nil
	}

	res := Result{Counter: c}
	sent, err := p.send(ctx, wire.ActionPayload{Kind: entity.ActionDelete, Target: c.ServerID}, seq)
	if sent != nil {
		res.Sent = []Sent{*sent}
	}
	return res, err
}

// Reconciled reacts to an applied envelope: flushes deferred actions of
// promoted creates, deletes cancelled ones on the server and, after a reset,
// settles pending creates against the new snapshot.
func (p *Pipeline) Reconciled(ctx context.Context, out reconcile.Outcome) ([]Sent, error) {
	var (
		sent []Sent
		errs []error
	)

	for _, b := range out.Promoted {
		p.resolvePending(b.CorrelationID)
		s, err := p.flushDeferred(ctx, b)
		sent = append(sent, s...)
		errs = append(errs, err)
	}

	for _, b := range out.Cancelled {
		p.resolvePending(b.CorrelationID)
		delete(p.deferred, b.CorrelationID)
		p.logger.Info("deleting cancelled create", "id", b.ServerID, "correlation", b.CorrelationID)
		s, err := p.send(ctx, wire.ActionPayload{Kind: entity.ActionDelete, Target: b.ServerID}, p.intent.Next())
		if s != nil {
			sent = append(sent, *s)
		}
		errs = append(errs, err)
	}

	if out.Kind == reconcile.EnvelopeReset {
		s, err := p.settleAfterReset(ctx)
		sent = append(sent, s...)
		errs = append(errs, err)
	}

	return sent, errors.Join(errs...)
}

// settleAfterReset resolves pending creates the snapshot already contains
// and drops the ones it discarded.
func (p *Pipeline) settleAfterReset(ctx context.Context) ([]Sent, error) {
	var (
		sent []Sent
		errs []error
	)
	kept := p.pending[:0]
	for _, pc := range p.pending {
		c, ok := p.rec.Store().Get(entity.ByCorrelationID(pc.CorrelationID))
		switch {
		case ok && c.Confirmed():
			s, err := p.flushDeferred(ctx, reconcile.Binding{CorrelationID: pc.CorrelationID, ServerID: c.ServerID})
			sent = append(sent, s...)
			errs = append(errs, err)
		case ok:
			kept = append(kept, pc)
		default:
			if n := len(p.deferred[pc.CorrelationID]); n > 0 {
				p.logger.Info("reset dropped deferred actions", "correlation", pc.CorrelationID, "count", n)
			}
			delete(p.deferred, pc.CorrelationID)
		}
	}
	p.pending = kept
	return sent, errors.Join(errs...)
}

func (p *Pipeline) flushDeferred(ctx context.Context, b reconcile.Binding) ([]Sent, error) {
	queued := p.deferred[b.CorrelationID]
	delete(p.deferred, b.CorrelationID)

	var (
		sent []Sent
		errs []error
	)
	for _, payload := range queued {
		payload.Target = b.ServerID
		s, err := p.send(ctx, payload, p.intent.Next())
		if s != nil {
			sent = append(sent, *s)
		}
		errs = append(errs, err)
	}
	return sent, errors.Join(errs...)
}

func (p *Pipeline) resolvePending(corr entity.CorrelationID) {
	for i, pc := range p.pending {
		if pc.CorrelationID == corr {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			return
		}
	}
}

// send encodes and hands one action to the sender. The returned Sent is nil
// only when the payload could not be encoded.
func (p *Pipeline) send(ctx context.Context, payload wire.ActionPayload, seq int64) (*Sent, error) {
	actionID := p.ids.Generate()
	req, err := wire.NewActionRequest(actionID, payload)
	if err != nil {
		return nil, err
	}
	s := &Sent{ActionID: actionID, Payload: payload, Seq: seq, IssuedAt: p.now()}
	if err := p.sender.SendAction(ctx, req); err != nil {
		return s, fmt.Errorf("send %s action %s: %w", payload.Kind, actionID, err)
	}
	p.logger.Debug("action sent", "kind", payload.Kind.String(), "action_id", actionID, "seq", seq)
	return s, nil
}

// Pending returns the unconfirmed creates in issue order.
func (p *Pipeline) Pending() []PendingCreate {
	out := make([]PendingCreate, len(p.pending))
	copy(out, p.pending)
	return out
}

// DeferredCount returns the number of actions waiting for a confirmation.
func (p *Pipeline) DeferredCount() int {
	n := 0
	for _, q := range p.deferred {
		n += len(q)
	}
	return n
}

// MarkStale flags creates that have been pending longer than the timeout
// and returns the ones that became stale on this call. Stale creates stay
// in the store and are not retried.
func (p *Pipeline) MarkStale() []PendingCreate {
	if p.timeout <= 0 {
		return nil
	}
	now := p.now()
	var fresh []PendingCreate
	for i := range p.pending {
		pc := &p.pending[i]
		if pc.Stale || now.Sub(pc.IssuedAt) < p.timeout {
			continue
		}
		pc.Stale = true
		fresh = append(fresh, *pc)
		p.logger.Warn("create still unconfirmed",
			"action_id", pc.ActionID,
			"correlation", pc.CorrelationID,
			"name", pc.Name,
			"age", now.Sub(pc.IssuedAt).String(),
		)
	}
	return fresh
}
