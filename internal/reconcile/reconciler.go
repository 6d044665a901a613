package reconcile

import (
	"log/slog"

	"github.com/roach88/countersync/internal/clock"
	"github.com/roach88/countersync/internal/entity"
	"github.com/roach88/countersync/internal/store"
	"github.com/roach88/countersync/internal/wire"
)

// Reconciler applies envelopes to the store it owns.
//
// Thread-safety: not safe for concurrent use. The engine calls it from its
// single event loop goroutine.
type Reconciler struct {
	store  *store.Store
	truth  clock.Ticker
	logger *slog.Logger

	// tombstones holds correlation IDs of counters deleted locally before
	// the server confirmed them.
	tombstones map[entity.CorrelationID]struct{}
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithTruthClock sets the clock that stamps server writes.
func WithTruthClock(c clock.Ticker) Option {
	return func(r *Reconciler) {
		r.truth = c
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = l
	}
}

// New creates a Reconciler that owns st.
func New(st *store.Store, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:      st,
		truth:      clock.New(),
		logger:     slog.Default(),
		tombstones: make(map[entity.CorrelationID]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Store returns the read-only view of the owned store.
func (r *Reconciler) Store() store.Reader {
	return r.store
}

// Apply merges one envelope into the store.
func (r *Reconciler) Apply(env Envelope) Outcome {
	out := Outcome{
		Kind:     env.Kind,
		BatchID:  env.BatchID,
		ActionID: env.ActionID,
	}

	switch env.Kind {
	case EnvelopeReset:
		out.Seq = r.truth.Next()
		r.applyReset(env, &out)
	case EnvelopeNotification:
		out.Seq = r.truth.Next()
		for _, ev := range env.Events {
			r.applyEvent(ev, r.applyNotificationCreate, &out)
		}
	case EnvelopeActionResponse:
		out.Seq = r.truth.Next()
		for _, ev := range env.Events {
			r.applyEvent(ev, r.applyActionCreate, &out)
		}
	default:
		return out
	}

	out.Acknowledge = env.BatchID != ""
	r.logger.Debug("envelope applied",
		"kind", env.Kind.String(),
		"batch", env.BatchID,
		"seq", out.Seq,
		"applied", out.Applied,
		"missed", out.Missed,
		"skipped", out.Skipped,
		"ignored", out.Ignored,
	)
	return out
}

type createHandler func(id entity.ServerID, c Create, out *Outcome)

// applyEvent dispatches one event to its handler.
func (r *Reconciler) applyEvent(ev Event, onCreate createHandler, out *Outcome) {
	switch c := ev.Content.(type) {
	case Create:
		onCreate(ev.ServerID, c, out)
	case Update:
		r.applyUpdate(ev, c, out)
	case Delete:
		r.applyDelete(ev.ServerID, out)
	case None, nil:
		out.Ignored++
	default:
		out.Ignored++
	}
}

// applyReset installs every snapshot record that has a decodable body.
func (r *Reconciler) applyReset(env Envelope, out *Outcome) {
	counters := make([]entity.Counter, 0, len(env.Events))
	for _, ev := range env.Events {
		c, ok := ev.Content.(Create)
		if !ok {
			out.Ignored++
			continue
		}
		if c.Body == nil {
			out.Skipped++
			continue
		}
		f, err := wire.DecodeCounterBody(c.Body)
		if err != nil {
			r.logger.Debug("snapshot record skipped", "id", ev.ServerID, "error", err)
			out.Skipped++
			continue
		}
		if r.consumeTombstone(c.CorrelationID) {
			out.Cancelled = append(out.Cancelled, Binding{CorrelationID: c.CorrelationID, ServerID: ev.ServerID})
			continue
		}
		counters = append(counters, entity.Counter{
			ServerID:      ev.ServerID,
			CorrelationID: c.CorrelationID,
			Name:          f.Name,
			Value:         f.Value,
			ServerSeq:     out.Seq,
		})
	}
	r.store.ReplaceAll(counters)
	out.Installed = len(counters)
	out.Applied = len(counters)
}

// applyNotificationCreate appends a counter created elsewhere.
func (r *Reconciler) applyNotificationCreate(id entity.ServerID, c Create, out *Outcome) {
	f, ok := r.decodeBody(id, c.Body, out)
	if !ok {
		return
	}
	if r.consumeTombstone(c.CorrelationID) {
		out.Cancelled = append(out.Cancelled, Binding{CorrelationID: c.CorrelationID, ServerID: id})
		return
	}
	r.store.Append(entity.Counter{
		ServerID:      id,
		CorrelationID: c.CorrelationID,
		Name:          f.Name,
		Value:         f.Value,
		ServerSeq:     out.Seq,
	})
	out.Applied++
}

// applyActionCreate promotes the optimistic counter created under the
// event's correlation ID.
func (r *Reconciler) applyActionCreate(id entity.ServerID, c Create, out *Outcome) {
	f, ok := r.decodeBody(id, c.Body, out)
	if !ok {
		return
	}
	if r.consumeTombstone(c.CorrelationID) {
		out.Cancelled = append(out.Cancelled, Binding{CorrelationID: c.CorrelationID, ServerID: id})
		return
	}
	if !r.store.UpsertByCorrelationID(c.CorrelationID, id, f, out.Seq) {
		r.logger.Debug("create confirmation missed", "id", id, "correlation", c.CorrelationID)
		out.Missed++
		return
	}
	out.Promoted = append(out.Promoted, Binding{CorrelationID: c.CorrelationID, ServerID: id})
	out.Applied++
}

// applyUpdate overwrites a counter with server truth. Only counter bodies
// are understood; other entity types are ignored.
func (r *Reconciler) applyUpdate(ev Event, u Update, out *Outcome) {
	if wire.NormalizeTypeID(ev.TypeID) != wire.TypeCounterBody {
		out.Ignored++
		return
	}
	out.addTarget(ev.ServerID)
	f, ok := r.decodeBody(ev.ServerID, u.Body, out)
	if !ok {
		return
	}
	if !r.store.UpsertByServerID(ev.ServerID, f, out.Seq) {
		r.logger.Debug("update missed", "id", ev.ServerID)
		out.Missed++
		return
	}
	out.Applied++
}

func (r *Reconciler) applyDelete(id entity.ServerID, out *Outcome) {
	out.addTarget(id)
	if !r.store.Remove(id) {
		r.logger.Debug("delete missed", "id", id)
		out.Missed++
		return
	}
	out.Applied++
}

func (r *Reconciler) decodeBody(id entity.ServerID, body *wire.Any, out *Outcome) (entity.Fields, bool) {
	f, err := wire.DecodeCounterBody(body)
	if err != nil {
		r.logger.Debug("event skipped", "id", id, "error", err)
		out.Skipped++
		return entity.Fields{}, false
	}
	return f, true
}

func (r *Reconciler) consumeTombstone(corr entity.CorrelationID) bool {
	if !corr.Valid() {
		return false
	}
	if _, ok := r.tombstones[corr]; !ok {
		return false
	}
	delete(r.tombstones, corr)
	return true
}

// AppendLocal inserts an optimistic counter.
func (r *Reconciler) AppendLocal(c entity.Counter) {
	r.store.Append(c)
}

// MutateLocal applies an optimistic change and returns the result.
func (r *Reconciler) MutateLocal(ref entity.Ref, seq int64, fn func(*entity.Counter)) (entity.Counter, bool) {
	ok := r.store.Mutate(ref, func(c *entity.Counter) {
		fn(c)
		c.LocalSeq = seq
	})
	if !ok {
		return entity.Counter{}, false
	}
	return r.store.Get(ref)
}

// RemoveLocal deletes a counter on user intent. Removing an unconfirmed
// counter tombstones its correlation ID so a later confirmation is reported
// as Cancelled instead of resurrecting it.
func (r *Reconciler) RemoveLocal(ref entity.Ref) (entity.Counter, bool) {
	c, ok := r.store.Get(ref)
	if !ok {
		return entity.Counter{}, false
	}
	if c.Confirmed() {
		r.store.Remove(c.ServerID)
		return c, true
	}
	r.store.RemoveByCorrelationID(c.CorrelationID)
	r.tombstones[c.CorrelationID] = struct{}{}
	return c, true
}

// Tombstoned reports whether corr was deleted before confirmation and the
// confirmation has not arrived yet.
func (r *Reconciler) Tombstoned(corr entity.CorrelationID) bool {
	_, ok := r.tombstones[corr]
	return ok
}
