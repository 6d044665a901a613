package harness

import "github.com/roach88/countersync/internal/wire"

// Trace event directions.
const (
	DirServer = "server" // message delivered to the client
	DirClient = "client" // message the client sent
	DirIntent = "intent" // local intent submitted to the engine
	DirLink   = "link"   // stream lifecycle (disconnect)
)

// TraceEvent is one observable step of a scenario run.
type TraceEvent struct {
	Step      int    `json:"step"`
	Direction string `json:"direction"`
	Kind      string `json:"kind"`

	BatchID     string `json:"batch_id,omitempty"`
	ActionID    string `json:"action_id,omitempty"`
	Target      int64  `json:"target,omitempty"`
	Correlation int64  `json:"correlation,omitempty"`
	Name        string `json:"name,omitempty"`
	Value       int64  `json:"value,omitempty"`

	// Set on server events.
	Outcome *OutcomeSummary `json:"outcome,omitempty"`

	// Set on intent events.
	Deferred bool   `json:"deferred,omitempty"`
	Error    string `json:"error,omitempty"`
}

// OutcomeSummary condenses reconcile.Outcome for traces.
type OutcomeSummary struct {
	Applied   int  `json:"applied,omitempty"`
	Missed    int  `json:"missed,omitempty"`
	Skipped   int  `json:"skipped,omitempty"`
	Ignored   int  `json:"ignored,omitempty"`
	Promoted  int  `json:"promoted,omitempty"`
	Cancelled int  `json:"cancelled,omitempty"`
	Duplicate bool `json:"duplicate,omitempty"`
}

// CounterState is one counter in the final store snapshot.
type CounterState struct {
	ID          int64  `json:"id" yaml:"id"`
	Correlation int64  `json:"correlation,omitempty" yaml:"correlation,omitempty"`
	Name        string `json:"name" yaml:"name"`
	Value       int64  `json:"value" yaml:"value"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace lists every event in the order it was observed.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failure messages.
	Errors []string `json:"errors,omitempty"`

	// State is the store snapshot after the last step.
	State []CounterState `json:"state"`

	// Pending is the number of unconfirmed creates after the last step.
	Pending int `json:"pending"`

	// IntentTicks and TruthTicks count the local intent writes and the
	// applied envelopes stamped by the two logical clocks.
	IntentTicks int64 `json:"intent_ticks"`
	TruthTicks  int64 `json:"truth_ticks"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  []CounterState{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends ev to the trace.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}

// Sent returns the client action events in order.
func (r *Result) Sent() []TraceEvent {
	var out []TraceEvent
	for _, ev := range r.Trace {
		if ev.Direction == DirClient && ev.ActionID != "" {
			out = append(out, ev)
		}
	}
	return out
}

// Acked returns the acknowledged batch IDs in order.
func (r *Result) Acked() []string {
	var out []string
	for _, ev := range r.Trace {
		if ev.Direction == DirClient && ev.Kind == wire.KindAcknowledge {
			out = append(out, ev.BatchID)
		}
	}
	return out
}
