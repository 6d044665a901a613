package reconcile

import (
	"fmt"
	"slices"

	"github.com/roach88/countersync/internal/entity"
	"github.com/roach88/countersync/internal/wire"
)

// EnvelopeKind classifies an inbound envelope.
type EnvelopeKind int

const (
	// EnvelopeIgnored covers every server message that does not mutate the store.
	EnvelopeIgnored EnvelopeKind = iota
	EnvelopeReset
	EnvelopeNotification
	EnvelopeActionResponse
)

func (k EnvelopeKind) String() string {
	switch k {
	case EnvelopeReset:
		return "reset"
	case EnvelopeNotification:
		return "notification"
	case EnvelopeActionResponse:
		return "action_response"
	case EnvelopeIgnored:
		return "ignored"
	default:
		return fmt.Sprintf("envelope_kind(%d)", int(k))
	}
}

// Envelope is the typed form of one inbound server message.
type Envelope struct {
	Kind     EnvelopeKind
	BatchID  string
	ActionID string
	Events   []Event
}

// Event is one entity change inside an envelope.
type Event struct {
	ServerID entity.ServerID
	TypeID   string
	Content  Content
}

// Content is the sum of Create, Update, Delete and None.
type Content interface {
	isContent()
}

// Create announces an entity. CorrelationID is the creating device's ID.
type Create struct {
	CorrelationID entity.CorrelationID
	Body          *wire.Any
}

// Update replaces an entity's body.
type Update struct {
	Body *wire.Any
}

// Delete removes an entity.
type Delete struct{}

// None is an event without content.
type None struct{}

func (Create) isContent() {}
func (Update) isContent() {}
func (Delete) isContent() {}
func (None) isContent()   {}

// Binding pairs a correlation ID with the server ID the server assigned.
type Binding struct {
	CorrelationID entity.CorrelationID
	ServerID      entity.ServerID
}

// Outcome summarizes what Apply did with one envelope.
type Outcome struct {
	Kind     EnvelopeKind
	BatchID  string
	ActionID string

	// Seq is the truth clock reading stamped on every write of this envelope.
	Seq int64

	// Acknowledge is set when the batch must be acknowledged to the server.
	Acknowledge bool

	Applied int
	Missed  int
	Skipped int
	Ignored int

	// Installed counts counters installed by a reset.
	Installed int

	// Promoted lists optimistic counters bound to their server identity.
	Promoted []Binding

	// Cancelled lists confirmed creates for counters deleted locally before
	// confirmation. They were not added to the store.
	Cancelled []Binding

	// Targets lists the server IDs addressed by counter Update and Delete
	// events, in batch order, including misses.
	Targets []entity.ServerID
}

func (o *Outcome) addTarget(id entity.ServerID) {
	if !slices.Contains(o.Targets, id) {
		o.Targets = append(o.Targets, id)
	}
}
