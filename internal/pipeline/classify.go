package pipeline

import (
	"github.com/roach88/countersync/internal/entity"
	"github.com/roach88/countersync/internal/reconcile"
	"github.com/roach88/countersync/internal/wire"
)

// Classify converts an inbound server message into a reconciler envelope.
// Messages that never mutate the store, such as acknowledgement
// confirmations and errors, classify as EnvelopeIgnored.
func Classify(msg *wire.ServerMessage) reconcile.Envelope {
	switch msg.Kind() {
	case wire.KindResetResponse:
		return fromBatch(reconcile.EnvelopeReset, "", msg.ResetResponse.EntityEvents)
	case wire.KindNotification:
		return fromBatch(reconcile.EnvelopeNotification, "", msg.EntityEventNotification.EntityEvents)
	case wire.KindActionResponse:
		return fromBatch(reconcile.EnvelopeActionResponse, msg.ActionResponse.ActionID, msg.ActionResponse.EntityEvents)
	default:
		return reconcile.Envelope{Kind: reconcile.EnvelopeIgnored}
	}
}

func fromBatch(kind reconcile.EnvelopeKind, actionID string, batch wire.EntityEventBatch) reconcile.Envelope {
	env := reconcile.Envelope{
		Kind:     kind,
		BatchID:  batch.BatchID,
		ActionID: actionID,
		Events:   make([]reconcile.Event, 0, len(batch.EntityEvents)),
	}
	for _, ev := range batch.EntityEvents {
		env.Events = append(env.Events, fromWireEvent(ev))
	}
	return env
}

func fromWireEvent(ev wire.EntityEvent) reconcile.Event {
	out := reconcile.Event{
		ServerID: entity.ServerID(ev.EntityMetadata.EntityMetadata.ID),
		TypeID:   ev.EntityMetadata.TypeID,
	}
	switch {
	case ev.Create != nil:
		out.Content = reconcile.Create{
			CorrelationID: entity.CorrelationID(ev.Create.ClientSideID),
			Body:          ev.Create.Body,
		}
	case ev.Update != nil:
		out.Content = reconcile.Update{Body: ev.Update.Body}
	case ev.Delete != nil:
		out.Content = reconcile.Delete{}
	default:
		out.Content = reconcile.None{}
	}
	return out
}
