package wire

import "github.com/roach88/countersync/internal/entity"

// CreateEvent builds a create event for a counter.
func CreateEvent(id entity.ServerID, corr entity.CorrelationID, f entity.Fields) EntityEvent {
	return EntityEvent{
		EntityMetadata: counterMetadata(id),
		Create:         &CreateContent{ClientSideID: int64(corr), Body: EncodeCounterBody(f)},
	}
}

// UpdateEvent builds an update event for a counter.
func UpdateEvent(id entity.ServerID, f entity.Fields) EntityEvent {
	return EntityEvent{
		EntityMetadata: counterMetadata(id),
		Update:         &UpdateContent{Body: EncodeCounterBody(f)},
	}
}

// DeleteEvent builds a delete event for a counter.
func DeleteEvent(id entity.ServerID) EntityEvent {
	return EntityEvent{
		EntityMetadata: counterMetadata(id),
		Delete:         &DeleteContent{},
	}
}

func counterMetadata(id entity.ServerID) EntityMetadata {
	return EntityMetadata{
		EntityMetadata: EntityIdentity{ID: int64(id)},
		TypeID:         TypeCounterBody,
	}
}

// NewResetResponse wraps a snapshot batch.
func NewResetResponse(batchID string, events ...EntityEvent) *ServerMessage {
	return &ServerMessage{ResetResponse: &ResetResponse{
		EntityEvents: EntityEventBatch{BatchID: batchID, EntityEvents: events},
	}}
}

// NewNotification wraps an unsolicited batch.
func NewNotification(batchID string, events ...EntityEvent) *ServerMessage {
	return &ServerMessage{EntityEventNotification: &EntityEventNotification{
		EntityEvents: EntityEventBatch{BatchID: batchID, EntityEvents: events},
	}}
}

// NewActionResponse wraps the batch produced by an action.
func NewActionResponse(actionID, batchID string, events ...EntityEvent) *ServerMessage {
	return &ServerMessage{ActionResponse: &ActionResponse{
		ActionID:     actionID,
		EntityEvents: EntityEventBatch{BatchID: batchID, EntityEvents: events},
	}}
}
