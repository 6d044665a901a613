package wire

// ClientMessage is one outbound message. Exactly one field is set.
type ClientMessage struct {
	ResetRequest               *ResetRequest               `json:"resetRequest,omitempty"`
	ResumeRequest              *ResumeRequest              `json:"resumeRequest,omitempty"`
	ActionRequest              *ActionRequest              `json:"actionRequest,omitempty"`
	EntityEventAcknowledgement *EntityEventAcknowledgement `json:"entityEventAcknowledgement,omitempty"`
}

// ResetRequest asks the server for a full snapshot.
type ResetRequest struct{}

// ResumeRequest asks the server to redeliver everything after the given batch.
type ResumeRequest struct {
	LastProcessedEntityEventBatchID string `json:"lastProcessedEntityEventBatchId"`
}

// ActionRequest carries one user action. ActionID makes it idempotent on the server.
type ActionRequest struct {
	ActionID string `json:"actionId"`
	Content  Any    `json:"content"`
}

// EntityEventAcknowledgement confirms a batch has been applied.
type EntityEventAcknowledgement struct {
	BatchID string `json:"batchId"`
}

// Client message kinds, as reported by ClientMessage.Kind.
const (
	KindReset       = "reset"
	KindResume      = "resume"
	KindAction      = "action"
	KindAcknowledge = "acknowledge"
	KindUnknown     = "unknown"
)

// Kind names the populated variant.
func (m *ClientMessage) Kind() string {
	switch {
	case m == nil:
		return KindUnknown
	case m.ResetRequest != nil:
		return KindReset
	case m.ResumeRequest != nil:
		return KindResume
	case m.ActionRequest != nil:
		return KindAction
	case m.EntityEventAcknowledgement != nil:
		return KindAcknowledge
	default:
		return KindUnknown
	}
}

// NewResetMessage builds a reset request.
func NewResetMessage() *ClientMessage {
	return &ClientMessage{ResetRequest: &ResetRequest{}}
}

// NewResumeMessage builds a resume request.
func NewResumeMessage(lastBatchID string) *ClientMessage {
	return &ClientMessage{ResumeRequest: &ResumeRequest{LastProcessedEntityEventBatchID: lastBatchID}}
}

// NewActionMessage wraps an action request.
func NewActionMessage(req ActionRequest) *ClientMessage {
	return &ClientMessage{ActionRequest: &req}
}

// NewAcknowledgementMessage builds a batch acknowledgement.
func NewAcknowledgementMessage(batchID string) *ClientMessage {
	return &ClientMessage{EntityEventAcknowledgement: &EntityEventAcknowledgement{BatchID: batchID}}
}

// ServerMessage is one inbound envelope. At most one field is set; an empty
// message is valid and ignored.
type ServerMessage struct {
	ResetResponse                      *ResetResponse                      `json:"resetResponse,omitempty"`
	EntityEventNotification            *EntityEventNotification            `json:"entityEventNotification,omitempty"`
	ActionResponse                     *ActionResponse                     `json:"actionResponse,omitempty"`
	EntityEventAcknowledgementResponse *EntityEventAcknowledgementResponse `json:"entityEventAcknowledgementResponse,omitempty"`
	Error                              *ErrorResponse                      `json:"error,omitempty"`
}

// ResetResponse is a full snapshot expressed as a batch of create events.
type ResetResponse struct {
	EntityEvents EntityEventBatch `json:"entityEvents"`
}

// EntityEventNotification is an unsolicited batch, usually caused by another device.
type EntityEventNotification struct {
	EntityEvents EntityEventBatch `json:"entityEvents"`
}

// ActionResponse is the batch produced by an action this client sent.
// ActionID is optional; servers that echo it let the journal resolve the action.
type ActionResponse struct {
	ActionID     string           `json:"actionId,omitempty"`
	EntityEvents EntityEventBatch `json:"entityEvents"`
}

// EntityEventAcknowledgementResponse confirms the server saw an acknowledgement.
type EntityEventAcknowledgementResponse struct {
	BatchID string `json:"batchId"`
}

// ErrorResponse reports a server-side failure.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EntityEventBatch is a group of events acknowledged as a unit.
type EntityEventBatch struct {
	BatchID      string        `json:"batchId"`
	EntityEvents []EntityEvent `json:"entityEvents"`
}

// EntityEvent is one change to one entity. At most one of Create, Update and
// Delete is set.
type EntityEvent struct {
	EntityMetadata EntityMetadata `json:"entityMetadata"`
	Create         *CreateContent `json:"create,omitempty"`
	Update         *UpdateContent `json:"update,omitempty"`
	Delete         *DeleteContent `json:"delete,omitempty"`
}

// EntityMetadata identifies the entity and its body type.
type EntityMetadata struct {
	EntityMetadata EntityIdentity `json:"entityMetadata"`
	TypeID         string         `json:"typeId"`
}

// EntityIdentity carries the server-assigned ID.
type EntityIdentity struct {
	ID int64 `json:"id"`
}

// CreateContent announces a new entity. ClientSideID echoes the creating
// device's correlation ID.
type CreateContent struct {
	ClientSideID int64 `json:"clientSideId"`
	Body         *Any  `json:"body,omitempty"`
}

// UpdateContent replaces the body of an entity.
type UpdateContent struct {
	Body *Any `json:"body,omitempty"`
}

// DeleteContent removes an entity.
type DeleteContent struct{}

// Server message kinds, as reported by ServerMessage.Kind.
const (
	KindResetResponse   = "reset_response"
	KindNotification    = "entity_event_notification"
	KindActionResponse  = "action_response"
	KindAckResponse     = "acknowledgement_response"
	KindErrorResponse   = "error"
	KindEmptyServerResp = "empty"
)

// Kind names the populated variant.
func (m *ServerMessage) Kind() string {
	switch {
	case m == nil:
		return KindEmptyServerResp
	case m.ResetResponse != nil:
		return KindResetResponse
	case m.EntityEventNotification != nil:
		return KindNotification
	case m.ActionResponse != nil:
		return KindActionResponse
	case m.EntityEventAcknowledgementResponse != nil:
		return KindAckResponse
	case m.Error != nil:
		return KindErrorResponse
	default:
		return KindEmptyServerResp
	}
}
