package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/countersync/internal/entity"
)

func TestClientMessage_Kind(t *testing.T) {
	var nilMsg *ClientMessage
	assert.Equal(t, KindUnknown, nilMsg.Kind())
	assert.Equal(t, KindUnknown, (&ClientMessage{}).Kind())
	assert.Equal(t, KindReset, NewResetMessage().Kind())
	assert.Equal(t, KindResume, NewResumeMessage("b1").Kind())
	assert.Equal(t, KindAction, NewActionMessage(ActionRequest{ActionID: "a"}).Kind())
	assert.Equal(t, KindAcknowledge, NewAcknowledgementMessage("b1").Kind())
}

func TestServerMessage_Kind(t *testing.T) {
	var nilMsg *ServerMessage
	assert.Equal(t, KindEmptyServerResp, nilMsg.Kind())
	assert.Equal(t, KindEmptyServerResp, (&ServerMessage{}).Kind())
	assert.Equal(t, KindResetResponse, NewResetResponse("b1").Kind())
	assert.Equal(t, KindNotification, NewNotification("b1").Kind())
	assert.Equal(t, KindActionResponse, NewActionResponse("a", "b1").Kind())
	assert.Equal(t, KindAckResponse, (&ServerMessage{EntityEventAcknowledgementResponse: &EntityEventAcknowledgementResponse{}}).Kind())
	assert.Equal(t, KindErrorResponse, (&ServerMessage{Error: &ErrorResponse{Code: "E"}}).Kind())
}

func TestClientMessage_WireNames(t *testing.T) {
	data, err := json.Marshal(NewResumeMessage("b7"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"resumeRequest":{"lastProcessedEntityEventBatchId":"b7"}}`, string(data))

	data, err = json.Marshal(NewAcknowledgementMessage("b8"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"entityEventAcknowledgement":{"batchId":"b8"}}`, string(data))

	data, err = json.Marshal(NewResetMessage())
	require.NoError(t, err)
	assert.JSONEq(t, `{"resetRequest":{}}`, string(data))
}

func TestServerMessage_DecodesWireJSON(t *testing.T) {
	body := EncodeCounterBody(entity.Fields{Name: "apples", Value: 3})
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	input := `{"entityEventNotification":{"entityEvents":{"batchId":"b2","entityEvents":[` +
		`{"entityMetadata":{"entityMetadata":{"id":5},"typeId":"sync.entities.CounterBody"},` +
		`"create":{"clientSideId":77,"body":` + string(raw) + `}}]}}}`

	var msg ServerMessage
	require.NoError(t, json.Unmarshal([]byte(input), &msg))
	require.Equal(t, KindNotification, msg.Kind())

	batch := msg.EntityEventNotification.EntityEvents
	assert.Equal(t, "b2", batch.BatchID)
	require.Len(t, batch.EntityEvents, 1)
	ev := batch.EntityEvents[0]
	assert.Equal(t, int64(5), ev.EntityMetadata.EntityMetadata.ID)
	require.NotNil(t, ev.Create)
	assert.Equal(t, int64(77), ev.Create.ClientSideID)

	fields, err := DecodeCounterBody(ev.Create.Body)
	require.NoError(t, err)
	assert.Equal(t, entity.Fields{Name: "apples", Value: 3}, fields)
}

func TestCodec(t *testing.T) {
	c := Codec{}
	assert.Equal(t, CodecName, c.Name())

	data, err := c.Marshal(NewResetMessage())
	require.NoError(t, err)

	var out ClientMessage
	require.NoError(t, c.Unmarshal(data, &out))
	assert.Equal(t, KindReset, out.Kind())

	_, err = c.Marshal("not a message")
	assert.Error(t, err)
	assert.Error(t, c.Unmarshal(data, &struct{}{}))
}
