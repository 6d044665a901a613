package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/countersync/internal/entity"
)

func TestActionPayload_RoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		payload  ActionPayload
		typeName string
	}{
		{
			name:     "create",
			payload:  ActionPayload{Kind: entity.ActionCreate, CorrelationID: 1700000000123, Name: "jars", Value: 2},
			typeName: TypeCreateCounter,
		},
		{
			name:     "increment",
			payload:  ActionPayload{Kind: entity.ActionIncrement, Target: 10},
			typeName: TypeIncrementCounter,
		},
		{
			name:     "rename",
			payload:  ActionPayload{Kind: entity.ActionRename, Target: 10, Name: "pickled jars"},
			typeName: TypeRenameCounter,
		},
		{
			name:     "set value negative",
			payload:  ActionPayload{Kind: entity.ActionSetValue, Target: 10, Value: -5},
			typeName: TypeSetCounterValue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := NewActionRequest("action-1", tt.payload)
			require.NoError(t, err)
			assert.Equal(t, "action-1", req.ActionID)
			assert.Equal(t, tt.typeName, req.Content.TypeURL)

			got, err := DecodeAction(req.Content)
			require.NoError(t, err)
			assert.Equal(t, tt.payload, got)
		})
	}
}

func TestEncodeAction_Validation(t *testing.T) {
	_, err := EncodeAction(ActionPayload{Kind: entity.ActionCreate, Name: "no correlation"})
	assert.ErrorContains(t, err, "correlation id")

	_, err = EncodeAction(ActionPayload{Kind: entity.ActionDelete})
	assert.ErrorContains(t, err, "server id")

	_, err = EncodeAction(ActionPayload{Kind: entity.ActionKind(99), Target: 1})
	assert.ErrorContains(t, err, "unknown kind")
}

func TestEncodeAction_IgnoresFieldsForOtherKinds(t *testing.T) {
	a, err := EncodeAction(ActionPayload{Kind: entity.ActionDecrement, Target: 3, Name: "ignored", Value: 8})
	require.NoError(t, err)

	got, err := DecodeAction(a)
	require.NoError(t, err)
	assert.Equal(t, ActionPayload{Kind: entity.ActionDecrement, Target: 3}, got)
}

func TestDecodeAction_UnknownType(t *testing.T) {
	_, err := DecodeAction(Any{TypeURL: TypeCounterBody})
	require.ErrorIs(t, err, ErrUnexpectedType)
}
