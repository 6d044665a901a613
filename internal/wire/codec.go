package wire

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content-subtype used for envelope messages.
const CodecName = "json"

// Codec marshals envelope messages as JSON for gRPC.
type Codec struct{}

func init() {
	encoding.RegisterCodec(Codec{})
}

// Marshal implements encoding.Codec.
func (Codec) Marshal(v any) ([]byte, error) {
	switch v.(type) {
	case *ClientMessage, *ServerMessage:
		return json.Marshal(v)
	default:
		return nil, fmt.Errorf("json codec: unsupported message type %T", v)
	}
}

// Unmarshal implements encoding.Codec.
func (Codec) Unmarshal(data []byte, v any) error {
	switch v.(type) {
	case *ClientMessage, *ServerMessage:
		return json.Unmarshal(data, v)
	default:
		return fmt.Errorf("json codec: unsupported message type %T", v)
	}
}

// Name implements encoding.Codec.
func (Codec) Name() string {
	return CodecName
}
