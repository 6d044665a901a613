package wire

import (
	"errors"
	"fmt"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/roach88/countersync/internal/entity"
)

// Type identifiers carried in Any.TypeURL and EntityMetadata.TypeID.
const (
	TypeCounterBody      = "sync.entities.CounterBody"
	TypeCreateCounter    = "sync.entities.CreateCounter"
	TypeDeleteCounter    = "sync.entities.DeleteCounter"
	TypeIncrementCounter = "sync.entities.IncrementCounter"
	TypeDecrementCounter = "sync.entities.DecrementCounter"
	TypeRenameCounter    = "sync.entities.RenameCounter"
	TypeSetCounterValue  = "sync.entities.SetCounterValue"
)

const typeURLPrefix = "type.googleapis.com/"

// ErrUnexpectedType is returned when an Any carries a different message type
// than the decoder expects.
var ErrUnexpectedType = errors.New("unexpected message type")

// Any is a type-tagged, proto3-encoded payload.
type Any struct {
	TypeURL string `json:"typeUrl"`
	Value   []byte `json:"value,omitempty"`
}

// TypeName returns the type URL without the googleapis prefix.
func (a Any) TypeName() string {
	return NormalizeTypeID(a.TypeURL)
}

// NormalizeTypeID strips the googleapis type URL prefix.
func NormalizeTypeID(typeID string) string {
	return strings.TrimPrefix(strings.TrimSpace(typeID), typeURLPrefix)
}

// CounterBody field numbers.
const (
	counterBodyName  protowire.Number = 1
	counterBodyValue protowire.Number = 2
)

// EncodeCounterBody packs a counter body.
func EncodeCounterBody(f entity.Fields) *Any {
	var b []byte
	b = appendString(b, counterBodyName, f.Name)
	b = appendInt64(b, counterBodyValue, f.Value)
	return &Any{TypeURL: TypeCounterBody, Value: b}
}

// DecodeCounterBody unpacks a counter body. A nil body, a foreign type or a
// malformed payload is an error.
func DecodeCounterBody(a *Any) (entity.Fields, error) {
	if a == nil {
		return entity.Fields{}, fmt.Errorf("decode counter body: missing body")
	}
	if a.TypeName() != TypeCounterBody {
		return entity.Fields{}, fmt.Errorf("decode counter body: %w: %q", ErrUnexpectedType, a.TypeURL)
	}
	fs, err := parseFields(a.Value)
	if err != nil {
		return entity.Fields{}, fmt.Errorf("decode counter body: %w", err)
	}
	name, err := fs.str(counterBodyName)
	if err != nil {
		return entity.Fields{}, fmt.Errorf("decode counter body: %w", err)
	}
	value, err := fs.int64(counterBodyValue)
	if err != nil {
		return entity.Fields{}, fmt.Errorf("decode counter body: %w", err)
	}
	return entity.Fields{Name: name, Value: value}, nil
}

// fieldSet is a decoded proto3 message limited to varint and string fields.
type fieldSet struct {
	varints map[protowire.Number]uint64
	bytes   map[protowire.Number][]byte
}

func parseFields(b []byte) (fieldSet, error) {
	fs := fieldSet{
		varints: map[protowire.Number]uint64{},
		bytes:   map[protowire.Number][]byte{},
	}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fs, protowire.ParseError(n)
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fs, protowire.ParseError(n)
			}
			fs.varints[num] = v
			b = b[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fs, protowire.ParseError(n)
			}
			fs.bytes[num] = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fs, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return fs, nil
}

// str returns a string field; proto3 omits empty strings, so absence is "".
func (fs fieldSet) str(num protowire.Number) (string, error) {
	if _, clash := fs.varints[num]; clash {
		return "", fmt.Errorf("field %d: expected string, got varint", num)
	}
	return string(fs.bytes[num]), nil
}

// int64 returns an int64 field; absence is 0.
func (fs fieldSet) int64(num protowire.Number) (int64, error) {
	if _, clash := fs.bytes[num]; clash {
		return 0, fmt.Errorf("field %d: expected varint, got bytes", num)
	}
	return int64(fs.varints[num]), nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendInt64(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}
