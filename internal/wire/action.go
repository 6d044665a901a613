package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/roach88/countersync/internal/entity"
)

// ActionPayload is the decoded form of an action request's content.
// Create uses CorrelationID, Name and Value; the other kinds address Target.
// Rename uses Name and SetValue uses Value.
type ActionPayload struct {
	Kind          entity.ActionKind
	CorrelationID entity.CorrelationID
	Target        entity.ServerID
	Name          string
	Value         int64
}

var actionTypes = map[entity.ActionKind]string{
	entity.ActionCreate:    TypeCreateCounter,
	entity.ActionDelete:    TypeDeleteCounter,
	entity.ActionIncrement: TypeIncrementCounter,
	entity.ActionDecrement: TypeDecrementCounter,
	entity.ActionRename:    TypeRenameCounter,
	entity.ActionSetValue:  TypeSetCounterValue,
}

// Field numbers shared by the action messages.
const (
	fieldCreateClientSideID protowire.Number = 1
	fieldCreateName         protowire.Number = 2
	fieldCreateInitialValue protowire.Number = 3

	fieldTargetID protowire.Number = 1
	fieldArgument protowire.Number = 2
)

// NewActionRequest encodes p under actionID.
func NewActionRequest(actionID string, p ActionPayload) (ActionRequest, error) {
	content, err := EncodeAction(p)
	if err != nil {
		return ActionRequest{}, err
	}
	return ActionRequest{ActionID: actionID, Content: content}, nil
}

// EncodeAction packs p into an Any.
func EncodeAction(p ActionPayload) (Any, error) {
	typeURL, ok := actionTypes[p.Kind]
	if !ok {
		return Any{}, fmt.Errorf("encode action: unknown kind %v", p.Kind)
	}
	var b []byte
	switch p.Kind {
	case entity.ActionCreate:
		if !p.CorrelationID.Valid() {
			return Any{}, fmt.Errorf("encode action: create requires a correlation id")
		}
		b = appendInt64(b, fieldCreateClientSideID, int64(p.CorrelationID))
		b = appendString(b, fieldCreateName, p.Name)
		b = appendInt64(b, fieldCreateInitialValue, p.Value)
	default:
		if !p.Target.Assigned() {
			return Any{}, fmt.Errorf("encode action: %v requires a server id", p.Kind)
		}
		b = appendInt64(b, fieldTargetID, int64(p.Target))
		switch p.Kind {
		case entity.ActionRename:
			b = appendString(b, fieldArgument, p.Name)
		case entity.ActionSetValue:
			b = appendInt64(b, fieldArgument, p.Value)
		}
	}
	return Any{TypeURL: typeURL, Value: b}, nil
}

// DecodeAction is the inverse of EncodeAction.
func DecodeAction(a Any) (ActionPayload, error) {
	kind, ok := actionKindForType(a.TypeName())
	if !ok {
		return ActionPayload{}, fmt.Errorf("decode action: %w: %q", ErrUnexpectedType, a.TypeURL)
	}
	fs, err := parseFields(a.Value)
	if err != nil {
		return ActionPayload{}, fmt.Errorf("decode action: %w", err)
	}
	p := ActionPayload{Kind: kind}
	if kind == entity.ActionCreate {
		corr, err := fs.int64(fieldCreateClientSideID)
		if err != nil {
			return ActionPayload{}, fmt.Errorf("decode action: %w", err)
		}
		if p.Name, err = fs.str(fieldCreateName); err != nil {
			return ActionPayload{}, fmt.Errorf("decode action: %w", err)
		}
		if p.Value, err = fs.int64(fieldCreateInitialValue); err != nil {
			return ActionPayload{}, fmt.Errorf("decode action: %w", err)
		}
		p.CorrelationID = entity.CorrelationID(corr)
		return p, nil
	}
	target, err := fs.int64(fieldTargetID)
	if err != nil {
		return ActionPayload{}, fmt.Errorf("decode action: %w", err)
	}
	p.Target = entity.ServerID(target)
	switch kind {
	case entity.ActionRename:
		if p.Name, err = fs.str(fieldArgument); err != nil {
			return ActionPayload{}, fmt.Errorf("decode action: %w", err)
		}
	case entity.ActionSetValue:
		if p.Value, err = fs.int64(fieldArgument); err != nil {
			return ActionPayload{}, fmt.Errorf("decode action: %w", err)
		}
	}
	return p, nil
}

func actionKindForType(typeID string) (entity.ActionKind, bool) {
	for kind, t := range actionTypes {
		if t == typeID {
			return kind, true
		}
	}
	return 0, false
}
