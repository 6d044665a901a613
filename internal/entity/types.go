package entity

import (
	"fmt"
	"strconv"
)

// ServerID is the authoritative identifier assigned by the server.
type ServerID int64

// NoServerID marks a counter the server has not confirmed yet.
const NoServerID ServerID = 0

// Assigned reports whether the server has bound an identity.
func (id ServerID) Assigned() bool {
	return id != NoServerID
}

func (id ServerID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// CorrelationID is the client-generated identifier attached to a create.
// Zero is never a valid correlation ID.
type CorrelationID int64

// Valid reports whether the correlation ID is set.
func (c CorrelationID) Valid() bool {
	return c != 0
}

func (c CorrelationID) String() string {
	return strconv.FormatInt(int64(c), 10)
}

// Fields are the server-replicated attributes of a counter.
type Fields struct {
	Name  string
	Value int64
}

// Counter is one synchronized entity.
type Counter struct {
	ServerID      ServerID
	CorrelationID CorrelationID
	Name          string
	Value         int64

	// LocalSeq is the intent clock reading of the last optimistic write.
	LocalSeq int64
	// ServerSeq is the truth clock reading of the last server write.
	ServerSeq int64
}

// Confirmed reports whether the server has assigned this counter an ID.
func (c Counter) Confirmed() bool {
	return c.ServerID.Assigned()
}

// Fields returns the replicated attributes.
func (c Counter) Fields() Fields {
	return Fields{Name: c.Name, Value: c.Value}
}

// Ref addresses a counter either by server ID or, before confirmation, by
// correlation ID. A server ID takes precedence when both are set.
type Ref struct {
	ServerID      ServerID
	CorrelationID CorrelationID
}

// ByServerID returns a Ref for a confirmed counter.
func ByServerID(id ServerID) Ref {
	return Ref{ServerID: id}
}

// ByCorrelationID returns a Ref for a counter addressed by its correlation ID.
func ByCorrelationID(c CorrelationID) Ref {
	return Ref{CorrelationID: c}
}

// RefOf returns the most specific Ref for c.
func RefOf(c Counter) Ref {
	return Ref{ServerID: c.ServerID, CorrelationID: c.CorrelationID}
}

// IsZero reports whether the Ref addresses nothing.
func (r Ref) IsZero() bool {
	return !r.ServerID.Assigned() && !r.CorrelationID.Valid()
}

// Matches reports whether c is the counter addressed by r.
func (r Ref) Matches(c Counter) bool {
	if r.ServerID.Assigned() {
		return c.ServerID == r.ServerID
	}
	return r.CorrelationID.Valid() && c.CorrelationID == r.CorrelationID
}

func (r Ref) String() string {
	switch {
	case r.ServerID.Assigned():
		return "id:" + r.ServerID.String()
	case r.CorrelationID.Valid():
		return "correlation:" + r.CorrelationID.String()
	default:
		return "ref:none"
	}
}

// ActionKind enumerates outbound action requests.
type ActionKind int

const (
	ActionCreate ActionKind = iota + 1
	ActionDelete
	ActionIncrement
	ActionDecrement
	ActionRename
	ActionSetValue
)

var actionKindNames = map[ActionKind]string{
	ActionCreate:    "create",
	ActionDelete:    "delete",
	ActionIncrement: "increment",
	ActionDecrement: "decrement",
	ActionRename:    "rename",
	ActionSetValue:  "set_value",
}

func (k ActionKind) String() string {
	if name, ok := actionKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("action_kind(%d)", int(k))
}

// ParseActionKind is the inverse of ActionKind.String.
func ParseActionKind(s string) (ActionKind, error) {
	for kind, name := range actionKindNames {
		if name == s {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("unknown action kind %q", s)
}
