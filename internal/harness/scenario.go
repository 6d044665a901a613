package harness

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueyaml "cuelang.org/go/encoding/yaml"
	"gopkg.in/yaml.v3"

	"github.com/roach88/countersync/internal/entity"
)

//go:embed schema.cue
var schemaSource string

// Scenario scripts one client session against an in-process server.
//
// Steps run in order. Server steps deliver one message to the client,
// intent steps submit one local intent and reconnect steps break the stream
// and open a new one. Assertions run against the trace and final state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// IDPrefix prefixes generated action IDs ("<prefix>-1", ...).
	// Defaults to "action".
	IDPrefix string `yaml:"id_prefix,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// Step is exactly one of a server message, an intent or a reconnect.
type Step struct {
	Server   string      `yaml:"server,omitempty"`
	Batch    string      `yaml:"batch,omitempty"`
	ActionID string      `yaml:"action_id,omitempty"`
	Events   []EventSpec `yaml:"events,omitempty"`
	Code     string      `yaml:"code,omitempty"`
	Message  string      `yaml:"message,omitempty"`

	Intent      string   `yaml:"intent,omitempty"`
	Ref         *RefSpec `yaml:"ref,omitempty"`
	Name        string   `yaml:"name,omitempty"`
	Value       int64    `yaml:"value,omitempty"`
	ExpectError string   `yaml:"expect_error,omitempty"`

	Reconnect bool `yaml:"reconnect,omitempty"`
}

// Server step kinds.
const (
	ServerResetResponse  = "reset_response"
	ServerNotification   = "notification"
	ServerActionResponse = "action_response"
	ServerAckResponse    = "ack_response"
	ServerError          = "error"
	ServerEmpty          = "empty"
)

// ExpectUnknownEntity expects the intent to fail with pipeline.ErrUnknownEntity.
const ExpectUnknownEntity = "unknown_entity"

// EventSpec describes one entity event inside a server step.
type EventSpec struct {
	Op          string `yaml:"op"`
	ID          int64  `yaml:"id"`
	Correlation int64  `yaml:"correlation,omitempty"`
	Name        string `yaml:"name,omitempty"`
	Value       int64  `yaml:"value,omitempty"`

	// TypeID overrides the counter body type.
	TypeID string `yaml:"type_id,omitempty"`

	// Corrupt replaces the body with bytes that do not decode.
	Corrupt bool `yaml:"corrupt,omitempty"`
}

// Event ops.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
	OpEmpty  = "empty"
)

// RefSpec addresses a counter by server ID or correlation ID.
type RefSpec struct {
	ID          int64 `yaml:"id,omitempty"`
	Correlation int64 `yaml:"correlation,omitempty"`
}

// Ref converts the YAML ref to an entity.Ref.
func (r *RefSpec) Ref() entity.Ref {
	if r == nil {
		return entity.Ref{}
	}
	if r.ID != 0 {
		return entity.ByServerID(entity.ServerID(r.ID))
	}
	return entity.ByCorrelationID(entity.CorrelationID(r.Correlation))
}

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "final_state": store snapshot equals Counters, in order
	// - "sent_order": action kinds sent equal Actions, in order
	// - "sent_count": Kind was sent exactly Count times
	// - "acked": acknowledged batch IDs equal Batches, in order
	// - "pending": exactly Count creates are unconfirmed
	Type string `yaml:"type"`

	Counters []CounterState `yaml:"counters,omitempty"`
	Actions  []string       `yaml:"actions,omitempty"`
	Batches  []string       `yaml:"batches,omitempty"`
	Kind     string         `yaml:"kind,omitempty"`
	Count    int            `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertFinalState = "final_state"
	AssertSentOrder  = "sent_order"
	AssertSentCount  = "sent_count"
	AssertAcked      = "acked"
	AssertPending    = "pending"
)

// LoadScenario reads, schema-checks and parses a scenario YAML file.
// Returns an error if the file doesn't exist, violates the schema,
// contains unknown fields (typos), or breaks a cross-field rule.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(path, data)
}

// ParseScenario is LoadScenario for in-memory data. name labels errors.
func ParseScenario(name string, data []byte) (*Scenario, error) {
	if err := CheckSchema(name, data); err != nil {
		return nil, err
	}

	// Strict decoding catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// CheckSchema validates scenario YAML against the embedded CUE schema.
func CheckSchema(name string, data []byte) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile scenario schema: %w", err)
	}

	file, err := cueyaml.Extract(name, data)
	if err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	doc := ctx.BuildFile(file)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Scenario")).Unify(doc)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("scenario schema: %w", err)
	}
	return nil
}

// validateScenario checks the rules the schema cannot express.
func validateScenario(s *Scenario) error {
	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step Step) error {
	switch {
	case step.Server != "":
		if step.Server == ServerActionResponse && step.ActionID == "" && step.Batch == "" {
			return fmt.Errorf("steps[%d]: action_response needs action_id or batch", i)
		}
		for j, ev := range step.Events {
			if ev.Op != OpEmpty && ev.ID <= 0 {
				return fmt.Errorf("steps[%d].events[%d]: id must be positive", i, j)
			}
		}
	case step.Intent != "":
		if _, err := entity.ParseActionKind(step.Intent); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
		if step.Intent != entity.ActionCreate.String() && step.Ref == nil {
			return fmt.Errorf("steps[%d]: %s requires ref", i, step.Intent)
		}
		if step.Intent == entity.ActionRename.String() && step.Name == "" {
			return fmt.Errorf("steps[%d]: rename requires name", i)
		}
	case step.Reconnect:
	default:
		return fmt.Errorf("steps[%d]: one of server, intent or reconnect is required", i)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertFinalState, AssertPending:
	case AssertSentOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for sent_order", index)
		}
		for _, kind := range a.Actions {
			if _, err := entity.ParseActionKind(kind); err != nil {
				return fmt.Errorf("assertions[%d]: %w", index, err)
			}
		}
	case AssertSentCount:
		if _, err := entity.ParseActionKind(a.Kind); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	case AssertAcked:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
