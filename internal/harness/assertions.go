package harness

import (
	"fmt"
	"reflect"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] step %d %s %s%s\n", i+1, ev.Step, ev.Direction, ev.Kind, describeIDs(ev))
		}
	}

	return buf.String()
}

func describeIDs(ev TraceEvent) string {
	var parts []string
	if ev.BatchID != "" {
		parts = append(parts, "batch="+ev.BatchID)
	}
	if ev.ActionID != "" {
		parts = append(parts, "action="+ev.ActionID)
	}
	if ev.Target != 0 {
		parts = append(parts, fmt.Sprintf("target=%d", ev.Target))
	}
	if ev.Correlation != 0 {
		parts = append(parts, fmt.Sprintf("correlation=%d", ev.Correlation))
	}
	if len(parts) == 0 {
		return ""
	}
	return " " + strings.Join(parts, " ")
}

// assertFinalState checks the store snapshot equals the expected counters,
// in store order.
func assertFinalState(result *Result, a Assertion) error {
	expected := a.Counters
	if expected == nil {
		expected = []CounterState{}
	}
	if reflect.DeepEqual(expected, result.State) {
		return nil
	}
	return &AssertionError{
		Type:     AssertFinalState,
		Expected: formatCounters(expected),
		Actual:   formatCounters(result.State),
	}
}

func formatCounters(cs []CounterState) string {
	if len(cs) == 0 {
		return "(empty store)"
	}
	parts := make([]string, len(cs))
	for i, c := range cs {
		parts[i] = fmt.Sprintf("{id=%d correlation=%d name=%q value=%d}", c.ID, c.Correlation, c.Name, c.Value)
	}
	return strings.Join(parts, ", ")
}

// assertSentOrder checks the action kinds sent are exactly a.Actions.
func assertSentOrder(result *Result, a Assertion) error {
	sent := result.Sent()
	kinds := make([]string, len(sent))
	for i, ev := range sent {
		kinds[i] = ev.Kind
	}
	if reflect.DeepEqual(kinds, a.Actions) {
		return nil
	}
	return &AssertionError{
		Type:     AssertSentOrder,
		Expected: fmt.Sprintf("actions sent in order: %v", a.Actions),
		Actual:   fmt.Sprintf("%v", kinds),
		Trace:    result.Trace,
	}
}

// assertSentCount checks a.Kind was sent exactly a.Count times.
func assertSentCount(result *Result, a Assertion) error {
	count := 0
	for _, ev := range result.Sent() {
		if ev.Kind == a.Kind {
			count++
		}
	}
	if count == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertSentCount,
		Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Kind),
		Actual:   fmt.Sprintf("%d occurrences", count),
		Trace:    result.Trace,
	}
}

// assertAcked checks the acknowledged batches are exactly a.Batches.
func assertAcked(result *Result, a Assertion) error {
	acked := result.Acked()
	if len(acked) == 0 && len(a.Batches) == 0 {
		return nil
	}
	if reflect.DeepEqual(acked, a.Batches) {
		return nil
	}
	return &AssertionError{
		Type:     AssertAcked,
		Expected: fmt.Sprintf("batches acknowledged in order: %v", a.Batches),
		Actual:   fmt.Sprintf("%v", acked),
		Trace:    result.Trace,
	}
}

func assertPending(result *Result, a Assertion) error {
	if result.Pending == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertPending,
		Expected: fmt.Sprintf("%d pending creates", a.Count),
		Actual:   fmt.Sprintf("%d pending creates", result.Pending),
	}
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertFinalState:
			err = assertFinalState(result, assertion)
		case AssertSentOrder:
			err = assertSentOrder(result, assertion)
		case AssertSentCount:
			err = assertSentCount(result, assertion)
		case AssertAcked:
			err = assertAcked(result, assertion)
		case AssertPending:
			err = assertPending(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
