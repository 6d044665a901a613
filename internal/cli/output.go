package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/roach88/countersync/internal/entity"
	"github.com/roach88/countersync/internal/journal"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Sync failure, unconfirmed action, failed scenario
	ExitCommandError = 2 // Bad arguments, invalid config, unreachable server
)

// Error codes reported in CLIError.Code.
const (
	ErrCodeGeneric        = "E001"
	ErrCodeConfig         = "E010"
	ErrCodeConnect        = "E020"
	ErrCodeTimeout        = "E021"
	ErrCodeUnknownCounter = "E030"
	ErrCodeRejected       = "E031"
	ErrCodeScenario       = "E040"
	ErrCodeJournal        = "E050"
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int // ExitFailure or ExitCommandError
	Message string
	Err     error // optional
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // verbose/diagnostic output, defaults to Writer
	Verbose   bool
}

// newFormatter builds the formatter every command writes through.
func newFormatter(opts *RootOptions, out, errOut io.Writer) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    out,
		ErrWriter: errOut,
		Verbose:   opts.Verbose,
	}
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail writes the error and returns it as an ExitError carrying exitCode.
func (f *OutputFormatter) Fail(exitCode int, code, message string, err error) error {
	var details any
	if err != nil {
		details = err.Error()
	}
	if outErr := f.Error(code, message, details); outErr != nil {
		return outErr
	}
	return WrapExitError(exitCode, message, err)
}

// VerboseLog outputs a message only if verbose mode is enabled.
// In JSON mode it must go to ErrWriter so stdout stays parseable.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// CounterView is the printable form of a counter.
type CounterView struct {
	ID          int64  `json:"id,omitempty"`
	Correlation int64  `json:"correlation,omitempty"`
	Name        string `json:"name"`
	Value       int64  `json:"value"`
	Confirmed   bool   `json:"confirmed"`
}

func viewOf(c entity.Counter) CounterView {
	return CounterView{
		ID:          int64(c.ServerID),
		Correlation: int64(c.CorrelationID),
		Name:        c.Name,
		Value:       c.Value,
		Confirmed:   c.Confirmed(),
	}
}

func viewsOf(cs []entity.Counter) []CounterView {
	views := make([]CounterView, 0, len(cs))
	for _, c := range cs {
		views = append(views, viewOf(c))
	}
	return views
}

// Counters prints a counter table, or the list as JSON.
func (f *OutputFormatter) Counters(cs []entity.Counter) error {
	views := viewsOf(cs)
	if f.Format == "json" {
		return f.Success(views)
	}
	if len(views) == 0 {
		fmt.Fprintln(f.Writer, "No counters.")
		return nil
	}

	tw := tabwriter.NewWriter(f.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tVALUE")
	for _, v := range views {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", displayID(v), v.Name, v.Value)
	}
	return tw.Flush()
}

// displayID shows unconfirmed counters by correlation ID.
func displayID(v CounterView) string {
	if v.Confirmed {
		return fmt.Sprintf("%d", v.ID)
	}
	return fmt.Sprintf("~%d", v.Correlation)
}

// PendingView is the printable form of an unconfirmed action.
type PendingView struct {
	ActionID    string `json:"action_id"`
	Kind        string `json:"kind"`
	Target      int64  `json:"target,omitempty"`
	Correlation int64  `json:"correlation,omitempty"`
	Seq         int64  `json:"seq"`
	IssuedAt    string `json:"issued_at"`
	Stale       bool   `json:"stale,omitempty"`
}

func pendingViewOf(a journal.Action, now time.Time, timeout time.Duration) PendingView {
	return PendingView{
		ActionID:    a.ActionID,
		Kind:        a.Kind.String(),
		Target:      int64(a.ServerID),
		Correlation: int64(a.CorrelationID),
		Seq:         a.Seq,
		IssuedAt:    a.IssuedAt.UTC().Format(time.RFC3339),
		Stale:       timeout > 0 && now.Sub(a.IssuedAt) > timeout,
	}
}
