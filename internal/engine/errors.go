package engine

import (
	"errors"
	"fmt"
)

// ErrStopped is returned by intents submitted after the engine stopped.
var ErrStopped = errors.New("engine stopped")

// RuntimeError represents an error detected during engine execution.
//
// Runtime errors include:
//   - Stream failure: the session broke or could not be opened
//   - Decode failure: events of a batch were skipped
//   - Ack failure: a batch was applied but the acknowledgement was not sent
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// BatchID identifies the affected batch, if any.
	BatchID string

	// Err is the underlying cause.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeStreamFailed indicates the session stream ended.
	ErrCodeStreamFailed RuntimeErrorCode = "STREAM_FAILED"

	// ErrCodeDecodeFailed indicates one or more events could not be decoded.
	ErrCodeDecodeFailed RuntimeErrorCode = "DECODE_FAILED"

	// ErrCodeAckFailed indicates an acknowledgement could not be sent.
	ErrCodeAckFailed RuntimeErrorCode = "ACK_FAILED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.BatchID != "" {
		msg = fmt.Sprintf("%s (batch=%s)", msg, e.BatchID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsStreamError returns true if the error is a stream failure.
// Uses errors.As to handle wrapped errors.
func IsStreamError(err error) bool {
	return hasCode(err, ErrCodeStreamFailed)
}

// IsDecodeError returns true if the error is a decode failure.
func IsDecodeError(err error) bool {
	return hasCode(err, ErrCodeDecodeFailed)
}

// IsAckError returns true if the error is an acknowledgement failure.
func IsAckError(err error) bool {
	return hasCode(err, ErrCodeAckFailed)
}

// NewStreamError creates a RuntimeError for a broken stream.
func NewStreamError(err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeStreamFailed,
		Message: "sync stream ended",
		Err:     err,
	}
}

// NewDecodeError creates a RuntimeError for skipped events.
func NewDecodeError(batchID string, skipped int) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeDecodeFailed,
		Message: fmt.Sprintf("%d event(s) skipped", skipped),
		BatchID: batchID,
	}
}

// NewAckError creates a RuntimeError for a failed acknowledgement.
func NewAckError(batchID string, err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeAckFailed,
		Message: "acknowledgement not sent",
		BatchID: batchID,
		Err:     err,
	}
}
