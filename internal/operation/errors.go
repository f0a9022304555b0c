package operation

import (
	"errors"
	"fmt"
)

// ErrTimeout is returned when the external processor exceeds the configured bound.
var ErrTimeout = errors.New("operation: processing timed out")

// ValidationError reports a client mistake detected before any processing.
type ValidationError struct {
	// Field is the request field at fault, e.g. "mp3Files" or "duration".
	Field string
	// Message is a human-readable description safe to return to clients.
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ProcessingError wraps a failure of the external processor.
// The wrapped error may carry diagnostics that must not reach clients.
type ProcessingError struct {
	Kind Kind
	Err  error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("operation: %s failed: %v", e.Kind, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}
