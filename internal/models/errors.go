package models

import "fmt"

// ValidationError rejects a malformed submission synchronously. A job record
// is never created when validation fails.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// NewValidationError creates a formatted ValidationError.
func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError marks an unknown job, plugin or tool lookup.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// ExecutionError wraps a tool failure during job execution. It aborts the
// job: status becomes failed and no partial results are retained.
type ExecutionError struct {
	ToolID string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.ToolID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// ConnectionError is a transport-level failure. It is handled entirely by the
// reconnection state machine and never surfaces as a job failure.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TimeoutError marks exhausted reconnection attempts. The subscriber ends in
// a terminal disconnected state distinct from job failure.
type TimeoutError struct {
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("reconnection attempts exhausted after %d tries", e.Attempts)
}
