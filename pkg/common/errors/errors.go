package errors

import (
	"errors"
	"fmt"
)

// Common error types used across the capflow library

var (
	// ErrClosed indicates that an operation was attempted on a closed resource
	ErrClosed = errors.New("resource is closed")

	// ErrInvalidConfiguration indicates invalid configuration parameters
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrInsufficientCapacity indicates that no capacity was left in the
	// current window; nothing was consumed and the call may be retried
	ErrInsufficientCapacity = errors.New("insufficient capacity")

	// ErrPartialCapacity indicates that only part of a batch was admitted;
	// the caller should retry with the remainder
	ErrPartialCapacity = errors.New("partial capacity")

	// ErrWindowUnavailable indicates that the store behind a capacity window
	// could not be reached; nothing is known to have been consumed
	ErrWindowUnavailable = errors.New("capacity window unavailable")

	// ErrQueueFull indicates that the backlog is at capacity and no worker
	// is free; the submission was rejected outright
	ErrQueueFull = errors.New("queue is full")
)

// ValidationError describes a rejected configuration value.
type ValidationError struct {
	Module string
	Field  string
	Value  interface{}
	Reason string
	Hint   string
}

// NewValidationError creates a ValidationError without a hint.
func NewValidationError(module, field string, value interface{}, reason string) *ValidationError {
	return &ValidationError{
		Module: module,
		Field:  field,
		Value:  value,
		Reason: reason,
	}
}

// WithHint attaches a remediation hint and returns the same error for chaining.
func (e *ValidationError) WithHint(hint string) *ValidationError {
	e.Hint = hint
	return e
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("%s: invalid %s=%v (%s)", e.Module, e.Field, e.Value, e.Reason)
	if e.Hint != "" {
		msg += " - " + e.Hint
	}
	return msg
}

// Unwrap lets errors.Is match ErrInvalidConfiguration.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfiguration
}

// OperationError records which operation of which module failed and why.
type OperationError struct {
	Module    string
	Operation string
	Cause     error
	Context   string
}

// NewOperationError creates an OperationError wrapping cause.
func NewOperationError(module, operation string, cause error) *OperationError {
	return &OperationError{
		Module:    module,
		Operation: operation,
		Cause:     cause,
	}
}

// WithContext attaches detail to the error and returns the same error for chaining.
func (e *OperationError) WithContext(context string) *OperationError {
	e.Context = context
	return e
}

func (e *OperationError) Error() string {
	msg := fmt.Sprintf("%s.%s failed: %v", e.Module, e.Operation, e.Cause)
	if e.Context != "" {
		msg += " (" + e.Context + ")"
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *OperationError) Unwrap() error {
	return e.Cause
}

// IsRetryable returns true if the error indicates a condition that might
// be resolved by retrying the operation
func IsRetryable(err error) bool {
	return errors.Is(err, ErrInsufficientCapacity) || errors.Is(err, ErrPartialCapacity)
}

// IsTemporary returns true if the error indicates a temporary condition
func IsTemporary(err error) bool {
	return IsRetryable(err) || errors.Is(err, ErrQueueFull) || errors.Is(err, ErrWindowUnavailable)
}

// IsValidationError reports whether err is or wraps a ValidationError.
func IsValidationError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}
