package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestMessages(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"closed", ErrClosed, "resource is closed"},
		{"queue full", ErrQueueFull, "queue is full"},
		{"partial", ErrPartialCapacity, "partial capacity"},
		{
			"validation",
			NewValidationError("capacity", "Capacity", -1, "must be positive"),
			"capacity: invalid Capacity=-1 (must be positive)",
		},
		{
			"validation with hint",
			NewValidationError("queue", "BatchSize", 0, "must be positive").WithHint("use 25 for table writes"),
			"queue: invalid BatchSize=0 (must be positive) - use 25 for table writes",
		},
		{
			"empty string value",
			NewValidationError("scheduler", "cron", "", "cannot be empty"),
			"scheduler: invalid cron= (cannot be empty)",
		},
		{
			"operation",
			NewOperationError("capacity", "Reserve", errors.New("dial tcp: refused")),
			"capacity.Reserve failed: dial tcp: refused",
		},
		{
			"operation with context",
			NewOperationError("capacity", "PerformBatch", ErrPartialCapacity).WithContext("granted 14 of 25"),
			"capacity.PerformBatch failed: partial capacity (granted 14 of 25)",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.err.Error(); got != tc.want {
				t.Errorf("Error() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestUnwrap(t *testing.T) {
	verr := NewValidationError("queue", "Handler", nil, "required")
	if !errors.Is(verr, ErrInvalidConfiguration) {
		t.Error("validation errors should match ErrInvalidConfiguration")
	}

	oerr := NewOperationError("queue", "Submit", ErrClosed)
	if !errors.Is(oerr, ErrClosed) {
		t.Error("operation errors should match their cause")
	}
	if errors.Is(oerr, ErrQueueFull) {
		t.Error("operation error matched an unrelated sentinel")
	}
}

func TestClassification(t *testing.T) {
	wrappedFull := fmt.Errorf("submit p0/g1/3: %w", ErrQueueFull)
	partial := NewOperationError("capacity", "PerformBatch", ErrPartialCapacity).WithContext("granted 3 of 25")
	invalid := fmt.Errorf("config: %w", NewValidationError("config", "queue.batch_size", 0, "failed gt=0"))

	cases := []struct {
		name       string
		err        error
		retryable  bool
		temporary  bool
		validation bool
	}{
		{"nil", nil, false, false, false},
		{"insufficient", ErrInsufficientCapacity, true, true, false},
		{"partial wrapped", partial, true, true, false},
		{"queue full wrapped", wrappedFull, false, true, false},
		{"closed", ErrClosed, false, false, false},
		{"window unavailable", NewOperationError("capacity", "Reserve", ErrWindowUnavailable), false, true, false},
		{"invalid sentinel", ErrInvalidConfiguration, false, false, false},
		{"validation wrapped", invalid, false, false, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRetryable(tc.err); got != tc.retryable {
				t.Errorf("IsRetryable = %v, want %v", got, tc.retryable)
			}
			if got := IsTemporary(tc.err); got != tc.temporary {
				t.Errorf("IsTemporary = %v, want %v", got, tc.temporary)
			}
			if got := IsValidationError(tc.err); got != tc.validation {
				t.Errorf("IsValidationError = %v, want %v", got, tc.validation)
			}
		})
	}
}

func TestWithHintChains(t *testing.T) {
	err := NewValidationError("writer", "MaxBatch", 0, "must be positive")
	if err.WithHint("h") != err {
		t.Error("WithHint should return the receiver")
	}
	oerr := NewOperationError("writer", "Write", ErrClosed)
	if oerr.WithContext("c") != oerr {
		t.Error("WithContext should return the receiver")
	}
}
