package validation

import (
	stderrors "errors"
	"strings"
	"testing"
	"time"

	"github.com/vnykmshr/capflow/pkg/common/errors"
)

func TestValidatePositive(t *testing.T) {
	tests := []struct {
		name      string
		value     int
		wantError bool
	}{
		{"positive value", 10, false},
		{"positive value 1", 1, false},
		{"zero value", 0, true},
		{"negative value", -1, true},
		{"large negative", -1000000, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePositive("queue", "batch_size", tt.value)

			if tt.wantError {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !errors.IsValidationError(err) {
					t.Errorf("expected ValidationError, got %T", err)
				}
			} else if err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		})
	}
}

func TestValidateNonNegative(t *testing.T) {
	tests := []struct {
		name      string
		value     int
		wantError bool
	}{
		{"positive value", 3, false},
		{"zero value", 0, false},
		{"negative value", -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateNonNegative("queue", "capacity", tt.value)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidateNonNegative(%d) error = %v, wantError %v", tt.value, err, tt.wantError)
			}
		})
	}
}

func TestValidateDurations(t *testing.T) {
	tests := []struct {
		name        string
		value       time.Duration
		positiveErr bool
		nonNegErr   bool
	}{
		{"one second", time.Second, false, false},
		{"zero", 0, true, false},
		{"negative", -time.Millisecond, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidatePositiveDuration("capacity", "interval", tt.value); (err != nil) != tt.positiveErr {
				t.Errorf("ValidatePositiveDuration(%v) error = %v, wantError %v", tt.value, err, tt.positiveErr)
			}
			if err := ValidateNonNegativeDuration("writer", "backoff", tt.value); (err != nil) != tt.nonNegErr {
				t.Errorf("ValidateNonNegativeDuration(%v) error = %v, wantError %v", tt.value, err, tt.nonNegErr)
			}
		})
	}
}

func TestValidateNotEmpty(t *testing.T) {
	if err := ValidateNotEmpty("capacity", "key", ""); err == nil {
		t.Error("expected error for empty string")
	}
	if err := ValidateNotEmpty("capacity", "key", "feed"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidationErrorDetails(t *testing.T) {
	err := ValidatePositive("queue", "batch_size", 0)

	var verr *errors.ValidationError
	if !stderrors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if verr.Module != "queue" || verr.Field != "batch_size" {
		t.Errorf("unexpected module/field: %s/%s", verr.Module, verr.Field)
	}
	if verr.Hint == "" {
		t.Error("expected a hint")
	}
	if !strings.Contains(err.Error(), "batch_size=0") {
		t.Errorf("message should name the field and value, got %q", err.Error())
	}
	if !stderrors.Is(err, errors.ErrInvalidConfiguration) {
		t.Error("validation errors should wrap ErrInvalidConfiguration")
	}
}
