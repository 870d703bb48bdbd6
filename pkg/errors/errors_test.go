package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"direct match", ErrNotFound, true},
		{"wrapped once", fmt.Errorf("find report: %w", ErrNotFound), true},
		{"wrapped twice", fmt.Errorf("service: %w", fmt.Errorf("repo: %w", ErrNotFound)), true},
		{"different error", ErrConflict, false},
		{"nil error", nil, false},
		{"unrelated error", errors.New("something else"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNotFound(tt.err); got != tt.want {
				t.Errorf("IsNotFound() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"direct match", ErrConflict, true},
		{"wrapped", fmt.Errorf("save report: %w", ErrConflict), true},
		{"different error", ErrNotFound, false},
		{"nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsConflict(tt.err); got != tt.want {
				t.Errorf("IsConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsValidation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"direct match", ErrValidation, true},
		{"validation error type", NewValidationError("rawText", "is required"), true},
		{"wrapped validation error type", fmt.Errorf("create: %w", NewValidationError("rawText", "too long")), true},
		{"different error", ErrNotFound, false},
		{"nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidation(tt.err); got != tt.want {
				t.Errorf("IsValidation() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsAlreadyExists(t *testing.T) {
	if !IsAlreadyExists(fmt.Errorf("twitter/123: %w", ErrAlreadyExists)) {
		t.Error("IsAlreadyExists() = false for wrapped ErrAlreadyExists")
	}
	if IsAlreadyExists(ErrConflict) {
		t.Error("IsAlreadyExists() = true for ErrConflict")
	}
}

func TestIsInvalidState(t *testing.T) {
	if !IsInvalidState(fmt.Errorf("claim: %w", ErrInvalidState)) {
		t.Error("IsInvalidState() = false for wrapped ErrInvalidState")
	}
	if IsInvalidState(nil) {
		t.Error("IsInvalidState() = true for nil")
	}
}

func TestValidationError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ValidationError
		want string
	}{
		{"with field", &ValidationError{Field: "rawText", Reason: "is required"}, "validation error: rawText: is required"},
		{"without field", &ValidationError{Reason: "bad input"}, "validation error: bad input"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidationError_As(t *testing.T) {
	err := fmt.Errorf("create item: %w", NewValidationError("source.platform", "unknown platform"))

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatal("errors.As failed to find *ValidationError")
	}
	if ve.Field != "source.platform" {
		t.Errorf("Field = %q, want %q", ve.Field, "source.platform")
	}
}
