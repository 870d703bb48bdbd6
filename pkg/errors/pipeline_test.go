package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassifyError_Nil(t *testing.T) {
	result := ClassifyError(nil, "classify")
	if result != nil {
		t.Errorf("Expected nil for nil error, got %v", result)
	}
}

func TestClassifyError_DeadlineExceeded(t *testing.T) {
	err := context.DeadlineExceeded
	result := ClassifyError(err, "classify")

	if result == nil {
		t.Fatal("Expected non-nil PipelineError")
	}
	if result.Code != ErrTimeout {
		t.Errorf("Expected ErrTimeout, got %s", result.Code)
	}
	if result.Stage != "classify" {
		t.Errorf("Expected stage 'classify', got %s", result.Stage)
	}
	if result.Message != "operation timed out" {
		t.Errorf("Expected 'operation timed out', got %s", result.Message)
	}
	if result.Cause != err {
		t.Errorf("Expected cause to be original error")
	}
}

func TestClassifyError_Canceled(t *testing.T) {
	result := ClassifyError(fmt.Errorf("extract: %w", context.Canceled), "extract")

	if result == nil {
		t.Fatal("Expected non-nil PipelineError")
	}
	if result.Code != ErrContextCancelled {
		t.Errorf("Expected ErrContextCancelled, got %s", result.Code)
	}
	if result.Message != "operation cancelled" {
		t.Errorf("Expected 'operation cancelled', got %s", result.Message)
	}
}

func TestClassifyError_Patterns(t *testing.T) {
	tests := []struct {
		name     string
		errorMsg string
		want     ErrorCode
	}{
		{"rate limit", "rate limit exceeded", ErrRateLimit},
		{"429 status", "HTTP 429 error", ErrRateLimit},
		{"too many requests", "Too Many Requests", ErrRateLimit},
		{"connection refused", "dial tcp 127.0.0.1:8000: connection refused", ErrServiceUnavailable},
		{"503 status", "HTTP 503 error", ErrServiceUnavailable},
		{"no such host", "lookup classifier: no such host", ErrServiceUnavailable},
		{"parse", "failed to parse response", ErrParseError},
		{"unmarshal", "json: cannot unmarshal number", ErrParseError},
		{"empty text", "empty text after normalization", ErrEmptyContent},
		{"too long", "text too long", ErrContentTooLarge},
		{"unknown", "some random error", ErrStageFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ClassifyError(errors.New(tt.errorMsg), "classify")

			if result == nil {
				t.Fatal("Expected non-nil PipelineError")
			}
			if result.Code != tt.want {
				t.Errorf("Expected %s for '%s', got %s", tt.want, tt.errorMsg, result.Code)
			}
			if result.Message != tt.errorMsg {
				t.Errorf("Expected message '%s', got %s", tt.errorMsg, result.Message)
			}
		})
	}
}

func TestClassifyError_KeepsExistingPipelineError(t *testing.T) {
	pe := &PipelineError{Code: ErrParseError, Stage: "classify", Message: "bad json"}
	wrapped := fmt.Errorf("outer: %w", pe)

	result := ClassifyError(wrapped, "extract")
	if result != pe {
		t.Errorf("Expected the existing PipelineError to be returned")
	}
}

func TestPipelineError_Error_WithStage(t *testing.T) {
	pe := &PipelineError{
		Code:    ErrStageFailure,
		Stage:   "classify",
		Message: "classifier exploded",
	}

	expected := "pipeline failed at classify: classifier exploded"
	if pe.Error() != expected {
		t.Errorf("Expected '%s', got '%s'", expected, pe.Error())
	}
}

func TestPipelineError_Error_NoStage(t *testing.T) {
	pe := &PipelineError{
		Code:    ErrStageFailure,
		Message: "something went wrong",
	}

	expected := "stage_failure: something went wrong"
	if pe.Error() != expected {
		t.Errorf("Expected '%s', got '%s'", expected, pe.Error())
	}
}

func TestPipelineError_Unwrap(t *testing.T) {
	originalErr := errors.New("original error")
	pe := ClassifyError(originalErr, "extract")

	if !errors.Is(pe, originalErr) {
		t.Errorf("Expected errors.Is to reach the original error")
	}
}

func TestIsTimeout(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"timeout error", &PipelineError{Code: ErrTimeout}, true},
		{"rate limit error", &PipelineError{Code: ErrRateLimit}, false},
		{"bare deadline", context.DeadlineExceeded, true},
		{"plain error", errors.New("plain"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTimeout(tt.err); got != tt.expected {
				t.Errorf("IsTimeout() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestIsStageFailure(t *testing.T) {
	if !IsStageFailure(fmt.Errorf("process: %w", ClassifyError(errors.New("x"), "normalize"))) {
		t.Error("IsStageFailure() = false for wrapped PipelineError")
	}
	if IsStageFailure(ErrNotFound) {
		t.Error("IsStageFailure() = true for ErrNotFound")
	}
}

func TestIsErrorRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"timeout", &PipelineError{Code: ErrTimeout}, true},
		{"unavailable", &PipelineError{Code: ErrServiceUnavailable}, true},
		{"parse", &PipelineError{Code: ErrParseError}, false},
		{"unknown code", &PipelineError{Code: "mystery"}, false},
		{"not a pipeline error", errors.New("x"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsErrorRetryable(tt.err); got != tt.expected {
				t.Errorf("IsErrorRetryable() = %v, want %v", got, tt.expected)
			}
		})
	}
}
