package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a classified pipeline error.
type ErrorCode string

const (
	ErrTimeout            ErrorCode = "timeout"
	ErrRateLimit          ErrorCode = "rate_limit"
	ErrServiceUnavailable ErrorCode = "service_unavailable"
	ErrContextCancelled   ErrorCode = "context_cancelled"
	ErrParseError         ErrorCode = "parse_error"
	ErrEmptyContent       ErrorCode = "empty_content"
	ErrContentTooLarge    ErrorCode = "content_too_large"
	ErrStageFailure       ErrorCode = "stage_failure"
)

// PipelineError is a structured error for a failed pipeline stage.
// Cause is the error the stage returned and stays reachable through Unwrap.
type PipelineError struct {
	Code     ErrorCode
	Stage    string
	Message  string
	Duration time.Duration
	Cause    error
}

func (e *PipelineError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("pipeline failed at %s: %s", e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// ClassifyError inspects an error and returns a *PipelineError with the appropriate code.
// If the error doesn't match any known pattern, it returns a PipelineError with ErrStageFailure.
func ClassifyError(err error, stage string) *PipelineError {
	if err == nil {
		return nil
	}

	var existing *PipelineError
	if errors.As(err, &existing) {
		return existing
	}

	pe := &PipelineError{
		Stage: stage,
		Cause: err,
	}

	if errors.Is(err, context.DeadlineExceeded) {
		pe.Code = ErrTimeout
		pe.Message = "operation timed out"
		return pe
	}

	if errors.Is(err, context.Canceled) {
		pe.Code = ErrContextCancelled
		pe.Message = "operation cancelled"
		return pe
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	pe.Message = msg

	switch {
	case strings.Contains(lower, "empty text") || strings.Contains(lower, "no text") || strings.Contains(lower, "text is empty"):
		pe.Code = ErrEmptyContent
	case strings.Contains(lower, "too large") || strings.Contains(lower, "too long") || strings.Contains(lower, "exceeds maximum"):
		pe.Code = ErrContentTooLarge
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "429") || strings.Contains(lower, "too many requests"):
		pe.Code = ErrRateLimit
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "unavailable") || strings.Contains(lower, "503") || strings.Contains(lower, "no such host"):
		pe.Code = ErrServiceUnavailable
	case strings.Contains(lower, "parse") || strings.Contains(lower, "unmarshal") || strings.Contains(lower, "invalid character"):
		pe.Code = ErrParseError
	default:
		pe.Code = ErrStageFailure
	}
	return pe
}

// IsTimeout returns true if the error is a timeout error.
func IsTimeout(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code == ErrTimeout
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsStageFailure reports whether err came out of a pipeline stage.
func IsStageFailure(err error) bool {
	var pe *PipelineError
	return errors.As(err, &pe)
}

// IsErrorRetryable returns true if the error is likely transient and worth retrying.
// This function checks the error code using the ErrorCodeRegistry.
func IsErrorRetryable(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return IsRetryable(pe.Code)
	}
	return false
}
