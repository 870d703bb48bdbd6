package errors

// ErrorCodeInfo contains metadata about an error code.
type ErrorCodeInfo struct {
	Code            ErrorCode
	Retryable       bool
	Description     string
	SuggestedAction string
}

// ErrorCodeRegistry maps error codes to their metadata.
var ErrorCodeRegistry = map[ErrorCode]ErrorCodeInfo{
	ErrTimeout: {
		Code:            ErrTimeout,
		Retryable:       true,
		Description:     "Stage exceeded its time limit",
		SuggestedAction: "Reprocess the report: relief process <report-id>",
	},
	ErrRateLimit: {
		Code:            ErrRateLimit,
		Retryable:       true,
		Description:     "Upstream rate limit exceeded",
		SuggestedAction: "Lower classifier.requests_per_minute or wait before relief process all",
	},
	ErrServiceUnavailable: {
		Code:            ErrServiceUnavailable,
		Retryable:       true,
		Description:     "A dependent service is unavailable",
		SuggestedAction: "Check classifier.base_url and database connectivity: relief db status",
	},
	ErrContextCancelled: {
		Code:            ErrContextCancelled,
		Retryable:       false,
		Description:     "Operation cancelled by user or system",
		SuggestedAction: "Check if cancellation was intentional, then relief process <report-id>",
	},
	ErrParseError: {
		Code:            ErrParseError,
		Retryable:       false,
		Description:     "Stage output could not be parsed",
		SuggestedAction: "Inspect the report: relief report show <report-id>",
	},
	ErrEmptyContent: {
		Code:            ErrEmptyContent,
		Retryable:       false,
		Description:     "Report text is empty after normalization",
		SuggestedAction: "Verify source text: relief report show <report-id>",
	},
	ErrContentTooLarge: {
		Code:            ErrContentTooLarge,
		Retryable:       false,
		Description:     "Report text exceeds the maximum length",
		SuggestedAction: "Split the report into smaller posts before creating it",
	},
	ErrStageFailure: {
		Code:            ErrStageFailure,
		Retryable:       false,
		Description:     "Unclassified stage failure",
		SuggestedAction: "Check logs with --debug, then relief process <report-id>",
	},
}

// IsRetryable returns true if the given error code represents a transient, retryable error.
func IsRetryable(code ErrorCode) bool {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Retryable
	}
	return false
}

// GetSuggestedAction returns the suggested action for the given error code.
func GetSuggestedAction(code ErrorCode) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.SuggestedAction
	}
	return "Check logs for more details: relief --debug process <report-id>"
}

// GetDescription returns the human-readable description for the given error code.
func GetDescription(code ErrorCode) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Description
	}
	return "Unknown error"
}
