package classification

import "fmt"

// RemoteError codes.
const (
	ErrTimeout         = "timeout"
	ErrUnavailable     = "unavailable"
	ErrRateLimited     = "rate_limited"
	ErrParseFailure    = "parse_failure"
	ErrInvalidResponse = "invalid_response"
)

// RemoteError describes why a remote classification attempt failed.
type RemoteError struct {
	Code    string
	Message string
	Details string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote classifier %s: %s", e.Code, e.Message)
}
