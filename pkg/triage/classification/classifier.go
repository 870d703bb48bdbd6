// Package classification decides whether a report is a help request and how
// urgent it is.
//
// Two backends exist: RuleClassifier, a deterministic keyword matcher, and
// RemoteClassifier, which calls an OpenAI-compatible chat completion
// endpoint. The remote backend degrades to Fallback() on any failure and
// never returns an error for remote problems.
package classification

import (
	"context"
	"fmt"
	"time"

	"github.com/otherjamesbrown/relief/pkg/logging"
	"github.com/otherjamesbrown/relief/pkg/triage"
)

// Backend names accepted by New.
const (
	BackendRules  = "rules"
	BackendRemote = "remote"
)

// Classifier classifies normalized report text.
type Classifier interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// Classify returns the verdict for text. An error means the stage
	// failed and the report should be marked Failed.
	Classify(ctx context.Context, text string) (*Result, error)
}

// Result is a classifier verdict plus provenance.
type Result struct {
	Classification triage.Classification

	// Raw is the verbatim remote payload, empty for local backends.
	Raw string

	// Fallback is true when the remote path failed and the deterministic
	// fallback was returned instead.
	Fallback bool

	// FallbackReason is the RemoteError code behind a fallback.
	FallbackReason string
}

// Fallback is the verdict used when remote classification is unavailable.
func Fallback() triage.Classification {
	return triage.Classification{
		IsHelpRequest: false,
		Urgency:       triage.UrgencyNeedsReview,
		Confidence:    0,
		Categories:    []string{},
	}
}

// Config selects and tunes a classifier backend.
type Config struct {
	Backend string

	// Remote backend settings.
	BaseURL           string
	Model             string
	APIKey            string
	Timeout           time.Duration
	RequestsPerMinute int
	Burst             int
}

// DefaultConfig returns a rules-backed configuration.
func DefaultConfig() Config {
	return Config{
		Backend:           BackendRules,
		Model:             "disaster-triage",
		Timeout:           15 * time.Second,
		RequestsPerMinute: 60,
		Burst:             5,
	}
}

// New builds the classifier named by cfg.Backend.
func New(cfg Config, logger logging.Logger) (Classifier, error) {
	switch cfg.Backend {
	case "", BackendRules:
		return NewRuleClassifier(), nil
	case BackendRemote:
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("remote classifier requires a base URL")
		}
		return NewRemoteClassifier(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown classifier backend %q", cfg.Backend)
	}
}
