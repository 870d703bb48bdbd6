package classification

import (
	"context"
	"strings"

	"github.com/otherjamesbrown/relief/pkg/triage"
)

// helpKeywords mark a text as a request for help.
var helpKeywords = []string{"help", "need", "urgent", "emergency", "rescue", "save", "trapped", "stuck"}

// categoryKeywords are checked in order; every matching category is kept.
var categoryKeywords = []struct {
	category string
	keywords []string
}{
	{"medical", []string{"medical", "doctor"}},
	{"food", []string{"food", "water"}},
	{"shelter", []string{"shelter", "home"}},
	{"rescue", []string{"rescue", "trapped"}},
}

// GeneralCategory is assigned when no category keyword matches.
const GeneralCategory = "general"

// RuleClassifier is a deterministic keyword classifier. Matching is by
// substring on lower-cased text, so "needed" counts as "need".
type RuleClassifier struct{}

// NewRuleClassifier returns a RuleClassifier.
func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{}
}

// Name returns the backend identifier.
func (c *RuleClassifier) Name() string { return BackendRules }

// Classify never fails.
func (c *RuleClassifier) Classify(ctx context.Context, text string) (*Result, error) {
	return &Result{Classification: ClassifyRules(text)}, nil
}

// ClassifyRules applies the keyword rules to text.
func ClassifyRules(text string) triage.Classification {
	lower := strings.ToLower(text)

	cls := triage.Classification{
		IsHelpRequest: containsAny(lower, helpKeywords...),
		Urgency:       triage.UrgencyLow,
		Confidence:    0.6,
	}

	// Priority order: urgent/emergency beats need/help.
	switch {
	case containsAny(lower, "urgent", "emergency"):
		cls.Urgency = triage.UrgencyHigh
		cls.Confidence = 0.9
	case containsAny(lower, "need", "help"):
		cls.Urgency = triage.UrgencyMedium
		cls.Confidence = 0.7
	}

	for _, ck := range categoryKeywords {
		if containsAny(lower, ck.keywords...) {
			cls.Categories = append(cls.Categories, ck.category)
		}
	}
	if len(cls.Categories) == 0 {
		cls.Categories = []string{GeneralCategory}
	}
	return cls
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
