package triage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFilter_Matches(t *testing.T) {
	r := &Report{
		Source:           Source{Platform: PlatformTwitter, PostID: "p1"},
		Classification:   Classification{IsHelpRequest: true, Urgency: UrgencyHigh},
		ExtractedDetails: ExtractedDetails{HelpType: HelpTypeRescue},
		ProcessingStatus: StatusCompleted,
		UpdatedAt:        time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty", Filter{}, true},
		{"status", Filter{Status: StatusCompleted}, true},
		{"wrong status", Filter{Status: StatusPending}, false},
		{"urgency", Filter{Urgency: UrgencyHigh}, true},
		{"platform", Filter{Platform: PlatformReddit}, false},
		{"help type", Filter{HelpType: HelpTypeRescue}, true},
		{"high priority", Filter{HighPriority: true}, true},
		{"post id", Filter{Platform: PlatformTwitter, SourcePostID: "p1"}, true},
		{"other post id", Filter{Platform: PlatformTwitter, SourcePostID: "p2"}, false},
		{"combined mismatch", Filter{Status: StatusCompleted, HelpType: HelpTypeFood}, false},
		{"updated before", Filter{UpdatedBefore: time.Date(2026, 5, 1, 9, 1, 0, 0, time.UTC)}, true},
		{"updated at cutoff", Filter{UpdatedBefore: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(r))
		})
	}

	r.Classification.IsHelpRequest = false
	assert.False(t, Filter{HighPriority: true}.Matches(r))
}

func TestFilter_IsEmpty(t *testing.T) {
	assert.True(t, Filter{}.IsEmpty())
	assert.False(t, Filter{HighPriority: true}.IsEmpty())
	assert.False(t, Filter{UpdatedBefore: time.Now()}.IsEmpty())
}

func TestStats_Add(t *testing.T) {
	s := NewStats()
	for _, u := range Urgencies {
		assert.Contains(t, s.ByUrgency, u)
	}
	for _, st := range Statuses {
		assert.Contains(t, s.ByStatus, st)
	}

	s.Add(UrgencyHigh, StatusCompleted, true, 2)
	s.Add(UrgencyHigh, StatusCompleted, false, 1)
	s.Add(UrgencyLow, StatusCompleted, true, 1)
	s.Add("", StatusPending, false, 3)

	assert.Equal(t, 7, s.Total)
	assert.Equal(t, 3, s.ByUrgency[UrgencyHigh])
	assert.Equal(t, 1, s.ByUrgency[UrgencyLow])
	assert.Equal(t, 0, s.ByUrgency[UrgencyMedium])
	assert.Equal(t, 4, s.ByStatus[StatusCompleted])
	assert.Equal(t, 3, s.ByStatus[StatusPending])
	assert.Equal(t, 3, s.Urgent)
	assert.Equal(t, 2, s.HighPriority)
	assert.NotContains(t, s.ByUrgency, Urgency(""))
}
