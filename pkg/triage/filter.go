package triage

import "time"

// Filter selects reports. Zero-valued fields match everything.
type Filter struct {
	Status       ProcessingStatus
	Urgency      Urgency
	Platform     Platform
	HelpType     HelpType
	HighPriority bool
	// SourcePostID matches the source post identifier. It is combined with
	// Platform for duplicate detection.
	SourcePostID string

	// UpdatedBefore matches reports last written before this instant.
	UpdatedBefore time.Time
}

// Matches reports whether r satisfies every set predicate of f.
func (f Filter) Matches(r *Report) bool {
	if f.Status != "" && r.ProcessingStatus != f.Status {
		return false
	}
	if f.Urgency != "" && r.Classification.Urgency != f.Urgency {
		return false
	}
	if f.Platform != "" && r.Source.Platform != f.Platform {
		return false
	}
	if f.HelpType != HelpTypeNone && r.ExtractedDetails.HelpType != f.HelpType {
		return false
	}
	if f.HighPriority && !r.IsHighPriority() {
		return false
	}
	if f.SourcePostID != "" && r.Source.PostID != f.SourcePostID {
		return false
	}
	if !f.UpdatedBefore.IsZero() && !r.UpdatedAt.Before(f.UpdatedBefore) {
		return false
	}
	return true
}

// IsEmpty reports whether f has no predicates set.
func (f Filter) IsEmpty() bool {
	return f == Filter{}
}

// SortOrder orders query results by creation time.
type SortOrder string

const (
	SortCreatedAtDesc SortOrder = "created_at_desc"
	SortCreatedAtAsc  SortOrder = "created_at_asc"
)

// FindOptions controls ordering and pagination of Find.
type FindOptions struct {
	Sort  SortOrder
	Skip  int
	Limit int // 0 means no limit
}

// NewStats returns a Stats with every urgency and status bucket present.
func NewStats() *Stats {
	s := &Stats{
		ByUrgency: make(map[Urgency]int, len(Urgencies)),
		ByStatus:  make(map[ProcessingStatus]int, len(Statuses)),
	}
	for _, u := range Urgencies {
		s.ByUrgency[u] = 0
	}
	for _, st := range Statuses {
		s.ByStatus[st] = 0
	}
	return s
}

// Add counts n reports sharing the given urgency, status and help flag.
// Unclassified reports (empty urgency) count toward Total and ByStatus only.
func (s *Stats) Add(urgency Urgency, status ProcessingStatus, isHelpRequest bool, n int) {
	s.Total += n
	s.ByStatus[status] += n
	if urgency == "" {
		return
	}
	s.ByUrgency[urgency] += n
	if urgency == UrgencyHigh {
		s.Urgent += n
		if isHelpRequest {
			s.HighPriority += n
		}
	}
}
