package triage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	rferrors "github.com/otherjamesbrown/relief/pkg/errors"
)

// MemoryRepository is an in-process Repository used by tests and dry runs.
// It stores clones, so callers never share state with the store.
type MemoryRepository struct {
	mu      sync.Mutex
	reports map[string]*memoryEntry
	seq     int64
	now     func() time.Time
}

type memoryEntry struct {
	seq    int64
	report *Report
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository returns an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		reports: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

// SetClock overrides the time source used for CreatedAt and UpdatedAt.
func (m *MemoryRepository) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// FindByID returns a copy of the stored report.
func (m *MemoryRepository) FindByID(ctx context.Context, id string) (*Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.reports[id]
	if !ok {
		return nil, fmt.Errorf("report %s: %w", id, rferrors.ErrNotFound)
	}
	return e.report.Clone(), nil
}

// Save inserts or conditionally updates r.
func (m *MemoryRepository) Save(ctx context.Context, r *Report) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	stored := r.Clone()

	if stored.ID == "" {
		if stored.Source.PostID != "" && m.hasPostLocked(stored.Source.Platform, stored.Source.PostID) {
			return nil, fmt.Errorf("report from %s post %s: %w", stored.Source.Platform, stored.Source.PostID, rferrors.ErrAlreadyExists)
		}
		stored.ID = uuid.New().String()
		stored.CreatedAt = now
		stored.UpdatedAt = now
		stored.Version = 1
		m.seq++
		m.reports[stored.ID] = &memoryEntry{seq: m.seq, report: stored}
		return stored.Clone(), nil
	}

	e, ok := m.reports[stored.ID]
	if !ok {
		return nil, fmt.Errorf("report %s: %w", stored.ID, rferrors.ErrNotFound)
	}
	if e.report.Version != stored.Version {
		return nil, fmt.Errorf("report %s at version %d, stored %d: %w",
			stored.ID, stored.Version, e.report.Version, rferrors.ErrConflict)
	}
	stored.CreatedAt = e.report.CreatedAt
	stored.UpdatedAt = now
	stored.Version++
	e.report = stored
	return stored.Clone(), nil
}

func (m *MemoryRepository) hasPostLocked(platform Platform, postID string) bool {
	for _, e := range m.reports {
		if e.report.Source.Platform == platform && e.report.Source.PostID == postID {
			return true
		}
	}
	return false
}

// Find returns matching reports in the requested order.
func (m *MemoryRepository) Find(ctx context.Context, f Filter, opts FindOptions) ([]*Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	matched := make([]*memoryEntry, 0, len(m.reports))
	for _, e := range m.reports {
		if f.Matches(e.report) {
			matched = append(matched, e)
		}
	}

	asc := opts.Sort == SortCreatedAtAsc
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.report.CreatedAt.Equal(b.report.CreatedAt) {
			if asc {
				return a.report.CreatedAt.Before(b.report.CreatedAt)
			}
			return a.report.CreatedAt.After(b.report.CreatedAt)
		}
		if asc {
			return a.seq < b.seq
		}
		return a.seq > b.seq
	})

	if opts.Skip > 0 {
		if opts.Skip >= len(matched) {
			matched = nil
		} else {
			matched = matched[opts.Skip:]
		}
	}
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	out := make([]*Report, len(matched))
	for i, e := range matched {
		out[i] = e.report.Clone()
	}
	return out, nil
}

// Count returns the number of matching reports.
func (m *MemoryRepository) Count(ctx context.Context, f Filter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, e := range m.reports {
		if f.Matches(e.report) {
			n++
		}
	}
	return n, nil
}

// DeleteMany removes matching reports.
func (m *MemoryRepository) DeleteMany(ctx context.Context, f Filter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, e := range m.reports {
		if f.Matches(e.report) {
			delete(m.reports, id)
			n++
		}
	}
	return n, nil
}

// Claim moves the report to Processing under the store lock.
func (m *MemoryRepository) Claim(ctx context.Context, id string, from ...ProcessingStatus) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.reports[id]
	if !ok {
		return nil, fmt.Errorf("report %s: %w", id, rferrors.ErrNotFound)
	}
	next, err := MarkProcessing(e.report, from)
	if err != nil {
		return nil, err
	}
	next.UpdatedAt = m.now().UTC()
	next.Version++
	e.report = next
	return next.Clone(), nil
}

// Stats aggregates over all stored reports.
func (m *MemoryRepository) Stats(ctx context.Context) (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := NewStats()
	for _, e := range m.reports {
		s.Add(e.report.Classification.Urgency, e.report.ProcessingStatus, e.report.Classification.IsHelpRequest, 1)
	}
	return s, nil
}
