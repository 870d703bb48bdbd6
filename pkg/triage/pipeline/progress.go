package pipeline

import (
	"sync"
	"time"
)

// Progress status values.
const (
	ProgressPending   = "pending"
	ProgressRunning   = "running"
	ProgressCompleted = "completed"
	ProgressCancelled = "cancelled"
)

// Progress tracks the outcome counts of a batch run.
type Progress struct {
	mu sync.RWMutex

	total     int
	completed int
	failed    int
	skipped   int
	status    string

	startedAt time.Time
	updatedAt time.Time

	onUpdate func(ProgressSnapshot)
}

// NewProgress creates a new progress tracker for total reports.
func NewProgress(total int) *Progress {
	now := time.Now()
	return &Progress{
		total:     total,
		status:    ProgressPending,
		startedAt: now,
		updatedAt: now,
	}
}

// SetOnUpdate sets a callback invoked with a snapshot after each update.
func (p *Progress) SetOnUpdate(fn func(ProgressSnapshot)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onUpdate = fn
}

// Start marks the run as started.
func (p *Progress) Start() {
	p.update(func() {
		p.status = ProgressRunning
		p.startedAt = time.Now()
	})
}

// RecordCompleted counts a report that reached Completed.
func (p *Progress) RecordCompleted() {
	p.update(func() { p.completed++ })
}

// RecordFailed counts a report that reached Failed.
func (p *Progress) RecordFailed() {
	p.update(func() { p.failed++ })
}

// RecordSkipped counts a report another worker claimed first.
func (p *Progress) RecordSkipped() {
	p.update(func() { p.skipped++ })
}

// Complete marks the run finished, or cancelled when ok is false.
func (p *Progress) Complete(ok bool) {
	p.update(func() {
		if ok {
			p.status = ProgressCompleted
		} else {
			p.status = ProgressCancelled
		}
	})
}

func (p *Progress) update(fn func()) {
	p.mu.Lock()
	fn()
	p.updatedAt = time.Now()
	cb := p.onUpdate
	snap := p.snapshotLocked()
	p.mu.Unlock()

	if cb != nil {
		cb(snap)
	}
}

// Snapshot returns a copy of the current progress.
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshotLocked()
}

func (p *Progress) snapshotLocked() ProgressSnapshot {
	return ProgressSnapshot{
		Total:          p.total,
		CompletedCount: p.completed,
		FailedCount:    p.failed,
		SkippedCount:   p.skipped,
		Status:         p.status,
		StartedAt:      p.startedAt,
		ElapsedSeconds: p.updatedAt.Sub(p.startedAt).Seconds(),
	}
}

// ProgressSnapshot is an immutable view of a Progress.
type ProgressSnapshot struct {
	Total          int
	CompletedCount int
	FailedCount    int
	SkippedCount   int
	Status         string
	StartedAt      time.Time
	ElapsedSeconds float64
}

// Processed returns how many reports have a recorded outcome.
func (s ProgressSnapshot) Processed() int {
	return s.CompletedCount + s.FailedCount + s.SkippedCount
}

// PercentComplete returns the share of reports with an outcome.
func (s ProgressSnapshot) PercentComplete() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Processed()) / float64(s.Total) * 100
}

// IsSuccess reports whether the run finished without failures.
func (s ProgressSnapshot) IsSuccess() bool {
	return s.Status == ProgressCompleted && s.FailedCount == 0
}
