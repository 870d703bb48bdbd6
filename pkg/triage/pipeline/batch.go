package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	rferrors "github.com/otherjamesbrown/relief/pkg/errors"
	"github.com/otherjamesbrown/relief/pkg/logging"
	"github.com/otherjamesbrown/relief/pkg/triage"
	"github.com/otherjamesbrown/relief/pkg/triage/observability"
)

// Batch trigger label values.
const (
	TriggerManual  = "manual"
	TriggerSweeper = "sweeper"
)

// RunnerConfig configures the batch runner.
type RunnerConfig struct {
	// MaxConcurrency caps in-flight reports. Zero means no cap.
	MaxConcurrency int

	// Trigger labels metrics and events; defaults to TriggerManual.
	Trigger string
}

// BatchResult summarizes a batch run. Per-report outcomes live in the
// repository.
type BatchResult struct {
	BatchID   string
	Attempted int
	Completed int
	Failed    int
	Skipped   int
	StartedAt time.Time
	Duration  time.Duration
}

// Runner processes every Pending report concurrently. A failure in one
// report never affects the others.
type Runner struct {
	pipeline *Pipeline
	cfg      RunnerConfig
	logger   logging.Logger
	metrics  *observability.PipelineMetrics
	events   *observability.EventEmitter

	mu       sync.Mutex
	progress *Progress
}

// NewRunner creates a batch runner over p. It reuses the pipeline's
// metrics and event publisher.
func NewRunner(p *Pipeline, cfg RunnerConfig) *Runner {
	if cfg.Trigger == "" {
		cfg.Trigger = TriggerManual
	}
	return &Runner{
		pipeline: p,
		cfg:      cfg,
		logger:   p.logger.With(logging.F("component", "batch_runner")),
		metrics:  p.metrics,
		events:   p.events,
	}
}

// Progress returns the tracker of the most recent run, or nil before the
// first run.
func (r *Runner) Progress() *Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}

// ProcessAll selects every Pending report and processes each in its own
// goroutine. The error is non-nil only when selection fails.
func (r *Runner) ProcessAll(ctx context.Context) (BatchResult, error) {
	result := BatchResult{
		BatchID:   uuid.New().String(),
		StartedAt: time.Now(),
	}

	pending, err := r.pipeline.repo.Find(ctx, triage.Filter{Status: triage.StatusPending}, triage.FindOptions{Sort: triage.SortCreatedAtAsc})
	if err != nil {
		return result, fmt.Errorf("failed to select pending reports: %w", err)
	}
	result.Attempted = len(pending)

	ctx = logging.WithTrigger(logging.WithBatchID(ctx, result.BatchID), r.cfg.Trigger)
	ctx, span := r.pipeline.tracer.StartBatchSpan(ctx, result.BatchID)
	defer span.End()
	logger := r.logger.WithContext(ctx)
	observability.NewSpanHelper(span).SetBatchSize(len(pending))

	progress := NewProgress(len(pending))
	r.mu.Lock()
	r.progress = progress
	r.mu.Unlock()
	progress.Start()

	if len(pending) > 0 {
		logger.Info("Batch started",
			logging.F("pending", len(pending)),
			logging.F("max_concurrency", r.cfg.MaxConcurrency))
	}

	var g errgroup.Group
	if r.cfg.MaxConcurrency > 0 {
		g.SetLimit(r.cfg.MaxConcurrency)
	}
	for _, report := range pending {
		id := report.ID
		g.Go(func() error {
			r.processOne(ctx, id, progress, logger)
			return nil
		})
	}
	_ = g.Wait()

	snap := progress.Snapshot()
	result.Completed = snap.CompletedCount
	result.Failed = snap.FailedCount
	result.Skipped = snap.SkippedCount
	result.Duration = time.Since(result.StartedAt)
	progress.Complete(ctx.Err() == nil)

	if r.metrics != nil {
		r.metrics.RecordBatch(r.cfg.Trigger, result.Completed, result.Failed, result.Skipped, result.Duration.Seconds())
	}
	if len(pending) > 0 {
		logger.Info("Batch finished",
			logging.F("attempted", result.Attempted),
			logging.F("completed", result.Completed),
			logging.F("failed", result.Failed),
			logging.F("skipped", result.Skipped),
			logging.F("duration_ms", result.Duration.Milliseconds()))

		event := observability.NewBatchCompletedEvent(result.BatchID, r.cfg.Trigger,
			result.Attempted, result.Completed, result.Failed, result.Skipped, result.Duration)
		if err := r.events.EmitBatchCompleted(context.WithoutCancel(ctx), event); err != nil {
			logger.Warn("Failed to publish batch event", logging.Err(err))
		}
	}

	return result, nil
}

// processOne claims and processes a single report, containing every error.
func (r *Runner) processOne(ctx context.Context, id string, progress *Progress, logger logging.Logger) {
	if ctx.Err() != nil {
		progress.RecordSkipped()
		return
	}

	claimed, err := r.pipeline.repo.Claim(ctx, id, triage.StatusPending)
	if err != nil {
		if rferrors.IsInvalidState(err) || rferrors.IsNotFound(err) {
			logger.Debug("Report no longer pending, skipping", logging.F("report_id", id))
		} else {
			logger.Warn("Failed to claim report", logging.Err(err), logging.F("report_id", id))
		}
		progress.RecordSkipped()
		return
	}

	if _, err := r.pipeline.ProcessClaimed(ctx, claimed); err != nil {
		if !rferrors.IsStageFailure(err) {
			logger.Error("Failed to persist report outcome", logging.Err(err), logging.F("report_id", id))
		}
		progress.RecordFailed()
		return
	}
	progress.RecordCompleted()
}
