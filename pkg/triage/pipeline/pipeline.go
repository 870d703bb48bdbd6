// Package pipeline drives reports through normalize, classify and extract,
// and owns the per-report state machine.
package pipeline

import (
	"context"
	"fmt"
	"time"

	rferrors "github.com/otherjamesbrown/relief/pkg/errors"
	"github.com/otherjamesbrown/relief/pkg/logging"
	"github.com/otherjamesbrown/relief/pkg/triage"
	"github.com/otherjamesbrown/relief/pkg/triage/classification"
	"github.com/otherjamesbrown/relief/pkg/triage/extraction"
	"github.com/otherjamesbrown/relief/pkg/triage/normalize"
	"github.com/otherjamesbrown/relief/pkg/triage/observability"
)

// Pipeline processes one report at a time.
type Pipeline struct {
	repo       triage.Repository
	normalizer normalize.Normalizer
	classifier classification.Classifier
	extractor  extraction.Extractor
	logger     logging.Logger
	metrics    *observability.PipelineMetrics
	tracer     *observability.Tracer
	events     *observability.EventEmitter
	now        func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithNormalizer replaces the default normalizer.
func WithNormalizer(n normalize.Normalizer) Option {
	return func(p *Pipeline) {
		p.normalizer = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *observability.PipelineMetrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithTracer sets the tracer used for report and stage spans.
func WithTracer(t *observability.Tracer) Option {
	return func(p *Pipeline) {
		p.tracer = t
	}
}

// WithPublisher sets the publisher for report lifecycle events.
func WithPublisher(pub observability.EventPublisher) Option {
	return func(p *Pipeline) {
		p.events = observability.NewEventEmitter(pub)
	}
}

// WithClock overrides the time source used for error and event timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// New creates a Pipeline.
func New(repo triage.Repository, classifier classification.Classifier, extractor extraction.Extractor, opts ...Option) *Pipeline {
	p := &Pipeline{
		repo:       repo,
		normalizer: normalize.Default,
		classifier: classifier,
		extractor:  extractor,
		logger:     logging.MustGlobal(),
		tracer:     observability.NewTracer(),
		events:     observability.NewEventEmitter(nil),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(logging.F("component", "pipeline"))
	return p
}

// Repository returns the repository the pipeline persists through.
func (p *Pipeline) Repository() triage.Repository {
	return p.repo
}

// Process claims report id and runs it through every stage. Reports in
// Pending, Failed or Completed may be processed; a report already in
// Processing yields errors.ErrInvalidState. A stage failure is recorded on
// the report and returned as a *errors.PipelineError.
func (p *Pipeline) Process(ctx context.Context, id string) (*triage.Report, error) {
	if _, err := p.repo.FindByID(ctx, id); err != nil {
		return nil, err
	}

	claimed, err := p.repo.Claim(ctx, id, triage.ReprocessableStatuses...)
	if err != nil {
		return nil, err
	}
	return p.ProcessClaimed(ctx, claimed)
}

// ProcessClaimed runs the stages on a report already moved to Processing
// and persists the outcome.
func (p *Pipeline) ProcessClaimed(ctx context.Context, report *triage.Report) (*triage.Report, error) {
	start := time.Now()
	ctx, span := p.tracer.StartReportSpan(logging.WithReportID(ctx, report.ID), report.ID)
	defer span.End()
	logger := p.logger.WithContext(ctx)
	helper := observability.NewSpanHelper(span)
	helper.SetPlatform(string(report.Source.Platform))

	out, stage, stageErr := p.runStages(ctx, report, helper)

	// The outcome is persisted even if the caller has gone away, so the
	// report never stays in Processing.
	saveCtx := context.WithoutCancel(ctx)

	if stageErr != nil {
		pe := rferrors.ClassifyError(stageErr, stage)
		pe.Duration = time.Since(start)

		failed := triage.MarkFailed(report, stage, stageErr, p.now().UTC())
		saved, err := p.repo.Save(saveCtx, failed)
		if err != nil {
			logger.Error("Failed to persist failed report", logging.Err(err), logging.F("stage", stage))
			return nil, fmt.Errorf("failed to save report %s: %w", report.ID, err)
		}

		helper.SetError(stageErr, string(pe.Code), rferrors.IsErrorRetryable(pe))
		p.recordOutcome(observability.OutcomeFailed)
		if p.metrics != nil {
			p.metrics.RecordStageFailure(stage, string(pe.Code))
		}
		logger.Warn("Report processing failed",
			logging.Err(stageErr),
			logging.F("stage", stage),
			logging.F("code", string(pe.Code)),
			logging.F("duration_ms", pe.Duration.Milliseconds()))

		p.emit(saveCtx, saved, observability.EventTypeReportFailed, stage, stageErr, pe.Duration)
		return saved, pe
	}

	completed := triage.MarkCompleted(report, out, p.now().UTC())
	saved, err := p.repo.Save(saveCtx, completed)
	if err != nil {
		logger.Error("Failed to persist completed report", logging.Err(err))
		return nil, fmt.Errorf("failed to save report %s: %w", report.ID, err)
	}

	elapsed := time.Since(start)
	helper.SetDuration(elapsed.Milliseconds())
	helper.SetSuccess()
	p.recordOutcome(observability.OutcomeCompleted)
	logger.Info("Report processed",
		logging.F("urgency", string(saved.Classification.Urgency)),
		logging.F("is_help_request", saved.Classification.IsHelpRequest),
		logging.F("help_type", string(saved.ExtractedDetails.HelpType)),
		logging.F("duration_ms", elapsed.Milliseconds()))

	p.emit(saveCtx, saved, observability.EventTypeReportCompleted, "", nil, elapsed)
	return saved, nil
}

// runStages returns the outcome, or the failing stage and its error.
func (p *Pipeline) runStages(ctx context.Context, report *triage.Report, helper *observability.SpanHelper) (triage.Outcome, string, error) {
	var out triage.Outcome

	err := p.stage(ctx, triage.StageNormalize, func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		out.ProcessedText = p.normalizer.Normalize(report.RawText)
		return nil
	})
	if err != nil {
		return out, triage.StageNormalize, err
	}

	err = p.stage(ctx, triage.StageClassify, func(ctx context.Context) error {
		res, err := p.classifier.Classify(ctx, out.ProcessedText)
		if err != nil {
			return err
		}
		if res == nil {
			return fmt.Errorf("classifier %s returned no result", p.classifier.Name())
		}
		out.Classification = res.Classification
		out.RawNLPResponse = res.Raw

		helper.SetClassification(p.classifier.Name(), string(res.Classification.Urgency),
			res.Classification.IsHelpRequest, res.Classification.Confidence, res.Fallback)
		if p.metrics != nil {
			p.metrics.RecordClassification(p.classifier.Name(), string(res.Classification.Urgency),
				res.Classification.IsHelpRequest, triage.ClampConfidence(res.Classification.Confidence))
			if res.Fallback {
				p.metrics.RecordFallback(p.classifier.Name(), res.FallbackReason)
			}
		}
		return nil
	})
	if err != nil {
		return out, triage.StageClassify, err
	}

	err = p.stage(ctx, triage.StageExtract, func(ctx context.Context) error {
		details, err := p.extractor.Extract(ctx, report.RawText)
		if err != nil {
			return err
		}
		out.Details = details
		return nil
	})
	if err != nil {
		return out, triage.StageExtract, err
	}

	return out, "", nil
}

// stage runs fn inside a span and records its latency.
func (p *Pipeline) stage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := p.tracer.StartStageSpan(ctx, name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	if p.metrics != nil {
		p.metrics.RecordStage(name, time.Since(start).Seconds())
	}
	if err != nil {
		observability.NewSpanHelper(span).SetError(err, name, false)
	}
	return err
}

func (p *Pipeline) recordOutcome(outcome string) {
	if p.metrics != nil {
		p.metrics.RecordOutcome(outcome)
	}
}

func (p *Pipeline) emit(ctx context.Context, r *triage.Report, eventType, stage string, cause error, elapsed time.Duration) {
	event := observability.NewReportEvent(eventType, r.ID, string(r.Source.Platform), string(r.ProcessingStatus))
	event.Urgency = string(r.Classification.Urgency)
	event.IsHelpRequest = r.Classification.IsHelpRequest
	event.HighPriority = r.IsHighPriority()
	event.HelpType = string(r.ExtractedDetails.HelpType)
	event.Stage = stage
	event.DurationMs = elapsed.Milliseconds()
	if cause != nil {
		event.Error = cause.Error()
	}

	if err := p.events.EmitReport(ctx, event); err != nil {
		p.logger.Warn("Failed to publish report event",
			logging.Err(err),
			logging.F("report_id", r.ID),
			logging.F("event_type", eventType))
	}
}
