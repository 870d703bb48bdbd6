// Package service is the application API over the triage pipeline: intake,
// processing, queries and statistics.
package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	rferrors "github.com/otherjamesbrown/relief/pkg/errors"
	"github.com/otherjamesbrown/relief/pkg/logging"
	"github.com/otherjamesbrown/relief/pkg/triage"
	"github.com/otherjamesbrown/relief/pkg/triage/observability"
	"github.com/otherjamesbrown/relief/pkg/triage/pipeline"
)

// CreateItemInput is a new report as delivered by a source connector.
type CreateItemInput struct {
	RawText string
	Source  triage.Source
	Image   *triage.ImageSource
}

// Config tunes the service.
type Config struct {
	// MaxConcurrency caps in-flight reports in ProcessAll. Zero means no cap.
	MaxConcurrency int
}

// Service is the entry point used by the CLI and the sweeper.
type Service struct {
	repo     triage.Repository
	pipeline *pipeline.Pipeline
	runner   *pipeline.Runner
	logger   logging.Logger
	metrics  *observability.PipelineMetrics
	events   *observability.EventEmitter
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics enables intake metrics.
func WithMetrics(m *observability.PipelineMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithPublisher sets the publisher for report.created events.
func WithPublisher(pub observability.EventPublisher) Option {
	return func(s *Service) {
		s.events = observability.NewEventEmitter(pub)
	}
}

// New creates a Service over p.
func New(p *pipeline.Pipeline, cfg Config, opts ...Option) *Service {
	s := &Service{
		repo:     p.Repository(),
		pipeline: p,
		runner:   pipeline.NewRunner(p, pipeline.RunnerConfig{MaxConcurrency: cfg.MaxConcurrency}),
		logger:   logging.MustGlobal(),
		events:   observability.NewEventEmitter(nil),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logging.F("component", "triage_service"))
	return s
}

// Runner returns the batch runner used by ProcessAll.
func (s *Service) Runner() *pipeline.Runner {
	return s.runner
}

// CreateItem validates and stores a new Pending report.
func (s *Service) CreateItem(ctx context.Context, in CreateItemInput) (*triage.Report, error) {
	report, err := s.validate(in)
	if err != nil {
		s.recordRejected("validation")
		return nil, err
	}

	saved, err := s.repo.Save(ctx, report)
	if err != nil {
		if rferrors.IsAlreadyExists(err) {
			s.recordRejected("duplicate")
			return nil, err
		}
		return nil, fmt.Errorf("failed to create report: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordCreated(string(saved.Source.Platform))
	}
	s.logger.Info("Report created",
		logging.F("report_id", saved.ID),
		logging.F("platform", string(saved.Source.Platform)))

	event := observability.NewReportEvent(observability.EventTypeReportCreated,
		saved.ID, string(saved.Source.Platform), string(saved.ProcessingStatus))
	if err := s.events.EmitReport(ctx, event); err != nil {
		s.logger.Warn("Failed to publish report event", logging.Err(err), logging.F("report_id", saved.ID))
	}
	return saved, nil
}

func (s *Service) validate(in CreateItemInput) (*triage.Report, error) {
	text := strings.TrimSpace(in.RawText)
	if text == "" {
		return nil, rferrors.NewValidationError("rawText", "is required")
	}
	if utf8.RuneCountInString(text) > triage.MaxRawTextLength {
		return nil, rferrors.NewValidationError("rawText",
			fmt.Sprintf("exceeds maximum length of %d characters", triage.MaxRawTextLength))
	}

	platform, ok := triage.ParsePlatform(string(in.Source.Platform))
	if !ok {
		return nil, rferrors.NewValidationError("source.platform",
			fmt.Sprintf("unknown platform %q", in.Source.Platform))
	}

	source := in.Source
	source.Platform = platform
	source.PostID = strings.TrimSpace(source.PostID)

	var image *triage.ImageSource
	if in.Image != nil {
		img := *in.Image
		image = &img
	}
	return triage.NewReport(text, source, image), nil
}

func (s *Service) recordRejected(reason string) {
	if s.metrics != nil {
		s.metrics.RecordRejected(reason)
	}
}

// Process runs one report through the pipeline.
func (s *Service) Process(ctx context.Context, id string) (*triage.Report, error) {
	return s.pipeline.Process(ctx, id)
}

// ProcessAll processes every Pending report.
func (s *Service) ProcessAll(ctx context.Context) (pipeline.BatchResult, error) {
	return s.runner.ProcessAll(ctx)
}

// GetStats returns aggregate counts over all reports.
func (s *Service) GetStats(ctx context.Context) (*triage.Stats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return stats, nil
}

// Get returns one report.
func (s *Service) Get(ctx context.Context, id string) (*triage.Report, error) {
	return s.repo.FindByID(ctx, id)
}

// List returns reports matching f, newest first unless opts says otherwise.
func (s *Service) List(ctx context.Context, f triage.Filter, opts triage.FindOptions) ([]*triage.Report, error) {
	if opts.Skip < 0 || opts.Limit < 0 {
		return nil, rferrors.NewValidationError("pagination", "skip and limit must not be negative")
	}
	reports, err := s.repo.Find(ctx, f, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	if reports == nil {
		reports = []*triage.Report{}
	}
	return reports, nil
}

// Urgent returns reports classified High.
func (s *Service) Urgent(ctx context.Context, opts triage.FindOptions) ([]*triage.Report, error) {
	return s.List(ctx, triage.Filter{Urgency: triage.UrgencyHigh}, opts)
}

// HighPriority returns High-urgency help requests.
func (s *Service) HighPriority(ctx context.Context, opts triage.FindOptions) ([]*triage.Report, error) {
	return s.List(ctx, triage.Filter{HighPriority: true}, opts)
}

// DeleteAll removes reports matching f and returns how many were removed.
func (s *Service) DeleteAll(ctx context.Context, f triage.Filter) (int, error) {
	n, err := s.repo.DeleteMany(ctx, f)
	if err != nil {
		return 0, fmt.Errorf("failed to delete reports: %w", err)
	}
	s.logger.Info("Reports deleted", logging.F("count", n), logging.F("filtered", !f.IsEmpty()))
	return n, nil
}
