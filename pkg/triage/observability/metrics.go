package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// PipelineMetrics holds the Prometheus metrics for report triage.
type PipelineMetrics struct {
	// Intake
	ReportsCreatedTotal  *prometheus.CounterVec
	ReportsRejectedTotal *prometheus.CounterVec

	// Processing
	ReportsProcessedTotal *prometheus.CounterVec
	StageSeconds          *prometheus.HistogramVec
	StageFailuresTotal    *prometheus.CounterVec

	// Classification
	ClassificationsTotal     *prometheus.CounterVec
	ClassifierFallbacksTotal *prometheus.CounterVec
	ClassificationConfidence *prometheus.HistogramVec

	// Batches
	BatchRunsTotal  *prometheus.CounterVec
	BatchItemsTotal *prometheus.CounterVec
	BatchSeconds    prometheus.Histogram
}

// DefaultPipelineMetrics registers metrics on the default registry.
func DefaultPipelineMetrics() *PipelineMetrics {
	return NewPipelineMetrics(prometheus.DefaultRegisterer)
}

// NewPipelineMetrics creates and registers the triage metrics on reg.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	factory := promauto.With(reg)

	return &PipelineMetrics{
		ReportsCreatedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triage_reports_created_total",
				Help: "Total reports accepted for triage",
			},
			[]string{"platform"},
		),
		ReportsRejectedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triage_reports_rejected_total",
				Help: "Total reports rejected at intake",
			},
			[]string{"reason"},
		),

		ReportsProcessedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triage_reports_processed_total",
				Help: "Total pipeline runs by outcome",
			},
			[]string{"outcome"},
		),
		StageSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "triage_stage_seconds",
				Help:    "Pipeline stage latency",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 15},
			},
			[]string{"stage"},
		),
		StageFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triage_stage_failures_total",
				Help: "Total stage failures by error code",
			},
			[]string{"stage", "code"},
		),

		ClassificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triage_classifications_total",
				Help: "Total classifications by verdict",
			},
			[]string{"classifier", "urgency", "is_help_request"},
		),
		ClassifierFallbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triage_classifier_fallbacks_total",
				Help: "Total remote classifications replaced by the fallback verdict",
			},
			[]string{"classifier", "reason"},
		),
		ClassificationConfidence: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "triage_classification_confidence",
				Help:    "Classifier confidence scores",
				Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1.0},
			},
			[]string{"classifier"},
		),

		BatchRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triage_batch_runs_total",
				Help: "Total batch runs by trigger",
			},
			[]string{"trigger"},
		),
		BatchItemsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triage_batch_items_total",
				Help: "Total batch items by outcome",
			},
			[]string{"outcome"},
		),
		BatchSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "triage_batch_seconds",
				Help:    "Batch run duration",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
		),
	}
}

// RecordCreated records an accepted report.
func (m *PipelineMetrics) RecordCreated(platform string) {
	m.ReportsCreatedTotal.WithLabelValues(platform).Inc()
}

// RecordRejected records a report rejected at intake.
func (m *PipelineMetrics) RecordRejected(reason string) {
	m.ReportsRejectedTotal.WithLabelValues(reason).Inc()
}

// RecordOutcome records the end state of one pipeline run.
func (m *PipelineMetrics) RecordOutcome(outcome string) {
	m.ReportsProcessedTotal.WithLabelValues(outcome).Inc()
}

// RecordStage records the latency of a stage.
func (m *PipelineMetrics) RecordStage(stage string, seconds float64) {
	m.StageSeconds.WithLabelValues(stage).Observe(seconds)
}

// RecordStageFailure records a stage failure with its error code.
func (m *PipelineMetrics) RecordStageFailure(stage, code string) {
	m.StageFailuresTotal.WithLabelValues(stage, code).Inc()
}

// RecordClassification records a classifier verdict.
func (m *PipelineMetrics) RecordClassification(classifier, urgency string, isHelpRequest bool, confidence float64) {
	help := "false"
	if isHelpRequest {
		help = "true"
	}
	m.ClassificationsTotal.WithLabelValues(classifier, urgency, help).Inc()
	m.ClassificationConfidence.WithLabelValues(classifier).Observe(confidence)
}

// RecordFallback records a remote classification that degraded to the fallback verdict.
func (m *PipelineMetrics) RecordFallback(classifier, reason string) {
	m.ClassifierFallbacksTotal.WithLabelValues(classifier, reason).Inc()
}

// RecordBatch records a finished batch run.
func (m *PipelineMetrics) RecordBatch(trigger string, completed, failed, skipped int, seconds float64) {
	m.BatchRunsTotal.WithLabelValues(trigger).Inc()
	m.BatchItemsTotal.WithLabelValues(OutcomeCompleted).Add(float64(completed))
	m.BatchItemsTotal.WithLabelValues(OutcomeFailed).Add(float64(failed))
	m.BatchItemsTotal.WithLabelValues(OutcomeSkipped).Add(float64(skipped))
	m.BatchSeconds.Observe(seconds)
}
