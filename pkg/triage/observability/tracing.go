package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TracerName is the name of the tracer for triage operations.
	TracerName = "triage"
)

// Span attribute keys
const (
	AttrReportID      = "report_id"
	AttrPlatform      = "platform"
	AttrBatchID       = "batch_id"
	AttrStage         = "stage"
	AttrClassifier    = "classifier"
	AttrUrgency       = "urgency"
	AttrIsHelpRequest = "is_help_request"
	AttrConfidence    = "confidence"
	AttrFallback      = "fallback"
	AttrDurationMs    = "duration_ms"
	AttrErrorCode     = "error_code"
	AttrRetryable     = "retryable"
	AttrBatchSize     = "batch_size"
)

// Span names
const (
	SpanProcessReport = "triage.process_report"
	SpanBatch         = "triage.batch"
)

// Tracer provides distributed tracing for triage operations.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a tracer from the global provider.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(TracerName),
	}
}

// StartReportSpan starts a root span for processing one report.
func (t *Tracer) StartReportSpan(ctx context.Context, reportID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanProcessReport,
		trace.WithAttributes(attribute.String(AttrReportID, reportID)),
	)
}

// StartStageSpan starts a span for a pipeline stage.
func (t *Tracer) StartStageSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "triage.stage."+stage,
		trace.WithAttributes(attribute.String(AttrStage, stage)),
	)
}

// StartBatchSpan starts a span for a batch run.
func (t *Tracer) StartBatchSpan(ctx context.Context, batchID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanBatch,
		trace.WithAttributes(attribute.String(AttrBatchID, batchID)),
	)
}

// SpanHelper sets triage attributes on a span.
type SpanHelper struct {
	span trace.Span
}

// NewSpanHelper creates a new span helper for the given span.
func NewSpanHelper(span trace.Span) *SpanHelper {
	return &SpanHelper{span: span}
}

// SetPlatform sets the source platform attribute.
func (h *SpanHelper) SetPlatform(platform string) {
	h.span.SetAttributes(attribute.String(AttrPlatform, platform))
}

// SetClassification sets classification attributes on the span.
func (h *SpanHelper) SetClassification(classifier, urgency string, isHelpRequest bool, confidence float64, fallback bool) {
	h.span.SetAttributes(
		attribute.String(AttrClassifier, classifier),
		attribute.String(AttrUrgency, urgency),
		attribute.Bool(AttrIsHelpRequest, isHelpRequest),
		attribute.Float64(AttrConfidence, confidence),
		attribute.Bool(AttrFallback, fallback),
	)
}

// SetBatchSize sets the number of items in a batch.
func (h *SpanHelper) SetBatchSize(n int) {
	h.span.SetAttributes(attribute.Int(AttrBatchSize, n))
}

// SetDuration sets the duration attribute.
func (h *SpanHelper) SetDuration(durationMs int64) {
	h.span.SetAttributes(attribute.Int64(AttrDurationMs, durationMs))
}

// SetError records an error on the span.
func (h *SpanHelper) SetError(err error, code string, retryable bool) {
	h.span.SetStatus(codes.Error, err.Error())
	h.span.SetAttributes(
		attribute.String(AttrErrorCode, code),
		attribute.Bool(AttrRetryable, retryable),
	)
	h.span.RecordError(err)
}

// SetSuccess marks the span as successful.
func (h *SpanHelper) SetSuccess() {
	h.span.SetStatus(codes.Ok, "")
}

// GetTraceID returns the trace ID from the context.
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().HasTraceID() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}

// GetSpanID returns the span ID from the context.
func GetSpanID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().HasSpanID() {
		return span.SpanContext().SpanID().String()
	}
	return ""
}
