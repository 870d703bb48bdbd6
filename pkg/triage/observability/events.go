// Package observability provides event schemas, metrics, and tracing for
// report triage.
package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/otherjamesbrown/relief/pkg/logging"
)

// Event channels for Redis pub/sub
const (
	ChannelReportCreated   = "events.report.created"
	ChannelReportCompleted = "events.report.completed"
	ChannelReportFailed    = "events.report.failed"
	ChannelBatchCompleted  = "events.batch.completed"
)

// ReportEvent is emitted when a report is created or finishes processing.
type ReportEvent struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	ReportID      string    `json:"report_id"`
	TraceID       string    `json:"trace_id,omitempty"`
	Platform      string    `json:"platform"`
	Status        string    `json:"status"`
	Urgency       string    `json:"urgency,omitempty"`
	IsHelpRequest bool      `json:"is_help_request"`
	HighPriority  bool      `json:"high_priority"`
	HelpType      string    `json:"help_type,omitempty"`
	Stage         string    `json:"stage,omitempty"`
	Error         string    `json:"error,omitempty"`
	DurationMs    int64     `json:"duration_ms,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Report event types
const (
	EventTypeReportCreated   = "report.created"
	EventTypeReportCompleted = "report.completed"
	EventTypeReportFailed    = "report.failed"
)

// NewReportEvent creates a report event with a generated ID.
func NewReportEvent(eventType, reportID, platform, status string) *ReportEvent {
	return &ReportEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		ReportID:  reportID,
		Platform:  platform,
		Status:    status,
		Timestamp: time.Now().UTC(),
	}
}

// BatchCompletedEvent is emitted when a batch run finishes.
type BatchCompletedEvent struct {
	EventID    string    `json:"event_id"`
	BatchID    string    `json:"batch_id"`
	Trigger    string    `json:"trigger"`
	Attempted  int       `json:"attempted"`
	Completed  int       `json:"completed"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	DurationMs int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewBatchCompletedEvent creates a batch event with a generated ID.
func NewBatchCompletedEvent(batchID, trigger string, attempted, completed, failed, skipped int, duration time.Duration) *BatchCompletedEvent {
	return &BatchCompletedEvent{
		EventID:    uuid.New().String(),
		BatchID:    batchID,
		Trigger:    trigger,
		Attempted:  attempted,
		Completed:  completed,
		Failed:     failed,
		Skipped:    skipped,
		DurationMs: duration.Milliseconds(),
		Timestamp:  time.Now().UTC(),
	}
}

// EventPublisher publishes triage events.
type EventPublisher interface {
	Publish(ctx context.Context, channel string, event interface{}) error
	Close() error
}

// RedisPublisher publishes events to Redis pub/sub channels.
type RedisPublisher struct {
	client *redis.Client
	logger logging.Logger
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisPublisher creates a publisher over an existing client.
func NewRedisPublisher(client *redis.Client, logger logging.Logger) *RedisPublisher {
	return &RedisPublisher{
		client: client,
		logger: logger.With(logging.F("component", "event_publisher")),
	}
}

// NewRedisPublisherFromConfig opens a Redis connection and verifies it.
func NewRedisPublisherFromConfig(ctx context.Context, cfg RedisConfig, logger logging.Logger) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisPublisher(client, logger), nil
}

// Publish serializes event and publishes it to channel.
func (p *RedisPublisher) Publish(ctx context.Context, channel string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		p.logger.Error("Failed to publish event",
			logging.Err(err),
			logging.F("channel", channel))
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}

	p.logger.Debug("Event published",
		logging.F("channel", channel),
		logging.F("payload_size", len(data)))

	return nil
}

// Close closes the Redis connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// NoOpEventPublisher discards all events.
type NoOpEventPublisher struct{}

// Publish does nothing.
func (p *NoOpEventPublisher) Publish(ctx context.Context, channel string, event interface{}) error {
	return nil
}

// Close does nothing.
func (p *NoOpEventPublisher) Close() error {
	return nil
}

// EventEmitter routes triage events to their channels.
type EventEmitter struct {
	publisher EventPublisher
}

// NewEventEmitter creates a new event emitter. A nil publisher discards events.
func NewEventEmitter(publisher EventPublisher) *EventEmitter {
	if publisher == nil {
		publisher = &NoOpEventPublisher{}
	}
	return &EventEmitter{publisher: publisher}
}

// EmitReport publishes a report event on the channel for its type.
func (e *EventEmitter) EmitReport(ctx context.Context, event *ReportEvent) error {
	event.TraceID = GetTraceID(ctx)

	channel := ChannelReportCreated
	switch event.EventType {
	case EventTypeReportCompleted:
		channel = ChannelReportCompleted
	case EventTypeReportFailed:
		channel = ChannelReportFailed
	}
	return e.publisher.Publish(ctx, channel, event)
}

// EmitBatchCompleted publishes a batch completion event.
func (e *EventEmitter) EmitBatchCompleted(ctx context.Context, event *BatchCompletedEvent) error {
	return e.publisher.Publish(ctx, ChannelBatchCompleted, event)
}

// Close closes the underlying publisher.
func (e *EventEmitter) Close() error {
	return e.publisher.Close()
}
