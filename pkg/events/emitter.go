// Package events handles event emission for reconciliation job lifecycle changes
package events

import (
	"context"
	"encoding/json"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/balsam/pkg/kafka"
	"github.com/Ramsey-B/balsam/pkg/models"
	"github.com/Ramsey-B/balsam/pkg/tracing"
)

const (
	EventJobProgress      = "job.progress"
	EventJobCompleted     = "job.completed"
	EventJobFailed        = "job.failed"
	EventJobCancelled     = "job.cancelled"
	EventKeyStatusChanged = "key.status_changed"
)

// Publisher sends events to the broker
type Publisher interface {
	PublishJobEvent(ctx context.Context, event *kafka.JobEvent) error
}

// Emitter turns domain events into broker messages. With a nil publisher events are only logged.
type Emitter struct {
	publisher Publisher
	logger    ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(publisher Publisher, logger ectologger.Logger) *Emitter {
	return &Emitter{
		publisher: publisher,
		logger:    logger,
	}
}

func eventTypeFor(status models.JobStatus) string {
	switch status {
	case models.JobStatusCompleted:
		return EventJobCompleted
	case models.JobStatusFailed:
		return EventJobFailed
	case models.JobStatusCancelled:
		return EventJobCancelled
	default:
		return EventJobProgress
	}
}

// EmitProgress emits a progress checkpoint. Terminal statuses use their own event type.
func (e *Emitter) EmitProgress(ctx context.Context, progress models.ProgressEvent) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitProgress")
	defer span.End()

	data, err := json.Marshal(progress)
	if err != nil {
		return err
	}

	event := &kafka.JobEvent{
		EventType: eventTypeFor(progress.Status),
		JobID:     progress.JobID.String(),
		Sequence:  progress.Sequence,
		Data:      data,
		Timestamp: progress.Timestamp,
	}

	return e.publish(ctx, event)
}

// EmitKeyStatusChanged emits an event when an operator marks or unmarks a key
func (e *Emitter) EmitKeyStatusChanged(ctx context.Context, status *models.KeyStatus) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitKeyStatusChanged")
	defer span.End()

	data, err := json.Marshal(status)
	if err != nil {
		return err
	}

	event := &kafka.JobEvent{
		EventType: EventKeyStatusChanged,
		Key:       status.Key.String(),
		Sequence:  status.UpdatedAt.UnixMicro(),
		Data:      data,
		Timestamp: status.UpdatedAt,
	}

	return e.publish(ctx, event)
}

func (e *Emitter) publish(ctx context.Context, event *kafka.JobEvent) error {
	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"event_type": event.EventType,
		"job_id":     event.JobID,
		"sequence":   event.Sequence,
	})

	if e.publisher == nil {
		log.Debug("Event publishing disabled")
		return nil
	}

	if err := e.publisher.PublishJobEvent(ctx, event); err != nil {
		log.WithError(err).Errorf("Failed to emit %s event", event.EventType)
		return err
	}
	return nil
}
