package events

import (
	"context"

	"formation-backend/internal/shared/telemetry"
)

// Publisher delivers outbox messages to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// LogPublisher writes messages to the structured log. Used when no queue is
// configured.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, msg Message) error {
	telemetry.Info("events.published", map[string]any{
		"event_id":    msg.ID,
		"seq":         msg.Seq,
		"event_type":  msg.EventType,
		"entity_type": msg.EntityType,
		"entity_id":   msg.EntityID,
	})
	return nil
}

var _ Publisher = LogPublisher{}
