package events

import (
	"context"
	"fmt"
	"time"

	"formation-backend/internal/shared/metrics"
	"formation-backend/internal/shared/telemetry"
	"formation-backend/internal/workflow"
)

// Source is the outbox side of the event store.
type Source interface {
	ListUnpublishedEvents(ctx context.Context, limit int) ([]workflow.Event, error)
	MarkEventsPublished(ctx context.Context, ids []string, at time.Time) error
}

const (
	defaultBatchSize = 100
	defaultInterval  = 5 * time.Second
)

// Relay drains unpublished events in seq order and hands them to a Publisher.
type Relay struct {
	Source    Source
	Publisher Publisher
	BatchSize int
	Interval  time.Duration
	Now       func() time.Time
}

func (r *Relay) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

// RunOnce publishes one batch. It stops at the first publish failure so
// later events are never delivered ahead of an earlier one, and marks only
// what was delivered.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	limit := r.BatchSize
	if limit <= 0 {
		limit = defaultBatchSize
	}
	pending, err := r.Source.ListUnpublishedEvents(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list unpublished events: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	published := make([]string, 0, len(pending))
	var publishErr error
	for _, e := range pending {
		if err := r.Publisher.Publish(ctx, FromEvent(e)); err != nil {
			metrics.IncEventPublishFailed()
			telemetry.Warn("events.publish_failed", map[string]any{
				"event_id":   e.ID,
				"seq":        e.Seq,
				"event_type": e.EventType,
				"error":      err.Error(),
			})
			publishErr = fmt.Errorf("publish event %s: %w", e.ID, err)
			break
		}
		published = append(published, e.ID)
	}

	if len(published) > 0 {
		if err := r.Source.MarkEventsPublished(ctx, published, r.now()); err != nil {
			return 0, fmt.Errorf("mark events published: %w", err)
		}
		metrics.AddEventsPublished(len(published))
	}
	return len(published), publishErr
}

// Run drains the outbox every Interval until ctx is done. A full batch is
// followed immediately by another pass.
func (r *Relay) Run(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	limit := r.BatchSize
	if limit <= 0 {
		limit = defaultBatchSize
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	telemetry.Info("events.relay_started", map[string]any{"interval": interval.String(), "batch_size": limit})
	for {
		n, err := r.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			telemetry.Error("events.relay_failed", map[string]any{"error": err.Error()})
		}
		if err == nil && n >= limit {
			continue
		}
		select {
		case <-ctx.Done():
			telemetry.Info("events.relay_stopped", nil)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
