package services

import (
	"context"
	"log/slog"

	"github.com/neurobridge/assessment-session/internal/events"
)

// eventEmitter publishes lifecycle events on a best-effort basis: a broker
// outage must never fail a session mutation.
type eventEmitter struct {
	publisher events.EventPublisher
	logger    *slog.Logger
}

func newEventEmitter(publisher events.EventPublisher, logger *slog.Logger) *eventEmitter {
	return &eventEmitter{publisher: publisher, logger: logger}
}

func (e *eventEmitter) emit(ctx context.Context, eventType events.EventType, sessionID string, data interface{}) {
	if e == nil || e.publisher == nil {
		return
	}
	event := events.NewSessionEvent(eventType, sessionID, data)
	if err := e.publisher.PublishSessionEvent(ctx, event); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish session event",
			"event_type", eventType,
			"session_id", sessionID,
			"error", err)
	}
}
