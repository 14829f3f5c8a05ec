package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
)

// SessionEventHandler handles one decoded session event. Returning an error
// nacks the message.
type SessionEventHandler func(ctx context.Context, event *SessionEvent) error

// ConsumeSessionEvents subscribes to topic and feeds decoded events to
// handler until ctx is cancelled or the subscription closes. Messages that
// cannot be decoded are acked and logged.
func ConsumeSessionEvents(ctx context.Context, subscriber message.Subscriber, topic string, logger *slog.Logger, handler SessionEventHandler) error {
	messages, err := subscriber.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}

			var event SessionEvent
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				logger.WarnContext(ctx, "Dropping undecodable session event",
					"message_id", msg.UUID,
					"error", err)
				msg.Ack()
				continue
			}

			if err := handler(ctx, &event); err != nil {
				logger.ErrorContext(ctx, "Session event handler failed",
					"event_id", event.ID,
					"event_type", event.Type,
					"error", err)
				msg.Nack()
				continue
			}
			msg.Ack()
		}
	}
}

// LogSessionEvent is a SessionEventHandler that writes each event to logger.
func LogSessionEvent(logger *slog.Logger) SessionEventHandler {
	return func(ctx context.Context, event *SessionEvent) error {
		logger.InfoContext(ctx, "Session event",
			"event_type", event.Type,
			"session_id", event.SessionID,
			"event_id", event.ID)
		return nil
	}
}
