package config

import (
	"log/slog"
	"strings"

	"github.com/neurobridge/assessment-session/internal/events"
)

// EventConfig holds configuration for event publishing
type EventConfig struct {
	Enabled           bool   `env:"EVENTS_ENABLED" envDefault:"false"`
	Publisher         string `env:"EVENTS_PUBLISHER" envDefault:"none"` // kafka, channel or none
	KafkaBrokers      string `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	SessionEventTopic string `env:"SESSION_EVENTS_TOPIC" envDefault:"assessment-session-events"`
}

// GetKafkaBrokers returns Kafka brokers as a slice
func (c *EventConfig) GetKafkaBrokers() []string {
	brokers := make([]string, 0)
	for _, broker := range strings.Split(c.KafkaBrokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

// CreateEventPublisher creates an event publisher based on configuration
func (c *EventConfig) CreateEventPublisher(logger *slog.Logger) (events.EventPublisher, error) {
	if !c.Enabled {
		logger.Info("Event publishing disabled")
		return events.NewDiscardEventPublisher(logger), nil
	}

	publisherConfig := events.PublisherConfig{
		KafkaBrokers: c.GetKafkaBrokers(),
		TopicName:    c.SessionEventTopic,
		Logger:       logger,
	}

	switch c.Publisher {
	case "kafka":
		logger.Info("Creating Kafka event publisher",
			"brokers", c.KafkaBrokers,
			"topic", c.SessionEventTopic)
		return events.NewKafkaEventPublisher(publisherConfig)
	case "channel":
		logger.Info("Creating in-process event publisher", "topic", c.SessionEventTopic)
		publisher, _ := events.NewChannelEventPublisher(publisherConfig)
		return publisher, nil
	case "none":
		logger.Info("Event publisher set to none, events are discarded")
		return events.NewDiscardEventPublisher(logger), nil
	default:
		logger.Warn("Unknown event publisher type, events are discarded", "publisher", c.Publisher)
		return events.NewDiscardEventPublisher(logger), nil
	}
}
