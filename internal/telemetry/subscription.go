package telemetry

import (
	"fmt"

	"github.com/eglab8306/aquanext-dashboard/internal/infrastructure/mqtt"
)

// subscriptionQoS is at-most-once; readings are superseded quickly.
const subscriptionQoS byte = 0

// Subscriber declares interest in topic filters. mqtt.Session satisfies it.
type Subscriber interface {
	Subscribe(filter string, qos byte, handler mqtt.MessageHandler) error
}

// Sink receives raw messages without blocking the caller. Ingest reports
// whether the message was accepted.
type Sink interface {
	Ingest(topic string, payload []byte) bool
}

// SubscriptionManager declares the line's topic filters and classifies
// incoming messages.
type SubscriptionManager struct {
	topics mqtt.Topics
}

// NewSubscriptionManager creates a SubscriptionManager for f.
func NewSubscriptionManager(f *Facility) *SubscriptionManager {
	return &SubscriptionManager{topics: f.Topics}
}

// Filters returns the mode topic and the env and tank wildcards.
func (m *SubscriptionManager) Filters() []string {
	return []string{
		m.topics.Mode(),
		m.topics.AllEnv(),
		m.topics.AllTankMetrics(),
	}
}

// Subscribe registers every filter on sub and forwards messages to sink.
//
// Returns:
//   - error: The first subscription failure, wrapped with its filter
func (m *SubscriptionManager) Subscribe(sub Subscriber, sink Sink) error {
	handler := func(topic string, payload []byte) error {
		sink.Ingest(topic, payload)
		return nil
	}

	for _, filter := range m.Filters() {
		if err := sub.Subscribe(filter, subscriptionQoS, handler); err != nil {
			return fmt.Errorf("subscribing %s: %w", filter, err)
		}
	}
	return nil
}

// Classify maps a message to an Event under this line's topic root.
func (m *SubscriptionManager) Classify(topic string, payload []byte) Event {
	return Classify(m.topics, topic, payload)
}
