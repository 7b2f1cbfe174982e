package kafka

import (
	"encoding/json"
	"time"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "storefront.order.events"
	TopicDeadLetterQueue = "storefront.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers, которые сопровождают каждое outbox-сообщение
const (
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
	HeaderOutboxID      = "x-outbox-id"
)

// Envelope — формат сообщения в топике: метаданные outbox и исходная нагрузка.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}
