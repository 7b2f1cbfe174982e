package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// OutboxTopicPublisher кладёт outbox-события в один топик, обернув их в Envelope.
// Ключ сообщения — номер заказа, поэтому события одного заказа попадают в одну партицию.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
}

// NewOutboxPublisher создаёт publisher; пустой topic заменяется на TopicOrderEvents.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{producer: producer, topic: topic}
}

// Topic возвращает топик назначения.
func (p *OutboxTopicPublisher) Topic() string {
	return p.topic
}

func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if !json.Valid(event.Payload) {
		return fmt.Errorf("outbox event %s has invalid json payload", event.ID)
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	return p.producer.SendJSON(p.topic, key, Envelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       json.RawMessage(event.Payload),
		PublishedAt:   time.Now().UTC(),
	}, map[string]string{
		HeaderEventType:     event.EventType,
		HeaderAggregateType: event.AggregateType,
		HeaderOutboxID:      event.ID,
	})
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
