package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func orderEvent(number string) domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            "evt-" + number,
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   number,
		EventType:     domain.EventOrderCreated,
		Payload:       []byte(fmt.Sprintf(`{"orderNumber":%q}`, number)),
	}
}

func header(msg *sarama.ProducerMessage, name string) string {
	for _, h := range msg.Headers {
		if string(h.Key) == name {
			return string(h.Value)
		}
	}
	return ""
}

func TestOutboxTopicPublisher_WrapsEventInEnvelope(t *testing.T) {
	t.Parallel()

	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "custom.topic" {
			return fmt.Errorf("topic %s", msg.Topic)
		}
		if key, _ := msg.Key.Encode(); string(key) != "A-7" {
			return fmt.Errorf("key %s", key)
		}
		if header(msg, HeaderEventType) != domain.EventOrderCreated || header(msg, HeaderOutboxID) != "evt-A-7" ||
			header(msg, HeaderAggregateType) != domain.AggregateTypeOrder {
			return fmt.Errorf("headers %v", msg.Headers)
		}

		value, _ := msg.Value.Encode()
		var env Envelope
		if err := json.Unmarshal(value, &env); err != nil {
			return err
		}
		if env.ID != "evt-A-7" || env.AggregateID != "A-7" || env.PublishedAt.IsZero() {
			return fmt.Errorf("envelope %+v", env)
		}
		if string(env.Payload) != `{"orderNumber":"A-7"}` {
			return fmt.Errorf("payload must stay raw json: %s", env.Payload)
		}
		return nil
	})

	publisher := NewOutboxPublisher(NewProducerWithClient(sp, nil), "custom.topic")
	if publisher.Topic() != "custom.topic" {
		t.Fatalf("topic %s", publisher.Topic())
	}
	if err := publisher.Publish(orderEvent("A-7")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := sp.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxTopicPublisher_FallsBackToEventIDKey(t *testing.T) {
	t.Parallel()

	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if key, _ := msg.Key.Encode(); string(key) != "evt-orphan" {
			return fmt.Errorf("key %s", key)
		}
		return nil
	})

	event := orderEvent("orphan")
	event.AggregateID = ""
	if err := NewOutboxPublisher(NewProducerWithClient(sp, nil), "").Publish(event); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := sp.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxTopicPublisher_Errors(t *testing.T) {
	t.Parallel()

	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)
	publisher := NewOutboxPublisher(NewProducerWithClient(sp, nil), "")

	if publisher.Topic() != TopicOrderEvents {
		t.Fatalf("default topic %s", publisher.Topic())
	}
	if err := publisher.Publish(orderEvent("B-1")); !errors.Is(err, sarama.ErrNotLeaderForPartition) {
		t.Fatalf("expected broker error, got %v", err)
	}

	broken := orderEvent("B-2")
	broken.Payload = []byte("{not json")
	if err := publisher.Publish(broken); err == nil {
		t.Fatal("expected invalid payload error")
	}
	if err := sp.Close(); err != nil {
		t.Fatal(err)
	}

	if err := NewOutboxPublisher(nil, "").Publish(orderEvent("B-3")); !errors.Is(err, errProducerClosed) {
		t.Fatalf("expected errProducerClosed, got %v", err)
	}
}
