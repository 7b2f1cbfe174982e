package app

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

func TestInitKafkaProducer_EmptyBrokers(t *testing.T) {
	logger := log.WithField("test", "kafka")

	for _, brokers := range []string{"", " , ,"} {
		producer, err := initKafkaProducer(brokers, logger)
		if err != nil {
			t.Errorf("expected no error for %q, got %v", brokers, err)
		}
		if producer != nil {
			t.Errorf("expected nil producer for %q", brokers)
		}
	}
}

func TestInitKafkaProducer_InvalidBrokers(t *testing.T) {
	logger := log.WithField("test", "kafka")

	producer, err := initKafkaProducer("invalid-broker:9999", logger)

	if err == nil {
		t.Error("expected error for invalid brokers")
	}
	if producer != nil {
		t.Error("expected nil producer on error")
	}
}

func TestSplitBrokers(t *testing.T) {
	got := splitBrokers(" broker1:9092, broker2:9092 ,,broker3:9092")
	want := []string{"broker1:9092", "broker2:9092", "broker3:9092"}

	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestCloseKafka_NilProducer(t *testing.T) {
	// Не должно паниковать
	closeKafka(nil, log.WithField("test", "kafka"))
}

func TestNewOutboxPublisher_BrokerCheckerDegradesWhenOpen(t *testing.T) {
	logger := log.WithField("test", "kafka-breaker")

	mockProducer := mocks.NewSyncProducer(t, nil)
	failures := int(kafka.DefaultBreakerSettings().ConsecutiveFailures)
	for i := 0; i < failures; i++ {
		mockProducer.ExpectSendMessageAndFail(errors.New("broker down"))
	}

	producer := kafka.NewProducerWithClient(mockProducer, logger)
	publisher := newOutboxPublisher(producer, "", logger)
	checker := newBrokerChecker(publisher)

	if got := checker.Check(context.Background()).Status; got != healthcheck.StatusHealthy {
		t.Fatalf("expected healthy before failures, got %s", got)
	}

	msg := domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   "ORD-123456",
		EventType:     domain.EventOrderCreated,
		Payload:       []byte(`{}`),
	}
	for i := 0; i < failures; i++ {
		if err := publisher.Publish(msg); err == nil {
			t.Fatalf("attempt %d: expected error", i)
		}
	}

	if publisher.State() != gobreaker.StateOpen {
		t.Fatalf("expected open breaker, got %s", publisher.State())
	}
	if got := checker.Check(context.Background()).Status; got != healthcheck.StatusDegraded {
		t.Fatalf("expected degraded with open breaker, got %s", got)
	}

	closeKafka(producer, logger)
}
