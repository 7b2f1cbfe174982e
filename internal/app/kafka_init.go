package app

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

// initKafkaProducer инициализирует Kafka producer, если brokers не пустой.
// Возвращает nil, nil для пустого списка брокеров.
func initKafkaProducer(brokers string, logger *log.Entry) (*kafka.Producer, error) {
	brokerList := splitBrokers(brokers)
	if len(brokerList) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokerList)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer, nil
}

func splitBrokers(brokers string) []string {
	var result []string
	for _, broker := range strings.Split(brokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			result = append(result, broker)
		}
	}
	return result
}

// newOutboxPublisher собирает цепочку publisher'ов: topic publisher под circuit breaker.
func newOutboxPublisher(producer *kafka.Producer, topic string, logger *log.Entry) *kafka.BreakerPublisher {
	if topic == "" {
		topic = kafka.TopicOrderEvents
	}
	return kafka.NewBreakerPublisher(
		kafka.NewOutboxPublisher(producer, topic),
		kafka.DefaultBreakerSettings(),
		logger.WithField("layer", "kafka-breaker"),
	)
}

// newBrokerChecker помечает сервис degraded, пока breaker разомкнут.
func newBrokerChecker(publisher *kafka.BreakerPublisher) healthcheck.Checker {
	return healthcheck.NewOptionalChecker("kafka", func(context.Context) error {
		if publisher.State() == gobreaker.StateOpen {
			return domain.ErrPublisherUnavailable
		}
		return nil
	})
}

// closeKafka закрывает Kafka producer, если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
