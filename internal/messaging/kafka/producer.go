package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

const defaultClientID = "storefront"

var producedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "storefront_kafka_produced_messages_total",
	Help: "Messages handed to Kafka, by topic and result.",
}, []string{"topic", "result"})

var errProducerClosed = errors.New("kafka producer is not initialized")

// Producer отправляет JSON-сообщения через синхронный sarama producer.
type Producer struct {
	sync   sarama.SyncProducer
	logger *log.Entry
}

// ProducerOption настраивает sarama.Config перед созданием producer'а.
type ProducerOption func(*sarama.Config)

// WithClientID переопределяет client.id, под которым producer виден брокеру.
func WithClientID(id string) ProducerOption {
	return func(cfg *sarama.Config) {
		if id != "" {
			cfg.ClientID = id
		}
	}
}

// WithMaxRetries задаёт число повторов отправки внутри sarama.
func WithMaxRetries(n int) ProducerOption {
	return func(cfg *sarama.Config) {
		if n >= 0 {
			cfg.Producer.Retry.Max = n
		}
	}
}

// newProducerConfig включает идемпотентного producer'а: acks=all и
// не больше одного запроса в полёте на соединение.
func newProducerConfig(opts ...ProducerOption) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = defaultClientID
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Net.MaxOpenRequests = 1

	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// NewProducer подключается к брокерам.
func NewProducer(brokers []string, opts ...ProducerOption) (*Producer, error) {
	sp, err := sarama.NewSyncProducer(brokers, newProducerConfig(opts...))
	if err != nil {
		return nil, fmt.Errorf("connect kafka producer to %v: %w", brokers, err)
	}
	return NewProducerWithClient(sp, nil), nil
}

// NewProducerWithClient оборачивает готовый SyncProducer, например из sarama/mocks.
func NewProducerWithClient(sp sarama.SyncProducer, logger *log.Entry) *Producer {
	if logger == nil {
		logger = log.WithField("component", "kafka-producer")
	}
	return &Producer{sync: sp, logger: logger}
}

// SendJSON кодирует value в JSON и синхронно отправляет его в topic.
// Заголовки пишутся в порядке ключей.
func (p *Producer) SendJSON(topic, key string, value any, headers map[string]string) error {
	if p == nil || p.sync == nil {
		return errProducerClosed
	}

	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode kafka message for %s: %w", topic, err)
	}

	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(body),
		Timestamp: time.Now(),
	}
	for _, name := range slices.Sorted(maps.Keys(headers)) {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(name), Value: []byte(headers[name])})
	}

	fields := log.Fields{"topic": topic, "key": key}
	partition, offset, err := p.sync.SendMessage(msg)
	if err != nil {
		producedMessages.WithLabelValues(topic, "error").Inc()
		p.logger.WithError(err).WithFields(fields).Error("kafka send failed")
		return fmt.Errorf("send to %s: %w", topic, err)
	}

	producedMessages.WithLabelValues(topic, "ok").Inc()
	fields["partition"], fields["offset"] = partition, offset
	p.logger.WithFields(fields).Debug("kafka message sent")
	return nil
}

// Close закрывает producer; nil безопасен.
func (p *Producer) Close() error {
	if p == nil || p.sync == nil {
		return nil
	}
	if err := p.sync.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}
