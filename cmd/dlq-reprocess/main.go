package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second

	envKafkaBrokers = "KAFKA_BROKERS"
)

type config struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	eventType   string
	aggregateID string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionConsumerSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
	Close() error
}

type saramaConsumerAdapter struct {
	consumer sarama.Consumer
}

func (a saramaConsumerAdapter) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	pc, err := a.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (a saramaConsumerAdapter) Close() error {
	if a.consumer == nil {
		return nil
	}
	return a.consumer.Close()
}

// newReplayDependencies подключается к Kafka. Producer создаётся только в режиме execute.
var newReplayDependencies = func(cfg config) (offsetClient, partitionConsumerSource, sarama.SyncProducer, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, consumerConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create kafka client: %w", err)
	}

	rawConsumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	consumer := saramaConsumerAdapter{consumer: rawConsumer}

	if !cfg.execute {
		return client, consumer, nil, nil
	}

	producerConfig := sarama.NewConfig()
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll
	producerConfig.Producer.Retry.Max = 5
	producerConfig.Producer.Return.Successes = true
	producerConfig.Producer.Idempotent = true
	producerConfig.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(cfg.brokers, producerConfig)
	if err != nil {
		_ = consumer.Close()
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return client, consumer, producer, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := readConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := run(ctx, cfg); err != nil {
		stop()
		fail("dlq replay failed: %v", err)
	}
}

func readConfig(args []string, getenv func(string) string) (config, error) {
	var (
		brokersRaw string
		cfg        config
	)

	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&brokersRaw, "brokers", "", "Kafka brokers as comma-separated list (fallback: "+envKafkaBrokers+")")
	fs.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ source topic")
	fs.StringVar(&cfg.targetTopic, "target-topic", kafka.TopicOrderEvents, "target topic for replay")
	fs.StringVar(&cfg.eventType, "event-type", "", "replay only this event type (e.g. "+domain.EventOrderCreated+")")
	fs.StringVar(&cfg.aggregateID, "order", "", "replay only events of this order number")
	fs.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max number of messages to scan/replay")
	fs.BoolVar(&cfg.execute, "execute", false, "execute replay; default is dry-run")
	fs.BoolVar(&cfg.fromNewest, "from-newest", false, "scan latest messages first (bounded by limit)")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "idle timeout per partition")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = getenv(envKafkaBrokers)
	}
	cfg.brokers = parseBrokers(brokersRaw)
	cfg.eventType = strings.TrimSpace(cfg.eventType)
	cfg.aggregateID = strings.TrimSpace(cfg.aggregateID)

	switch {
	case len(cfg.brokers) == 0:
		return config{}, errors.New("kafka brokers are required (-brokers or " + envKafkaBrokers + ")")
	case strings.TrimSpace(cfg.sourceTopic) == "":
		return config{}, errors.New("source-topic is required")
	case strings.TrimSpace(cfg.targetTopic) == "":
		return config{}, errors.New("target-topic is required")
	case cfg.sourceTopic == cfg.targetTopic:
		return config{}, errors.New("source-topic and target-topic must differ")
	case cfg.limit <= 0:
		return config{}, errors.New("limit must be > 0")
	case cfg.idleTimeout <= 0:
		return config{}, errors.New("idle-timeout must be > 0")
	}
	return cfg, nil
}

func parseBrokers(raw string) []string {
	chunks := strings.Split(raw, ",")
	brokers := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if broker := strings.TrimSpace(chunk); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

func run(ctx context.Context, cfg config) (replayStats, error) {
	logger := log.WithFields(log.Fields{
		"component":    "dlq-reprocess",
		"source_topic": cfg.sourceTopic,
		"target_topic": cfg.targetTopic,
	})
	logger.WithFields(log.Fields{
		"limit":       cfg.limit,
		"execute":     cfg.execute,
		"from_newest": cfg.fromNewest,
		"event_type":  cfg.eventType,
		"order":       cfg.aggregateID,
	}).Info("starting dlq replay")

	client, consumer, syncProducer, err := newReplayDependencies(cfg)
	if err != nil {
		return replayStats{}, err
	}

	var (
		producer  *kafka.Producer
		publisher domain.OutboxPublisher
	)
	if syncProducer != nil {
		producer = kafka.NewProducerWithClient(syncProducer, logger)
		publisher = kafka.NewOutboxPublisher(producer, cfg.targetTopic)
	}
	defer func() {
		if producer != nil {
			_ = producer.Close()
		}
		if consumer != nil {
			_ = consumer.Close()
		}
		if client != nil {
			_ = client.Close()
		}
	}()

	return runReplay(ctx, cfg, client, consumer, publisher, logger)
}

type replayStats struct {
	processed int
	replayed  int
	filtered  int
	skipped   int
}

func (s *replayStats) add(other replayStats) {
	s.processed += other.processed
	s.replayed += other.replayed
	s.filtered += other.filtered
	s.skipped += other.skipped
}

func runReplay(
	ctx context.Context,
	cfg config,
	client offsetClient,
	consumer partitionConsumerSource,
	publisher domain.OutboxPublisher,
	logger *log.Entry,
) (replayStats, error) {
	var total replayStats
	if client == nil || consumer == nil {
		return total, errors.New("kafka client and consumer are required")
	}
	if cfg.execute && publisher == nil {
		return total, errors.New("publisher is required in execute mode")
	}

	partitions, err := client.Partitions(cfg.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("get partitions for topic %s: %w", cfg.sourceTopic, err)
	}
	if len(partitions) == 0 {
		logger.Warn("source topic has no partitions")
		return total, nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		if total.processed >= cfg.limit {
			break
		}

		stats, err := processPartition(ctx, consumer, client, publisher, cfg, partition, cfg.limit-total.processed, logger)
		total.add(stats)
		if err != nil {
			return total, err
		}
	}

	mode := "dry-run"
	if cfg.execute {
		mode = "execute"
	}
	logger.WithFields(log.Fields{
		"mode":      mode,
		"processed": total.processed,
		"replayed":  total.replayed,
		"filtered":  total.filtered,
		"skipped":   total.skipped,
	}).Info("dlq replay finished")

	return total, nil
}

func processPartition(
	ctx context.Context,
	consumer partitionConsumerSource,
	client offsetClient,
	publisher domain.OutboxPublisher,
	cfg config,
	partition int32,
	limit int,
	logger *log.Entry,
) (replayStats, error) {
	var stats replayStats
	if limit <= 0 {
		return stats, nil
	}

	oldest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	startOffset := oldest
	if cfg.fromNewest {
		startOffset = max(newest-int64(limit), oldest)
	}

	pc, err := consumer.ConsumePartition(cfg.sourceTopic, partition, startOffset)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idleTimer := time.NewTimer(cfg.idleTimeout)
	defer idleTimer.Stop()

	for stats.processed < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case consumerErr := <-pc.Errors():
			if consumerErr != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, consumerErr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil {
				return stats, nil
			}
			if !idleTimer.Stop() {
				select {
				case <-idleTimer.C:
				default:
				}
			}
			idleTimer.Reset(cfg.idleTimeout)

			if msg.Offset >= newest {
				return stats, nil
			}
			stats.processed++

			msgLogger := logger.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})
			event, reason, err := decodeDeadLetter(msg.Value)
			if err != nil {
				stats.skipped++
				msgLogger.WithError(err).Warn("skip unsupported dlq message")
			} else if !matches(cfg, event) {
				stats.filtered++
			} else {
				msgLogger = msgLogger.WithFields(log.Fields{
					"outbox_id":     event.ID,
					"order":         event.AggregateID,
					"event_type":    event.EventType,
					"publish_error": reason,
				})
				if cfg.execute {
					if err := publisher.Publish(event); err != nil {
						return stats, fmt.Errorf("replay outbox %s: %w", event.ID, err)
					}
					msgLogger.Info("dlq message replayed")
				} else {
					msgLogger.Info("dlq replay candidate")
				}
				stats.replayed++
			}

			if msg.Offset+1 >= newest {
				return stats, nil
			}
		case <-idleTimer.C:
			return stats, nil
		}
	}

	return stats, nil
}

// decodeDeadLetter восстанавливает исходное outbox-сообщение из записи DLQ.
// Второе значение — ошибка публикации, из-за которой сообщение попало в DLQ.
func decodeDeadLetter(value []byte) (domain.OutboxMessage, string, error) {
	var envelope kafka.Envelope
	if err := json.Unmarshal(value, &envelope); err != nil {
		return domain.OutboxMessage{}, "", fmt.Errorf("decode dlq envelope: %w", err)
	}
	if len(envelope.Payload) == 0 {
		return domain.OutboxMessage{}, "", errors.New("dlq envelope has no payload")
	}

	var letter outbox.DeadLetter
	if err := json.Unmarshal(envelope.Payload, &letter); err != nil {
		return domain.OutboxMessage{}, "", fmt.Errorf("decode dlq payload: %w", err)
	}
	if len(letter.Payload) == 0 || !json.Valid(letter.Payload) {
		return domain.OutboxMessage{}, "", errors.New("dlq payload does not contain original event payload")
	}

	return domain.OutboxMessage{
		ID:            firstNonEmpty(letter.OutboxID, envelope.ID),
		AggregateType: firstNonEmpty(letter.AggregateType, envelope.AggregateType),
		AggregateID:   firstNonEmpty(letter.AggregateID, envelope.AggregateID),
		EventType:     firstNonEmpty(letter.EventType, envelope.EventType),
		Payload:       letter.Payload,
	}, letter.PublishError, nil
}

func matches(cfg config, event domain.OutboxMessage) bool {
	if cfg.eventType != "" && event.EventType != cfg.eventType {
		return false
	}
	if cfg.aggregateID != "" && event.AggregateID != cfg.aggregateID {
		return false
	}
	return true
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
