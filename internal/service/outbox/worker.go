// Package outbox доставляет события заказов из outbox-таблицы в брокер.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	defaultPollInterval = time.Second
	defaultBatchSize    = 100
	defaultMaxAttempts  = 3
	defaultRetryDelay   = 50 * time.Millisecond
	maxRetryDelay       = 5 * time.Second
)

// Итог доставки одного события, он же label метрики.
type delivery string

const (
	deliverySent      delivery = "sent"
	deliveryFailed    delivery = "failed"
	deliveryPostponed delivery = "postponed"
	deliveryAborted   delivery = "aborted"
)

var (
	deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_outbox_deliveries_total",
		Help: "Outbox events handled by the relay, by outcome.",
	}, []string{"outcome"})
	publishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_outbox_publish_errors_total",
		Help: "Individual failed publish attempts, retries included.",
	})
	deadLetters = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_outbox_dead_letters_total",
		Help: "Events routed to the dead-letter topic, by result.",
	}, []string{"result"})
	backlogSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_outbox_backlog",
		Help: "Pending outbox events.",
	})
	backlogAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_outbox_backlog_age_seconds",
		Help: "Age of the oldest pending outbox event.",
	})
)

// DeadLetter — тело сообщения в DLQ: исходное событие и причина, по которой его не доставили.
type DeadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
	PublishedAt   time.Time       `json:"dlq_published_at"`
}

// Worker периодически забирает pending-события и публикует их.
//
// Ошибка с domain.ErrPublisherUnavailable (брокер лежит, breaker открыт)
// прерывает цикл: события остаются pending до следующего опроса.
// Прочие ошибки повторяются maxAttempts раз с экспоненциальной паузой,
// после чего событие уходит в DLQ (если он задан) и помечается failed.
type Worker struct {
	repo         domain.OutboxRepository
	publisher    domain.OutboxPublisher
	dlq          domain.OutboxPublisher
	logger       *log.Entry
	pollInterval time.Duration
	batchSize    int
	maxAttempts  int
	retryDelay   time.Duration
}

// Option настраивает Worker.
type Option func(*Worker)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithDLQPublisher включает отправку недоставленных событий в DLQ.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(w *Worker) { w.dlq = publisher }
}

// WithPollInterval задаёт период опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

// WithBatchSize задаёт число событий за один опрос.
func WithBatchSize(size int) Option {
	return func(w *Worker) {
		if size > 0 {
			w.batchSize = size
		}
	}
}

// WithMaxAttempts задаёт число попыток публикации одного события.
func WithMaxAttempts(attempts int) Option {
	return func(w *Worker) {
		if attempts > 0 {
			w.maxAttempts = attempts
		}
	}
}

// WithRetryBaseDelay задаёт паузу перед второй попыткой; дальше она удваивается.
// Ноль отключает паузы.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(w *Worker) { w.retryDelay = max(delay, 0) }
}

// NewWorker создаёт воркер. Без repo или publisher Run ничего не делает.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, opts ...Option) *Worker {
	w := &Worker{
		repo:         repo,
		publisher:    publisher,
		logger:       log.WithField("component", "outbox"),
		pollInterval: defaultPollInterval,
		batchSize:    defaultBatchSize,
		maxAttempts:  defaultMaxAttempts,
		retryDelay:   defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run опрашивает outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox relay disabled: repository or publisher missing")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.ProcessOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce обрабатывает одну пачку pending-событий.
func (w *Worker) ProcessOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	defer w.observeBacklog(ctx)

	batch, err := w.repo.PullPending(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("pull pending outbox events")
		return
	}

	for _, event := range batch {
		outcome := w.deliver(ctx, event)
		deliveries.WithLabelValues(string(outcome)).Inc()
		if outcome == deliveryPostponed || outcome == deliveryAborted {
			return
		}
	}
}

func (w *Worker) deliver(ctx context.Context, event domain.OutboxMessage) delivery {
	entry := w.logger.WithFields(log.Fields{
		"outbox_id":    event.ID,
		"event_type":   event.EventType,
		"aggregate_id": event.AggregateID,
	})

	err := w.publish(ctx, event)
	switch {
	case err == nil:
		if markErr := w.repo.MarkSent(ctx, event.ID); markErr != nil {
			entry.WithError(markErr).Warn("mark outbox event sent")
		}
		return deliverySent

	case ctx.Err() != nil:
		return deliveryAborted

	case errors.Is(err, domain.ErrPublisherUnavailable):
		entry.WithError(err).Warn("publisher unavailable, leaving batch pending")
		return deliveryPostponed
	}

	entry.WithError(err).Error("outbox event not delivered")
	w.sendToDLQ(entry, event, err)
	if markErr := w.repo.MarkFailed(ctx, event.ID); markErr != nil {
		entry.WithError(markErr).Warn("mark outbox event failed")
	}
	return deliveryFailed
}

// publish делает до maxAttempts попыток. ErrPublisherUnavailable не повторяется.
func (w *Worker) publish(ctx context.Context, event domain.OutboxMessage) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = w.publisher.Publish(event); err == nil {
			return nil
		}
		publishErrors.Inc()

		if errors.Is(err, domain.ErrPublisherUnavailable) {
			return err
		}
		if attempt == w.maxAttempts {
			return fmt.Errorf("publish %s after %d attempts: %w", event.ID, attempt, err)
		}

		if delay := w.backoff(attempt); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
}

// backoff возвращает паузу после attempt-й неудачи: retryDelay * 2^(attempt-1), не больше maxRetryDelay.
func (w *Worker) backoff(attempt int) time.Duration {
	if w.retryDelay <= 0 {
		return 0
	}
	delay := w.retryDelay
	for i := 1; i < attempt && delay < maxRetryDelay; i++ {
		delay *= 2
	}
	return min(delay, maxRetryDelay)
}

func (w *Worker) sendToDLQ(entry *log.Entry, event domain.OutboxMessage, cause error) {
	if w.dlq == nil {
		return
	}

	letter, err := NewDeadLetter(event, cause, time.Now().UTC())
	if err == nil {
		err = w.dlq.Publish(letter)
	}
	if err != nil {
		deadLetters.WithLabelValues("error").Inc()
		entry.WithError(err).Warn("route outbox event to DLQ")
		return
	}
	deadLetters.WithLabelValues("ok").Inc()
}

// NewDeadLetter оборачивает событие в DeadLetter. ID и ключи агрегата
// сохраняются, чтобы сообщение в DLQ попадало в ту же партицию.
func NewDeadLetter(event domain.OutboxMessage, cause error, at time.Time) (domain.OutboxMessage, error) {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}

	body, err := json.Marshal(DeadLetter{
		OutboxID:      event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       json.RawMessage(event.Payload),
		PublishError:  reason,
		PublishedAt:   at,
	})
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("encode dead letter for %s: %w", event.ID, err)
	}

	letter := event
	letter.Payload = body
	return letter, nil
}

func (w *Worker) observeBacklog(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Debug("outbox backlog stats unavailable")
		return
	}

	backlogSize.Set(float64(stats.PendingCount))
	age := 0.0
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		age = max(time.Since(stats.OldestPendingAt).Seconds(), 0)
	}
	backlogAge.Set(age)
}
