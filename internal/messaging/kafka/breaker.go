package kafka

import (
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// BreakerSettings задаёт параметры circuit breaker вокруг публикации.
type BreakerSettings struct {
	Name                string
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	HalfOpenRequests    uint32
}

// DefaultBreakerSettings возвращает настройки по умолчанию.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		Name:                "kafka-outbox",
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		HalfOpenRequests:    1,
	}
}

// BreakerPublisher размыкает цепь после серии ошибок брокера,
// чтобы outbox worker не тратил попытки на заведомо недоступный Kafka.
// В разомкнутом состоянии Publish сразу возвращает ошибку, совместимую
// с domain.ErrPublisherUnavailable и gobreaker.ErrOpenState.
type BreakerPublisher struct {
	next    domain.OutboxPublisher
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// NewBreakerPublisher оборачивает publisher в circuit breaker.
func NewBreakerPublisher(next domain.OutboxPublisher, settings BreakerSettings, logger *log.Entry) *BreakerPublisher {
	defaults := DefaultBreakerSettings()
	if settings.Name == "" {
		settings.Name = defaults.Name
	}
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = defaults.ConsecutiveFailures
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = defaults.OpenTimeout
	}
	if settings.HalfOpenRequests == 0 {
		settings.HalfOpenRequests = defaults.HalfOpenRequests
	}
	if logger == nil {
		logger = log.WithField("component", "kafka-breaker")
	}

	threshold := settings.ConsecutiveFailures
	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: settings.HalfOpenRequests,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(log.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	})

	return &BreakerPublisher{next: next, breaker: breaker}
}

// Publish передаёт сообщение дальше, если цепь замкнута.
func (p *BreakerPublisher) Publish(event domain.OutboxMessage) error {
	_, err := p.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, p.next.Publish(event)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", domain.ErrPublisherUnavailable, err)
	}
	return err
}

// State возвращает текущее состояние breaker (для readiness и тестов).
func (p *BreakerPublisher) State() gobreaker.State {
	return p.breaker.State()
}

var _ domain.OutboxPublisher = (*BreakerPublisher)(nil)
