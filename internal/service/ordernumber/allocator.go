// Package ordernumber выделяет человекочитаемые номера заказов вида ORD-123456.
package ordernumber

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const (
	// MaxAttempts — фиксированный предел попыток выделения.
	MaxAttempts = 10
	// Prefix — префикс номера заказа.
	Prefix = "ORD-"

	minValue = 100000
	maxValue = 999999
)

// Pattern описывает формат номера: ORD- и ровно шесть цифр.
var Pattern = regexp.MustCompile(`^ORD-\d{6}$`)

// Checker проверяет, занят ли номер в хранилище.
type Checker interface {
	OrderNumberExists(ctx context.Context, number string) (bool, error)
}

// Source возвращает равномерное случайное число в [0, n).
type Source func(n int) int

// Claim атомарно закрепляет номер (обычно — вставка заказа).
// Ошибка domain.ErrOrderNumberTaken означает коллизию и продолжает цикл.
type Claim func(ctx context.Context, number string) error

// Option настраивает Allocator.
type Option func(*Allocator)

// WithSource задаёт источник случайных чисел.
func WithSource(source Source) Option {
	return func(a *Allocator) {
		if source != nil {
			a.source = source
		}
	}
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.StorefrontMetrics) Option {
	return func(a *Allocator) {
		a.metrics = m
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(a *Allocator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// Allocator генерирует уникальные номера заказов.
type Allocator struct {
	checker Checker
	source  Source
	metrics *metrics.StorefrontMetrics
	logger  *log.Entry
}

// NewAllocator создаёт аллокатор поверх проверки занятости номера.
func NewAllocator(checker Checker, options ...Option) *Allocator {
	a := &Allocator{
		checker: checker,
		source:  rand.IntN,
		logger:  log.WithField("component", "order-number-allocator"),
	}
	for _, option := range options {
		option(a)
	}
	return a
}

// Allocate выполняет до MaxAttempts попыток. Каждая попытка берёт случайный номер,
// проверяет его занятость и, если номер свободен, вызывает claim.
// claim == nil означает, что достаточно проверки занятости.
// После MaxAttempts коллизий возвращает domain.ErrOrderNumberExhausted.
func (a *Allocator) Allocate(ctx context.Context, claim Claim) (string, error) {
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		candidate := a.next()

		exists, err := a.checker.OrderNumberExists(ctx, candidate)
		if err != nil {
			a.metrics.RecordAllocationAttempt(metrics.AllocationError)
			return "", fmt.Errorf("check order number %s: %w", candidate, err)
		}
		if exists {
			a.metrics.RecordAllocationAttempt(metrics.AllocationExists)
			continue
		}

		if claim != nil {
			if err := claim(ctx, candidate); err != nil {
				if errors.Is(err, domain.ErrOrderNumberTaken) {
					a.metrics.RecordAllocationAttempt(metrics.AllocationConflict)
					a.logger.WithFields(log.Fields{
						"order_number": candidate,
						"attempt":      attempt,
					}).Debug("order number taken concurrently, retrying")
					continue
				}
				a.metrics.RecordAllocationAttempt(metrics.AllocationError)
				return "", err
			}
		}

		a.metrics.RecordAllocationAttempt(metrics.AllocationFree)
		return candidate, nil
	}

	a.metrics.RecordAllocationExhausted()
	a.logger.WithField("attempts", MaxAttempts).Warn("order number allocation exhausted")
	return "", domain.ErrOrderNumberExhausted
}

func (a *Allocator) next() string {
	return Format(minValue + a.source(maxValue-minValue+1))
}

// Format превращает число в номер заказа.
func Format(value int) string {
	return fmt.Sprintf("%s%06d", Prefix, value)
}

// Validate проверяет формат номера.
func Validate(number string) bool {
	return Pattern.MatchString(number)
}
