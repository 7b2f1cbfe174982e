// Package orders оформляет заказы из заявок checkout и выдаёт их по номеру.
package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/ordernumber"
)

// lookupTimeout ограничивает общий поход в хранилище за заказом.
const lookupTimeout = 5 * time.Second

// CreateResult — подтверждение созданного заказа.
type CreateResult struct {
	OrderID     int64
	OrderNumber string
}

// Option настраивает Service.
type Option func(*Service)

// WithOutbox включает публикацию order.created через outbox. Если хранилище заказов
// реализует domain.OrderEventWriter, событие пишется вместе с заказом в одной транзакции,
// иначе ставится в repo отдельно после вставки.
func WithOutbox(repo domain.OutboxRepository) Option {
	return func(s *Service) {
		s.outbox = repo
	}
}

// WithCache включает read-through кэш для GetOrder.
func WithCache(cache domain.OrderCache) Option {
	return func(s *Service) {
		s.cache = cache
	}
}

// WithMetrics задаёт метрики сервиса и аллокатора.
func WithMetrics(m *metrics.StorefrontMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithAllocatorOptions передаёт опции аллокатору номеров.
func WithAllocatorOptions(options ...ordernumber.Option) Option {
	return func(s *Service) {
		s.allocatorOptions = append(s.allocatorOptions, options...)
	}
}

// Service реализует создание и чтение заказов.
type Service struct {
	orders    domain.OrderRepository
	events    domain.OrderEventWriter
	outbox    domain.OutboxRepository
	cache     domain.OrderCache
	allocator *ordernumber.Allocator
	metrics   *metrics.StorefrontMetrics
	logger    *log.Entry
	now       func() time.Time
	lookups   singleflight.Group

	allocatorOptions []ordernumber.Option
}

// NewService создаёт сервис заказов поверх репозитория.
func NewService(orders domain.OrderRepository, options ...Option) *Service {
	s := &Service{
		orders: orders,
		logger: log.WithField("component", "order-service"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(s)
	}
	if writer, ok := orders.(domain.OrderEventWriter); ok && s.outbox != nil {
		s.events = writer
	}

	allocatorOptions := append([]ordernumber.Option{
		ordernumber.WithMetrics(s.metrics),
		ordernumber.WithLogger(s.logger.WithField("component", "order-number-allocator")),
	}, s.allocatorOptions...)
	s.allocator = ordernumber.NewAllocator(orders, allocatorOptions...)

	return s
}

// CreateOrder проверяет заявку, выделяет номер и сохраняет заказ в статусе pending.
// Вставка заказа и есть закрепление номера: конфликт уникальности
// переводит аллокатор к следующей попытке.
func (s *Service) CreateOrder(ctx context.Context, submission domain.OrderSubmission) (CreateResult, error) {
	started := time.Now()

	draft, err := submission.Normalize()
	if err != nil {
		s.metrics.RecordOrderRejected(domain.Code(err))
		return CreateResult{}, err
	}

	var created domain.Order
	_, err = s.allocator.Allocate(ctx, func(ctx context.Context, number string) error {
		order := draft
		order.Number = number
		order.CreatedAt = s.now()
		order.UpdatedAt = order.CreatedAt

		saved, err := s.insert(ctx, order)
		if err != nil {
			return err
		}
		if saved.ID == 0 {
			return domain.ErrOrderCreationFailed
		}
		created = saved
		return nil
	})
	if err != nil {
		code := domain.Code(err)
		s.metrics.RecordOrderRejected(code)
		s.logger.WithError(err).WithField("code", code).Error("failed to create order")
		if errors.Is(err, domain.ErrOrderNumberExhausted) || errors.Is(err, domain.ErrOrderCreationFailed) {
			return CreateResult{}, err
		}
		return CreateResult{}, fmt.Errorf("create order: %w", err)
	}

	entry := s.logger.WithFields(log.Fields{
		"order_id":     created.ID,
		"order_number": created.Number,
		"total_items":  created.TotalItems,
	})

	if s.events == nil {
		s.enqueueCreated(ctx, entry, created)
	}
	s.warmCache(ctx, entry, created)

	s.metrics.RecordOrderCreated(time.Since(started))
	entry.Info("order created")

	return CreateResult{OrderID: created.ID, OrderNumber: created.Number}, nil
}

// GetOrder возвращает заказ по точному номеру.
// Пустой номер отклоняется до обращения к хранилищу.
func (s *Service) GetOrder(ctx context.Context, number string) (domain.Order, error) {
	if strings.TrimSpace(number) == "" {
		return domain.Order{}, domain.NewValidationError(domain.CodeMissingOrderNumber, "Order number is required")
	}

	if s.cache != nil {
		order, ok, err := s.cache.Get(ctx, number)
		switch {
		case err != nil:
			s.logger.WithError(err).WithField("order_number", number).Warn("order cache read failed")
		case ok:
			s.metrics.RecordOrderLookup("hit")
			return order, nil
		}
	}

	// Параллельные запросы одного номера выполняют один поход в хранилище.
	// Общий поход не зависит от отмены первого вызывающего, каждый ждёт по своему ctx.
	lookup := s.lookups.DoChan(number, func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()

		order, err := s.orders.GetByNumber(lookupCtx, number)
		if err != nil {
			return domain.Order{}, err
		}
		s.warmCache(lookupCtx, s.logger.WithField("order_number", number), order)
		return order, nil
	})

	var result singleflight.Result
	select {
	case <-ctx.Done():
		s.metrics.RecordOrderLookup("error")
		return domain.Order{}, fmt.Errorf("get order %s: %w", number, ctx.Err())
	case result = <-lookup:
	}
	if err := result.Err; err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			s.metrics.RecordOrderLookup("not_found")
			return domain.Order{}, err
		}
		s.metrics.RecordOrderLookup("error")
		return domain.Order{}, fmt.Errorf("get order %s: %w", number, err)
	}

	s.metrics.RecordOrderLookup("miss")
	return result.Val.(domain.Order), nil
}

func (s *Service) insert(ctx context.Context, order domain.Order) (domain.Order, error) {
	if s.events != nil {
		return s.events.CreateWithEvent(ctx, order, domain.NewOrderCreatedMessage)
	}
	return s.orders.Create(ctx, order)
}

func (s *Service) enqueueCreated(ctx context.Context, entry *log.Entry, order domain.Order) {
	if s.outbox == nil {
		return
	}

	msg, err := domain.NewOrderCreatedMessage(order)
	if err != nil {
		entry.WithError(err).Warn("failed to build order.created event")
		return
	}
	// Заказ уже сохранён: событие не должно потеряться из-за отмены запроса.
	if _, err := s.outbox.Enqueue(context.WithoutCancel(ctx), msg); err != nil {
		entry.WithError(err).Warn("failed to enqueue order.created event")
	}
}

func (s *Service) warmCache(ctx context.Context, entry *log.Entry, order domain.Order) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(context.WithoutCancel(ctx), order); err != nil {
		entry.WithError(err).Warn("order cache write failed")
	}
}
