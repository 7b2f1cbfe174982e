package domain

import (
	"context"
	"time"
)

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create атомарно вставляет заказ и возвращает его с назначенным ID.
	// Если номер уже занят, возвращает ErrOrderNumberTaken.
	Create(ctx context.Context, order Order) (Order, error)
	// GetByNumber ищет заказ по точному совпадению номера или возвращает ErrOrderNotFound.
	GetByNumber(ctx context.Context, number string) (Order, error)
	// OrderNumberExists сообщает, занят ли номер.
	OrderNumberExists(ctx context.Context, number string) (bool, error)
}

// OrderEventWriter — хранилище заказов, которое пишет заказ и событие о нём
// в одной транзакции. event получает заказ с назначенным ID.
type OrderEventWriter interface {
	CreateWithEvent(ctx context.Context, order Order, event func(Order) (OutboxMessage, error)) (Order, error)
}

// ProductRepository — read-only доступ к каталогу.
type ProductRepository interface {
	Get(ctx context.Context, id int64) (Product, error)
	List(ctx context.Context, query ProductQuery) ([]Product, error)
}

// OrderCache — кэш заказов для чтения. Заказы не меняются после создания.
type OrderCache interface {
	Get(ctx context.Context, number string) (Order, bool, error)
	Set(ctx context.Context, order Order) error
}

// OutboxPublisher публикует события из outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	// Release снимает незавершённую резервацию ключа, чтобы повтор запроса выполнился заново.
	// Записи в статусе done не трогаются.
	Release(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
