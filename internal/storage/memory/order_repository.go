package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// orderRepositoryInMemory — in-memory реализация OrderRepository.
// Индекс byNumber играет роль уникального ограничения на order_number.
type orderRepositoryInMemory struct {
	mu       sync.RWMutex
	nextID   int64
	byID     map[int64]domain.Order
	byNumber map[string]int64
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		byID:     make(map[int64]domain.Order),
		byNumber: make(map[string]int64),
	}
}

// Create сохраняет заказ и назначает ему ID. Занятый номер — ErrOrderNumberTaken.
func (r *orderRepositoryInMemory) Create(ctx context.Context, order domain.Order) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	if strings.TrimSpace(order.Number) == "" {
		return domain.Order{}, domain.ErrOrderCreationFailed
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byNumber[order.Number]; exists {
		return domain.Order{}, domain.ErrOrderNumberTaken
	}

	r.nextID++
	order.ID = r.nextID
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}

	// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
	stored := cloneOrder(order)
	r.byID[stored.ID] = stored
	r.byNumber[stored.Number] = stored.ID
	return cloneOrder(stored), nil
}

// GetByNumber возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) GetByNumber(ctx context.Context, number string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byNumber[number]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(r.byID[id]), nil
}

// OrderNumberExists проверяет, занят ли номер.
func (r *orderRepositoryInMemory) OrderNumberExists(ctx context.Context, number string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.byNumber[number]
	return ok, nil
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Items = append([]domain.LineItem(nil), src.Items...)
	if src.Notes != nil {
		notes := *src.Notes
		dst.Notes = &notes
	}
	return dst
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
