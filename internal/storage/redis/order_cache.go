// Package redis содержит read-through кэш заказов поверх Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// DefaultOrderTTL — время жизни записи о заказе в кэше.
const DefaultOrderTTL = 10 * time.Minute

// OrderCache кэширует заказы по номеру. Заказы не меняются после создания,
// поэтому запись можно не инвалидировать.
type OrderCache struct {
	client goredis.Cmdable
	ttl    time.Duration
}

// NewOrderCache создаёт кэш. ttl <= 0 заменяется на DefaultOrderTTL.
func NewOrderCache(client goredis.Cmdable, ttl time.Duration) *OrderCache {
	if ttl <= 0 {
		ttl = DefaultOrderTTL
	}
	return &OrderCache{client: client, ttl: ttl}
}

// Get возвращает заказ и признак попадания.
func (c *OrderCache) Get(ctx context.Context, number string) (domain.Order, bool, error) {
	data, err := c.client.Get(ctx, orderKey(number)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return domain.Order{}, false, nil
	}
	if err != nil {
		return domain.Order{}, false, fmt.Errorf("redis get failed: %w", err)
	}

	var order domain.Order
	if err := json.Unmarshal(data, &order); err != nil {
		return domain.Order{}, false, fmt.Errorf("unmarshal order failed: %w", err)
	}
	return order, true, nil
}

// Set сохраняет заказ под его номером.
func (c *OrderCache) Set(ctx context.Context, order domain.Order) error {
	if order.Number == "" {
		return errors.New("order number is required")
	}
	data, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("marshal order failed: %w", err)
	}
	if err := c.client.Set(ctx, orderKey(order.Number), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Ping проверяет соединение (используется health-checker'ом).
func (c *OrderCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func orderKey(number string) string {
	return "storefront:order:" + number
}

var _ domain.OrderCache = (*OrderCache)(nil)
