// Package rediscart хранит корзину в Redis: одна сессия покупателя — один ключ.
package rediscart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
)

// DefaultTTL — срок жизни брошенной корзины.
const DefaultTTL = 30 * 24 * time.Hour

// Storage реализует cart.Storage поверх Redis.
type Storage struct {
	client  redis.Cmdable
	session string
	ttl     time.Duration
}

// New создаёт хранилище для сессии session. ttl <= 0 заменяется на DefaultTTL.
func New(client redis.Cmdable, session string, ttl time.Duration) *Storage {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Storage{client: client, session: session, ttl: ttl}
}

// Load возвращает сохранённый блок или nil, если ключа нет.
func (s *Storage) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return data, nil
}

// Save перезаписывает блок и продлевает TTL.
func (s *Storage) Save(ctx context.Context, key string, data []byte) error {
	if err := s.client.Set(ctx, s.redisKey(key), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (s *Storage) redisKey(key string) string {
	return fmt.Sprintf("storefront:%s:%s", key, s.session)
}

var _ cart.Storage = (*Storage)(nil)
