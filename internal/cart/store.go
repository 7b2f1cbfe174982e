// Package cart хранит корзину покупателя на стороне клиента.
//
// Store — явный объект состояния: создаётся один раз на сессию, восстанавливается
// через Load и сохраняет полный список позиций после каждой изменяющей операции.
package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// StorageKey — фиксированный ключ, под которым хранится корзина.
const StorageKey = "cart"

// Option настраивает Store.
type Option func(*Store)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Store — корзина с одним логическим писателем.
// Мьютекс нужен только для фонового сохранения, которое читает снимок позиций.
type Store struct {
	storage  Storage
	notifier Notifier
	logger   *log.Entry

	mu      sync.Mutex
	idle    *sync.Cond
	lines   []domain.LineItem
	ready   bool
	version uint64
	saved   uint64
	saving  bool
}

// NewStore создаёт пустую корзину. До Load изменения не сохраняются.
func NewStore(storage Storage, notifier Notifier, options ...Option) *Store {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	s := &Store{
		storage:  storage,
		notifier: notifier,
		logger:   log.WithField("component", "cart"),
	}
	s.idle = sync.NewCond(&s.mu)
	for _, option := range options {
		option(s)
	}
	return s
}

// Load восстанавливает сохранённый список позиций и переводит корзину в состояние ready.
// Если сохранённого списка нет, остаются текущие позиции.
func (s *Store) Load(ctx context.Context) error {
	var restored []domain.LineItem
	if s.storage != nil {
		data, err := s.storage.Load(ctx, StorageKey)
		if err != nil {
			return fmt.Errorf("load cart: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &restored); err != nil {
				return fmt.Errorf("decode cart: %w", err)
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if restored != nil {
		s.lines = sanitize(restored)
	}
	s.ready = true
	s.scheduleSaveLocked()
	return nil
}

// Ready сообщает, что сохранённое состояние уже восстановлено.
func (s *Store) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// AddItem добавляет товар с количеством 1 или увеличивает количество существующей позиции на 1.
func (s *Store) AddItem(item domain.LineItem) {
	s.mu.Lock()
	var note Notification
	if idx := s.indexLocked(item.ProductID); idx >= 0 {
		s.lines[idx].Quantity++
		note = Notification{Kind: KindQuantityIncreased, Title: "Updated cart!", Detail: item.Name + " quantity increased"}
	} else {
		item.Quantity = 1
		s.lines = append(s.lines, item)
		note = Notification{Kind: KindAdded, Title: "Added to cart!", Detail: item.Name + " has been added"}
	}
	s.scheduleSaveLocked()
	s.mu.Unlock()

	s.notifier.Notify(note)
}

// RemoveItem удаляет позицию; отсутствие позиции не ошибка.
func (s *Store) RemoveItem(productID int64) {
	s.mu.Lock()
	idx := s.indexLocked(productID)
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	removed := s.lines[idx]
	s.lines = append(s.lines[:idx], s.lines[idx+1:]...)
	s.scheduleSaveLocked()
	s.mu.Unlock()

	s.notifier.Notify(Notification{Kind: KindRemoved, Title: "Removed from cart", Detail: removed.Name + " removed"})
}

// SetQuantity перезаписывает количество. quantity <= 0 работает как RemoveItem.
func (s *Store) SetQuantity(productID int64, quantity int) {
	if quantity <= 0 {
		s.RemoveItem(productID)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(productID)
	if idx < 0 {
		return
	}
	s.lines[idx].Quantity = quantity
	s.scheduleSaveLocked()
}

// Clear очищает корзину (после успешного оформления заказа).
func (s *Store) Clear() {
	s.mu.Lock()
	s.lines = nil
	s.scheduleSaveLocked()
	s.mu.Unlock()

	s.notifier.Notify(Notification{Kind: KindCleared, Title: "Cart cleared"})
}

// Lines возвращает копию позиций в порядке добавления.
func (s *Store) Lines() []domain.LineItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.LineItem(nil), s.lines...)
}

// Snapshot возвращает позиции для отправки на checkout.
func (s *Store) Snapshot() []domain.LineItem {
	return s.Lines()
}

// TotalItems — сумма количеств по всем позициям.
func (s *Store) TotalItems() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, line := range s.lines {
		total += line.Quantity
	}
	return total
}

// TotalPrice — точная сумма unitPrice×quantity без округления.
func (s *Store) TotalPrice() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := decimal.Zero
	for _, line := range s.lines {
		total = total.Add(line.Subtotal())
	}
	return total
}

// FormatTotal округляет сумму до центов для отображения.
func (s *Store) FormatTotal() string {
	return s.TotalPrice().StringFixed(2)
}

// Flush ждёт завершения всех запланированных сохранений.
func (s *Store) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.saving {
		s.idle.Wait()
	}
}

func (s *Store) indexLocked(productID int64) int {
	for i, line := range s.lines {
		if line.ProductID == productID {
			return i
		}
	}
	return -1
}

// scheduleSaveLocked помечает состояние изменённым и при необходимости запускает saver.
// Несколько изменений подряд сливаются в одну запись.
func (s *Store) scheduleSaveLocked() {
	s.version++
	if !s.ready || s.storage == nil || s.saving {
		return
	}
	s.saving = true
	go s.saveLoop()
}

func (s *Store) saveLoop() {
	for {
		s.mu.Lock()
		if s.saved >= s.version {
			s.saving = false
			s.idle.Broadcast()
			s.mu.Unlock()
			return
		}
		target := s.version
		lines := s.lines
		if lines == nil {
			lines = []domain.LineItem{}
		}
		data, err := json.Marshal(lines)
		s.mu.Unlock()

		if err == nil {
			err = s.storage.Save(context.Background(), StorageKey, data)
		}
		if err != nil {
			s.logger.WithError(err).Warn("failed to persist cart")
		}

		s.mu.Lock()
		s.saved = target
		s.mu.Unlock()
	}
}

// sanitize убирает повторные productId и позиции с неположительным количеством,
// которые могли попасть в хранилище от другой версии клиента.
func sanitize(lines []domain.LineItem) []domain.LineItem {
	result := make([]domain.LineItem, 0, len(lines))
	seen := make(map[int64]int, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 {
			continue
		}
		if idx, ok := seen[line.ProductID]; ok {
			result[idx].Quantity += line.Quantity
			continue
		}
		seen[line.ProductID] = len(result)
		result = append(result, line)
	}
	return result
}
