package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusFailed  = "failed"
)

// outboxRecord хранит сообщение и служебные поля для in-memory реализации.
type outboxRecord struct {
	msg        domain.OutboxMessage
	status     string
	attemptCnt int
	createdAt  time.Time
	updatedAt  time.Time
}

// OutboxRepository — in-memory хранилище outbox.
type OutboxRepository struct {
	mu      sync.RWMutex
	records map[string]*outboxRecord
}

// NewOutboxRepository создаёт in-memory реализацию outbox.
func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{records: make(map[string]*outboxRecord)}
}

// Enqueue сохраняет событие со статусом `pending` и возвращает его с идентификатором.
func (r *OutboxRepository) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if err := ctx.Err(); err != nil {
		return domain.OutboxMessage{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	msg.Payload = append([]byte(nil), msg.Payload...)
	r.records[msg.ID] = &outboxRecord{
		msg:       msg,
		status:    outboxStatusPending,
		createdAt: now,
		updatedAt: now,
	}
	return msg, nil
}

// PullPending возвращает до limit самых старых сообщений со статусом `pending`.
func (r *OutboxRepository) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	r.mu.RLock()
	pending := make([]*outboxRecord, 0, len(r.records))
	for _, rec := range r.records {
		if rec.status == outboxStatusPending {
			pending = append(pending, rec)
		}
	}
	r.mu.RUnlock()

	sort.Slice(pending, func(i, j int) bool { return pending[i].createdAt.Before(pending[j].createdAt) })
	if len(pending) > limit {
		pending = pending[:limit]
	}

	result := make([]domain.OutboxMessage, 0, len(pending))
	for _, rec := range pending {
		result = append(result, rec.msg)
	}
	return result, nil
}

// Stats возвращает размер backlog и время создания самого старого pending-сообщения.
func (r *OutboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	if err := ctx.Err(); err != nil {
		return domain.OutboxStats{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats domain.OutboxStats
	for _, rec := range r.records {
		if rec.status != outboxStatusPending {
			continue
		}
		stats.PendingCount++
		if stats.OldestPendingAt.IsZero() || rec.createdAt.Before(stats.OldestPendingAt) {
			stats.OldestPendingAt = rec.createdAt
		}
	}
	return stats, nil
}

// MarkSent обновляет статус события после успешной публикации.
func (r *OutboxRepository) MarkSent(ctx context.Context, id string) error {
	return r.mark(ctx, id, outboxStatusSent)
}

// MarkFailed фиксирует ошибку публикации.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id string) error {
	return r.mark(ctx, id, outboxStatusFailed)
}

func (r *OutboxRepository) mark(ctx context.Context, id, status string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[id]
	if !ok {
		return domain.ErrOutboxPublish
	}
	record.status = status
	record.attemptCnt++
	record.updatedAt = time.Now().UTC()
	return nil
}

// AllPending возвращает копию всех сообщений со статусом `pending` (используется в тестах).
func (r *OutboxRepository) AllPending() []domain.OutboxMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.OutboxMessage, 0, len(r.records))
	for _, rec := range r.records {
		if rec.status == outboxStatusPending {
			result = append(result, rec.msg)
		}
	}
	return result
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
