package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const defaultPullLimit = 100

type outboxStatus string

const (
	outboxPending outboxStatus = "pending"
	outboxSent    outboxStatus = "sent"
	outboxFailed  outboxStatus = "failed"
)

// outboxRepository хранит события order.created в outbox_messages до отправки в Kafka.
type outboxRepository struct {
	db *sql.DB
}

// NewOutboxRepository создаёт PostgreSQL-реализацию OutboxRepository.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepository{db: store.DB()}
}

// Enqueue сохраняет событие в статусе pending. Пустой ID заменяется на UUID.
func (r *outboxRepository) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return insertOutboxMessage(ctx, r.db, msg)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// insertOutboxMessage пишет событие через db или открытую транзакцию.
func insertOutboxMessage(ctx context.Context, db execer, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	if _, err := db.ExecContext(ctx, `
		INSERT INTO outbox_messages
			(id, aggregate_type, aggregate_id, event_type, payload, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, string(outboxPending), now,
	); err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue outbox message %s: %w", msg.ID, err)
	}
	return msg, nil
}

// PullPending отдаёт до limit ожидающих событий в порядке создания.
func (r *outboxRepository) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultPullLimit
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload
		FROM outbox_messages
		WHERE status = $1
		ORDER BY created_at, id
		LIMIT $2`, string(outboxPending), limit)
	if err != nil {
		return nil, fmt.Errorf("query pending outbox messages: %w", err)
	}
	defer rows.Close()

	var pending []domain.OutboxMessage
	for rows.Next() {
		var msg domain.OutboxMessage
		if err := rows.Scan(&msg.ID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Payload); err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		pending = append(pending, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read pending outbox messages: %w", err)
	}
	return pending, nil
}

// Stats считает backlog: число pending-событий и время самого старого из них.
func (r *outboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(created_at) FROM outbox_messages WHERE status = $1`, string(outboxPending),
	).Scan(&stats.PendingCount, &oldest)
	if err != nil {
		return domain.OutboxStats{}, fmt.Errorf("query outbox stats: %w", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

func (r *outboxRepository) MarkSent(ctx context.Context, id string) error {
	return r.transition(ctx, id, outboxSent)
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id string) error {
	return r.transition(ctx, id, outboxFailed)
}

// transition переводит событие в конечный статус и увеличивает счётчик попыток.
func (r *outboxRepository) transition(ctx context.Context, id string, status outboxStatus) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = $2, attempt_count = attempt_count + 1, updated_at = $3
		WHERE id = $1`, id, string(status), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark outbox message %s %s: %w", id, status, err)
	}

	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("count updated outbox messages: %w", err)
	} else if n == 0 {
		return fmt.Errorf("%w: outbox message %s not found", domain.ErrOutboxPublish, id)
	}
	return nil
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
