package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	defaultIdempotencyTTL = 24 * time.Hour

	idempotencyColumns = `key, request_hash, response_body, http_status, status, ttl_at, created_at, updated_at`
)

// idempotencyRepository хранит сохранённые ответы POST /orders в таблице idempotency_keys.
type idempotencyRepository struct {
	db *sql.DB
}

// NewIdempotencyRepository создаёт PostgreSQL-реализацию IdempotencyRepository.
func NewIdempotencyRepository(store *Store) domain.IdempotencyRepository {
	return &idempotencyRepository{db: store.DB()}
}

// CreateProcessing резервирует ключ. Вставка идёт через ON CONFLICT DO NOTHING,
// поэтому гонка двух запросов с одним ключом решается одной строкой в базе.
func (r *idempotencyRepository) CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key, requestHash = strings.TrimSpace(key), strings.TrimSpace(requestHash)
	switch {
	case key == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	case requestHash == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := time.Now().UTC()
	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultIdempotencyTTL)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO idempotency_keys (`+idempotencyColumns+`)
		VALUES ($1, $2, NULL, NULL, $3, $4, $5, $5)
		ON CONFLICT (key) DO NOTHING
		RETURNING `+idempotencyColumns,
		key, requestHash, string(domain.IdempotencyStatusProcessing), ttlAt, now,
	)
	created, err := scanIdempotencyRecord(row)
	if err == nil {
		return created, nil
	}
	if !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		return domain.IdempotencyRecord{}, fmt.Errorf("create idempotency record: %w", err)
	}

	// Пустой RETURNING означает, что ключ уже занят.
	existing, err := r.Get(ctx, key)
	if err != nil {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
	}
	if existing.RequestHash != requestHash {
		return existing, domain.ErrIdempotencyHashMismatch
	}
	return existing, domain.ErrIdempotencyKeyAlreadyExists
}

func (r *idempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	record, err := scanIdempotencyRecord(r.db.QueryRowContext(ctx,
		`SELECT `+idempotencyColumns+` FROM idempotency_keys WHERE key = $1`, key))
	if err != nil && !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency record %s: %w", key, err)
	}
	return record, err
}

func (r *idempotencyRepository) MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.complete(ctx, key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

// Release удаляет резервацию в статусе processing или failed.
func (r *idempotencyRepository) Release(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM idempotency_keys WHERE key = $1 AND status <> $2`,
		key, string(domain.IdempotencyStatusDone),
	); err != nil {
		return fmt.Errorf("release idempotency key %s: %w", key, err)
	}
	return nil
}

// DeleteExpired удаляет записи с ttl_at <= before, самые старые первыми.
// limit<=0 снимает ограничение на размер пачки.
func (r *idempotencyRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	// NULL в LIMIT для PostgreSQL означает отсутствие ограничения.
	var batch sql.NullInt64
	if limit > 0 {
		batch = sql.NullInt64{Int64: int64(limit), Valid: true}
	}

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM idempotency_keys
		WHERE key IN (
			SELECT key FROM idempotency_keys
			WHERE ttl_at <= $1
			ORDER BY ttl_at
			LIMIT $2
		)`, before, batch)
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency records: %w", err)
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted idempotency records: %w", err)
	}
	return int(removed), nil
}

func (r *idempotencyRepository) complete(ctx context.Context, key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET status = $2, response_body = $3, http_status = $4, updated_at = $5
		WHERE key = $1`,
		key, string(status), responseBody, httpStatus, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("mark idempotency key %s as %s: %w", key, status, err)
	}

	updated, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("count updated idempotency records: %w", err)
	}
	if updated == 0 {
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

// scanIdempotencyRecord читает строку в порядке idempotencyColumns.
// Отсутствие строки превращается в domain.ErrIdempotencyKeyNotFound.
func scanIdempotencyRecord(row *sql.Row) (domain.IdempotencyRecord, error) {
	var (
		rec        domain.IdempotencyRecord
		status     string
		body       []byte
		httpStatus sql.NullInt64
	)

	err := row.Scan(&rec.Key, &rec.RequestHash, &body, &httpStatus, &status, &rec.TTLAt, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	rec.Status = domain.IdempotencyStatus(status)
	if !rec.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("unknown idempotency status %q", status)
	}
	if len(body) > 0 {
		rec.ResponseBody = append([]byte(nil), body...)
	}
	rec.HTTPStatus = int(httpStatus.Int64)
	return rec, nil
}

var _ domain.IdempotencyRepository = (*idempotencyRepository)(nil)
