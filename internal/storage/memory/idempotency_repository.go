package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const defaultIdempotencyTTL = 24 * time.Hour

// idempotencyRepositoryInMemory хранит сохранённые ответы в map по ключу.
// Наружу отдаются только копии, ResponseBody не разделяется с вызывающим.
type idempotencyRepositoryInMemory struct {
	mu      sync.RWMutex
	records map[string]domain.IdempotencyRecord
	now     func() time.Time
}

// NewIdempotencyRepository создаёт in-memory реализацию IdempotencyRepository.
func NewIdempotencyRepository() domain.IdempotencyRepository {
	return &idempotencyRepositoryInMemory{
		records: make(map[string]domain.IdempotencyRecord),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *idempotencyRepositoryInMemory) CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.IdempotencyRecord{}, err
	}
	key, requestHash = strings.TrimSpace(key), strings.TrimSpace(requestHash)
	switch {
	case key == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	case requestHash == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, taken := r.records[key]; taken {
		err := domain.ErrIdempotencyKeyAlreadyExists
		if existing.RequestHash != requestHash {
			err = domain.ErrIdempotencyHashMismatch
		}
		return copyRecord(existing), err
	}

	now := r.now()
	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultIdempotencyTTL)
	}
	rec := domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.records[key] = rec
	return copyRecord(rec), nil
}

func (r *idempotencyRepositoryInMemory) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.IdempotencyRecord{}, err
	}
	if key = strings.TrimSpace(key); key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	r.mu.RLock()
	rec, ok := r.records[key]
	r.mu.RUnlock()
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return copyRecord(rec), nil
}

func (r *idempotencyRepositoryInMemory) MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.complete(ctx, key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (r *idempotencyRepositoryInMemory) Release(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key = strings.TrimSpace(key); key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.records[key]; ok && rec.Status != domain.IdempotencyStatusDone {
		delete(r.records, key)
	}
	return nil
}

// DeleteExpired удаляет записи с TTLAt <= before, начиная с самых старых.
// limit<=0 удаляет все истёкшие.
func (r *idempotencyRepositoryInMemory) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if before.IsZero() {
		before = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []domain.IdempotencyRecord
	for _, rec := range r.records {
		if !rec.TTLAt.After(before) {
			expired = append(expired, rec)
		}
	}
	slices.SortFunc(expired, func(a, b domain.IdempotencyRecord) int { return a.TTLAt.Compare(b.TTLAt) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}

	for _, rec := range expired {
		delete(r.records, rec.Key)
	}
	return len(expired), nil
}

func (r *idempotencyRepositoryInMemory) complete(ctx context.Context, key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key = strings.TrimSpace(key); key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	rec.Status = status
	rec.HTTPStatus = httpStatus
	rec.ResponseBody = slices.Clone(responseBody)
	rec.UpdatedAt = r.now()
	r.records[key] = rec
	return nil
}

func copyRecord(rec domain.IdempotencyRecord) domain.IdempotencyRecord {
	rec.ResponseBody = slices.Clone(rec.ResponseBody)
	return rec
}

var _ domain.IdempotencyRepository = (*idempotencyRepositoryInMemory)(nil)
