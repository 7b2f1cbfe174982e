package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// DefaultTTL — срок хранения ответа по ключу идемпотентности.
const DefaultTTL = 24 * time.Hour

// Response — сохраняемый результат запроса.
type Response struct {
	StatusCode int
	Body       []byte
	// Replayed равен true, если ответ взят из хранилища, а не получен от handler.
	Replayed bool
}

// Handler выполняет запрос и возвращает ответ для сохранения.
type Handler func(ctx context.Context) Response

// Guard обеспечивает повтор ответа для запросов с одинаковым Idempotency-Key.
type Guard struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	logger *log.Entry
	now    func() time.Time
}

// NewGuard создаёт guard поверх репозитория ключей.
func NewGuard(repo domain.IdempotencyRepository, ttl time.Duration, logger *log.Entry) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = log.WithField("component", "idempotency-guard")
	}
	return &Guard{
		repo:   repo,
		ttl:    ttl,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// HashRequest строит хеш запроса из метода, пути и тела.
func HashRequest(method, path string, body []byte) string {
	h := sha256.New()
	_, _ = fmt.Fprintf(h, "%s\n%s\n", method, path)
	_, _ = h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Execute выполняет handler не более одного раза на ключ.
// Пустой ключ отключает защиту. Повтор с другим телом — domain.ErrIdempotencyHashMismatch,
// повтор во время обработки — domain.ErrIdempotencyInProgress.
// Воспроизводятся только ответы 2xx и 4xx: после 5xx или паники в handler
// резервация снимается и повтор с тем же ключом выполняется заново.
func (g *Guard) Execute(ctx context.Context, key, requestHash string, handler Handler) (Response, error) {
	if g == nil || g.repo == nil || key == "" {
		return handler(ctx), nil
	}

	record, err := g.reserve(ctx, key, requestHash)
	if err != nil {
		return g.replay(key, record, err)
	}

	// Сохраняем ответ даже если клиент уже отключился.
	storeCtx := context.WithoutCancel(ctx)
	settled := false
	defer func() {
		if !settled {
			g.release(storeCtx, key)
		}
	}()

	resp := handler(ctx)
	settled = true

	if resp.StatusCode >= 500 {
		g.release(storeCtx, key)
		return resp, nil
	}
	if err := g.repo.MarkDone(storeCtx, key, resp.Body, resp.StatusCode); err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent response")
	}
	return resp, nil
}

// reserve занимает ключ. Запись failed, оставшаяся от прежней обработки, освобождается
// и резервируется повторно.
func (g *Guard) reserve(ctx context.Context, key, requestHash string) (domain.IdempotencyRecord, error) {
	ttlAt := g.now().Add(g.ttl)
	record, err := g.repo.CreateProcessing(ctx, key, requestHash, ttlAt)
	if errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists) && record.Status == domain.IdempotencyStatusFailed {
		if relErr := g.repo.Release(ctx, key); relErr != nil {
			return record, fmt.Errorf("release failed idempotency record: %w", relErr)
		}
		record, err = g.repo.CreateProcessing(ctx, key, requestHash, ttlAt)
	}
	return record, err
}

func (g *Guard) release(ctx context.Context, key string) {
	if err := g.repo.Release(ctx, key); err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to release idempotency key")
	}
}

func (g *Guard) replay(key string, record domain.IdempotencyRecord, createErr error) (Response, error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		return Response{}, domain.ErrIdempotencyHashMismatch
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusDone:
			if record.HTTPStatus == 0 {
				return Response{}, fmt.Errorf("idempotency record %s has no stored response", key)
			}
			return Response{
				StatusCode: record.HTTPStatus,
				Body:       append([]byte(nil), record.ResponseBody...),
				Replayed:   true,
			}, nil
		case domain.IdempotencyStatusProcessing, domain.IdempotencyStatusFailed:
			return Response{}, domain.ErrIdempotencyInProgress
		default:
			return Response{}, fmt.Errorf("unknown idempotency record status %q", record.Status)
		}
	default:
		g.logger.WithError(createErr).WithField("idempotency_key", key).Warn("failed to create idempotency record")
		return Response{}, fmt.Errorf("create idempotency record: %w", createErr)
	}
}
