package domain

import (
	"errors"
	"time"
)

var (
	// ErrIdempotencyKeyRequired — пустой Idempotency-Key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — не передан хеш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyNotFound — запись с ключом отсутствует.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	// ErrIdempotencyKeyAlreadyExists — ключ уже зарегистрирован с тем же телом запроса.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ переиспользован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyInProgress — запрос с этим ключом ещё обрабатывается.
	ErrIdempotencyInProgress = errors.New("request with the same idempotency key is already processing")
)

// IdempotencyStatus описывает жизненный цикл ключа идемпотентности.
type IdempotencyStatus string

const (
	// IdempotencyStatusProcessing означает, что запрос принят и ещё обрабатывается.
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusDone означает, что запрос завершён и ответ сохранён.
	IdempotencyStatusDone IdempotencyStatus = "done"
	// IdempotencyStatusFailed означает, что обработка завершилась серверной ошибкой.
	// Такой ответ не воспроизводится, повтор запроса выполняется заново.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// IdempotencyRecord хранит сохранённый HTTP-ответ на запрос с Idempotency-Key.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseBody []byte
	HTTPStatus   int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	default:
		return false
	}
}

// IsIdempotencyConflict сообщает, что ключ уже занят (тем же или другим запросом).
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
