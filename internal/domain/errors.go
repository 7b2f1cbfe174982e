package domain

import (
	"errors"
	"fmt"
)

// Коды ошибок, которые видит клиент в поле `code`.
const (
	CodeMissingCustomerName    = "MISSING_CUSTOMER_NAME"
	CodeMissingCustomerEmail   = "MISSING_CUSTOMER_EMAIL"
	CodeMissingCustomerPhone   = "MISSING_CUSTOMER_PHONE"
	CodeMissingShippingAddress = "MISSING_SHIPPING_ADDRESS"
	CodeMissingShippingCity    = "MISSING_SHIPPING_CITY"
	CodeMissingShippingZipCode = "MISSING_SHIPPING_ZIP_CODE"
	CodeInvalidItemsFormat     = "INVALID_ITEMS_FORMAT"
	CodeEmptyItemsArray        = "EMPTY_ITEMS_ARRAY"
	CodeMissingTotalAmount     = "MISSING_TOTAL_AMOUNT"
	CodeMissingTotalItems      = "MISSING_TOTAL_ITEMS"
	CodeInvalidTotalItems      = "INVALID_TOTAL_ITEMS"
	CodeMissingOrderNumber     = "MISSING_ORDER_NUMBER"
	CodeInvalidID              = "INVALID_ID"

	CodeOrderNotFound          = "ORDER_NOT_FOUND"
	CodeProductNotFound        = "PRODUCT_NOT_FOUND"
	CodeOrderNumberGeneration  = "ORDER_NUMBER_GENERATION_FAILED"
	CodeOrderCreationFailed    = "ORDER_CREATION_FAILED"
	CodeIdempotencyKeyReused   = "IDEMPOTENCY_KEY_REUSED"
	CodeIdempotencyKeyInFlight = "IDEMPOTENCY_KEY_IN_PROGRESS"
	CodeInternal               = "INTERNAL_ERROR"
	CodeInvalidJSON            = "INVALID_JSON"
)

var (
	// ErrValidation — общий маркер для всех ошибок входных данных.
	ErrValidation = errors.New("validation failed")
	// ErrOrderNotFound возвращается, если заказ с таким номером не найден.
	ErrOrderNotFound = errors.New("order not found")
	// ErrProductNotFound возвращается, если товар не найден в каталоге.
	ErrProductNotFound = errors.New("product not found")
	// ErrOrderNumberTaken сигнализирует о нарушении уникальности order_number при вставке.
	ErrOrderNumberTaken = errors.New("order number already taken")
	// ErrOrderNumberExhausted — все попытки выделить уникальный номер исчерпаны.
	ErrOrderNumberExhausted = errors.New("failed to generate unique order number")
	// ErrOrderCreationFailed — хранилище не вернуло созданную строку.
	ErrOrderCreationFailed = errors.New("failed to create order")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrPublisherUnavailable — брокер временно недоступен, сообщение остаётся в очереди.
	ErrPublisherUnavailable = errors.New("event publisher unavailable")
)

// ValidationError описывает отклонённый ввод со стабильным машиночитаемым кодом.
type ValidationError struct {
	Code    string
	Message string
}

// NewValidationError создаёт ошибку валидации.
func NewValidationError(code, message string) *ValidationError {
	return &ValidationError{Code: code, Message: message}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is позволяет сравнивать через errors.Is(err, ErrValidation).
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// IsValidation проверяет, является ли ошибка ошибкой входных данных.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound проверяет, относится ли ошибка к отсутствующему ресурсу.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrProductNotFound)
}

// Code возвращает код ошибки для транспорта. Неизвестные ошибки — INTERNAL_ERROR.
func Code(err error) string {
	var verr *ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &verr):
		return verr.Code
	case errors.Is(err, ErrOrderNotFound):
		return CodeOrderNotFound
	case errors.Is(err, ErrProductNotFound):
		return CodeProductNotFound
	case errors.Is(err, ErrOrderNumberExhausted):
		return CodeOrderNumberGeneration
	case errors.Is(err, ErrOrderCreationFailed):
		return CodeOrderCreationFailed
	case errors.Is(err, ErrIdempotencyHashMismatch):
		return CodeIdempotencyKeyReused
	case errors.Is(err, ErrIdempotencyInProgress):
		return CodeIdempotencyKeyInFlight
	default:
		return CodeInternal
	}
}
