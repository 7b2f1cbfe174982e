package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const internalErrorMessage = "Internal server error"

// ErrorResponse — тело любого ответа с ошибкой.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// errorStatus сопоставляет доменную ошибку HTTP-статусу и сообщению для клиента.
// Детали внутренних ошибок остаются только в логах.
func errorStatus(err error) (int, ErrorResponse) {
	code := domain.Code(err)

	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, ErrorResponse{Error: verr.Message, Code: code}
	case errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "Order not found", Code: code}
	case errors.Is(err, domain.ErrProductNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "Product not found", Code: code}
	case errors.Is(err, domain.ErrOrderNumberExhausted):
		return http.StatusInternalServerError, ErrorResponse{Error: "Failed to generate unique order number. Please try again.", Code: code}
	case errors.Is(err, domain.ErrOrderCreationFailed):
		return http.StatusInternalServerError, ErrorResponse{Error: "Failed to create order", Code: code}
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return http.StatusConflict, ErrorResponse{Error: "Idempotency key is already used with a different request", Code: code}
	case errors.Is(err, domain.ErrIdempotencyInProgress):
		return http.StatusConflict, ErrorResponse{Error: "Request with the same idempotency key is in progress", Code: code}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: internalErrorMessage, Code: domain.CodeInternal}
	}
}

func writeError(w http.ResponseWriter, logger *log.Entry, err error) {
	status, body := errorStatus(err)
	if status >= http.StatusInternalServerError {
		logger.WithError(err).WithField("code", body.Code).Error("request failed")
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func encodeJSON(status int, v any) (int, []byte) {
	body, err := json.Marshal(v)
	if err != nil {
		body, _ = json.Marshal(ErrorResponse{Error: internalErrorMessage, Code: domain.CodeInternal})
		return http.StatusInternalServerError, body
	}
	return status, body
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
