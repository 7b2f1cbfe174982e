package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
)

const orderCreatedMessage = "Order created successfully"

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "Request body too large", Code: domain.CodeInvalidJSON})
			return
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Failed to read request body", Code: domain.CodeInvalidJSON})
		return
	}

	key := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
	if key != "" {
		logger = logger.WithField("idempotency_key", key)
	}
	hash := idempotency.HashRequest(r.Method, r.URL.Path, body)

	resp, err := h.guard.Execute(r.Context(), key, hash, func(ctx context.Context) idempotency.Response {
		status, payload := h.submitOrder(ctx, logger, body)
		return idempotency.Response{StatusCode: status, Body: payload}
	})
	if err != nil {
		writeError(w, logger, err)
		return
	}

	if resp.Replayed {
		w.Header().Set(replayedHeader, "true")
		logger.Info("replayed stored response")
	}
	writeRaw(w, resp.StatusCode, resp.Body)
}

// submitOrder декодирует заявку и создаёт заказ; результат — готовый к записи ответ.
func (h *Handler) submitOrder(ctx context.Context, logger *log.Entry, body []byte) (int, []byte) {
	var submission domain.OrderSubmission
	if err := json.Unmarshal(body, &submission); err != nil {
		logger.WithError(err).Debug("rejecting malformed order body")
		return encodeJSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid JSON body", Code: domain.CodeInvalidJSON})
	}

	result, err := h.orders.CreateOrder(ctx, submission)
	if err != nil {
		status, payload := errorStatus(err)
		if status >= http.StatusInternalServerError {
			logger.WithError(err).WithField("code", payload.Code).Error("failed to create order")
		}
		return encodeJSON(status, payload)
	}

	return encodeJSON(http.StatusCreated, CreateOrderResponse{
		Success:     true,
		OrderID:     result.OrderID,
		OrderNumber: result.OrderNumber,
		Message:     orderCreatedMessage,
	})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r).WithField("authorization", bearerPresence(r))

	number := chi.URLParam(r, "orderNumber")
	order, err := h.orders.GetOrder(r.Context(), number)
	if err != nil {
		writeError(w, logger.WithField("order_number", number), err)
		return
	}
	writeJSON(w, http.StatusOK, NewOrderResponse(order))
}

// bearerPresence сообщает только факт наличия токена, сам токен не логируется.
func bearerPresence(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(header), "bearer ") && len(header) > len("bearer ") {
		return "present"
	}
	return "absent"
}
