// Package httpapi — HTTP API витрины: оформление и просмотр заказов, каталог.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/orders"
)

const (
	// DefaultRequestTimeout ограничивает обработку одного запроса.
	DefaultRequestTimeout = 10 * time.Second
	// maxBodyBytes — верхняя граница тела POST /api/orders.
	maxBodyBytes = 1 << 20

	idempotencyKeyHeader = "Idempotency-Key"
	replayedHeader       = "Idempotent-Replayed"
)

// OrderService — операции над заказами, которые нужны транспорту.
type OrderService interface {
	CreateOrder(ctx context.Context, submission domain.OrderSubmission) (orders.CreateResult, error)
	GetOrder(ctx context.Context, number string) (domain.Order, error)
}

// CatalogService — чтение каталога.
type CatalogService interface {
	GetProduct(ctx context.Context, id int64) (domain.Product, error)
	ListProducts(ctx context.Context, query domain.ProductQuery) ([]domain.Product, error)
}

// Option настраивает Handler.
type Option func(*Handler)

// WithIdempotency включает обработку заголовка Idempotency-Key для создания заказа.
func WithIdempotency(guard *idempotency.Guard) Option {
	return func(h *Handler) {
		h.guard = guard
	}
}

// WithMetrics включает HTTP-метрики.
func WithMetrics(m *metrics.StorefrontMetrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithRequestTimeout задаёт таймаут обработки запроса.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(h *Handler) {
		if timeout > 0 {
			h.timeout = timeout
		}
	}
}

// Handler связывает HTTP-маршруты с сервисами.
type Handler struct {
	orders  OrderService
	catalog CatalogService
	guard   *idempotency.Guard
	metrics *metrics.StorefrontMetrics
	logger  *log.Entry
	timeout time.Duration
}

// NewHandler создаёт HTTP-обработчик. catalog может быть nil — тогда маршруты каталога не регистрируются.
func NewHandler(ordersSvc OrderService, catalog CatalogService, options ...Option) *Handler {
	h := &Handler{
		orders:  ordersSvc,
		catalog: catalog,
		logger:  log.WithField("component", "http-api"),
		timeout: DefaultRequestTimeout,
	}
	for _, option := range options {
		option(h)
	}
	return h
}

// Router собирает chi-роутер со всеми middleware и маршрутами.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP)
	r.Use(h.accessLog, h.observe)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(h.timeout))

	r.Route("/api", func(r chi.Router) {
		r.Post("/orders", h.createOrder)
		r.Get("/orders/", h.getOrder)
		r.Get("/orders/{orderNumber}", h.getOrder)

		if h.catalog != nil {
			r.Get("/products", h.listProducts)
			r.Get("/products/{id}", h.getProduct)
		}
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "Not found", Code: "NOT_FOUND"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "Method not allowed", Code: "METHOD_NOT_ALLOWED"})
	})
	return r
}

// HTTPHandler отдаёт роутер, обёрнутый в otelhttp, чтобы спаны шли дальше при настроенном SDK.
func (h *Handler) HTTPHandler() http.Handler {
	return otelhttp.NewHandler(h.Router(), "storefront-api")
}

func (h *Handler) requestLogger(r *http.Request) *log.Entry {
	return h.logger.WithFields(log.Fields{
		"request_id": middleware.GetReqID(r.Context()),
		"method":     r.Method,
		"path":       r.URL.Path,
	})
}
