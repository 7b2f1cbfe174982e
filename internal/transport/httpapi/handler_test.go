package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/orders"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

var orderNumberPattern = regexp.MustCompile(`^ORD-\d{6}$`)

type testStack struct {
	server *httptest.Server
	outbox *memory.OutboxRepository
	orders domain.OrderRepository
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	orderRepo := memory.NewOrderRepository()
	outboxRepo := memory.NewOutboxRepository()
	m := metrics.NewStorefrontMetricsWithRegisterer(prometheus.NewRegistry())

	svc := orders.NewService(orderRepo, orders.WithOutbox(outboxRepo), orders.WithMetrics(m))
	handler := NewHandler(svc, catalog.NewService(memory.NewSeededProductRepository()),
		WithIdempotency(idempotency.NewGuard(memory.NewIdempotencyRepository(), 0, nil)),
		WithMetrics(m),
	)

	server := httptest.NewServer(handler.HTTPHandler())
	t.Cleanup(server.Close)

	return &testStack{server: server, outbox: outboxRepo, orders: orderRepo}
}

func validOrderBody() map[string]any {
	return map[string]any{
		"customerName":    "  Ada Lovelace ",
		"customerEmail":   " Ada@Example.COM ",
		"customerPhone":   "+44 20 0000 0000",
		"shippingAddress": "12 St James's Square",
		"shippingCity":    "London",
		"shippingZipCode": "SW1Y 4JH",
		"items": []map[string]any{
			{"id": 1, "name": "CLASSIC WASD", "price": "$5.97", "priceValue": 5.97, "quantity": 2},
			{"id": 3, "name": "RGB GAMER", "price": "$5.97", "priceValue": 5.97, "quantity": 1},
		},
		"totalAmount": "17.91",
		"totalItems":  3,
	}
}

func (s *testStack) do(t *testing.T, method, path string, body any, headers map[string]string) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, s.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// Сценарий A: валидный заказ создаётся и читается по номеру в нормализованном виде.
func TestE2E_CreateAndLookup(t *testing.T) {
	stack := newTestStack(t)

	resp := stack.do(t, http.MethodPost, "/api/orders", validOrderBody(), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	created := decode[CreateOrderResponse](t, resp)
	assert.True(t, created.Success)
	assert.Equal(t, "Order created successfully", created.Message)
	assert.Positive(t, created.OrderID)
	require.Regexp(t, orderNumberPattern, created.OrderNumber)

	resp = stack.do(t, http.MethodGet, "/api/orders/"+created.OrderNumber, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	order := decode[OrderResponse](t, resp)
	assert.Equal(t, created.OrderID, order.ID)
	assert.Equal(t, created.OrderNumber, order.OrderNumber)
	assert.Equal(t, "Ada Lovelace", order.CustomerName)
	assert.Equal(t, "ada@example.com", order.CustomerEmail)
	assert.Equal(t, "17.91", order.TotalAmount)
	assert.Equal(t, 3, order.TotalItems)
	assert.Equal(t, "Cash on Delivery", order.PaymentMethod)
	assert.Equal(t, "pending", order.OrderStatus)
	assert.Nil(t, order.OrderNotes)
	require.Len(t, order.Items, 2)
	assert.Equal(t, int64(1), order.Items[0].ProductID)
	assert.Equal(t, 2, order.Items[0].Quantity)
	assert.Equal(t, int64(3), order.Items[1].ProductID)
	assert.False(t, order.CreatedAt.IsZero())
	assert.True(t, order.CreatedAt.Equal(order.UpdatedAt))

	pending := stack.outbox.AllPending()
	require.Len(t, pending, 1)
	assert.Equal(t, domain.EventOrderCreated, pending[0].EventType)
	assert.Equal(t, created.OrderNumber, pending[0].AggregateID)
}

// Сценарий B: пустой список позиций отклоняется, заказ не создаётся.
func TestE2E_EmptyItemsRejected(t *testing.T) {
	stack := newTestStack(t)
	body := validOrderBody()
	body["items"] = []any{}

	resp := stack.do(t, http.MethodPost, "/api/orders", body, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	errResp := decode[ErrorResponse](t, resp)
	assert.Equal(t, domain.CodeEmptyItemsArray, errResp.Code)
	assert.Equal(t, "Items array cannot be empty", errResp.Error)
	assert.Empty(t, stack.outbox.AllPending())
}

// Сценарий C: отрицательное totalItems.
func TestE2E_NegativeTotalItemsRejected(t *testing.T) {
	stack := newTestStack(t)
	body := validOrderBody()
	body["totalItems"] = -1

	resp := stack.do(t, http.MethodPost, "/api/orders", body, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, domain.CodeInvalidTotalItems, decode[ErrorResponse](t, resp).Code)
}

// Сценарий D: номер, который никогда не выдавался.
func TestE2E_UnknownOrderNumber(t *testing.T) {
	stack := newTestStack(t)

	resp := stack.do(t, http.MethodGet, "/api/orders/ORD-000000", nil, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	errResp := decode[ErrorResponse](t, resp)
	assert.Equal(t, domain.CodeOrderNotFound, errResp.Code)
	assert.Equal(t, "Order not found", errResp.Error)
}

func TestCreateOrder_ValidationCodes(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(body map[string]any)
		code   string
	}{
		{name: "missing name", mutate: func(b map[string]any) { delete(b, "customerName") }, code: domain.CodeMissingCustomerName},
		{name: "blank zip", mutate: func(b map[string]any) { b["shippingZipCode"] = "   " }, code: domain.CodeMissingShippingZipCode},
		{name: "items object", mutate: func(b map[string]any) { b["items"] = map[string]any{"id": 1} }, code: domain.CodeInvalidItemsFormat},
		{name: "missing amount", mutate: func(b map[string]any) { delete(b, "totalAmount") }, code: domain.CodeMissingTotalAmount},
		{name: "missing total items", mutate: func(b map[string]any) { delete(b, "totalItems") }, code: domain.CodeMissingTotalItems},
		{name: "zero total items", mutate: func(b map[string]any) { b["totalItems"] = 0 }, code: domain.CodeInvalidTotalItems},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stack := newTestStack(t)
			body := validOrderBody()
			tt.mutate(body)

			resp := stack.do(t, http.MethodPost, "/api/orders", body, nil)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, tt.code, decode[ErrorResponse](t, resp).Code)
		})
	}
}

func TestCreateOrder_InvalidJSON(t *testing.T) {
	stack := newTestStack(t)

	for _, body := range []string{`{not json`, `{"customerName": 42}`} {
		resp := stack.do(t, http.MethodPost, "/api/orders", body, nil)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		assert.Equal(t, domain.CodeInvalidJSON, decode[ErrorResponse](t, resp).Code)
	}
}

func TestCreateOrder_IdempotentReplay(t *testing.T) {
	stack := newTestStack(t)
	headers := map[string]string{"Idempotency-Key": "checkout-42"}

	first := stack.do(t, http.MethodPost, "/api/orders", validOrderBody(), headers)
	require.Equal(t, http.StatusCreated, first.StatusCode)
	firstBody := decode[CreateOrderResponse](t, first)

	second := stack.do(t, http.MethodPost, "/api/orders", validOrderBody(), headers)
	require.Equal(t, http.StatusCreated, second.StatusCode)
	assert.Equal(t, "true", second.Header.Get("Idempotent-Replayed"))
	assert.Equal(t, firstBody, decode[CreateOrderResponse](t, second))

	assert.Len(t, stack.outbox.AllPending(), 1, "replay must not create a second order")
}

func TestCreateOrder_IdempotencyKeyReused(t *testing.T) {
	stack := newTestStack(t)
	headers := map[string]string{"Idempotency-Key": "checkout-43"}

	resp := stack.do(t, http.MethodPost, "/api/orders", validOrderBody(), headers)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	other := validOrderBody()
	other["customerName"] = "Grace Hopper"
	resp = stack.do(t, http.MethodPost, "/api/orders", other, headers)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, domain.CodeIdempotencyKeyReused, decode[ErrorResponse](t, resp).Code)
}

// flakyOrderService сначала исчерпывает попытки выделения номера, затем создаёт заказ.
type flakyOrderService struct {
	failures int
	calls    int
}

func (s *flakyOrderService) CreateOrder(context.Context, domain.OrderSubmission) (orders.CreateResult, error) {
	s.calls++
	if s.calls <= s.failures {
		return orders.CreateResult{}, domain.ErrOrderNumberExhausted
	}
	return orders.CreateResult{OrderID: 7, OrderNumber: "ORD-246810"}, nil
}

func (s *flakyOrderService) GetOrder(context.Context, string) (domain.Order, error) {
	return domain.Order{}, domain.ErrOrderNotFound
}

func TestCreateOrder_RetryAfterExhaustionWithSameKey(t *testing.T) {
	svc := &flakyOrderService{failures: 1}
	handler := NewHandler(svc, nil,
		WithIdempotency(idempotency.NewGuard(memory.NewIdempotencyRepository(), 0, nil)))
	server := httptest.NewServer(handler.HTTPHandler())
	t.Cleanup(server.Close)
	stack := &testStack{server: server}
	headers := map[string]string{"Idempotency-Key": "checkout-44"}

	first := stack.do(t, http.MethodPost, "/api/orders", validOrderBody(), headers)
	require.Equal(t, http.StatusInternalServerError, first.StatusCode)
	assert.Equal(t, domain.CodeOrderNumberGeneration, decode[ErrorResponse](t, first).Code)

	retry := stack.do(t, http.MethodPost, "/api/orders", validOrderBody(), headers)
	require.Equal(t, http.StatusCreated, retry.StatusCode)
	assert.Empty(t, retry.Header.Get("Idempotent-Replayed"))
	assert.Equal(t, "ORD-246810", decode[CreateOrderResponse](t, retry).OrderNumber)

	again := stack.do(t, http.MethodPost, "/api/orders", validOrderBody(), headers)
	require.Equal(t, http.StatusCreated, again.StatusCode)
	assert.Equal(t, "true", again.Header.Get("Idempotent-Replayed"))
	assert.Equal(t, 2, svc.calls)
}

func TestGetOrder_BlankNumber(t *testing.T) {
	stack := newTestStack(t)

	for _, path := range []string{"/api/orders/", "/api/orders/%20%20"} {
		resp := stack.do(t, http.MethodGet, path, nil, nil)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, path)

		errResp := decode[ErrorResponse](t, resp)
		assert.Equal(t, domain.CodeMissingOrderNumber, errResp.Code)
		assert.Equal(t, "Order number is required", errResp.Error)
	}
}

func TestGetOrder_BearerTokenOptional(t *testing.T) {
	stack := newTestStack(t)

	created := decode[CreateOrderResponse](t, stack.do(t, http.MethodPost, "/api/orders", validOrderBody(), nil))

	resp := stack.do(t, http.MethodGet, "/api/orders/"+created.OrderNumber, nil, map[string]string{"Authorization": "Bearer opaque"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

type stubOrderService struct {
	createErr  error
	getErr     error
	panicOnGet bool
}

func (s stubOrderService) CreateOrder(context.Context, domain.OrderSubmission) (orders.CreateResult, error) {
	return orders.CreateResult{}, s.createErr
}

func (s stubOrderService) GetOrder(context.Context, string) (domain.Order, error) {
	if s.panicOnGet {
		panic("boom")
	}
	return domain.Order{}, s.getErr
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		svc        stubOrderService
		method     string
		path       string
		wantStatus int
		wantCode   string
		wantError  string
	}{
		{
			name:       "exhausted",
			svc:        stubOrderService{createErr: domain.ErrOrderNumberExhausted},
			method:     http.MethodPost,
			path:       "/api/orders",
			wantStatus: http.StatusInternalServerError,
			wantCode:   domain.CodeOrderNumberGeneration,
			wantError:  "Failed to generate unique order number. Please try again.",
		},
		{
			name:       "creation failed",
			svc:        stubOrderService{createErr: domain.ErrOrderCreationFailed},
			method:     http.MethodPost,
			path:       "/api/orders",
			wantStatus: http.StatusInternalServerError,
			wantCode:   domain.CodeOrderCreationFailed,
			wantError:  "Failed to create order",
		},
		{
			name:       "storage failure hides details",
			svc:        stubOrderService{createErr: errors.New("create order: dial tcp 10.0.0.5:5432: connection refused")},
			method:     http.MethodPost,
			path:       "/api/orders",
			wantStatus: http.StatusInternalServerError,
			wantCode:   domain.CodeInternal,
			wantError:  "Internal server error",
		},
		{
			name:       "lookup storage failure",
			svc:        stubOrderService{getErr: errors.New("get order: timeout")},
			method:     http.MethodGet,
			path:       "/api/orders/ORD-123456",
			wantStatus: http.StatusInternalServerError,
			wantCode:   domain.CodeInternal,
			wantError:  "Internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHandler(tt.svc, nil)
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(`{}`))

			handler.Router().ServeHTTP(rec, req)

			require.Equal(t, tt.wantStatus, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body.Code)
			assert.Equal(t, tt.wantError, body.Error)
		})
	}
}

func TestPanicIsRecovered(t *testing.T) {
	handler := NewHandler(stubOrderService{panicOnGet: true}, nil)
	rec := httptest.NewRecorder()

	handler.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders/ORD-123456", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestProducts(t *testing.T) {
	stack := newTestStack(t)

	resp := stack.do(t, http.MethodGet, "/api/products", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	products := decode[[]ProductResponse](t, resp)
	require.Len(t, products, 4)
	assert.Equal(t, "CLASSIC WASD", products[0].Name)
	assert.Equal(t, "$5.97", products[0].Price)

	resp = stack.do(t, http.MethodGet, "/api/products?search=clicky&limit=5", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	products = decode[[]ProductResponse](t, resp)
	require.Len(t, products, 1)
	assert.Equal(t, "RGB GAMER", products[0].Name)

	resp = stack.do(t, http.MethodGet, "/api/products/4", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "CRYSTAL PRO", decode[ProductResponse](t, resp).Name)

	resp = stack.do(t, http.MethodGet, "/api/products?id=2", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "STEALTH EDITION", decode[ProductResponse](t, resp).Name)
}

func TestProducts_Errors(t *testing.T) {
	stack := newTestStack(t)

	resp := stack.do(t, http.MethodGet, "/api/products/abc", nil, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, domain.CodeInvalidID, decode[ErrorResponse](t, resp).Code)

	resp = stack.do(t, http.MethodGet, "/api/products/99", nil, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, domain.CodeProductNotFound, decode[ErrorResponse](t, resp).Code)
}

func TestUnknownRoute(t *testing.T) {
	stack := newTestStack(t)

	resp := stack.do(t, http.MethodGet, "/api/nope", nil, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = stack.do(t, http.MethodDelete, "/api/orders", nil, nil)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHTTPMetricsUseRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewStorefrontMetricsWithRegisterer(reg)
	handler := NewHandler(stubOrderService{getErr: domain.ErrOrderNotFound}, nil, WithMetrics(m))

	rec := httptest.NewRecorder()
	handler.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders/ORD-654321", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, family := range families {
		if family.GetName() != "storefront_http_requests_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "route" && label.GetValue() == "/api/orders/{orderNumber}" {
					found = true
				}
			}
		}
	}
	assert.True(t, found, "expected route pattern label")
}
