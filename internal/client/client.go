// Package client — HTTP-клиент API витрины: каталог, оформление и просмотр заказов.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const (
	// DefaultTimeout ограничивает один HTTP-запрос.
	DefaultTimeout = 15 * time.Second

	maxErrorBody = 64 << 10
)

// APIError — ответ сервера с кодом ошибки.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("storefront api: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("storefront api: status %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

// Is сопоставляет коды ответа с доменными ошибками, чтобы вызывающий код
// работал одинаково с локальным сервисом и с удалённым API.
func (e *APIError) Is(target error) bool {
	switch target {
	case domain.ErrValidation:
		return e.StatusCode == http.StatusBadRequest
	case domain.ErrOrderNotFound:
		return e.Code == domain.CodeOrderNotFound
	case domain.ErrProductNotFound:
		return e.Code == domain.CodeProductNotFound
	case domain.ErrOrderNumberExhausted:
		return e.Code == domain.CodeOrderNumberGeneration
	case domain.ErrIdempotencyHashMismatch:
		return e.Code == domain.CodeIdempotencyKeyReused
	case domain.ErrIdempotencyInProgress:
		return e.Code == domain.CodeIdempotencyKeyInFlight
	default:
		return false
	}
}

// Option настраивает Client.
type Option func(*Client)

// WithHTTPClient задаёт http.Client (например, из httptest.Server).
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.http = httpClient
		}
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRetries задаёт число повторов создания заказа при сетевой ошибке.
// Повтор безопасен: все попытки идут с одним Idempotency-Key, и уже созданный
// заказ вернётся сохранённым ответом.
func WithRetries(retries int, backoff time.Duration) Option {
	return func(c *Client) {
		if retries >= 0 {
			c.retries = retries
		}
		if backoff >= 0 {
			c.backoff = backoff
		}
	}
}

// Client вызывает HTTP API витрины.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	logger    *log.Entry
	userAgent string
	retries   int
	backoff   time.Duration
}

// New создаёт клиент для API по адресу baseURL (например, http://localhost:8080).
func New(baseURL string, options ...Option) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http(s), got %q", baseURL)
	}

	c := &Client{
		baseURL:   parsed,
		http:      &http.Client{Timeout: DefaultTimeout},
		logger:    log.WithField("component", "storefront-client"),
		userAgent: version.UserAgent("storefront-client"),
		backoff:   200 * time.Millisecond,
	}
	for _, option := range options {
		option(c)
	}
	return c, nil
}

// NewIdempotencyKey генерирует ключ для одной попытки оформления заказа.
func NewIdempotencyKey() string {
	return uuid.NewString()
}

// CreateOrder отправляет заявку. Пустой idempotencyKey отключает повторы.
func (c *Client) CreateOrder(ctx context.Context, submission domain.OrderSubmission, idempotencyKey string) (httpapi.CreateOrderResponse, error) {
	body, err := json.Marshal(submission)
	if err != nil {
		return httpapi.CreateOrderResponse{}, fmt.Errorf("encode order submission: %w", err)
	}

	attempts := 1
	if idempotencyKey != "" {
		attempts += c.retries
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		var created httpapi.CreateOrderResponse
		lastErr = c.do(ctx, http.MethodPost, "/api/orders", nil, body, func(req *http.Request) {
			if idempotencyKey != "" {
				req.Header.Set("Idempotency-Key", idempotencyKey)
			}
		}, &created)
		if lastErr == nil {
			return created, nil
		}
		if !retryable(lastErr) || attempt == attempts {
			break
		}

		c.logger.WithError(lastErr).WithFields(log.Fields{
			"attempt":         attempt,
			"idempotency_key": idempotencyKey,
		}).Warn("create order failed, retrying")

		select {
		case <-ctx.Done():
			return httpapi.CreateOrderResponse{}, ctx.Err()
		case <-time.After(c.backoff * time.Duration(attempt)):
		}
	}
	return httpapi.CreateOrderResponse{}, lastErr
}

// GetOrder загружает заказ по номеру. token передаётся как Bearer, если не пустой.
func (c *Client) GetOrder(ctx context.Context, number, token string) (domain.Order, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return domain.Order{}, domain.NewValidationError(domain.CodeMissingOrderNumber, "Order number is required")
	}

	var resp httpapi.OrderResponse
	err := c.do(ctx, http.MethodGet, "/api/orders/"+url.PathEscape(number), nil, nil, func(req *http.Request) {
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}, &resp)
	if err != nil {
		return domain.Order{}, err
	}
	return resp.Order(), nil
}

// ListProducts возвращает страницу каталога.
func (c *Client) ListProducts(ctx context.Context, query domain.ProductQuery) ([]domain.Product, error) {
	params := url.Values{}
	if query.Search != "" {
		params.Set("search", query.Search)
	}
	if query.Limit > 0 {
		params.Set("limit", strconv.Itoa(query.Limit))
	}
	if query.Offset > 0 {
		params.Set("offset", strconv.Itoa(query.Offset))
	}

	var resp []httpapi.ProductResponse
	if err := c.do(ctx, http.MethodGet, "/api/products", params, nil, nil, &resp); err != nil {
		return nil, err
	}

	products := make([]domain.Product, 0, len(resp))
	for _, p := range resp {
		products = append(products, p.Product())
	}
	return products, nil
}

// GetProduct загружает товар по идентификатору.
func (c *Client) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	var resp httpapi.ProductResponse
	if err := c.do(ctx, http.MethodGet, "/api/products/"+strconv.FormatInt(id, 10), nil, nil, nil, &resp); err != nil {
		return domain.Product{}, err
	}
	return resp.Product(), nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte, prepare func(*http.Request), out any) error {
	target := *c.baseURL
	target.Path = c.baseURL.Path + path
	target.RawQuery = query.Encode()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if prepare != nil {
		prepare(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var payload httpapi.ErrorResponse
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Error == "" {
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}
	return &APIError{StatusCode: resp.StatusCode, Code: payload.Code, Message: payload.Error}
}

// retryable — только ответ не получен. Ответ сервера, включая 5xx, сохранён
// под ключом идемпотентности, и повтор вернёт его же.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	return !errors.As(err, &apiErr)
}
