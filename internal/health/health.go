// Package health отдаёт liveness/readiness и сводный статус зависимостей витрины.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status представляет статус компонента
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// DefaultCheckTimeout ограничивает одну проверку зависимости.
const DefaultCheckTimeout = 2 * time.Second

// Check — результат проверки одного компонента.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response представляет ответ health check
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Checker проверяет одну зависимость.
type Checker interface {
	Check(ctx context.Context) Check
}

// Handler обрабатывает health check запросы
type Handler struct {
	mu        sync.RWMutex
	checkers  map[string]Checker
	version   string
	startTime time.Time
	timeout   time.Duration
}

// NewHandler создаёт новый health handler
func NewHandler(version string) *Handler {
	return &Handler{
		checkers:  make(map[string]Checker),
		version:   version,
		startTime: time.Now(),
		timeout:   DefaultCheckTimeout,
	}
}

// RegisterChecker регистрирует проверку компонента
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

// Names возвращает зарегистрированные проверки в алфавитном порядке.
func (h *Handler) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.checkers))
	for name := range h.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Evaluate выполняет все проверки и сводит их статусы:
// хотя бы одна unhealthy даёт unhealthy, иначе degraded побеждает healthy.
func (h *Handler) Evaluate(ctx context.Context) (Status, map[string]Check) {
	h.mu.RLock()
	checkers := make(map[string]Checker, len(h.checkers))
	for k, v := range h.checkers {
		checkers[k] = v
	}
	h.mu.RUnlock()

	checks := make(map[string]Check, len(checkers))
	overall := StatusHealthy
	for name, checker := range checkers {
		checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
		check := checker.Check(checkCtx)
		cancel()

		checks[name] = check
		switch {
		case check.Status == StatusUnhealthy:
			overall = StatusUnhealthy
		case check.Status == StatusDegraded && overall == StatusHealthy:
			overall = StatusDegraded
		}
	}
	return overall, checks
}

// ServeHTTP отдаёт полный отчёт; 503 только при unhealthy.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	overall, checks := h.Evaluate(r.Context())

	response := Response{
		Status:        overall,
		Timestamp:     time.Now().UTC(),
		Checks:        checks,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}

	statusCode := http.StatusOK
	if overall == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

// LivenessHandler простой liveness probe (всегда возвращает 200)
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ReadinessHandler проверяет готовность к обработке запросов.
// Деградация необязательных зависимостей (кэш, брокер) не снимает готовность.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if overall, _ := h.Evaluate(r.Context()); overall == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// PingChecker оборачивает функцию проверки соединения (Postgres, Redis).
type PingChecker struct {
	name     string
	optional bool
	ping     func(ctx context.Context) error
}

// NewPingChecker создаёт проверку обязательной зависимости: ошибка даёт unhealthy.
func NewPingChecker(name string, ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{name: name, ping: ping}
}

// NewOptionalChecker создаёт проверку зависимости, без которой сервис работает: ошибка даёт degraded.
func NewOptionalChecker(name string, ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{name: name, optional: true, ping: ping}
}

// Check выполняет проверку
func (c *PingChecker) Check(ctx context.Context) Check {
	start := time.Now()
	err := c.ping(ctx)
	duration := time.Since(start)

	check := Check{
		Name:       c.name,
		Status:     StatusHealthy,
		DurationMs: duration.Milliseconds(),
	}
	if err != nil {
		check.Status = StatusUnhealthy
		if c.optional {
			check.Status = StatusDegraded
		}
		check.Message = err.Error()
	}
	return check
}
