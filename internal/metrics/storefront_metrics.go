package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты попытки выделения номера заказа.
const (
	AllocationFree     = "free"
	AllocationExists   = "exists"
	AllocationConflict = "conflict"
	AllocationError    = "error"
)

// StorefrontMetrics содержит метрики оформления и чтения заказов.
// Все методы безопасны для nil-получателя: сервисы могут работать без метрик.
type StorefrontMetrics struct {
	// Выделение номеров
	allocationAttempts  *prometheus.CounterVec
	allocationExhausted prometheus.Counter

	// Создание заказов
	ordersCreated  prometheus.Counter
	ordersRejected *prometheus.CounterVec
	createDuration prometheus.Histogram

	// Чтение заказов
	orderLookups *prometheus.CounterVec

	// HTTP
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewStorefrontMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewStorefrontMetrics() *StorefrontMetrics {
	return NewStorefrontMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewStorefrontMetricsWithRegisterer регистрирует метрики в переданном registerer.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewStorefrontMetricsWithRegisterer(registerer prometheus.Registerer) *StorefrontMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &StorefrontMetrics{
		allocationAttempts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_order_number_attempts_total",
			Help: "Total number of order number allocation attempts grouped by result",
		}, []string{"result"}),
		allocationExhausted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_order_number_exhausted_total",
			Help: "Total number of allocations that ran out of attempts",
		}),
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_orders_created_total",
			Help: "Total number of orders persisted",
		}),
		ordersRejected: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_orders_rejected_total",
			Help: "Total number of order submissions rejected grouped by error code",
		}, []string{"code"}),
		createDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "storefront_order_create_duration_seconds",
			Help:    "Duration of order creation in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}),
		orderLookups: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_order_lookups_total",
			Help: "Total number of order lookups grouped by result",
		}, []string{"result"}),
		httpRequests: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_http_requests_total",
			Help: "Total number of HTTP requests grouped by route and status",
		}, []string{"method", "route", "status"}),
		httpDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "storefront_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordAllocationAttempt учитывает одну попытку выделения номера.
func (m *StorefrontMetrics) RecordAllocationAttempt(result string) {
	if m == nil {
		return
	}
	m.allocationAttempts.WithLabelValues(result).Inc()
}

// RecordAllocationExhausted учитывает исчерпание попыток.
func (m *StorefrontMetrics) RecordAllocationExhausted() {
	if m == nil {
		return
	}
	m.allocationExhausted.Inc()
}

// RecordOrderCreated учитывает созданный заказ и длительность создания.
func (m *StorefrontMetrics) RecordOrderCreated(duration time.Duration) {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
	m.createDuration.Observe(duration.Seconds())
}

// RecordOrderRejected учитывает отклонённую заявку.
func (m *StorefrontMetrics) RecordOrderRejected(code string) {
	if m == nil {
		return
	}
	m.ordersRejected.WithLabelValues(code).Inc()
}

// RecordOrderLookup учитывает чтение заказа (hit, miss, not_found, error).
func (m *StorefrontMetrics) RecordOrderLookup(result string) {
	if m == nil {
		return
	}
	m.orderLookups.WithLabelValues(result).Inc()
}

// RecordHTTPRequest учитывает обработанный HTTP-запрос.
func (m *StorefrontMetrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
