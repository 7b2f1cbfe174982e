package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	defaultSweepInterval = 10 * time.Minute
	defaultSweepBatch    = 500
	defaultSweepBatches  = 100
)

var (
	sweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_idempotency_sweeps_total",
		Help: "Idempotency key sweeps by outcome.",
	}, []string{"outcome"})
	sweptKeys = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_idempotency_swept_keys_total",
		Help: "Expired idempotency keys removed by the sweeper.",
	})
	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "storefront_idempotency_sweep_duration_seconds",
		Help:    "Wall time of a single idempotency sweep.",
		Buckets: prometheus.ExponentialBuckets(0.005, 4, 7),
	})
)

// CleanupWorker удаляет ключи идемпотентности с истёкшим TTL.
// Один проход снимает пачки по batchSize, пока база отдаёт полные пачки,
// но не больше maxBatches за раз.
type CleanupWorker struct {
	repo       domain.IdempotencyRepository
	logger     *log.Entry
	interval   time.Duration
	batchSize  int
	maxBatches int
	now        func() time.Time
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupWorker)

// WithLogger задаёт logger воркера.
func WithLogger(logger *log.Entry) CleanupOption {
	return func(w *CleanupWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithInterval задаёт паузу между проходами.
func WithInterval(interval time.Duration) CleanupOption {
	return func(w *CleanupWorker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

// WithBatchSize задаёт размер одной пачки удаления.
func WithBatchSize(size int) CleanupOption {
	return func(w *CleanupWorker) {
		if size > 0 {
			w.batchSize = size
		}
	}
}

// WithMaxBatches ограничивает число пачек за один проход.
func WithMaxBatches(n int) CleanupOption {
	return func(w *CleanupWorker) {
		if n > 0 {
			w.maxBatches = n
		}
	}
}

// NewCleanupWorker собирает воркер с настройками по умолчанию.
func NewCleanupWorker(repo domain.IdempotencyRepository, opts ...CleanupOption) *CleanupWorker {
	w := &CleanupWorker{
		repo:       repo,
		logger:     log.WithField("component", "idempotency-cleanup"),
		interval:   defaultSweepInterval,
		batchSize:  defaultSweepBatch,
		maxBatches: defaultSweepBatches,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run делает проход сразу и затем по таймеру, пока ctx не отменён.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("idempotency cleanup disabled: no repository")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.sweep(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *CleanupWorker) sweep(ctx context.Context) {
	started := time.Now()
	removed, err := w.DeleteExpired(ctx, w.now())
	sweepDuration.Observe(time.Since(started).Seconds())

	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		sweepRuns.WithLabelValues("error").Inc()
		w.logger.WithError(err).WithField("removed", removed).Warn("idempotency sweep failed")
	default:
		sweepRuns.WithLabelValues("ok").Inc()
		if removed > 0 {
			w.logger.WithField("removed", removed).Info("expired idempotency keys removed")
		}
	}
}

// DeleteExpired удаляет ключи с TTL <= before и возвращает их число.
// Частичный результат возвращается и вместе с ошибкой.
func (w *CleanupWorker) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = w.now()
	}

	total := 0
	for batch := 0; batch < w.maxBatches; batch++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		n, err := w.repo.DeleteExpired(ctx, before, w.batchSize)
		if err != nil {
			return total, err
		}
		total += n
		sweptKeys.Add(float64(n))

		if n < w.batchSize {
			return total, nil
		}
	}

	w.logger.WithField("removed", total).Debug("idempotency sweep hit batch limit, rest left for next run")
	return total, nil
}
