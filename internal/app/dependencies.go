package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
	rediscache "github.com/vladislavdragonenkov/storefront/internal/storage/redis"
)

const redisPingTimeout = 2 * time.Second

// Dependencies содержит хранилища и клиенты, общие для всех слоёв приложения.
type Dependencies struct {
	Orders      domain.OrderRepository
	Products    domain.ProductRepository
	Outbox      domain.OutboxRepository
	Idempotency domain.IdempotencyRepository
	// Cache равен nil, если Redis не настроен или недоступен при старте.
	Cache domain.OrderCache
	// Durable — хранилище переживает рестарт процесса.
	Durable bool
	Logger  *log.Entry

	checkers map[string]healthcheck.Checker
	closers  []func() error
}

// NewMemoryDependencies собирает зависимости на in-memory хранилищах.
func NewMemoryDependencies(logger *log.Entry) *Dependencies {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	return &Dependencies{
		Orders:      memory.NewOrderRepository(),
		Products:    memory.NewSeededProductRepository(),
		Outbox:      memory.NewOutboxRepository(),
		Idempotency: memory.NewIdempotencyRepository(),
		Logger:      logger,
		checkers:    make(map[string]healthcheck.Checker),
	}
}

// initRuntimeDependencies выбирает хранилище по cfg.StorageDriver и подключает кеш.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	var deps *Dependencies

	switch driver := strings.ToLower(strings.TrimSpace(cfg.StorageDriver)); driver {
	case "", StorageDriverMemory:
		deps = NewMemoryDependencies(logger)
	case StorageDriverPostgres:
		var err error
		deps, err = initPostgresDependencies(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}

	if cfg.RedisAddr != "" {
		deps.attachOrderCache(ctx, cfg.RedisAddr, cfg.OrderCacheTTL)
	}

	return deps, nil
}

func initPostgresDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	dsn := strings.TrimSpace(cfg.PostgresDSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required for postgres storage driver")
	}

	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if cfg.PostgresAutoMigrate {
		if err := store.MigrateUp(ctx, 0); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply postgres migrations: %w", err)
		}
	}

	deps := NewMemoryDependencies(logger)
	deps.Orders = postgres.NewOrderRepository(store)
	deps.Products = postgres.NewProductRepository(store)
	deps.Outbox = postgres.NewOutboxRepository(store)
	deps.Idempotency = postgres.NewIdempotencyRepository(store)
	deps.Durable = true
	deps.checkers["postgres"] = healthcheck.NewPingChecker("postgres", store.Ping)
	deps.closers = append(deps.closers, store.Close)

	deps.Logger.Info("postgres storage initialized")
	return deps, nil
}

// attachOrderCache подключает Redis-кеш заказов. Недоступный Redis не мешает старту:
// чтение идёт напрямую из хранилища, а readiness показывает degraded.
func (d *Dependencies) attachOrderCache(ctx context.Context, addr string, ttl time.Duration) {
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	cache := rediscache.NewOrderCache(client, ttl)

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := cache.Ping(pingCtx); err != nil {
		d.Logger.WithError(err).WithField("redis_addr", addr).Warn("redis unavailable, order cache disabled")
		d.checkers["redis"] = healthcheck.NewOptionalChecker("redis", func(context.Context) error { return err })
		_ = client.Close()
		return
	}

	d.Cache = cache
	d.checkers["redis"] = healthcheck.NewOptionalChecker("redis", cache.Ping)
	d.closers = append(d.closers, client.Close)
	d.Logger.WithField("redis_addr", addr).Info("order cache initialized")
}

// registerCheckers добавляет проверки зависимостей в health handler.
func (d *Dependencies) registerCheckers(h *healthcheck.Handler) {
	for name, checker := range d.checkers {
		h.RegisterChecker(name, checker)
	}
}

// Close освобождает подключения в обратном порядке.
func (d *Dependencies) Close() {
	if d == nil {
		return
	}
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.Logger.WithError(err).Warn("failed to close dependency")
		}
	}
	d.closers = nil
}
