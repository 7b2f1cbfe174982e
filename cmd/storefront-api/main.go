package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/app"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const (
	envHTTPAddr                    = "STOREFRONT_HTTP_ADDR"
	envGRPCAddr                    = "STOREFRONT_GRPC_ADDR"
	envMetricsAddr                 = "STOREFRONT_METRICS_ADDR"
	envStorageDriver               = "STOREFRONT_STORAGE_DRIVER"
	envPostgresDSN                 = "STOREFRONT_POSTGRES_DSN"
	envPostgresAutoMigrate         = "STOREFRONT_POSTGRES_AUTO_MIGRATE"
	envRedisAddr                   = "STOREFRONT_REDIS_ADDR"
	envOrderCacheTTL               = "STOREFRONT_ORDER_CACHE_TTL"
	envKafkaBrokers                = "KAFKA_BROKERS"
	envOrderEventsTopic            = "STOREFRONT_ORDER_EVENTS_TOPIC"
	envDeadLetterTopic             = "STOREFRONT_DEAD_LETTER_TOPIC"
	envOutboxPollInterval          = "STOREFRONT_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize             = "STOREFRONT_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts           = "STOREFRONT_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay            = "STOREFRONT_OUTBOX_RETRY_DELAY"
	envIdempotencyCleanupInterval  = "STOREFRONT_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "STOREFRONT_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
	envRequestTimeout              = "STOREFRONT_REQUEST_TIMEOUT"
	envLogLevel                    = "STOREFRONT_LOG_LEVEL"
)

type envLookup func(key string) (string, bool)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(lookup envLookup) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	if raw, ok := lookup(envLogLevel); ok {
		level, err := log.ParseLevel(strings.TrimSpace(raw))
		if err != nil {
			log.WithError(err).Warn("invalid log level, using info")
			return
		}
		log.SetLevel(level)
	}
}

// readConfigFromEnv собирает конфигурацию из окружения.
// Некорректные значения не останавливают запуск: остаётся значение по умолчанию, а в warnings — причина.
func readConfigFromEnv(lookup envLookup) (app.Config, []error) {
	cfg := app.DefaultConfig()
	var warnings []error

	setString := func(key string, target *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*target = strings.TrimSpace(v)
		}
	}
	setBool := func(key string, target *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseBool(v)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("%s: %w", key, err))
			return
		}
		*target = parsed
	}
	setInt := func(key string, target *int, valid func(int) bool, rule string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseInt(v, valid, rule)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("%s: %w", key, err))
			return
		}
		*target = parsed
	}
	setDuration := func(key string, target *time.Duration, valid func(time.Duration) bool, rule string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseDuration(v, valid, rule)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("%s: %w", key, err))
			return
		}
		*target = parsed
	}

	positiveInt := func(v int) bool { return v > 0 }
	positiveDuration := func(v time.Duration) bool { return v > 0 }

	setString(envHTTPAddr, &cfg.HTTPAddr)
	setString(envGRPCAddr, &cfg.GRPCAddr)
	setString(envMetricsAddr, &cfg.MetricsAddr)
	setString(envStorageDriver, &cfg.StorageDriver)
	cfg.StorageDriver = strings.ToLower(cfg.StorageDriver)
	setString(envPostgresDSN, &cfg.PostgresDSN)
	setBool(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	setString(envRedisAddr, &cfg.RedisAddr)
	setDuration(envOrderCacheTTL, &cfg.OrderCacheTTL, positiveDuration, "must be > 0")
	setString(envKafkaBrokers, &cfg.KafkaBrokers)
	setString(envOrderEventsTopic, &cfg.OrderEventsTopic)
	if raw, ok := lookup(envDeadLetterTopic); ok {
		cfg.DeadLetterTopic = strings.TrimSpace(raw)
	}
	setDuration(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0")
	setInt(envOutboxBatchSize, &cfg.OutboxBatchSize, positiveInt, "must be > 0")
	setInt(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positiveInt, "must be > 0")
	setDuration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, func(v time.Duration) bool { return v >= 0 }, "must be >= 0")
	setDuration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDuration, "must be > 0")
	setInt(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize, positiveInt, "must be > 0")
	setDuration(envRequestTimeout, &cfg.RequestTimeout, positiveDuration, "must be > 0")

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid int value %q: %w", raw, err)
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("invalid int value %q: %s", raw, rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration value %q: %w", raw, err)
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("invalid duration value %q: %s", raw, rule)
	}
	return value, nil
}

// loadDotEnv подхватывает .env, если он есть. Уже заданные переменные окружения не перезаписываются.
func loadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			existing = append(existing, path)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

func main() {
	if err := loadDotEnv(); err != nil {
		log.WithError(err).Warn("failed to load .env")
	}
	setupLogger(os.LookupEnv)

	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	for _, warning := range warnings {
		log.WithError(warning).Warn("invalid config value, using default")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"http_addr":      cfg.HTTPAddr,
		"grpc_addr":      cfg.GRPCAddr,
		"metrics_addr":   cfg.MetricsAddr,
		"storage_driver": cfg.StorageDriver,
		"redis":          cfg.RedisAddr != "",
		"kafka":          cfg.KafkaBrokers != "",
		"version":        version.GetVersion(),
		"commit":         version.GetCommit(),
	}).Info("запускаем storefront API")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("storefront API остановлен")
}
