package app

import "time"

// Поддерживаемые драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска витрины.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	// RedisAddr включает кеш заказов, пустое значение — без кеша.
	RedisAddr     string
	OrderCacheTTL time.Duration

	// KafkaBrokers — список брокеров через запятую, пустое значение отключает публикацию.
	// В DeadLetterTopic уходят события, исчерпавшие попытки; пустое значение отключает DLQ.
	KafkaBrokers       string
	OrderEventsTopic   string
	DeadLetterTopic    string
	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	RequestTimeout time.Duration
}

// DefaultConfig возвращает настройки для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:                    ":8080",
		GRPCAddr:                    ":50051",
		MetricsAddr:                 ":9090",
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		OrderCacheTTL:               10 * time.Minute,
		OrderEventsTopic:            "storefront.order.events",
		DeadLetterTopic:             "storefront.dlq",
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryDelay:            50 * time.Millisecond,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,
		RequestTimeout:              10 * time.Second,
	}
}
