package app

import (
	"testing"
	"time"
)

func TestDefaultConfig_RunsWithoutExternalServices(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.StorageDriver != StorageDriverMemory {
		t.Fatalf("default storage must be memory, got %q", cfg.StorageDriver)
	}
	if cfg.PostgresDSN != "" || cfg.RedisAddr != "" || cfg.KafkaBrokers != "" {
		t.Fatalf("external services must be off by default: %+v", cfg)
	}
}

func TestDefaultConfig_Addresses(t *testing.T) {
	cfg := DefaultConfig()

	for name, got := range map[string]string{
		":8080":  cfg.HTTPAddr,
		":50051": cfg.GRPCAddr,
		":9090":  cfg.MetricsAddr,
	} {
		if got != name {
			t.Errorf("expected %s, got %s", name, got)
		}
	}
}

func TestDefaultConfig_WorkerSettingsArePositive(t *testing.T) {
	cfg := DefaultConfig()

	durations := map[string]time.Duration{
		"OrderCacheTTL":              cfg.OrderCacheTTL,
		"OutboxPollInterval":         cfg.OutboxPollInterval,
		"IdempotencyCleanupInterval": cfg.IdempotencyCleanupInterval,
		"RequestTimeout":             cfg.RequestTimeout,
	}
	for name, d := range durations {
		if d <= 0 {
			t.Errorf("%s must be positive, got %s", name, d)
		}
	}

	counts := map[string]int{
		"OutboxBatchSize":             cfg.OutboxBatchSize,
		"OutboxMaxAttempts":           cfg.OutboxMaxAttempts,
		"IdempotencyCleanupBatchSize": cfg.IdempotencyCleanupBatchSize,
	}
	for name, n := range counts {
		if n <= 0 {
			t.Errorf("%s must be positive, got %d", name, n)
		}
	}

	if cfg.OutboxRetryDelay < 0 {
		t.Errorf("OutboxRetryDelay must not be negative, got %s", cfg.OutboxRetryDelay)
	}
}

func TestDefaultConfig_Topics(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.OrderEventsTopic == "" || cfg.DeadLetterTopic == "" {
		t.Fatalf("topics must be set: events=%q dlq=%q", cfg.OrderEventsTopic, cfg.DeadLetterTopic)
	}
	if cfg.OrderEventsTopic == cfg.DeadLetterTopic {
		t.Fatal("dead letters must not be routed back to the events topic")
	}
	if !cfg.PostgresAutoMigrate {
		t.Fatal("schema must be migrated on start by default")
	}
}
