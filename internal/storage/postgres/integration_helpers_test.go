package postgres

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

// rawStore подключается к базе из STOREFRONT_POSTGRES_TEST_DSN без миграций.
// Без DSN или при недоступной базе тест пропускается.
func rawStore(t *testing.T) *Store {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("STOREFRONT_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("STOREFRONT_POSTGRES_TEST_DSN is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	store, err := Open(ctx, dsn)
	if err != nil {
		t.Skipf("postgres is not available: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// migratedStore возвращает store с актуальной схемой и пустыми таблицами заказов.
// Каталог товаров не очищается: его наполняет миграция.
func migratedStore(t *testing.T) *Store {
	t.Helper()

	store := rawStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := store.MigrateUp(ctx, 0); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	if _, err := store.DB().ExecContext(ctx, `TRUNCATE TABLE idempotency_keys, outbox_messages, orders RESTART IDENTITY`); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	return store
}
