package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

const (
	defaultTimeout = 30 * time.Second
	envPostgresDSN = "STOREFRONT_POSTGRES_DSN"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Getenv, os.Stdout); err != nil {
		cancel()
		fail("%v", err)
	}
}

// run применяет или откатывает миграции витрины и печатает итоговую версию схемы.
func run(ctx context.Context, args []string, getenv func(string) string, out io.Writer) error {
	var (
		direction string
		steps     int
		dsn       string
	)

	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&direction, "direction", "up", "migration direction: up|down|status")
	fs.IntVar(&steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	fs.StringVar(&dsn, "dsn", "", "PostgreSQL DSN (fallback: "+envPostgresDSN+")")
	if err := fs.Parse(args); err != nil {
		return err
	}

	direction = strings.ToLower(strings.TrimSpace(direction))
	switch direction {
	case "up", "down", "status":
	default:
		return fmt.Errorf("unsupported direction: %s (use up|down|status)", direction)
	}

	if dsn = strings.TrimSpace(dsn); dsn == "" {
		dsn = strings.TrimSpace(getenv(envPostgresDSN))
	}
	if dsn == "" {
		return errors.New(envPostgresDSN + " (or -dsn) is required")
	}

	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer store.Close()

	switch direction {
	case "up":
		if err := store.MigrateUp(ctx, steps); err != nil {
			return fmt.Errorf("migrate up failed: %w", err)
		}
	case "down":
		if steps <= 0 {
			steps = 1
		}
		if err := store.MigrateDown(ctx, steps); err != nil {
			return fmt.Errorf("migrate down failed: %w", err)
		}
	}

	version, count, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status failed: %w", err)
	}
	_, _ = fmt.Fprintf(out, "migrate %s ok: version=%d applied=%d\n", direction, version, count)
	return nil
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
