package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	migrationsDir  = "sql/migrations"
	migrationsLock = "storefront.schema_migrations"

	createVersionTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

//go:embed sql/migrations/*.sql
var embeddedMigrations embed.FS

// Имя файла: <version>_<name>.<up|down>.sql
var migrationFileName = regexp.MustCompile(`^(\d+)_(\w+)\.(up|down)\.sql$`)

type migrationDirection string

const (
	migrationUp   migrationDirection = "up"
	migrationDown migrationDirection = "down"
)

type migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

func (m migration) label() string {
	return fmt.Sprintf("%04d_%s", m.Version, m.Name)
}

// MigrateUp применяет ещё не применённые миграции по возрастанию версии.
// steps=0 применяет все.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.migrate(ctx, migrationUp, steps)
}

// MigrateDown откатывает последние steps миграций; steps<=0 откатывает одну.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	return s.migrate(ctx, migrationDown, max(steps, 1))
}

// MigrationStatus возвращает последнюю применённую версию и число применённых миграций.
func (s *Store) MigrationStatus(ctx context.Context) (int64, int, error) {
	if s == nil || s.db == nil {
		return 0, 0, errStoreNotInitialized
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, createVersionTable); err != nil {
		return 0, 0, fmt.Errorf("ensure migration table: %w", err)
	}

	var (
		version int64
		count   int
	)
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0), COUNT(*) FROM schema_migrations`).
		Scan(&version, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("query migration status: %w", err)
	}
	return version, count, nil
}

func (s *Store) migrate(ctx context.Context, direction migrationDirection, steps int) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}
	if direction != migrationUp && direction != migrationDown {
		return fmt.Errorf("unsupported migration direction: %s", direction)
	}

	migrations, err := loadMigrationsFromFS(embeddedMigrations)
	if err != nil {
		return err
	}

	// Advisory lock держится на конкретном соединении, поэтому весь прогон идёт через conn.
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock(hashtext($1))`, migrationsLock); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock(hashtext($1))`, migrationsLock)
	}()

	if _, err := conn.ExecContext(ctx, createVersionTable); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return err
	}

	for _, m := range plan(migrations, applied, direction, steps) {
		if err := runMigration(ctx, conn, m, direction); err != nil {
			return err
		}
	}
	return nil
}

// plan выбирает миграции для прогона: для up — неприменённые по возрастанию,
// для down — применённые по убыванию. steps>0 ограничивает их число.
func plan(migrations []migration, applied []int64, direction migrationDirection, steps int) []migration {
	isApplied := make(map[int64]bool, len(applied))
	for _, v := range applied {
		isApplied[v] = true
	}

	var selected []migration
	if direction == migrationUp {
		for _, m := range migrations {
			if !isApplied[m.Version] {
				selected = append(selected, m)
			}
		}
	} else {
		for i := len(migrations) - 1; i >= 0; i-- {
			if isApplied[migrations[i].Version] {
				selected = append(selected, migrations[i])
			}
		}
	}

	if steps > 0 && len(selected) > steps {
		selected = selected[:steps]
	}
	return selected
}

func runMigration(ctx context.Context, conn *sql.Conn, m migration, direction migrationDirection) error {
	body := m.UpSQL
	record := `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`
	args := []any{m.Version, m.Name}
	if direction == migrationDown {
		body = m.DownSQL
		record = `DELETE FROM schema_migrations WHERE version = $1`
		args = args[:1]
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s migration %s: %w", direction, m.label(), err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, body); err != nil {
		return fmt.Errorf("execute %s migration %s: %w", direction, m.label(), err)
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return fmt.Errorf("record %s migration %s: %w", direction, m.label(), err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s migration %s: %w", direction, m.label(), err)
	}
	return nil
}

func appliedVersions(ctx context.Context, conn *sql.Conn) ([]int64, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	var versions []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return versions, nil
}

// loadMigrationsFromFS собирает пары up/down из каталога migrationsDir.
// У каждой версии должны быть оба файла с одинаковым именем и непустым телом.
func loadMigrationsFromFS(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	byVersion := make(map[int64]*migration)
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}

		parts := migrationFileName.FindStringSubmatch(entry.Name())
		if parts == nil {
			return nil, fmt.Errorf("invalid migration file name: %s", entry.Name())
		}
		version, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version from %s: %w", entry.Name(), err)
		}
		name, direction := parts[2], migrationDirection(parts[3])

		raw, err := fs.ReadFile(fsys, path.Join(migrationsDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration file is empty: %s", entry.Name())
		}

		m, ok := byVersion[version]
		if !ok {
			m = &migration{Version: version, Name: name}
			byVersion[version] = m
		}
		if m.Name != name {
			return nil, fmt.Errorf("migration name mismatch for version %d: %s vs %s", version, m.Name, name)
		}

		target := &m.UpSQL
		if direction == migrationDown {
			target = &m.DownSQL
		}
		if *target != "" {
			return nil, fmt.Errorf("duplicate %s migration for version %d", direction, version)
		}
		*target = body
	}

	if len(byVersion) == 0 {
		return nil, fmt.Errorf("no migration files found in %s", migrationsDir)
	}

	migrations := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpSQL == "" || m.DownSQL == "" {
			return nil, fmt.Errorf("migration %s must have both up and down files", m.label())
		}
		migrations = append(migrations, *m)
	}
	slices.SortFunc(migrations, func(a, b migration) int {
		switch {
		case a.Version < b.Version:
			return -1
		case a.Version > b.Version:
			return 1
		default:
			return 0
		}
	})
	return migrations, nil
}
