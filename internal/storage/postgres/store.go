// Package postgres — хранилище витрины в PostgreSQL через pgx (database/sql драйвер).
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const pingTimeout = 5 * time.Second

var errStoreNotInitialized = errors.New("postgres store is not initialized")

// PoolOptions — параметры пула соединений.
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPoolOptions подходят для одного экземпляра API.
func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		MaxOpenConns:    20,
		MaxIdleConns:    10,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// Store владеет пулом соединений; репозитории получают его через конструкторы.
type Store struct {
	db *sql.DB
}

// Open открывает пул с настройками по умолчанию и проверяет доступность базы.
func Open(ctx context.Context, dsn string) (*Store, error) {
	return OpenWithPool(ctx, dsn, DefaultPoolOptions())
}

// OpenWithPool открывает пул с заданными параметрами.
func OpenWithPool(ctx context.Context, dsn string, pool PoolOptions) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	store := &Store{db: db}
	if err := store.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return store, nil
}

// DB отдаёт пул репозиториям пакета и интеграционным тестам.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping используется health-чекером.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Close закрывает пул; повторный вызов и nil-store безопасны.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
