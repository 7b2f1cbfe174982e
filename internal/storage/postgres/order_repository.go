package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	opTimeout = 5 * time.Second

	pgUniqueViolation     = "23505"
	orderNumberConstraint = "orders_order_number_key"
	orderSelectColumns    = `id, order_number, customer_name, customer_email, customer_phone,
		shipping_address, shipping_city, shipping_zip_code, order_notes, items,
		total_amount, total_items, payment_method, order_status, created_at, updated_at`
)

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
// Она же реализует domain.OrderEventWriter.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

// Create вставляет заказ одним INSERT ... RETURNING. Уникальность номера
// гарантирует ограничение orders_order_number_key.
func (r *orderRepository) Create(ctx context.Context, order domain.Order) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return insertOrder(ctx, r.db, order)
}

// CreateWithEvent вставляет заказ и его событие в outbox_messages в одной транзакции:
// либо сохраняются оба, либо ничего.
func (r *orderRepository) CreateWithEvent(ctx context.Context, order domain.Order, event func(domain.Order) (domain.OutboxMessage, error)) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, fmt.Errorf("begin order transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	created, err := insertOrder(ctx, tx, order)
	if err != nil {
		return domain.Order{}, err
	}

	msg, err := event(created)
	if err != nil {
		return domain.Order{}, fmt.Errorf("build order event: %w", err)
	}
	if _, err := insertOutboxMessage(ctx, tx, msg); err != nil {
		return domain.Order{}, err
	}

	if err := tx.Commit(); err != nil {
		return domain.Order{}, fmt.Errorf("commit order transaction: %w", err)
	}
	return created, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertOrder(ctx context.Context, db queryRower, order domain.Order) (domain.Order, error) {
	items, err := json.Marshal(order.Items)
	if err != nil {
		return domain.Order{}, fmt.Errorf("marshal order items: %w", err)
	}

	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}
	if order.Status == "" {
		order.Status = domain.OrderStatusPending
	}

	err = db.QueryRowContext(ctx, `
		INSERT INTO orders (
			order_number, customer_name, customer_email, customer_phone,
			shipping_address, shipping_city, shipping_zip_code, order_notes, items,
			total_amount, total_items, payment_method, order_status, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING id
	`,
		order.Number, order.CustomerName, order.CustomerEmail, order.CustomerPhone,
		order.ShippingAddress, order.ShippingCity, order.ShippingZipCode, nullString(order.Notes), items,
		order.TotalAmount, order.TotalItems, order.PaymentMethod, string(order.Status),
		order.CreatedAt, order.UpdatedAt,
	).Scan(&order.ID)
	if err != nil {
		if isUniqueViolation(err, orderNumberConstraint) {
			return domain.Order{}, domain.ErrOrderNumberTaken
		}
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderCreationFailed
		}
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}

	return order, nil
}

func (r *orderRepository) GetByNumber(ctx context.Context, number string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `SELECT `+orderSelectColumns+` FROM orders WHERE order_number = $1 LIMIT 1`, number)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}
	return order, nil
}

func (r *orderRepository) OrderNumberExists(ctx context.Context, number string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM orders WHERE order_number = $1)`, number,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check order number: %w", err)
	}
	return exists, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order  domain.Order
		notes  sql.NullString
		items  []byte
		status string
	)
	if err := row.Scan(
		&order.ID, &order.Number, &order.CustomerName, &order.CustomerEmail, &order.CustomerPhone,
		&order.ShippingAddress, &order.ShippingCity, &order.ShippingZipCode, &notes, &items,
		&order.TotalAmount, &order.TotalItems, &order.PaymentMethod, &status,
		&order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}

	if err := json.Unmarshal(items, &order.Items); err != nil {
		return domain.Order{}, fmt.Errorf("decode items of order %s: %w", order.Number, err)
	}
	if notes.Valid {
		value := notes.String
		order.Notes = &value
	}
	order.Status = domain.OrderStatus(status)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return order, nil
}

func nullString(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}

// isUniqueViolation проверяет код 23505; constraint сужает проверку до конкретного индекса.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

var (
	_ domain.OrderRepository  = (*orderRepository)(nil)
	_ domain.OrderEventWriter = (*orderRepository)(nil)
)
