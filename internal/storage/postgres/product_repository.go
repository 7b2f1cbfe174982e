package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type productRepository struct {
	db *sql.DB
}

// NewProductRepository создаёт PostgreSQL-реализацию ProductRepository.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepository{db: store.DB()}
}

const productSelectColumns = `id, name, price, price_value, image, color, switches, lights, created_at, updated_at`

func (r *productRepository) Get(ctx context.Context, id int64) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	product, err := scanProduct(r.db.QueryRowContext(ctx,
		`SELECT `+productSelectColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return product, nil
}

func (r *productRepository) List(ctx context.Context, query domain.ProductQuery) ([]domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query = query.Normalize()

	var (
		rows *sql.Rows
		err  error
	)
	if search := strings.TrimSpace(query.Search); search != "" {
		pattern := "%" + escapeLike(search) + "%"
		rows, err = r.db.QueryContext(ctx, `
			SELECT `+productSelectColumns+`
			FROM products
			WHERE name ILIKE $1 OR color ILIKE $1 OR switches ILIKE $1
			ORDER BY id
			LIMIT $2 OFFSET $3
		`, pattern, query.Limit, query.Offset)
	} else {
		rows, err = r.db.QueryContext(ctx, `
			SELECT `+productSelectColumns+`
			FROM products
			ORDER BY id
			LIMIT $1 OFFSET $2
		`, query.Limit, query.Offset)
	}
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, query.Limit)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product rows: %w", err)
	}
	return products, nil
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var (
		product domain.Product
		price   string
	)
	if err := row.Scan(
		&product.ID, &product.Name, &product.DisplayPrice, &price, &product.ImageRef,
		&product.Color, &product.SwitchType, &product.LightOption, &product.CreatedAt, &product.UpdatedAt,
	); err != nil {
		return domain.Product{}, err
	}

	value, err := decimal.NewFromString(price)
	if err != nil {
		return domain.Product{}, fmt.Errorf("parse price of product %d: %w", product.ID, err)
	}
	product.UnitPrice = value
	product.CreatedAt = product.CreatedAt.UTC()
	product.UpdatedAt = product.UpdatedAt.UTC()
	return product, nil
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
}

var _ domain.ProductRepository = (*productRepository)(nil)
