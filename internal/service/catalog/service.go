// Package catalog отдаёт товары витрины только для чтения.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Service — чтение каталога.
type Service struct {
	products domain.ProductRepository
}

// NewService создаёт сервис каталога.
func NewService(products domain.ProductRepository) *Service {
	return &Service{products: products}
}

// GetProduct возвращает товар или domain.ErrProductNotFound.
func (s *Service) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	if id <= 0 {
		return domain.Product{}, domain.NewValidationError(domain.CodeInvalidID, "Valid ID is required")
	}
	product, err := s.products.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrProductNotFound) {
			return domain.Product{}, err
		}
		return domain.Product{}, fmt.Errorf("get product %d: %w", id, err)
	}
	return product, nil
}

// ListProducts возвращает страницу каталога.
func (s *Service) ListProducts(ctx context.Context, query domain.ProductQuery) ([]domain.Product, error) {
	products, err := s.products.List(ctx, query.Normalize())
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}
