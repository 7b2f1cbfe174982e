package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type productRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[int64]domain.Product
}

// NewProductRepository создаёт каталог из переданных товаров.
// Товары без ID получают последовательные идентификаторы начиная с 1.
func NewProductRepository(products ...domain.Product) domain.ProductRepository {
	repo := &productRepositoryInMemory{items: make(map[int64]domain.Product, len(products))}
	for i, p := range products {
		if p.ID == 0 {
			p.ID = int64(i + 1)
		}
		repo.items[p.ID] = p
	}
	return repo
}

// NewSeededProductRepository возвращает каталог с витринными брелоками.
func NewSeededProductRepository() domain.ProductRepository {
	return NewProductRepository(SeedCatalog(time.Now().UTC())...)
}

// SeedCatalog возвращает стартовый набор товаров витрины.
func SeedCatalog(now time.Time) []domain.Product {
	const imageBase = "https://slelguoygbfzlpylpxfs.supabase.co/storage/v1/render/image/public/document-uploads/"
	price := decimal.RequireFromString("5.97")

	seed := []domain.Product{
		{ID: 1, Name: "CLASSIC WASD", Color: "Clear & Cream", SwitchType: "Light Sound (4 colors available)",
			ImageRef: imageBase + "Generated-Image-November-18-2025-11_59PM-1763504359428.png"},
		{ID: 2, Name: "STEALTH EDITION", Color: "Smoke & Black", SwitchType: "Light Sound (4 colors available)",
			ImageRef: imageBase + "Generated-Image-November-18-2025-11_36PM-1763504359353.png"},
		{ID: 3, Name: "RGB GAMER", Color: "Clear & Blue", SwitchType: "Clicky & Loud (4 colors available)",
			ImageRef: imageBase + "Generated-Image-November-18-2025-11_29PM-1763504359576.png"},
		{ID: 4, Name: "CRYSTAL PRO", Color: "Crystal Clear", SwitchType: "Light Sound (4 colors available)",
			ImageRef: imageBase + "Generated-Image-November-18-2025-11_28PM-1763504359521.png"},
	}
	for i := range seed {
		seed[i].DisplayPrice = "$5.97"
		seed[i].UnitPrice = price
		seed[i].LightOption = "With & Without Lights"
		seed[i].CreatedAt = now
		seed[i].UpdatedAt = now
	}
	return seed
}

func (r *productRepositoryInMemory) Get(ctx context.Context, id int64) (domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return domain.Product{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	product, ok := r.items[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

func (r *productRepositoryInMemory) List(ctx context.Context, query domain.ProductQuery) ([]domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	query = query.Normalize()
	needle := strings.ToLower(strings.TrimSpace(query.Search))

	r.mu.RLock()
	result := make([]domain.Product, 0, len(r.items))
	for _, p := range r.items {
		if needle != "" && !matchesProduct(p, needle) {
			continue
		}
		result = append(result, p)
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	if query.Offset >= len(result) {
		return []domain.Product{}, nil
	}
	result = result[query.Offset:]
	if len(result) > query.Limit {
		result = result[:query.Limit]
	}
	return result, nil
}

func matchesProduct(p domain.Product, needle string) bool {
	return strings.Contains(strings.ToLower(p.Name), needle) ||
		strings.Contains(strings.ToLower(p.Color), needle) ||
		strings.Contains(strings.ToLower(p.SwitchType), needle)
}

var _ domain.ProductRepository = (*productRepositoryInMemory)(nil)
