package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func TestProductRepository_Seeded(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewSeededProductRepository()

	products, err := repo.List(ctx, domain.ProductQuery{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(products) != 4 {
		t.Fatalf("expected 4 seeded products, got %d", len(products))
	}
	if products[0].Name != "CLASSIC WASD" || products[3].Name != "CRYSTAL PRO" {
		t.Fatalf("unexpected order: %s ... %s", products[0].Name, products[3].Name)
	}
	for _, p := range products {
		if p.DisplayPrice != "$5.97" || p.UnitPrice.String() != "5.97" {
			t.Fatalf("unexpected price for %s: %s/%s", p.Name, p.DisplayPrice, p.UnitPrice)
		}
	}
}

func TestProductRepository_Get(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewSeededProductRepository()

	product, err := repo.Get(ctx, 3)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if product.Name != "RGB GAMER" || product.SwitchType != "Clicky & Loud (4 colors available)" {
		t.Fatalf("unexpected product %+v", product)
	}

	if _, err := repo.Get(ctx, 42); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestProductRepository_ListQuery(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewSeededProductRepository()

	tests := []struct {
		name  string
		query domain.ProductQuery
		want  []int64
	}{
		{name: "search by name", query: domain.ProductQuery{Search: "stealth"}, want: []int64{2}},
		{name: "search by color", query: domain.ProductQuery{Search: "clear"}, want: []int64{1, 3, 4}},
		{name: "search by switches", query: domain.ProductQuery{Search: "clicky"}, want: []int64{3}},
		{name: "limit", query: domain.ProductQuery{Limit: 2}, want: []int64{1, 2}},
		{name: "offset", query: domain.ProductQuery{Offset: 3}, want: []int64{4}},
		{name: "offset past end", query: domain.ProductQuery{Offset: 10}, want: []int64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			products, err := repo.List(ctx, tt.query)
			if err != nil {
				t.Fatalf("list failed: %v", err)
			}
			if len(products) != len(tt.want) {
				t.Fatalf("expected %d products, got %d", len(tt.want), len(products))
			}
			for i, id := range tt.want {
				if products[i].ID != id {
					t.Fatalf("position %d: expected id %d, got %d", i, id, products[i].ID)
				}
			}
		})
	}
}
