package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product — товар из фиксированного каталога.
type Product struct {
	ID           int64
	Name         string
	DisplayPrice string
	UnitPrice    decimal.Decimal
	ImageRef     string
	Color        string
	SwitchType   string
	LightOption  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// LineItem превращает товар в позицию корзины с заданным количеством.
func (p Product) LineItem(quantity int) LineItem {
	return LineItem{
		ProductID:    p.ID,
		Name:         p.Name,
		DisplayPrice: p.DisplayPrice,
		UnitPrice:    p.UnitPrice,
		ImageRef:     p.ImageRef,
		Color:        p.Color,
		SwitchType:   p.SwitchType,
		LightOption:  p.LightOption,
		Quantity:     quantity,
	}
}

// Границы пагинации каталога.
const (
	DefaultProductLimit = 10
	MaxProductLimit     = 100
)

// ProductQuery задаёт фильтр и пагинацию списка товаров.
// Search ищет подстроку в названии, цвете и типе свитчей без учёта регистра.
type ProductQuery struct {
	Search string
	Limit  int
	Offset int
}

// Normalize приводит лимит и смещение к допустимым границам.
func (q ProductQuery) Normalize() ProductQuery {
	if q.Limit <= 0 {
		q.Limit = DefaultProductLimit
	}
	if q.Limit > MaxProductLimit {
		q.Limit = MaxProductLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}
