package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// CreateOrderResponse — ответ на успешное создание заказа.
type CreateOrderResponse struct {
	Success     bool   `json:"success"`
	OrderID     int64  `json:"orderId"`
	OrderNumber string `json:"orderNumber"`
	Message     string `json:"message"`
}

// OrderResponse — заказ в формате API.
type OrderResponse struct {
	ID              int64             `json:"id"`
	OrderNumber     string            `json:"orderNumber"`
	CustomerName    string            `json:"customerName"`
	CustomerEmail   string            `json:"customerEmail"`
	CustomerPhone   string            `json:"customerPhone"`
	ShippingAddress string            `json:"shippingAddress"`
	ShippingCity    string            `json:"shippingCity"`
	ShippingZipCode string            `json:"shippingZipCode"`
	OrderNotes      *string           `json:"orderNotes"`
	Items           []domain.LineItem `json:"items"`
	TotalAmount     string            `json:"totalAmount"`
	TotalItems      int               `json:"totalItems"`
	PaymentMethod   string            `json:"paymentMethod"`
	OrderStatus     string            `json:"orderStatus"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// NewOrderResponse переводит доменный заказ в формат API.
func NewOrderResponse(order domain.Order) OrderResponse {
	return OrderResponse{
		ID:              order.ID,
		OrderNumber:     order.Number,
		CustomerName:    order.CustomerName,
		CustomerEmail:   order.CustomerEmail,
		CustomerPhone:   order.CustomerPhone,
		ShippingAddress: order.ShippingAddress,
		ShippingCity:    order.ShippingCity,
		ShippingZipCode: order.ShippingZipCode,
		OrderNotes:      order.Notes,
		Items:           order.Items,
		TotalAmount:     order.TotalAmount,
		TotalItems:      order.TotalItems,
		PaymentMethod:   order.PaymentMethod,
		OrderStatus:     string(order.Status),
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
	}
}

// Order возвращает доменное представление (используется клиентом).
func (r OrderResponse) Order() domain.Order {
	return domain.Order{
		ID:              r.ID,
		Number:          r.OrderNumber,
		CustomerName:    r.CustomerName,
		CustomerEmail:   r.CustomerEmail,
		CustomerPhone:   r.CustomerPhone,
		ShippingAddress: r.ShippingAddress,
		ShippingCity:    r.ShippingCity,
		ShippingZipCode: r.ShippingZipCode,
		Notes:           r.OrderNotes,
		Items:           r.Items,
		TotalAmount:     r.TotalAmount,
		TotalItems:      r.TotalItems,
		PaymentMethod:   r.PaymentMethod,
		Status:          domain.OrderStatus(r.OrderStatus),
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

// ProductResponse — товар каталога в формате API.
type ProductResponse struct {
	ID         int64           `json:"id"`
	Name       string          `json:"name"`
	Price      string          `json:"price"`
	PriceValue decimal.Decimal `json:"priceValue"`
	Image      string          `json:"image"`
	Color      string          `json:"color"`
	Switches   string          `json:"switches"`
	Lights     string          `json:"lights"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// NewProductResponse переводит товар в формат API.
func NewProductResponse(p domain.Product) ProductResponse {
	return ProductResponse{
		ID:         p.ID,
		Name:       p.Name,
		Price:      p.DisplayPrice,
		PriceValue: p.UnitPrice,
		Image:      p.ImageRef,
		Color:      p.Color,
		Switches:   p.SwitchType,
		Lights:     p.LightOption,
		CreatedAt:  p.CreatedAt.UTC(),
		UpdatedAt:  p.UpdatedAt.UTC(),
	}
}

// Product возвращает доменное представление товара.
func (r ProductResponse) Product() domain.Product {
	return domain.Product{
		ID:           r.ID,
		Name:         r.Name,
		DisplayPrice: r.Price,
		UnitPrice:    r.PriceValue,
		ImageRef:     r.Image,
		Color:        r.Color,
		SwitchType:   r.Switches,
		LightOption:  r.Lights,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}
