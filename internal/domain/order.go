package domain

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает статус заказа. Этот сервис создаёт заказы только в pending.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан и ждёт обработки магазином.
	OrderStatusPending OrderStatus = "pending"
)

// DefaultPaymentMethod подставляется, если клиент не указал способ оплаты.
const DefaultPaymentMethod = "Cash on Delivery"

// LineItem — одна позиция корзины или заказа.
// JSON-имена совпадают с форматом, который клиент хранит локально.
type LineItem struct {
	ProductID    int64           `json:"id"`
	Name         string          `json:"name"`
	DisplayPrice string          `json:"price"`
	UnitPrice    decimal.Decimal `json:"priceValue"`
	ImageRef     string          `json:"image"`
	Color        string          `json:"color"`
	SwitchType   string          `json:"switches"`
	LightOption  string          `json:"lights"`
	Quantity     int             `json:"quantity"`

	// Extra хранит поля позиции, которые не распознаны или пришли другого типа.
	// При сериализации они выводятся без изменений.
	Extra map[string]json.RawMessage `json:"-"`

	// opaque — элемент массива items, который не является объектом.
	opaque json.RawMessage
}

// lineItemJSON — LineItem без собственных методов сериализации.
type lineItemJSON LineItem

// UnmarshalJSON разбирает позицию без отказов на уровне элемента: известные поля
// заполняются, если тип подходит, всё остальное попадает в Extra.
func (i *LineItem) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		*i = LineItem{opaque: append(json.RawMessage(nil), trimmed...)}
		return nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return err
	}

	var item LineItem
	targets := map[string]any{
		"id":         &item.ProductID,
		"name":       &item.Name,
		"price":      &item.DisplayPrice,
		"priceValue": &item.UnitPrice,
		"image":      &item.ImageRef,
		"color":      &item.Color,
		"switches":   &item.SwitchType,
		"lights":     &item.LightOption,
		"quantity":   &item.Quantity,
	}
	for name, value := range fields {
		if target, ok := targets[name]; ok && json.Unmarshal(value, target) == nil {
			continue
		}
		if item.Extra == nil {
			item.Extra = make(map[string]json.RawMessage)
		}
		item.Extra[name] = value
	}
	*i = item
	return nil
}

// MarshalJSON возвращает позицию вместе с полями из Extra.
func (i LineItem) MarshalJSON() ([]byte, error) {
	if len(i.opaque) > 0 {
		return i.opaque, nil
	}

	encoded, err := json.Marshal(lineItemJSON(i))
	if err != nil || len(i.Extra) == 0 {
		return encoded, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(encoded, &fields); err != nil {
		return nil, err
	}
	for name, value := range i.Extra {
		fields[name] = value
	}
	return json.Marshal(fields)
}

// Subtotal возвращает цену позиции с учётом количества.
func (i LineItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order — сохранённый заказ.
type Order struct {
	// ID назначается хранилищем.
	ID int64
	// Number — человекочитаемый номер вида ORD-123456, уникален за всё время жизни магазина.
	Number          string
	CustomerName    string
	CustomerEmail   string
	CustomerPhone   string
	ShippingAddress string
	ShippingCity    string
	ShippingZipCode string
	// Notes равен nil, если клиент не оставил комментарий.
	Notes         *string
	Items         []LineItem
	TotalAmount   string
	TotalItems    int
	PaymentMethod string
	Status        OrderStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
