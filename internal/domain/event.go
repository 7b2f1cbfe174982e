package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Типы событий outbox.
const (
	AggregateTypeOrder = "order"
	EventOrderCreated  = "order.created"
)

// OrderCreatedEvent — полезная нагрузка события order.created.
type OrderCreatedEvent struct {
	OrderID       int64     `json:"orderId"`
	OrderNumber   string    `json:"orderNumber"`
	CustomerEmail string    `json:"customerEmail"`
	ShippingCity  string    `json:"shippingCity"`
	TotalAmount   string    `json:"totalAmount"`
	TotalItems    int       `json:"totalItems"`
	PaymentMethod string    `json:"paymentMethod"`
	Status        string    `json:"orderStatus"`
	CreatedAt     time.Time `json:"createdAt"`
}

// NewOrderCreatedMessage формирует outbox-сообщение о созданном заказе.
// Ключ агрегата — номер заказа, чтобы события одного заказа попадали в одну партицию.
func NewOrderCreatedMessage(order Order) (OutboxMessage, error) {
	payload, err := json.Marshal(OrderCreatedEvent{
		OrderID:       order.ID,
		OrderNumber:   order.Number,
		CustomerEmail: order.CustomerEmail,
		ShippingCity:  order.ShippingCity,
		TotalAmount:   order.TotalAmount,
		TotalItems:    order.TotalItems,
		PaymentMethod: order.PaymentMethod,
		Status:        string(order.Status),
		CreatedAt:     order.CreatedAt,
	})
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal order.created payload: %w", err)
	}

	return OutboxMessage{
		AggregateType: AggregateTypeOrder,
		AggregateID:   order.Number,
		EventType:     EventOrderCreated,
		Payload:       payload,
	}, nil
}
