package domain

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
)

// OrderSubmission — тело запроса на создание заказа в том виде, в каком его прислал клиент.
// Items, TotalAmount и TotalItems остаются сырыми JSON-значениями, чтобы отличать
// отсутствующее поле, null и значение неверного типа.
type OrderSubmission struct {
	CustomerName    string          `json:"customerName"`
	CustomerEmail   string          `json:"customerEmail"`
	CustomerPhone   string          `json:"customerPhone"`
	ShippingAddress string          `json:"shippingAddress"`
	ShippingCity    string          `json:"shippingCity"`
	ShippingZipCode string          `json:"shippingZipCode"`
	OrderNotes      *string         `json:"orderNotes,omitempty"`
	Items           json.RawMessage `json:"items"`
	TotalAmount     json.RawMessage `json:"totalAmount"`
	TotalItems      json.RawMessage `json:"totalItems"`
	PaymentMethod   *string         `json:"paymentMethod,omitempty"`
}

// NewOrderSubmission собирает заявку из типизированных значений (используется клиентом и тестами).
func NewOrderSubmission(contact Contact, items []LineItem, totalAmount string, totalItems int) (OrderSubmission, error) {
	rawItems, err := json.Marshal(items)
	if err != nil {
		return OrderSubmission{}, err
	}
	rawAmount, err := json.Marshal(totalAmount)
	if err != nil {
		return OrderSubmission{}, err
	}
	return OrderSubmission{
		CustomerName:    contact.Name,
		CustomerEmail:   contact.Email,
		CustomerPhone:   contact.Phone,
		ShippingAddress: contact.Address,
		ShippingCity:    contact.City,
		ShippingZipCode: contact.ZipCode,
		OrderNotes:      contact.Notes,
		PaymentMethod:   contact.PaymentMethod,
		Items:           rawItems,
		TotalAmount:     rawAmount,
		TotalItems:      json.RawMessage(jsonInt(totalItems)),
	}, nil
}

// Contact — контактные данные и адрес доставки, введённые покупателем на checkout.
type Contact struct {
	Name          string
	Email         string
	Phone         string
	Address       string
	City          string
	ZipCode       string
	Notes         *string
	PaymentMethod *string
}

// Normalize проверяет заявку и превращает её в черновик заказа без номера и ID.
// Правила применяются по порядку, возвращается первая найденная ошибка.
func (s OrderSubmission) Normalize() (Order, error) {
	required := []struct {
		value   string
		code    string
		message string
	}{
		{s.CustomerName, CodeMissingCustomerName, "Customer name is required"},
		{s.CustomerEmail, CodeMissingCustomerEmail, "Customer email is required"},
		{s.CustomerPhone, CodeMissingCustomerPhone, "Customer phone is required"},
		{s.ShippingAddress, CodeMissingShippingAddress, "Shipping address is required"},
		{s.ShippingCity, CodeMissingShippingCity, "Shipping city is required"},
		{s.ShippingZipCode, CodeMissingShippingZipCode, "Shipping zip code is required"},
	}
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			return Order{}, NewValidationError(field.code, field.message)
		}
	}

	items, err := decodeItems(s.Items)
	if err != nil {
		return Order{}, err
	}

	totalAmount, ok := decodeAmount(s.TotalAmount)
	if !ok {
		return Order{}, NewValidationError(CodeMissingTotalAmount, "Total amount is required")
	}

	totalItems, err := decodeTotalItems(s.TotalItems)
	if err != nil {
		return Order{}, err
	}

	return Order{
		CustomerName:    strings.TrimSpace(s.CustomerName),
		CustomerEmail:   strings.ToLower(strings.TrimSpace(s.CustomerEmail)),
		CustomerPhone:   strings.TrimSpace(s.CustomerPhone),
		ShippingAddress: strings.TrimSpace(s.ShippingAddress),
		ShippingCity:    strings.TrimSpace(s.ShippingCity),
		ShippingZipCode: strings.TrimSpace(s.ShippingZipCode),
		Notes:           optionalTrimmed(s.OrderNotes),
		Items:           items,
		TotalAmount:     totalAmount,
		TotalItems:      totalItems,
		PaymentMethod:   paymentMethodOrDefault(s.PaymentMethod),
		Status:          OrderStatusPending,
	}, nil
}

func decodeItems(raw json.RawMessage) ([]LineItem, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, NewValidationError(CodeInvalidItemsFormat, "Items must be an array")
	}

	var items []LineItem
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, NewValidationError(CodeInvalidItemsFormat, "Items must be an array")
	}
	if len(items) == 0 {
		return nil, NewValidationError(CodeEmptyItemsArray, "Items array cannot be empty")
	}
	return items, nil
}

// decodeAmount принимает строку или число; сумма хранится как есть, без пересчёта.
func decodeAmount(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || isNull(trimmed) {
		return "", false
	}

	var text string
	if err := json.Unmarshal(trimmed, &text); err == nil {
		text = strings.TrimSpace(text)
		return text, text != ""
	}

	var number json.Number
	if err := json.Unmarshal(trimmed, &number); err == nil {
		return number.String(), true
	}
	return "", false
}

func decodeTotalItems(raw json.RawMessage) (int, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || isNull(trimmed) {
		return 0, NewValidationError(CodeMissingTotalItems, "Total items is required")
	}

	invalid := NewValidationError(CodeInvalidTotalItems, "Total items must be a positive integer")

	var value float64
	if err := json.Unmarshal(trimmed, &value); err != nil {
		return 0, invalid
	}
	if value <= 0 || value != math.Trunc(value) || value > math.MaxInt32 {
		return 0, invalid
	}
	return int(value), nil
}

func optionalTrimmed(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func paymentMethodOrDefault(value *string) string {
	if trimmed := optionalTrimmed(value); trimmed != nil {
		return *trimmed
	}
	return DefaultPaymentMethod
}

func isNull(raw []byte) bool {
	return bytes.Equal(raw, []byte("null"))
}

func jsonInt(v int) []byte {
	encoded, _ := json.Marshal(v)
	return encoded
}
