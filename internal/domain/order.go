package domain

import (
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	OrderStatusOpen       OrderStatus = "OPEN"
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusCompleted  OrderStatus = "COMPLETED"
	OrderStatusFailed     OrderStatus = "FAILED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// allowedTransitions is the forward-only order state machine. An order never
// moves backward: once a status is terminal it stays terminal.
var allowedTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusOpen:       {OrderStatusPending, OrderStatusCancelled},
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusFailed, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusCompleted, OrderStatusFailed, OrderStatusCancelled},
}

func CanTransitionTo(from, to OrderStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusFailed || s == OrderStatusCancelled
}

// String representation (for logging)
func (s OrderStatus) String() string {
	return string(s)
}

type OrderLineItem struct {
	ProductID      int64  `json:"product_id"`
	Title          string `json:"title"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Quantity       int32  `json:"quantity"`
	LineTotalCents int64  `json:"line_total_cents"`
}

type Order struct {
	ID                  uuid.UUID       `json:"id"`
	OwnerKey            string          `json:"owner_key"`
	Items               []OrderLineItem `json:"items"`
	SubtotalCents       int64           `json:"subtotal_cents"`
	DiscountCode        string          `json:"discount_code,omitempty"`
	DiscountAmountCents int64           `json:"discount_amount_cents"`
	TotalCents          int64           `json:"total_cents"`
	Currency            string          `json:"currency"`
	Status              OrderStatus     `json:"status"`
	PaymentProvider     string          `json:"payment_provider,omitempty"`
	ProviderPaymentRef  string          `json:"provider_payment_ref,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}
