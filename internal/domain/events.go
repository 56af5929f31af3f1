package domain

import "time"

// AggregateTypeOrder - тип агрегата в outbox.
const AggregateTypeOrder = "order"

// Типы доменных событий заказа.
const (
	EventOrderCreated      = "order.created"
	EventOrderItemAdded    = "order.item_added"
	EventOrderItemRemoved  = "order.item_removed"
	EventOrderDiscounted   = "order.discounted"
	EventOrderItemFinished = "order.item_finished"
	EventOrderCompleted    = "order.completed"
	EventOrderUpdated      = "order.updated"
	EventOrderDeleted      = "order.deleted"
)

// OrderEvent - полезная нагрузка события заказа в outbox.
type OrderEvent struct {
	OrderID         string    `json:"order_id"`
	ClientID        string    `json:"client_id"`
	Status          int       `json:"status"`
	PriceTotalMinor int64     `json:"price_total_minor"`
	DiscountMinor   int64     `json:"discount_minor,omitempty"`
	ItemID          string    `json:"item_id,omitempty"`
	ProductID       string    `json:"product_id,omitempty"`
	Quantity        int32     `json:"quantity,omitempty"`
	AmountMinor     int64     `json:"amount_minor,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}
