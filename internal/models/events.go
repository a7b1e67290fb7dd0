package models

import "time"

// Event types for the notification channel. Delivery is best-effort; a
// failed publish is logged and never blocks the originating operation.
const (
	EventTypeOrderCancelled      = "ORDER_CANCELLED"
	EventTypeOrderReturned       = "ORDER_RETURNED"
	EventTypeRefundIssued        = "REFUND_ISSUED"
	EventTypeSubscriptionExpired = "SUBSCRIPTION_EXPIRED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCancelledEvent published when a customer cancellation commits
type OrderCancelledEvent struct {
	BaseEvent
	OrderID int64  `json:"order_id"`
	UserID  int64  `json:"user_id"`
	Reason  string `json:"reason"`
}

// OrderReturnedEvent published when a customer return commits
type OrderReturnedEvent struct {
	BaseEvent
	OrderID      int64   `json:"order_id"`
	UserID       int64   `json:"user_id"`
	Reason       string  `json:"reason"`
	RefundAmount float64 `json:"refund_amount"`
}

// RefundIssuedEvent published when a gateway refund is processed
type RefundIssuedEvent struct {
	BaseEvent
	OrderID  int64   `json:"order_id"`
	RefundID string  `json:"refund_id"`
	Amount   float64 `json:"amount"`
}

// SubscriptionExpiredEvent published when the sweeper downgrades a user
type SubscriptionExpiredEvent struct {
	BaseEvent
	SubscriptionID string `json:"subscription_id"`
	UserID         int64  `json:"user_id"`
}
