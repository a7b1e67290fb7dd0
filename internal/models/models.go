package models

import (
	"database/sql"
	"time"
)

// Product represents a product in the catalog
type Product struct {
	ID              int64           `db:"id" json:"id"`
	Name            string          `db:"name" json:"name"`
	Stock           int             `db:"stock" json:"stock"`
	DiscountedPrice sql.NullFloat64 `db:"discounted_price" json:"discounted_price"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

// FallbackUnitPrice is charged (and refunded) for products whose
// discounted_price is absent.
const FallbackUnitPrice = 599

// UnitPrice returns the product's effective price.
func (p *Product) UnitPrice() float64 {
	if p.DiscountedPrice.Valid {
		return p.DiscountedPrice.Float64
	}
	return FallbackUnitPrice
}

// Order represents a customer order
type Order struct {
	ID                 int64          `db:"id" json:"id"`
	UserID             int64          `db:"user_id" json:"user_id"`
	TotalPrice         float64        `db:"total_price" json:"total_price"`
	PaymentStatus      string         `db:"payment_status" json:"payment_status"`
	PaymentMethod      string         `db:"payment_method" json:"payment_method"`
	TransactionID      sql.NullString `db:"transaction_id" json:"transaction_id,omitempty"`
	Status             string         `db:"status" json:"status"`
	OrderedAt          time.Time      `db:"ordered_at" json:"ordered_at"`
	DeliveredAt        sql.NullTime   `db:"delivered_at" json:"delivered_at,omitempty"`
	CancelledAt        sql.NullTime   `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CancellationReason sql.NullString `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	RefundReason       sql.NullString `db:"refund_reason" json:"refund_reason,omitempty"`
	Notes              sql.NullString `db:"notes" json:"notes,omitempty"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at" json:"updated_at"`
}

// OrderItem represents a line item in an order
type OrderItem struct {
	ID        int64 `db:"id" json:"id"`
	OrderID   int64 `db:"order_id" json:"order_id"`
	ProductID int64 `db:"product_id" json:"product_id"`
	Quantity  int   `db:"quantity" json:"quantity"`
}

// Refund records the outcome of a gateway refund attempt for an order
type Refund struct {
	ID              int64          `db:"id" json:"id"`
	OrderID         int64          `db:"order_id" json:"order_id"`
	GatewayRefundID sql.NullString `db:"gateway_refund_id" json:"gateway_refund_id,omitempty"`
	Amount          float64        `db:"amount" json:"amount"`
	Status          string         `db:"status" json:"status"`
	FailureMessage  sql.NullString `db:"failure_message" json:"failure_message,omitempty"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
}

// User represents an account
type User struct {
	ID                 int64          `db:"id" json:"id"`
	Name               string         `db:"name" json:"name"`
	Email              string         `db:"email" json:"email"`
	Role               string         `db:"role" json:"role"`
	SubscriptionID     sql.NullString `db:"subscription_id" json:"subscription_id,omitempty"`
	SubscriptionExpiry sql.NullTime   `db:"subscription_expiry" json:"subscription_expiry,omitempty"`
}

// Subscription represents a seller subscription purchased through the gateway
type Subscription struct {
	ID               string    `db:"id" json:"id"`
	UserID           int64     `db:"user_id" json:"user_id"`
	PlanID           string    `db:"plan_id" json:"plan_id"`
	PlanName         string    `db:"plan_name" json:"plan_name"`
	DurationMonths   int       `db:"duration_months" json:"duration_months"`
	Amount           float64   `db:"amount" json:"amount"`
	StartDate        time.Time `db:"start_date" json:"start_date"`
	EndDate          time.Time `db:"end_date" json:"end_date"`
	GatewayOrderID   string    `db:"gateway_order_id" json:"gateway_order_id"`
	GatewayPaymentID string    `db:"gateway_payment_id" json:"gateway_payment_id"`
	Status           string    `db:"status" json:"status"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// ScheduledJob is a durable delayed task swept by the background worker.
// Delayed work is persisted rather than held in an in-process timer so it
// survives restarts.
type ScheduledJob struct {
	ID             string       `db:"id" json:"id"`
	JobType        string       `db:"job_type" json:"job_type"`
	SubscriptionID string       `db:"subscription_id" json:"subscription_id"`
	UserID         int64        `db:"user_id" json:"user_id"`
	RunAt          time.Time    `db:"run_at" json:"run_at"`
	Status         string       `db:"status" json:"status"`
	ProcessedAt    sql.NullTime `db:"processed_at" json:"processed_at,omitempty"`
}

// Order statuses
const (
	OrderStatusProcessing = "Processing"
	OrderStatusShipped    = "Shipped"
	OrderStatusDelivered  = "Delivered"
	OrderStatusCancelled  = "Cancelled"
	OrderStatusReturned   = "Returned"
)

// Payment statuses
const (
	PaymentStatusUnpaid            = "Unpaid"
	PaymentStatusPaid              = "Paid"
	PaymentStatusRefunded          = "Refunded"
	PaymentStatusPartiallyRefunded = "Partially Refunded"
)

// Payment methods
const (
	PaymentMethodRazorpay       = "Razorpay"
	PaymentMethodCashOnDelivery = "Cash on Delivery"
	PaymentMethodCreditCard     = "Credit Card"
	PaymentMethodDebitCard      = "Debit Card"
	PaymentMethodUPI            = "UPI"
	PaymentMethodWallet         = "Wallet"
)

// Refund outcome statuses
const (
	RefundStatusProcessed = "processed"
	RefundStatusFailed    = "failed"
)

// User roles
const (
	RoleUser   = "user"
	RoleSeller = "seller"
	RoleAdmin  = "admin"
)

// Subscription statuses
const (
	SubscriptionStatusActive    = "active"
	SubscriptionStatusExpired   = "expired"
	SubscriptionStatusCancelled = "cancelled"
)

// Scheduled job types and statuses
const (
	JobTypeSubscriptionExpiry = "subscription_expiry"

	JobStatusPending = "pending"
	JobStatusDone    = "done"
	JobStatusFailed  = "failed"
)

// adminUpdatableStatuses are the statuses an admin status update may target.
// Returned is reachable only through the customer return flow.
var adminUpdatableStatuses = map[string]bool{
	OrderStatusProcessing: true,
	OrderStatusShipped:    true,
	OrderStatusDelivered:  true,
	OrderStatusCancelled:  true,
}

// ValidOrderStatus reports whether s is a status an admin update may set
func ValidOrderStatus(s string) bool {
	return adminUpdatableStatuses[s]
}

// CanCancel reports whether an order in the given status is cancellable
func CanCancel(status string) bool {
	return status == OrderStatusProcessing || status == OrderStatusShipped
}

// CanReturn reports whether an order in the given status is returnable
func CanReturn(status string) bool {
	return status == OrderStatusDelivered
}

// Cancellation and return windows
const (
	CancellationWindowDays = 7
	ReturnWindowDays       = 14
)

// CancellationReasons offered to customers cancelling an order
var CancellationReasons = []string{
	"Changed my mind",
	"Found a better price elsewhere",
	"Found what I wanted in a physical store",
	"Ordered by mistake",
	"Delivery taking too long",
	"Other",
}

// ReturnReasons offered to customers returning a delivered order
var ReturnReasons = []string{
	"Product quality not as expected",
	"Received damaged product",
	"Wrong item received",
	"Item doesn't fit",
	"Changed my mind",
	"Product defective",
	"Other",
}
