package store

import (
	"context"
	"database/sql"
	"fmt"

	"commerce-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// OrderByID retrieves an order by ID
func (s *Store) OrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// OrderForUpdate loads an order with a row lock. Concurrent cancellation
// requests for the same order block here; the loser observes the updated
// status once the winner commits.
func (t *Tx) OrderForUpdate(ctx context.Context, orderID int64) (*models.Order, error) {
	var order models.Order
	err := t.tx.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", orderID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %d: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ItemsByOrder retrieves all line items for an order
func (s *Store) ItemsByOrder(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	return itemsByOrder(ctx, s.db, orderID)
}

// ItemsByOrder retrieves all line items for an order within the transaction
func (t *Tx) ItemsByOrder(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	return itemsByOrder(ctx, t.tx, orderID)
}

func itemsByOrder(ctx context.Context, q sqlx.QueryerContext, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := sqlx.SelectContext(ctx, q, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// InsertOrder creates a new order
func (t *Tx) InsertOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (user_id, total_price, payment_status, payment_method,
			transaction_id, status, ordered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`

	return t.tx.GetContext(ctx, order, query,
		order.UserID, order.TotalPrice, order.PaymentStatus, order.PaymentMethod,
		order.TransactionID, order.Status, order.OrderedAt)
}

// InsertOrderItem creates a new order line item
func (t *Tx) InsertOrderItem(ctx context.Context, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, product_id, quantity)
		VALUES ($1, $2, $3)
		RETURNING id`

	return t.tx.GetContext(ctx, &item.ID, query,
		item.OrderID, item.ProductID, item.Quantity)
}

// SaveOrderTransition persists the mutable lifecycle fields of an order
func (t *Tx) SaveOrderTransition(ctx context.Context, order *models.Order) error {
	query := `
		UPDATE orders
		SET status = $1, payment_status = $2, cancellation_reason = $3,
			refund_reason = $4, notes = $5, cancelled_at = $6, delivered_at = $7,
			updated_at = NOW()
		WHERE id = $8`

	result, err := t.tx.ExecContext(ctx, query,
		order.Status, order.PaymentStatus, order.CancellationReason,
		order.RefundReason, order.Notes, order.CancelledAt, order.DeliveredAt,
		order.ID)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("order %d: %w", order.ID, ErrNotFound)
	}
	return nil
}

// InsertRefund records a refund outcome for an order
func (t *Tx) InsertRefund(ctx context.Context, refund *models.Refund) error {
	query := `
		INSERT INTO refunds (order_id, gateway_refund_id, amount, status, failure_message)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	return t.tx.GetContext(ctx, refund, query,
		refund.OrderID, refund.GatewayRefundID, refund.Amount,
		refund.Status, refund.FailureMessage)
}

// RefundsByOrder retrieves refund attempts for an order, newest first
func (s *Store) RefundsByOrder(ctx context.Context, orderID int64) ([]models.Refund, error) {
	var refunds []models.Refund
	err := s.db.SelectContext(ctx, &refunds,
		"SELECT * FROM refunds WHERE order_id = $1 ORDER BY created_at DESC", orderID)
	return refunds, err
}

// OrdersByUser retrieves orders for a user, newest first
func (s *Store) OrdersByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY ordered_at DESC", userID)
	return orders, err
}

// CancellationQuery filters the cancellation history listing.
type CancellationQuery struct {
	UserID int64
	Status string
	Reason string
	Limit  int
	Skip   int
}

// ListCancellations retrieves a page of cancelled/returned orders
func (s *Store) ListCancellations(ctx context.Context, q CancellationQuery) ([]models.Order, error) {
	query, args := buildCancellationQuery(q, false)

	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders, query, args...)
	return orders, err
}

// CountCancellations counts orders matching the history filter
func (s *Store) CountCancellations(ctx context.Context, q CancellationQuery) (int, error) {
	query, args := buildCancellationQuery(q, true)

	var total int
	err := s.db.GetContext(ctx, &total, query, args...)
	return total, err
}

func buildCancellationQuery(q CancellationQuery, count bool) (string, []interface{}) {
	var (
		where string
		args  []interface{}
	)

	next := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	where = "WHERE 1=1"
	if q.UserID != 0 {
		where += " AND user_id = " + next(q.UserID)
	}
	if q.Status != "" {
		where += " AND status = " + next(q.Status)
	} else {
		where += " AND status IN ('Cancelled', 'Returned')"
	}
	if q.Reason != "" {
		p := next("%" + q.Reason + "%")
		where += fmt.Sprintf(" AND (cancellation_reason ILIKE %s OR refund_reason ILIKE %s)", p, p)
	}

	if count {
		return "SELECT COUNT(*) FROM orders " + where, args
	}

	query := "SELECT * FROM orders " + where +
		" ORDER BY cancelled_at DESC NULLS LAST, updated_at DESC"
	query += " LIMIT " + next(q.Limit)
	query += " OFFSET " + next(q.Skip)
	return query, args
}
