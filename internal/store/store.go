package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"commerce-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientStock is returned when a stock deduction would go negative.
	ErrInsufficientStock = errors.New("insufficient stock")
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Transaction is the set of operations available inside a single database
// transaction. Row locks taken through it (OrderForUpdate, UserForUpdate)
// serialize concurrent requests against the same order or user.
type Transaction interface {
	OrderForUpdate(ctx context.Context, orderID int64) (*models.Order, error)
	ItemsByOrder(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	ProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error)
	RestockItems(ctx context.Context, items []models.OrderItem) error
	DeductStock(ctx context.Context, productID int64, quantity int) error
	SaveOrderTransition(ctx context.Context, order *models.Order) error
	InsertOrder(ctx context.Context, order *models.Order) error
	InsertOrderItem(ctx context.Context, item *models.OrderItem) error
	InsertRefund(ctx context.Context, refund *models.Refund) error
	UserForUpdate(ctx context.Context, userID int64) (*models.User, error)
	SaveUserSubscription(ctx context.Context, user *models.User) error
	InsertSubscription(ctx context.Context, sub *models.Subscription) error
	SubscriptionByID(ctx context.Context, id string) (*models.Subscription, error)
	MarkSubscriptionExpired(ctx context.Context, id string) error
	InsertScheduledJob(ctx context.Context, job *models.ScheduledJob) error
	ClaimDueJobs(ctx context.Context, now time.Time, limit int) ([]models.ScheduledJob, error)
	MarkJobProcessed(ctx context.Context, jobID, status string) error
}

// Tx implements Transaction over a live database transaction.
type Tx struct {
	tx *sqlx.Tx
}

// Transact runs fn inside a transaction, rolling back on error or panic.
func (s *Store) Transact(ctx context.Context, fn func(tx Transaction) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Tx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// ProductsByIDs retrieves multiple products by IDs
func (s *Store) ProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	return productsByIDs(ctx, s.db, ids)
}

// ProductsByIDs retrieves multiple products by IDs within the transaction
func (t *Tx) ProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	return productsByIDs(ctx, t.tx, ids)
}

func productsByIDs(ctx context.Context, q sqlx.QueryerContext, ids []int64) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	query, args, err := sqlx.In("SELECT * FROM products WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = sqlx.Rebind(sqlx.DOLLAR, query)

	var products []models.Product
	err = sqlx.SelectContext(ctx, q, &products, query, args...)
	return products, err
}

// RestockItems increments stock for every line item in one batched statement.
// Runs inside the order transaction so a failure rolls back the status change.
func (t *Tx) RestockItems(ctx context.Context, items []models.OrderItem) error {
	if len(items) == 0 {
		return nil
	}

	ids := make([]int64, len(items))
	quantities := make([]int, len(items))
	for i, item := range items {
		ids[i] = item.ProductID
		quantities[i] = item.Quantity
	}

	query := `
		UPDATE products p
		SET stock = p.stock + u.qty
		FROM (SELECT UNNEST($1::bigint[]) AS id, UNNEST($2::int[]) AS qty) u
		WHERE p.id = u.id`

	result, err := t.tx.ExecContext(ctx, query, pq.Array(ids), pq.Array(quantities))
	if err != nil {
		return fmt.Errorf("failed to restock items: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected != int64(len(items)) {
		return fmt.Errorf("restock matched %d of %d products: %w", affected, len(items), ErrNotFound)
	}
	return nil
}

// DeductStock decrements a product's stock, failing if it would go negative
func (t *Tx) DeductStock(ctx context.Context, productID int64, quantity int) error {
	result, err := t.tx.ExecContext(ctx,
		"UPDATE products SET stock = stock - $1 WHERE id = $2 AND stock >= $1",
		quantity, productID)
	if err != nil {
		return fmt.Errorf("failed to deduct stock: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("product %d: %w", productID, ErrInsufficientStock)
	}
	return nil
}
