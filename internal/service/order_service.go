package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"commerce-service/internal/models"
	"commerce-service/internal/store"
	"commerce-service/internal/util"

	"go.uber.org/zap"
)

// OrderService handles order creation and admin status updates
type OrderService struct {
	store  Store
	logger *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(store Store) *OrderService {
	return &OrderService{
		store:  store,
		logger: util.GetLogger(),
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	Items         []OrderItemRequest `json:"items" binding:"required,min=1"`
	PaymentMethod string             `json:"paymentMethod" binding:"required"`
	TransactionID string             `json:"transactionId"`
	Paid          bool               `json:"paid"`
}

// OrderItemRequest represents an item in an order
type OrderItemRequest struct {
	ProductID int64 `json:"productId" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required,min=1"`
}

// CreateOrder places an order: prices each line item (falling back to the
// default unit price when a product carries none), inserts the order and
// its items and deducts stock, all in one transaction.
func (s *OrderService) CreateOrder(ctx context.Context, userID int64, req *CreateOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	var created *models.Order
	err := s.store.Transact(ctx, func(tx store.Transaction) error {
		productIDs := make([]int64, len(req.Items))
		for i, item := range req.Items {
			productIDs[i] = item.ProductID
		}

		products, err := tx.ProductsByIDs(ctx, productIDs)
		if err != nil {
			return fmt.Errorf("failed to load products: %w", err)
		}
		if len(products) != len(req.Items) {
			return &ValidationError{Message: "one or more products not found"}
		}

		priceByID := make(map[int64]float64, len(products))
		for i := range products {
			priceByID[products[i].ID] = products[i].UnitPrice()
		}

		var totalPrice float64
		for _, item := range req.Items {
			totalPrice += priceByID[item.ProductID] * float64(item.Quantity)
		}

		paymentStatus := models.PaymentStatusUnpaid
		if req.Paid {
			paymentStatus = models.PaymentStatusPaid
		}

		order := &models.Order{
			UserID:        userID,
			TotalPrice:    totalPrice,
			PaymentStatus: paymentStatus,
			PaymentMethod: req.PaymentMethod,
			Status:        models.OrderStatusProcessing,
			OrderedAt:     time.Now(),
		}
		if req.TransactionID != "" {
			order.TransactionID = sql.NullString{String: req.TransactionID, Valid: true}
		}

		if err := tx.InsertOrder(ctx, order); err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}

		for _, item := range req.Items {
			orderItem := &models.OrderItem{
				OrderID:   order.ID,
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
			}
			if err := tx.InsertOrderItem(ctx, orderItem); err != nil {
				return fmt.Errorf("failed to create order item: %w", err)
			}

			if err := tx.DeductStock(ctx, item.ProductID, item.Quantity); err != nil {
				if errors.Is(err, store.ErrInsufficientStock) {
					return &ValidationError{
						Message: fmt.Sprintf("not enough stock for product %d", item.ProductID),
					}
				}
				return err
			}
		}

		created = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", created.ID),
		zap.Int64("user_id", userID),
		zap.Float64("total_price", created.TotalPrice))

	return created, nil
}

// GetOrder retrieves an order and its line items
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, []models.OrderItem, error) {
	order, err := s.store.OrderByID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, &NotFoundError{Resource: "order", ID: orderID}
	}
	if err != nil {
		return nil, nil, err
	}

	items, err := s.store.ItemsByOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	return order, items, nil
}

// ListOrders retrieves a user's orders, newest first
func (s *OrderService) ListOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	return s.store.OrdersByUser(ctx, userID)
}

// UpdateOrderStatus applies an admin status update. Moving an order into
// Cancelled restores its stock in the same transaction; moving it into
// Delivered stamps the delivery time used by the return window.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, orderID int64, status string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateOrderStatus")
	defer span.End()

	if !models.ValidOrderStatus(status) {
		return nil, &ValidationError{Message: fmt.Sprintf("invalid status value: %s", status)}
	}

	var updated *models.Order
	err := s.store.Transact(ctx, func(tx store.Transaction) error {
		order, err := tx.OrderForUpdate(ctx, orderID)
		if errors.Is(err, store.ErrNotFound) {
			return &NotFoundError{Resource: "order", ID: orderID}
		}
		if err != nil {
			return err
		}

		if status == models.OrderStatusCancelled && order.Status != models.OrderStatusCancelled {
			items, err := tx.ItemsByOrder(ctx, order.ID)
			if err != nil {
				return fmt.Errorf("failed to load order items: %w", err)
			}
			if err := tx.RestockItems(ctx, items); err != nil {
				return err
			}
			order.CancelledAt = sql.NullTime{Time: time.Now(), Valid: true}
			util.StockRestoredTotal.Add(float64(totalQuantity(items)))
		}

		if status == models.OrderStatusDelivered && !order.DeliveredAt.Valid {
			order.DeliveredAt = sql.NullTime{Time: time.Now(), Valid: true}
		}

		order.Status = status
		if err := tx.SaveOrderTransition(ctx, order); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Order status updated",
		zap.Int64("order_id", updated.ID),
		zap.String("status", status))

	return updated, nil
}
