package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"commerce-service/internal/broker"
	"commerce-service/internal/models"
	"commerce-service/internal/store"
	"commerce-service/internal/util"

	"go.uber.org/zap"
)

// Store is the persistence surface the services need. *store.Store
// implements it; tests substitute fakes.
type Store interface {
	Transact(ctx context.Context, fn func(tx store.Transaction) error) error
	OrderByID(ctx context.Context, id int64) (*models.Order, error)
	ItemsByOrder(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	ProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error)
	RefundsByOrder(ctx context.Context, orderID int64) ([]models.Refund, error)
	OrdersByUser(ctx context.Context, userID int64) ([]models.Order, error)
	ListCancellations(ctx context.Context, q store.CancellationQuery) ([]models.Order, error)
	CountCancellations(ctx context.Context, q store.CancellationQuery) (int, error)
	UserByID(ctx context.Context, id int64) (*models.User, error)
}

// Cache is the redis surface used for the refund guard and the
// cancellation-details cache. May be nil; every use degrades gracefully.
type Cache interface {
	AcquireRefundGuard(ctx context.Context, orderID int64, ttl time.Duration) (bool, error)
	ReleaseRefundGuard(ctx context.Context, orderID int64) error
	CacheCancellationDetails(ctx context.Context, orderID int64, payload []byte, ttl time.Duration) error
	GetCancellationDetails(ctx context.Context, orderID int64) ([]byte, error)
	InvalidateCancellationDetails(ctx context.Context, orderID int64) error
}

// CancellationService coordinates the order lifecycle: cancellation and
// return transitions, stock reconciliation and refund orchestration.
type CancellationService struct {
	store    Store
	gateway  RefundClient
	cache    Cache
	notifier *broker.Notifier
	logger   *zap.Logger
}

// NewCancellationService creates a new cancellation coordinator
func NewCancellationService(store Store, gateway RefundClient, cache Cache, notifier *broker.Notifier) *CancellationService {
	return &CancellationService{
		store:    store,
		gateway:  gateway,
		cache:    cache,
		notifier: notifier,
		logger:   util.GetLogger(),
	}
}

// CancellationRequest is a customer's request to cancel an order
type CancellationRequest struct {
	OrderID  int64  `json:"orderId" binding:"required"`
	Reason   string `json:"reason" binding:"required"`
	Comments string `json:"comments"`
}

// ReturnItem identifies a line item being returned
type ReturnItem struct {
	ProductID int64 `json:"productId" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required,min=1"`
}

// ReturnRequest is a customer's request to return a delivered order.
// ReturnItems may be omitted for a full return.
type ReturnRequest struct {
	OrderID     int64        `json:"orderId" binding:"required"`
	Reason      string       `json:"reason" binding:"required"`
	Comments    string       `json:"comments"`
	ReturnItems []ReturnItem `json:"returnItems"`
}

// ApprovalRequest is an admin decision on a cancellation request
type ApprovalRequest struct {
	OrderID  int64  `json:"orderId" binding:"required"`
	Approved bool   `json:"approved"`
	Notes    string `json:"notes"`
}

// RefundOutcome reports how the refund attempt for a transition went.
// A "failed" outcome on the customer paths does not block the transition.
type RefundOutcome struct {
	RefundID string  `json:"refundId,omitempty"`
	Amount   float64 `json:"amount,omitempty"`
	Status   string  `json:"status"`
	Type     string  `json:"type,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// CancellationResult is returned from a successful cancellation
type CancellationResult struct {
	Order  *models.Order  `json:"order"`
	Refund *RefundOutcome `json:"refund"`
}

// ReturnResult is returned from a successful return
type ReturnResult struct {
	Order        *models.Order  `json:"order"`
	Refund       *RefundOutcome `json:"refund"`
	RefundAmount float64        `json:"refundAmount"`
}

// RequestCancellation cancels an order on behalf of its owner. Stock is
// restored and, for gateway-paid orders, a refund is attempted; a refund
// failure is reported in the outcome but does not block the cancellation.
func (s *CancellationService) RequestCancellation(ctx context.Context, userID int64, req *CancellationRequest) (*CancellationResult, error) {
	ctx, span := util.StartSpan(ctx, "CancellationService.RequestCancellation")
	defer span.End()

	if req.Reason == "" {
		return nil, &ValidationError{Message: "cancellation reason is required"}
	}

	var result CancellationResult
	err := s.store.Transact(ctx, func(tx store.Transaction) error {
		order, err := s.orderForUpdate(ctx, tx, req.OrderID)
		if err != nil {
			return err
		}

		if order.UserID != userID {
			return &AuthorizationError{Message: "order does not belong to requesting user"}
		}
		if !models.CanCancel(order.Status) {
			return &InvalidTransitionError{Action: "cancel", Status: order.Status}
		}

		daysOld := daysSince(order.OrderedAt)
		if daysOld > models.CancellationWindowDays && order.Status != models.OrderStatusProcessing {
			return &WindowExpiredError{
				Message: fmt.Sprintf("cancellation window expired (%d days from order date)", models.CancellationWindowDays),
			}
		}

		items, err := tx.ItemsByOrder(ctx, order.ID)
		if err != nil {
			return fmt.Errorf("failed to load order items: %w", err)
		}
		if err := tx.RestockItems(ctx, items); err != nil {
			return err
		}

		refund := s.refundNonFatal(ctx, order, order.TotalPrice, map[string]string{
			"reason":   req.Reason,
			"comments": req.Comments,
			"orderId":  fmt.Sprintf("%d", order.ID),
		})
		if refund != nil {
			if refund.Status != models.RefundStatusFailed {
				order.PaymentStatus = models.PaymentStatusRefunded
			}
			if err := tx.InsertRefund(ctx, refundRow(order.ID, refund)); err != nil {
				return fmt.Errorf("failed to record refund: %w", err)
			}
		}

		now := time.Now()
		order.Status = models.OrderStatusCancelled
		order.CancellationReason = sql.NullString{String: req.Reason, Valid: true}
		order.Notes = sql.NullString{String: req.Comments, Valid: true}
		order.CancelledAt = sql.NullTime{Time: now, Valid: true}

		if err := tx.SaveOrderTransition(ctx, order); err != nil {
			return err
		}

		util.StockRestoredTotal.Add(float64(totalQuantity(items)))
		result.Order = order
		result.Refund = refund
		return nil
	})
	if err != nil {
		s.countRejection(err)
		return nil, err
	}

	util.OrdersCancelledTotal.Inc()
	s.logger.Info("Order cancelled",
		zap.Int64("order_id", result.Order.ID),
		zap.Int64("user_id", userID),
		zap.String("reason", req.Reason))

	s.afterTransition(ctx, result.Order, result.Refund)
	s.notifier.OrderCancelled(ctx, result.Order, req.Reason)
	return &result, nil
}

// RequestReturn returns a delivered order, fully or per-item. Only the
// returned subset is restocked and refunded.
func (s *CancellationService) RequestReturn(ctx context.Context, userID int64, req *ReturnRequest) (*ReturnResult, error) {
	ctx, span := util.StartSpan(ctx, "CancellationService.RequestReturn")
	defer span.End()

	if req.Reason == "" {
		return nil, &ValidationError{Message: "return reason is required"}
	}

	var result ReturnResult
	err := s.store.Transact(ctx, func(tx store.Transaction) error {
		order, err := s.orderForUpdate(ctx, tx, req.OrderID)
		if err != nil {
			return err
		}

		if order.UserID != userID {
			return &AuthorizationError{Message: "order does not belong to requesting user"}
		}
		if !models.CanReturn(order.Status) {
			return &InvalidTransitionError{Action: "return", Status: order.Status}
		}

		deliveredAt := order.OrderedAt
		if order.DeliveredAt.Valid {
			deliveredAt = order.DeliveredAt.Time
		}
		if daysSince(deliveredAt) > models.ReturnWindowDays {
			return &WindowExpiredError{
				Message: fmt.Sprintf("return window expired (%d days from delivery)", models.ReturnWindowDays),
			}
		}

		items, err := tx.ItemsByOrder(ctx, order.ID)
		if err != nil {
			return fmt.Errorf("failed to load order items: %w", err)
		}

		returned := resolveReturnItems(req.ReturnItems, items)
		if len(returned) == 0 {
			return &ValidationError{Message: "no returnable items in request"}
		}

		productIDs := make([]int64, len(returned))
		for i, item := range returned {
			productIDs[i] = item.ProductID
		}
		products, err := tx.ProductsByIDs(ctx, productIDs)
		if err != nil {
			return fmt.Errorf("failed to load products: %w", err)
		}
		priceByID := make(map[int64]float64, len(products))
		for i := range products {
			priceByID[products[i].ID] = products[i].UnitPrice()
		}

		// Restore and refund only products that still exist.
		restock := returned[:0]
		var refundAmount float64
		for _, item := range returned {
			price, ok := priceByID[item.ProductID]
			if !ok {
				continue
			}
			refundAmount += price * float64(item.Quantity)
			restock = append(restock, item)
		}
		if err := tx.RestockItems(ctx, restock); err != nil {
			return err
		}

		fullReturn := len(restock) == len(items)
		returnType := "partial"
		if fullReturn {
			returnType = "full"
		}

		refund := s.refundNonFatal(ctx, order, refundAmount, map[string]string{
			"reason":     req.Reason,
			"comments":   req.Comments,
			"orderId":    fmt.Sprintf("%d", order.ID),
			"returnType": returnType,
		})
		if refund != nil {
			refund.Type = returnType
			if refund.Status != models.RefundStatusFailed {
				if fullReturn {
					order.PaymentStatus = models.PaymentStatusRefunded
				} else {
					order.PaymentStatus = models.PaymentStatusPartiallyRefunded
				}
			}
			if err := tx.InsertRefund(ctx, refundRow(order.ID, refund)); err != nil {
				return fmt.Errorf("failed to record refund: %w", err)
			}
		}

		order.Status = models.OrderStatusReturned
		order.RefundReason = sql.NullString{String: req.Reason, Valid: true}
		order.Notes = sql.NullString{String: req.Comments, Valid: true}

		if err := tx.SaveOrderTransition(ctx, order); err != nil {
			return err
		}

		util.StockRestoredTotal.Add(float64(totalQuantity(restock)))
		result.Order = order
		result.Refund = refund
		result.RefundAmount = refundAmount
		return nil
	})
	if err != nil {
		s.countRejection(err)
		return nil, err
	}

	util.OrdersReturnedTotal.Inc()
	s.logger.Info("Order returned",
		zap.Int64("order_id", result.Order.ID),
		zap.Int64("user_id", userID),
		zap.Float64("refund_amount", result.RefundAmount))

	s.afterTransition(ctx, result.Order, result.Refund)
	s.notifier.OrderReturned(ctx, result.Order, req.Reason, result.RefundAmount)
	return &result, nil
}

// ApproveCancellation applies an admin decision. Unlike the customer
// paths, a gateway failure here aborts the whole operation: nothing is
// committed and the error is returned. An admin retries; a customer
// should not be left waiting on a flaky gateway.
func (s *CancellationService) ApproveCancellation(ctx context.Context, req *ApprovalRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "CancellationService.ApproveCancellation")
	defer span.End()

	var approved *models.Order
	err := s.store.Transact(ctx, func(tx store.Transaction) error {
		order, err := s.orderForUpdate(ctx, tx, req.OrderID)
		if err != nil {
			return err
		}

		if req.Approved {
			if order.PaymentStatus == models.PaymentStatusPaid && order.PaymentMethod == models.PaymentMethodRazorpay {
				outcome, err := s.callGateway(ctx, order, order.TotalPrice, map[string]string{
					"adminApproved": "true",
					"adminNotes":    req.Notes,
					"orderId":       fmt.Sprintf("%d", order.ID),
				})
				if err != nil {
					return &RefundError{Message: fmt.Sprintf("failed to process refund: %v", err)}
				}
				order.PaymentStatus = models.PaymentStatusRefunded
				if err := tx.InsertRefund(ctx, refundRow(order.ID, outcome)); err != nil {
					return fmt.Errorf("failed to record refund: %w", err)
				}
			}
			if req.Notes != "" {
				order.Notes = sql.NullString{String: req.Notes, Valid: true}
			}
		}

		if err := tx.SaveOrderTransition(ctx, order); err != nil {
			return err
		}
		approved = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateDetails(ctx, approved.ID)
	return approved, nil
}

// refundNonFatal runs the refund path for the customer-initiated flows:
// any gateway failure is folded into a "failed" outcome so the status
// transition can still commit.
func (s *CancellationService) refundNonFatal(ctx context.Context, order *models.Order, amount float64, notes map[string]string) *RefundOutcome {
	if order.PaymentStatus != models.PaymentStatusPaid || order.PaymentMethod != models.PaymentMethodRazorpay {
		return nil
	}

	outcome, err := s.callGateway(ctx, order, amount, notes)
	if err != nil {
		s.logger.Error("Refund failed",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
		return &RefundOutcome{Status: models.RefundStatusFailed, Error: err.Error()}
	}
	return outcome
}

// callGateway issues a refund for a paid gateway order. Callers decide
// whether a returned error is fatal to the surrounding transaction.
func (s *CancellationService) callGateway(ctx context.Context, order *models.Order, amount float64, notes map[string]string) (*RefundOutcome, error) {
	if !order.TransactionID.Valid || order.TransactionID.String == "" {
		s.logger.Warn("No transaction ID found for order", zap.Int64("order_id", order.ID))
		util.RefundsIssuedTotal.WithLabelValues(models.RefundStatusFailed).Inc()
		return nil, &RefundError{
			Message: "payment reference not found in order, contact support for a manual refund",
		}
	}

	if s.cache != nil {
		acquired, err := s.cache.AcquireRefundGuard(ctx, order.ID, refundGuardTTL)
		if err != nil {
			s.logger.Warn("Refund guard unavailable, proceeding without it",
				zap.Int64("order_id", order.ID),
				zap.Error(err))
		} else if !acquired {
			util.RefundsIssuedTotal.WithLabelValues(models.RefundStatusFailed).Inc()
			return nil, &RefundError{Message: "a refund for this order is already in flight"}
		}
	}

	amountMinor := int64(math.Round(amount * 100))

	start := time.Now()
	refund, err := s.gateway.CreateRefund(ctx, order.TransactionID.String, amountMinor, notes)
	util.RefundGatewayLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		util.RefundsIssuedTotal.WithLabelValues(models.RefundStatusFailed).Inc()
		if s.cache != nil {
			if relErr := s.cache.ReleaseRefundGuard(ctx, order.ID); relErr != nil {
				s.logger.Warn("Failed to release refund guard", zap.Error(relErr))
			}
		}
		return nil, err
	}

	util.RefundsIssuedTotal.WithLabelValues(models.RefundStatusProcessed).Inc()
	util.RefundAmountTotal.Add(amount)

	return &RefundOutcome{
		RefundID: refund.ID,
		Amount:   float64(refund.Amount) / 100,
		Status:   refund.Status,
	}, nil
}

func (s *CancellationService) orderForUpdate(ctx context.Context, tx store.Transaction, orderID int64) (*models.Order, error) {
	order, err := tx.OrderForUpdate(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &NotFoundError{Resource: "order", ID: orderID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	return order, nil
}

func (s *CancellationService) afterTransition(ctx context.Context, order *models.Order, refund *RefundOutcome) {
	s.invalidateDetails(ctx, order.ID)
	if refund != nil && refund.Status != models.RefundStatusFailed {
		s.notifier.RefundIssued(ctx, order.ID, refund.RefundID, refund.Amount)
	}
}

func (s *CancellationService) invalidateDetails(ctx context.Context, orderID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateCancellationDetails(ctx, orderID); err != nil {
		s.logger.Warn("Failed to invalidate details cache",
			zap.Int64("order_id", orderID),
			zap.Error(err))
	}
}

func (s *CancellationService) countRejection(err error) {
	var (
		transition *InvalidTransitionError
		window     *WindowExpiredError
		authz      *AuthorizationError
	)
	switch {
	case errors.As(err, &transition):
		util.CancellationsRejectedTotal.WithLabelValues("invalid_transition").Inc()
	case errors.As(err, &window):
		util.CancellationsRejectedTotal.WithLabelValues("window_expired").Inc()
	case errors.As(err, &authz):
		util.CancellationsRejectedTotal.WithLabelValues("unauthorized").Inc()
	}
}

// resolveReturnItems maps the requested return items onto the order's line
// items; an omitted request means a full return. Items not on the order
// are dropped, and quantities are capped at what was ordered so a return
// can never restock or refund more units than the order held.
func resolveReturnItems(requested []ReturnItem, items []models.OrderItem) []models.OrderItem {
	if len(requested) == 0 {
		out := make([]models.OrderItem, len(items))
		copy(out, items)
		return out
	}

	byProduct := make(map[int64]models.OrderItem, len(items))
	for _, item := range items {
		byProduct[item.ProductID] = item
	}

	out := make([]models.OrderItem, 0, len(requested))
	for _, r := range requested {
		item, ok := byProduct[r.ProductID]
		if !ok {
			continue
		}
		if r.Quantity < item.Quantity {
			item.Quantity = r.Quantity
		}
		out = append(out, item)
	}
	return out
}

func refundRow(orderID int64, outcome *RefundOutcome) *models.Refund {
	row := &models.Refund{
		OrderID: orderID,
		Amount:  outcome.Amount,
		Status:  outcome.Status,
	}
	if outcome.RefundID != "" {
		row.GatewayRefundID = sql.NullString{String: outcome.RefundID, Valid: true}
	}
	if outcome.Error != "" {
		row.FailureMessage = sql.NullString{String: outcome.Error, Valid: true}
	}
	return row
}

func totalQuantity(items []models.OrderItem) int {
	var total int
	for _, item := range items {
		total += item.Quantity
	}
	return total
}

func daysSince(t time.Time) int {
	return int(time.Since(t).Hours() / 24)
}
