package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"commerce-service/internal/models"
	"commerce-service/internal/store"
	"commerce-service/internal/util"

	"go.uber.org/zap"
)

const detailsCacheTTL = time.Minute

// Eligibility summarizes what a customer may still do with an order. The
// flags are advisory, computed from the order date; the write paths run
// their own checks (the return window in particular runs from the
// delivery date) and remain the source of truth.
type Eligibility struct {
	CanCancel            bool      `json:"canCancel"`
	CanReturn            bool      `json:"canReturn"`
	DaysOld              int       `json:"daysOld"`
	ReturnsWindowOpen    bool      `json:"returnsWindowOpen"`
	CancellationDeadline time.Time `json:"cancellationDeadline"`
}

// CancellationDetails is the payload for the details endpoint
type CancellationDetails struct {
	Order               *models.Order      `json:"order"`
	Items               []models.OrderItem `json:"items"`
	Eligibility         Eligibility        `json:"eligibility"`
	CancellationReasons []string           `json:"cancellationReasons"`
	ReturnReasons       []string           `json:"returnReasons"`
}

// GetCancellationDetails returns an order with its eligibility flags and
// the static reason-code lists. Results are briefly cached.
func (s *CancellationService) GetCancellationDetails(ctx context.Context, orderID int64) (*CancellationDetails, error) {
	ctx, span := util.StartSpan(ctx, "CancellationService.GetCancellationDetails")
	defer span.End()

	if s.cache != nil {
		if payload, err := s.cache.GetCancellationDetails(ctx, orderID); err == nil && payload != nil {
			var details CancellationDetails
			if err := json.Unmarshal(payload, &details); err == nil {
				return &details, nil
			}
		}
	}

	order, err := s.store.OrderByID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &NotFoundError{Resource: "order", ID: orderID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}

	items, err := s.store.ItemsByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}

	daysOld := daysSince(order.OrderedAt)
	details := &CancellationDetails{
		Order: order,
		Items: items,
		Eligibility: Eligibility{
			CanCancel:            models.CanCancel(order.Status),
			CanReturn:            models.CanReturn(order.Status),
			DaysOld:              daysOld,
			ReturnsWindowOpen:    daysOld <= models.ReturnWindowDays,
			CancellationDeadline: order.OrderedAt.AddDate(0, 0, models.CancellationWindowDays),
		},
		CancellationReasons: models.CancellationReasons,
		ReturnReasons:       models.ReturnReasons,
	}

	if s.cache != nil {
		if payload, err := json.Marshal(details); err == nil {
			if err := s.cache.CacheCancellationDetails(ctx, orderID, payload, detailsCacheTTL); err != nil {
				s.logger.Warn("Failed to cache cancellation details",
					zap.Int64("order_id", orderID),
					zap.Error(err))
			}
		}
	}
	return details, nil
}

// HistoryQuery filters a user's cancellation history
type HistoryQuery struct {
	Status string
	Reason string
	Limit  int
	Skip   int
}

// Pagination describes a page of results
type Pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Skip    int  `json:"skip"`
	HasMore bool `json:"hasMore"`
}

// HistoryPage is a page of a user's cancelled/returned orders
type HistoryPage struct {
	Cancellations []models.Order `json:"cancellations"`
	Pagination    Pagination     `json:"pagination"`
}

// CancellationHistory lists a user's cancelled and returned orders
func (s *CancellationService) CancellationHistory(ctx context.Context, userID int64, q HistoryQuery) (*HistoryPage, error) {
	ctx, span := util.StartSpan(ctx, "CancellationService.CancellationHistory")
	defer span.End()

	if q.Limit <= 0 {
		q.Limit = 10
	}
	if q.Skip < 0 {
		q.Skip = 0
	}

	query := store.CancellationQuery{
		UserID: userID,
		Status: q.Status,
		Reason: q.Reason,
		Limit:  q.Limit,
		Skip:   q.Skip,
	}

	orders, err := s.store.ListCancellations(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list cancellations: %w", err)
	}
	total, err := s.store.CountCancellations(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count cancellations: %w", err)
	}

	return &HistoryPage{
		Cancellations: orders,
		Pagination: Pagination{
			Total:   total,
			Limit:   q.Limit,
			Skip:    q.Skip,
			HasMore: q.Skip+q.Limit < total,
		},
	}, nil
}

// RequestsPage is a page of cancellation requests for the admin view
type RequestsPage struct {
	Requests   []models.Order `json:"requests"`
	Pagination Pagination     `json:"pagination"`
}

// ListCancellationRequests lists cancelled (or returned) orders across all
// users for admin review
func (s *CancellationService) ListCancellationRequests(ctx context.Context, status string, limit, skip int) (*RequestsPage, error) {
	ctx, span := util.StartSpan(ctx, "CancellationService.ListCancellationRequests")
	defer span.End()

	if status == "" {
		status = models.OrderStatusCancelled
	}
	if limit <= 0 {
		limit = 20
	}
	if skip < 0 {
		skip = 0
	}

	query := store.CancellationQuery{Status: status, Limit: limit, Skip: skip}

	orders, err := s.store.ListCancellations(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list cancellation requests: %w", err)
	}
	total, err := s.store.CountCancellations(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count cancellation requests: %w", err)
	}

	return &RequestsPage{
		Requests:   orders,
		Pagination: Pagination{Total: total, Limit: limit, Skip: skip, HasMore: skip+limit < total},
	}, nil
}

// RefundTimeline summarizes where an order's refund stands
type RefundTimeline struct {
	OrderStatus   string          `json:"orderStatus"`
	PaymentStatus string          `json:"paymentStatus"`
	RefundReason  string          `json:"refundReason,omitempty"`
	TotalPrice    float64         `json:"totalPrice"`
	CancelledAt   *time.Time      `json:"cancelledAt,omitempty"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	Refunds       []models.Refund `json:"refunds"`
	Timeline      Timeline        `json:"timeline"`
}

// Timeline marks the refund's progress
type Timeline struct {
	Initiated  time.Time `json:"initiated"`
	InProgress bool      `json:"inProgress"`
	Completed  bool      `json:"completed"`
}

// RefundStatus reports the refund timeline for an order. When userID is
// non-zero the order must belong to that user.
func (s *CancellationService) RefundStatus(ctx context.Context, orderID, userID int64) (*RefundTimeline, error) {
	ctx, span := util.StartSpan(ctx, "CancellationService.RefundStatus")
	defer span.End()

	order, err := s.store.OrderByID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &NotFoundError{Resource: "order", ID: orderID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}

	if userID != 0 && order.UserID != userID {
		return nil, &AuthorizationError{Message: "order does not belong to requesting user"}
	}

	refunds, err := s.store.RefundsByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load refunds: %w", err)
	}

	reason := order.RefundReason.String
	if reason == "" {
		reason = order.CancellationReason.String
	}

	initiated := order.UpdatedAt
	var cancelledAt *time.Time
	if order.CancelledAt.Valid {
		initiated = order.CancelledAt.Time
		cancelledAt = &order.CancelledAt.Time
	}

	return &RefundTimeline{
		OrderStatus:   order.Status,
		PaymentStatus: order.PaymentStatus,
		RefundReason:  reason,
		TotalPrice:    order.TotalPrice,
		CancelledAt:   cancelledAt,
		UpdatedAt:     order.UpdatedAt,
		Refunds:       refunds,
		Timeline: Timeline{
			Initiated: initiated,
			InProgress: order.Status == models.OrderStatusCancelled ||
				order.Status == models.OrderStatusReturned,
			Completed: order.PaymentStatus == models.PaymentStatusRefunded ||
				order.PaymentStatus == models.PaymentStatusPartiallyRefunded,
		},
	}, nil
}
