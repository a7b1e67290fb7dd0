package broker

import (
	"context"
	"fmt"
	"time"

	"commerce-service/internal/models"
	"commerce-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Notifier publishes customer-facing notification events. Publishing is
// fire-and-forget: failures are logged and never surfaced to the caller.
type Notifier struct {
	producer *Producer
	logger   *zap.Logger
}

// NewNotifier creates a new notifier
func NewNotifier(producer *Producer) *Notifier {
	return &Notifier{
		producer: producer,
		logger:   util.GetLogger(),
	}
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

// OrderCancelled notifies the order's owner that their cancellation went through
func (n *Notifier) OrderCancelled(ctx context.Context, order *models.Order, reason string) {
	event := &models.OrderCancelledEvent{
		BaseEvent: newBaseEvent(models.EventTypeOrderCancelled),
		OrderID:   order.ID,
		UserID:    order.UserID,
		Reason:    reason,
	}
	n.publish(ctx, fmt.Sprintf("order-%d", order.ID), event)
}

// OrderReturned notifies the order's owner that their return was accepted
func (n *Notifier) OrderReturned(ctx context.Context, order *models.Order, reason string, refundAmount float64) {
	event := &models.OrderReturnedEvent{
		BaseEvent:    newBaseEvent(models.EventTypeOrderReturned),
		OrderID:      order.ID,
		UserID:       order.UserID,
		Reason:       reason,
		RefundAmount: refundAmount,
	}
	n.publish(ctx, fmt.Sprintf("order-%d", order.ID), event)
}

// RefundIssued notifies the order's owner of a processed gateway refund
func (n *Notifier) RefundIssued(ctx context.Context, orderID int64, refundID string, amount float64) {
	event := &models.RefundIssuedEvent{
		BaseEvent: newBaseEvent(models.EventTypeRefundIssued),
		OrderID:   orderID,
		RefundID:  refundID,
		Amount:    amount,
	}
	n.publish(ctx, fmt.Sprintf("order-%d", orderID), event)
}

// SubscriptionExpired notifies a user that their seller subscription lapsed
func (n *Notifier) SubscriptionExpired(ctx context.Context, subscriptionID string, userID int64) {
	event := &models.SubscriptionExpiredEvent{
		BaseEvent:      newBaseEvent(models.EventTypeSubscriptionExpired),
		SubscriptionID: subscriptionID,
		UserID:         userID,
	}
	n.publish(ctx, fmt.Sprintf("user-%d", userID), event)
}

func (n *Notifier) publish(ctx context.Context, key string, event interface{}) {
	if n == nil || n.producer == nil {
		return
	}
	if err := n.producer.PublishEvent(ctx, key, event); err != nil {
		n.logger.Warn("Failed to publish notification event",
			zap.String("key", key),
			zap.Error(err))
	}
}
