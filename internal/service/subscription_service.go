package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"commerce-service/internal/broker"
	"commerce-service/internal/models"
	"commerce-service/internal/store"
	"commerce-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SubscriptionService activates seller subscriptions and handles their
// expiry. Expiry is a durable scheduled job swept from storage, not an
// in-process timer, so pending downgrades survive restarts.
type SubscriptionService struct {
	store    Store
	notifier *broker.Notifier
	logger   *zap.Logger
}

// NewSubscriptionService creates a new subscription service
func NewSubscriptionService(store Store, notifier *broker.Notifier) *SubscriptionService {
	return &SubscriptionService{
		store:    store,
		notifier: notifier,
		logger:   util.GetLogger(),
	}
}

// ActivateSubscriptionRequest carries a verified gateway payment for a plan
type ActivateSubscriptionRequest struct {
	PlanID           string  `json:"planId" binding:"required"`
	PlanName         string  `json:"planName" binding:"required"`
	DurationMonths   int     `json:"durationMonths" binding:"required,min=1"`
	Amount           float64 `json:"amount" binding:"required"`
	GatewayOrderID   string  `json:"gatewayOrderId" binding:"required"`
	GatewayPaymentID string  `json:"gatewayPaymentId" binding:"required"`
}

// ActivateSubscription records the subscription, upgrades the user's role
// and schedules the downgrade job for the end date, in one transaction.
func (s *SubscriptionService) ActivateSubscription(ctx context.Context, userID int64, req *ActivateSubscriptionRequest) (*models.Subscription, error) {
	ctx, span := util.StartSpan(ctx, "SubscriptionService.ActivateSubscription")
	defer span.End()

	now := time.Now()
	sub := &models.Subscription{
		ID:               uuid.New().String(),
		UserID:           userID,
		PlanID:           req.PlanID,
		PlanName:         req.PlanName,
		DurationMonths:   req.DurationMonths,
		Amount:           req.Amount,
		StartDate:        now,
		EndDate:          now.AddDate(0, req.DurationMonths, 0),
		GatewayOrderID:   req.GatewayOrderID,
		GatewayPaymentID: req.GatewayPaymentID,
		Status:           models.SubscriptionStatusActive,
	}

	err := s.store.Transact(ctx, func(tx store.Transaction) error {
		user, err := tx.UserForUpdate(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			return &NotFoundError{Resource: "user", ID: userID}
		}
		if err != nil {
			return err
		}

		if err := tx.InsertSubscription(ctx, sub); err != nil {
			return fmt.Errorf("failed to record subscription: %w", err)
		}

		if user.Role == models.RoleUser {
			user.Role = models.RoleSeller
		}
		user.SubscriptionID = sql.NullString{String: sub.ID, Valid: true}
		user.SubscriptionExpiry = sql.NullTime{Time: sub.EndDate, Valid: true}
		if err := tx.SaveUserSubscription(ctx, user); err != nil {
			return fmt.Errorf("failed to update user: %w", err)
		}

		job := &models.ScheduledJob{
			ID:             uuid.New().String(),
			JobType:        models.JobTypeSubscriptionExpiry,
			SubscriptionID: sub.ID,
			UserID:         userID,
			RunAt:          sub.EndDate,
			Status:         models.JobStatusPending,
		}
		if err := tx.InsertScheduledJob(ctx, job); err != nil {
			return fmt.Errorf("failed to schedule expiry: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Subscription activated",
		zap.String("subscription_id", sub.ID),
		zap.Int64("user_id", userID),
		zap.Time("end_date", sub.EndDate))

	return sub, nil
}

// HandleExpiry processes one due subscription-expiry job inside the
// sweeper's transaction. The downgrade only applies while the user still
// holds the job's subscription; a re-subscribed user is left alone.
func (s *SubscriptionService) HandleExpiry(ctx context.Context, tx store.Transaction, job models.ScheduledJob) error {
	user, err := tx.UserForUpdate(ctx, job.UserID)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("Expiry job references missing user",
			zap.String("job_id", job.ID),
			zap.Int64("user_id", job.UserID))
		return nil
	}
	if err != nil {
		return err
	}

	if !user.SubscriptionID.Valid || user.SubscriptionID.String != job.SubscriptionID {
		s.logger.Info("User re-subscribed before expiry, skipping downgrade",
			zap.Int64("user_id", job.UserID),
			zap.String("subscription_id", job.SubscriptionID))
		return nil
	}

	if _, err := tx.SubscriptionByID(ctx, job.SubscriptionID); errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("Expiry job references missing subscription",
			zap.String("job_id", job.ID),
			zap.String("subscription_id", job.SubscriptionID))
		return nil
	} else if err != nil {
		return err
	}

	user.Role = models.RoleUser
	user.SubscriptionID = sql.NullString{}
	user.SubscriptionExpiry = sql.NullTime{}
	if err := tx.SaveUserSubscription(ctx, user); err != nil {
		return fmt.Errorf("failed to downgrade user: %w", err)
	}

	if err := tx.MarkSubscriptionExpired(ctx, job.SubscriptionID); err != nil {
		return fmt.Errorf("failed to expire subscription: %w", err)
	}

	s.logger.Info("Subscription expired, user downgraded",
		zap.Int64("user_id", job.UserID),
		zap.String("subscription_id", job.SubscriptionID))

	s.notifier.SubscriptionExpired(ctx, job.SubscriptionID, job.UserID)
	return nil
}
