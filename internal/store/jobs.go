package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"commerce-service/internal/models"
)

// UserByID retrieves a user by ID
func (s *Store) UserByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user, "SELECT * FROM users WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UserForUpdate loads a user with a row lock
func (t *Tx) UserForUpdate(ctx context.Context, userID int64) (*models.User, error) {
	var user models.User
	err := t.tx.GetContext(ctx, &user, "SELECT * FROM users WHERE id = $1 FOR UPDATE", userID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// SaveUserSubscription persists a user's role and subscription fields
func (t *Tx) SaveUserSubscription(ctx context.Context, user *models.User) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE users SET role = $1, subscription_id = $2, subscription_expiry = $3 WHERE id = $4",
		user.Role, user.SubscriptionID, user.SubscriptionExpiry, user.ID)
	return err
}

// InsertSubscription records a purchased subscription
func (t *Tx) InsertSubscription(ctx context.Context, sub *models.Subscription) error {
	query := `
		INSERT INTO subscriptions (id, user_id, plan_id, plan_name, duration_months,
			amount, start_date, end_date, gateway_order_id, gateway_payment_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at`

	return t.tx.GetContext(ctx, &sub.CreatedAt, query,
		sub.ID, sub.UserID, sub.PlanID, sub.PlanName, sub.DurationMonths,
		sub.Amount, sub.StartDate, sub.EndDate, sub.GatewayOrderID,
		sub.GatewayPaymentID, sub.Status)
}

// SubscriptionByID retrieves a subscription within the transaction
func (t *Tx) SubscriptionByID(ctx context.Context, id string) (*models.Subscription, error) {
	var sub models.Subscription
	err := t.tx.GetContext(ctx, &sub, "SELECT * FROM subscriptions WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("subscription %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// MarkSubscriptionExpired sets a subscription's status to expired
func (t *Tx) MarkSubscriptionExpired(ctx context.Context, id string) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE subscriptions SET status = $1 WHERE id = $2",
		models.SubscriptionStatusExpired, id)
	return err
}

// InsertScheduledJob persists a delayed task for the sweeper
func (t *Tx) InsertScheduledJob(ctx context.Context, job *models.ScheduledJob) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO scheduled_jobs (id, job_type, subscription_id, user_id, run_at, status)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID, job.JobType, job.SubscriptionID, job.UserID, job.RunAt, job.Status)
	return err
}

// ClaimDueJobs locks and returns up to limit pending jobs whose run_at has
// passed. SKIP LOCKED lets multiple sweeper instances share the backlog
// without double-claiming.
func (t *Tx) ClaimDueJobs(ctx context.Context, now time.Time, limit int) ([]models.ScheduledJob, error) {
	var jobs []models.ScheduledJob
	err := t.tx.SelectContext(ctx, &jobs,
		`SELECT * FROM scheduled_jobs
		 WHERE status = $1 AND run_at <= $2
		 ORDER BY run_at
		 LIMIT $3
		 FOR UPDATE SKIP LOCKED`,
		models.JobStatusPending, now, limit)
	return jobs, err
}

// MarkJobProcessed finalizes a claimed job
func (t *Tx) MarkJobProcessed(ctx context.Context, jobID, status string) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE scheduled_jobs SET status = $1, processed_at = NOW() WHERE id = $2",
		status, jobID)
	return err
}
