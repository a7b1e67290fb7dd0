package worker

import (
	"context"
	"encoding/json"
	"time"

	"commerce-service/internal/broker"
	"commerce-service/internal/models"
	"commerce-service/internal/service"
	"commerce-service/internal/store"
	"commerce-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// JobSweeper periodically claims due scheduled jobs from storage and runs
// them. Durable jobs replace in-process timers: a sweep after restart
// picks up whatever came due while the process was down.
type JobSweeper struct {
	store    service.Store
	subs     *service.SubscriptionService
	interval time.Duration
	batch    int
	logger   *zap.Logger
}

// NewJobSweeper creates a new scheduled-job sweeper
func NewJobSweeper(st service.Store, subs *service.SubscriptionService, interval time.Duration, batch int) *JobSweeper {
	return &JobSweeper{
		store:    st,
		subs:     subs,
		interval: interval,
		batch:    batch,
		logger:   util.GetLogger(),
	}
}

// Start runs the sweep loop until the context is cancelled
func (w *JobSweeper) Start(ctx context.Context) error {
	w.logger.Info("Starting job sweeper", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Job sweeper stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := w.Sweep(ctx); err != nil {
				w.logger.Error("Job sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep claims and processes one batch of due jobs. Claimed rows stay
// locked until commit, so concurrent sweepers skip past each other.
func (w *JobSweeper) Sweep(ctx context.Context) error {
	return w.store.Transact(ctx, func(tx store.Transaction) error {
		jobs, err := tx.ClaimDueJobs(ctx, time.Now(), w.batch)
		if err != nil {
			return err
		}

		for _, job := range jobs {
			status := models.JobStatusDone
			if err := w.runJob(ctx, tx, job); err != nil {
				w.logger.Error("Scheduled job failed",
					zap.String("job_id", job.ID),
					zap.String("job_type", job.JobType),
					zap.Error(err))
				status = models.JobStatusFailed
			}

			if err := tx.MarkJobProcessed(ctx, job.ID, status); err != nil {
				return err
			}
			util.ScheduledJobsProcessedTotal.WithLabelValues(status).Inc()
		}
		return nil
	})
}

func (w *JobSweeper) runJob(ctx context.Context, tx store.Transaction, job models.ScheduledJob) error {
	switch job.JobType {
	case models.JobTypeSubscriptionExpiry:
		return w.subs.HandleExpiry(ctx, tx, job)
	default:
		w.logger.Warn("Unknown job type", zap.String("job_type", job.JobType))
		return nil
	}
}

// NotificationWorker consumes notification events and "delivers" them.
// Delivery is log-only and best-effort; no delivery guarantee is offered.
type NotificationWorker struct {
	consumer *broker.Consumer
	store    service.Store
	logger   *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer *broker.Consumer, st service.Store) *NotificationWorker {
	return &NotificationWorker{
		consumer: consumer,
		store:    st,
		logger:   util.GetLogger(),
	}
}

// Start consumes notification events until the context is cancelled
func (nw *NotificationWorker) Start(ctx context.Context) error {
	nw.logger.Info("Starting notification worker")

	return nw.consumer.StartConsuming(ctx, func(ctx context.Context, msg kafka.Message) error {
		var base models.BaseEvent
		if err := json.Unmarshal(msg.Value, &base); err != nil {
			nw.logger.Warn("Failed to unmarshal notification event", zap.Error(err))
			return nil
		}

		switch base.EventType {
		case models.EventTypeOrderCancelled:
			var event models.OrderCancelledEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return nil
			}
			nw.deliver(ctx, event.UserID, "cancellation confirmation")
		case models.EventTypeOrderReturned:
			var event models.OrderReturnedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return nil
			}
			nw.deliver(ctx, event.UserID, "return confirmation")
		case models.EventTypeSubscriptionExpired:
			var event models.SubscriptionExpiredEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return nil
			}
			nw.deliver(ctx, event.UserID, "subscription expiry notice")
		}
		return nil
	})
}

// Stop stops the notification worker
func (nw *NotificationWorker) Stop() error {
	nw.logger.Info("Stopping notification worker")
	return nw.consumer.Close()
}

func (nw *NotificationWorker) deliver(ctx context.Context, userID int64, kind string) {
	user, err := nw.store.UserByID(ctx, userID)
	if err != nil || user.Email == "" {
		nw.logger.Warn("No email on file for notification",
			zap.Int64("user_id", userID),
			zap.String("kind", kind))
		return
	}

	nw.logger.Info("Notification sent",
		zap.String("email", user.Email),
		zap.String("kind", kind))
}
