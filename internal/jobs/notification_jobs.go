package jobs

import (
	"context"

	"shelfmarket-backend/internal/logger"
)

// DeliverNotifications drains one batch of the notification queue. Claims use
// row leases, so concurrent runs do not need the job lock.
func (jr *JobRunner) DeliverNotifications() {
	jr.runWithRecovery("DeliverNotifications", func(ctx context.Context) error {
		stats, err := jr.services.Notifications.DeliverDue(ctx)
		if err != nil {
			return err
		}
		if stats.Claimed > 0 {
			logger.Info("Notifications delivered", "sent", stats.Sent, "retried", stats.Retried, "failed", stats.Failed)
		}
		return nil
	})
}

// RunAllDailyJobs runs the daily jobs once in order, for manual execution.
func (jr *JobRunner) RunAllDailyJobs() {
	jr.ActivateContracts()
	jr.TrialScan()
	jr.DeliverNotifications()
}
