package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"shelfmarket-backend/internal/clock"
	"shelfmarket-backend/internal/config"
	"shelfmarket-backend/internal/domain"
	"shelfmarket-backend/internal/errs"
	"shelfmarket-backend/internal/logger"
	"shelfmarket-backend/internal/repository"
)

type notificationService struct {
	store    repository.Store
	sender   Sender
	alerter  Alerter
	clock    clock.Clock
	cfg      config.NotificationConfig
	workerID string
}

func NewNotificationService(store repository.Store, sender Sender, alerter Alerter, clk clock.Clock, cfg config.NotificationConfig) NotificationService {
	return &notificationService{
		store:    store,
		sender:   sender,
		alerter:  alerter,
		clock:    clk,
		cfg:      cfg,
		workerID: "notifier-" + uuid.NewString()[:8],
	}
}

func newNotificationJob(kind, recipientID string, payload map[string]any, now time.Time) *domain.NotificationJob {
	if payload == nil {
		payload = map[string]any{}
	}
	return &domain.NotificationJob{
		ID:          uuid.NewString(),
		Kind:        kind,
		RecipientID: recipientID,
		Payload:     payload,
		Status:      domain.NotificationStatusQueued,
		RunAt:       now,
	}
}

// Enqueue writes a job to the durable queue. If the queue rejects it the
// message is sent synchronously; if that fails as well an admin alert is raised
// and ErrDispatchUnavailable returned.
func (s *notificationService) Enqueue(ctx context.Context, kind, recipientID string, payload map[string]any) (string, error) {
	job := newNotificationJob(kind, recipientID, payload, s.clock.Now())
	err := s.store.NotificationJobs().Enqueue(ctx, job)
	if err == nil {
		logger.Info("Notification queued", "jobID", job.ID, "kind", kind, "recipientID", recipientID)
		return job.ID, nil
	}

	logger.Warn("Notification queue unavailable, sending synchronously", "kind", kind, "recipientID", recipientID, "error", err)
	sendErr := s.deliver(ctx, s.store, job)
	if sendErr == nil {
		return job.ID, nil
	}

	s.alerter.Alert(ctx, "Notification dispatch unavailable",
		fmt.Sprintf("Could not queue or send %s for %s.\nQueue error: %v\nSend error: %v", kind, recipientID, err, sendErr))
	return "", errs.Mark(errs.Wrapf(sendErr, "dispatch %s to %s", kind, recipientID), errs.ErrDispatchUnavailable)
}

func (s *notificationService) EnqueueTx(ctx context.Context, tx repository.Tx, kind, recipientID string, payload map[string]any) (string, error) {
	job := newNotificationJob(kind, recipientID, payload, s.clock.Now())
	if err := tx.NotificationJobs().Enqueue(ctx, job); err != nil {
		return "", errs.Mark(errs.Wrapf(err, "queue %s for %s", kind, recipientID), errs.ErrDispatchUnavailable)
	}
	return job.ID, nil
}

// DeliverDue drains one batch of due jobs.
func (s *notificationService) DeliverDue(ctx context.Context) (DeliveryStats, error) {
	var stats DeliveryStats
	now := s.clock.Now()

	jobs, err := s.store.NotificationJobs().ClaimDue(ctx, now, s.cfg.ClaimLease, s.cfg.BatchSize, s.workerID)
	if err != nil {
		return stats, errs.Wrap(err, "claim due notifications")
	}
	stats.Claimed = len(jobs)

	for i := range jobs {
		job := &jobs[i]
		sendErr := s.deliver(ctx, s.store, job)
		if sendErr == nil {
			if err := s.store.NotificationJobs().MarkSent(ctx, job.ID, s.clock.Now()); err != nil {
				logger.Error("Failed to mark notification sent", "jobID", job.ID, "error", err)
			}
			stats.Sent++
			continue
		}

		if errs.Is(sendErr, errs.ErrPermanentDelivery) || job.Attempts >= s.cfg.MaxAttempts {
			logger.Error("Notification failed permanently", "jobID", job.ID, "kind", job.Kind, "attempts", job.Attempts, "error", sendErr)
			if err := s.store.NotificationJobs().MarkFailed(ctx, job.ID, sendErr.Error()); err != nil {
				logger.Error("Failed to mark notification failed", "jobID", job.ID, "error", err)
			}
			s.alerter.Alert(ctx, "Notification delivery failed",
				fmt.Sprintf("Job %s (%s to %s) failed after %d attempt(s): %v", job.ID, job.Kind, job.RecipientID, job.Attempts, sendErr))
			stats.Failed++
			continue
		}

		next := now.Add(RetryBackoff(job.Attempts, s.cfg.BaseBackoff, s.cfg.MaxBackoff))
		logger.Warn("Notification delivery failed, retrying", "jobID", job.ID, "attempts", job.Attempts, "next_run_at", next, "error", sendErr)
		if err := s.store.NotificationJobs().MarkRetry(ctx, job.ID, next, sendErr.Error()); err != nil {
			logger.Error("Failed to reschedule notification", "jobID", job.ID, "error", err)
		}
		stats.Retried++
	}

	if stats.Claimed > 0 {
		logger.Info("Notification batch delivered", "claimed", stats.Claimed, "sent", stats.Sent, "retried", stats.Retried, "failed", stats.Failed)
	}
	return stats, nil
}

// RetryBackoff is base * 2^(attempts-1), capped at ceiling.
func RetryBackoff(attempts int, base, ceiling time.Duration) time.Duration {
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if ceiling > 0 && d >= ceiling {
			return ceiling
		}
	}
	if ceiling > 0 && d > ceiling {
		return ceiling
	}
	return d
}

func (s *notificationService) deliver(ctx context.Context, tx repository.Tx, job *domain.NotificationJob) error {
	vendor, err := tx.Vendors().GetByID(ctx, job.RecipientID)
	if err != nil {
		if errs.Is(err, errs.ErrNotFound) {
			return errs.Mark(err, errs.ErrPermanentDelivery)
		}
		return err
	}
	msg, err := renderNotification(job, vendor)
	if err != nil {
		return err
	}
	return s.sender.Send(ctx, msg)
}

func renderNotification(job *domain.NotificationJob, vendor *domain.Vendor) (Message, error) {
	msg := Message{
		JobID:       job.ID,
		Kind:        job.Kind,
		RecipientID: job.RecipientID,
		To:          vendor.Email,
		ToName:      vendor.Name,
		Payload:     job.Payload,
	}
	if msg.To == "" {
		return msg, errs.Mark(errs.Newf("vendor %s has no email address", vendor.ID), errs.ErrPermanentDelivery)
	}

	p := func(key string) string {
		if v, ok := job.Payload[key]; ok {
			return fmt.Sprint(v)
		}
		return ""
	}

	var body strings.Builder
	fmt.Fprintf(&body, "Hello %s,\n\n", vendor.Name)
	switch job.Kind {
	case domain.NotificationBookingConfirmed:
		msg.Subject = "Your booking is confirmed"
		fmt.Fprintf(&body, "Your booking is confirmed as contract %s, starting %s.", p("contract_id"), p("start"))
	case domain.NotificationContractCancelled:
		msg.Subject = "Your contract has been cancelled"
		fmt.Fprintf(&body, "Contract %s ends on %s.", p("contract_id"), p("effective_date"))
	case domain.NotificationTrialReminder7, domain.NotificationTrialReminder3, domain.NotificationTrialReminder1:
		msg.Subject = fmt.Sprintf("Your trial ends in %s day(s)", p("days_remaining"))
		fmt.Fprintf(&body, "Your trial ends on %s. Confirm the conversion to keep your shelf.", p("trial_end"))
	case domain.NotificationTrialExpired:
		msg.Subject = "Your trial has ended"
		fmt.Fprintf(&body, "Your trial ended on %s.", p("trial_end"))
	case domain.NotificationTrialConverted:
		msg.Subject = "Your trial has been converted"
		fmt.Fprintf(&body, "Your trial was converted into a paid contract as of %s.", p("conversion_date"))
	default:
		return msg, errs.Mark(errs.Newf("unknown notification kind %q", job.Kind), errs.ErrPermanentDelivery)
	}
	body.WriteString("\n\nBest regards,\nThe Regalmarkt Team")
	msg.Body = body.String()
	return msg, nil
}
