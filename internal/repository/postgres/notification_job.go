package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"slices"
	"time"

	"shelfmarket-backend/internal/domain"
	"shelfmarket-backend/internal/errs"
	"shelfmarket-backend/internal/logger"
	"shelfmarket-backend/internal/repository"
)

type notificationJobRepository struct {
	db DBTX
}

func NewNotificationJobRepository(db DBTX) repository.NotificationJobRepository {
	return &notificationJobRepository{db: db}
}

const notificationJobColumns = `id, kind, recipient_id, payload, status, attempts, run_at, locked_at, locked_by, last_error, sent_at, created_at`

func (r *notificationJobRepository) Enqueue(ctx context.Context, job *domain.NotificationJob) error {
	logger.EnterMethod("notificationJobRepository.Enqueue", "kind", job.Kind, "recipientID", job.RecipientID)

	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return errs.Wrap(err, "encode notification payload")
	}
	if job.Status == "" {
		job.Status = domain.NotificationStatusQueued
	}
	now := time.Now().UTC()
	if job.RunAt.IsZero() {
		job.RunAt = now
	}

	query := `INSERT INTO notification_jobs (id, kind, recipient_id, payload, status, attempts, run_at, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	logger.DatabaseCall("INSERT", "notification_jobs", "jobID", job.ID, "kind", job.Kind)
	_, err = r.db.ExecContext(ctx, query, job.ID, job.Kind, job.RecipientID, payload, string(job.Status), job.Attempts, job.RunAt, now)
	logger.DatabaseResult("INSERT", 1, err, "jobID", job.ID)
	if err != nil {
		logger.ExitMethodWithError("notificationJobRepository.Enqueue", err, "jobID", job.ID)
		return errs.Wrap(err, "insert notification job")
	}
	job.CreatedAt = now
	logger.ExitMethod("notificationJobRepository.Enqueue", "jobID", job.ID)
	return nil
}

func (r *notificationJobRepository) GetByID(ctx context.Context, id string) (*domain.NotificationJob, error) {
	query := `SELECT ` + notificationJobColumns + ` FROM notification_jobs WHERE id = $1`
	job, err := scanNotificationJob(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("notification job", id)
	}
	if err != nil {
		return nil, errs.Wrap(err, "get notification job")
	}
	return job, nil
}

// ClaimDue leases due jobs with SKIP LOCKED so several workers can drain the
// queue without picking the same row.
func (r *notificationJobRepository) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int, worker string) ([]domain.NotificationJob, error) {
	query := `UPDATE notification_jobs
	          SET status = 'processing', attempts = attempts + 1, locked_at = $1, locked_by = $2
	          WHERE id IN (
	              SELECT id FROM notification_jobs
	              WHERE (status = 'queued' AND run_at <= $1)
	                 OR (status = 'processing' AND locked_at < $3)
	              ORDER BY run_at, id
	              LIMIT $4
	              FOR UPDATE SKIP LOCKED)
	          RETURNING ` + notificationJobColumns
	logger.DatabaseCall("UPDATE", "notification_jobs", "worker", worker, "limit", limit)
	rows, err := r.db.QueryContext(ctx, query, now, worker, now.Add(-lease), limit)
	if err != nil {
		logger.DatabaseResult("UPDATE", 0, err)
		return nil, errs.Wrap(err, "claim notification jobs")
	}
	defer rows.Close()

	var jobs []domain.NotificationJob
	for rows.Next() {
		job, err := scanNotificationJob(rows)
		if err != nil {
			return nil, errs.Wrap(err, "scan notification job")
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(err, "iterate notification jobs")
	}
	logger.DatabaseResult("UPDATE", int64(len(jobs)), nil, "worker", worker)

	slices.SortFunc(jobs, func(a, b domain.NotificationJob) int {
		if c := a.RunAt.Compare(b.RunAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return jobs, nil
}

func (r *notificationJobRepository) MarkSent(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, "mark notification sent", id,
		`UPDATE notification_jobs SET status = 'sent', sent_at = $2, locked_at = NULL, locked_by = '', last_error = ''
		 WHERE id = $1`, id, at)
}

func (r *notificationJobRepository) MarkRetry(ctx context.Context, id string, nextRunAt time.Time, lastErr string) error {
	return r.exec(ctx, "reschedule notification", id,
		`UPDATE notification_jobs SET status = 'queued', run_at = $2, last_error = $3, locked_at = NULL, locked_by = ''
		 WHERE id = $1`, id, nextRunAt, lastErr)
}

func (r *notificationJobRepository) MarkFailed(ctx context.Context, id string, lastErr string) error {
	return r.exec(ctx, "mark notification failed", id,
		`UPDATE notification_jobs SET status = 'failed', last_error = $2, locked_at = NULL, locked_by = ''
		 WHERE id = $1`, id, lastErr)
}

func (r *notificationJobRepository) exec(ctx context.Context, op, id, query string, args ...any) error {
	logger.DatabaseCall("UPDATE", "notification_jobs", "jobID", id)
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		logger.DatabaseResult("UPDATE", 0, err, "jobID", id)
		return errs.Wrap(err, op)
	}
	rows, err := result.RowsAffected()
	logger.DatabaseResult("UPDATE", rows, err, "jobID", id)
	if err != nil {
		return errs.Wrap(err, op)
	}
	if rows == 0 {
		return errs.NotFound("notification job", id)
	}
	return nil
}

func scanNotificationJob(row rowScanner) (*domain.NotificationJob, error) {
	var (
		job      domain.NotificationJob
		payload  []byte
		status   string
		lockedAt sql.NullTime
		sentAt   sql.NullTime
	)
	err := row.Scan(&job.ID, &job.Kind, &job.RecipientID, &payload, &status, &job.Attempts, &job.RunAt,
		&lockedAt, &job.LockedBy, &job.LastError, &sentAt, &job.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &job.Payload); err != nil {
			return nil, errs.Wrapf(err, "decode payload of notification job %s", job.ID)
		}
	}
	job.Status = domain.NotificationStatus(status)
	job.LockedAt = timePtr(lockedAt)
	job.SentAt = timePtr(sentAt)
	return &job, nil
}
