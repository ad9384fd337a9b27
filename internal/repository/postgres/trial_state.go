package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"shelfmarket-backend/internal/domain"
	"shelfmarket-backend/internal/errs"
	"shelfmarket-backend/internal/logger"
	"shelfmarket-backend/internal/repository"
)

type trialStateRepository struct {
	db DBTX
}

func NewTrialStateRepository(db DBTX) repository.TrialStateRepository {
	return &trialStateRepository{db: db}
}

const trialStateColumns = `vendor_id, reminder_7_sent, reminder_3_sent, reminder_1_sent, expiration_sent,
	last_reminder_sent_at, trial_conversion_date, conversion_requested_at, updated_on`

func (r *trialStateRepository) Create(ctx context.Context, s *domain.TrialState) error {
	now := time.Now().UTC()
	query := `INSERT INTO trial_automation_states (vendor_id, reminder_7_sent, reminder_3_sent, reminder_1_sent, expiration_sent,
	              last_reminder_sent_at, trial_conversion_date, conversion_requested_at, updated_on)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	logger.DatabaseCall("INSERT", "trial_automation_states", "vendorID", s.VendorID)
	_, err := r.db.ExecContext(ctx, query, s.VendorID, s.Reminder7Sent, s.Reminder3Sent, s.Reminder1Sent, s.ExpirationSent,
		s.LastReminderSentAt, s.TrialConversionDate, s.ConversionRequestedAt, now)
	logger.DatabaseResult("INSERT", 1, err, "vendorID", s.VendorID)
	if err != nil {
		return errs.Wrap(err, "insert trial state")
	}
	s.UpdatedOn = now
	return nil
}

func (r *trialStateRepository) Get(ctx context.Context, vendorID string) (*domain.TrialState, error) {
	return r.getOne(ctx, `SELECT `+trialStateColumns+` FROM trial_automation_states WHERE vendor_id = $1`, vendorID)
}

// GetForUpdate serializes concurrent scheduler passes on the same vendor.
func (r *trialStateRepository) GetForUpdate(ctx context.Context, vendorID string) (*domain.TrialState, error) {
	return r.getOne(ctx, `SELECT `+trialStateColumns+` FROM trial_automation_states WHERE vendor_id = $1 FOR UPDATE`, vendorID)
}

func (r *trialStateRepository) getOne(ctx context.Context, query, vendorID string) (*domain.TrialState, error) {
	logger.DatabaseCall("SELECT", "trial_automation_states", "vendorID", vendorID)
	var (
		s                   domain.TrialState
		lastSent, requested sql.NullTime
		conversion          sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, vendorID).Scan(&s.VendorID, &s.Reminder7Sent, &s.Reminder3Sent,
		&s.Reminder1Sent, &s.ExpirationSent, &lastSent, &conversion, &requested, &s.UpdatedOn)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("trial state", vendorID)
	}
	if err != nil {
		return nil, errs.Wrap(err, "get trial state")
	}
	s.LastReminderSentAt = timePtr(lastSent)
	s.TrialConversionDate = datePtr(conversion)
	s.ConversionRequestedAt = timePtr(requested)
	return &s, nil
}

func (r *trialStateRepository) Update(ctx context.Context, s *domain.TrialState) error {
	now := time.Now().UTC()
	query := `UPDATE trial_automation_states
	          SET reminder_7_sent = $2, reminder_3_sent = $3, reminder_1_sent = $4, expiration_sent = $5,
	              last_reminder_sent_at = $6, trial_conversion_date = $7, conversion_requested_at = $8, updated_on = $9
	          WHERE vendor_id = $1`
	logger.DatabaseCall("UPDATE", "trial_automation_states", "vendorID", s.VendorID)
	result, err := r.db.ExecContext(ctx, query, s.VendorID, s.Reminder7Sent, s.Reminder3Sent, s.Reminder1Sent,
		s.ExpirationSent, s.LastReminderSentAt, s.TrialConversionDate, s.ConversionRequestedAt, now)
	if err != nil {
		logger.DatabaseResult("UPDATE", 0, err, "vendorID", s.VendorID)
		return errs.Wrap(err, "update trial state")
	}
	rows, err := result.RowsAffected()
	logger.DatabaseResult("UPDATE", rows, err, "vendorID", s.VendorID)
	if err != nil {
		return errs.Wrap(err, "update trial state")
	}
	if rows == 0 {
		return errs.NotFound("trial state", s.VendorID)
	}
	s.UpdatedOn = now
	return nil
}
