package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"shelfmarket-backend/internal/domain"
	"shelfmarket-backend/internal/errs"
	"shelfmarket-backend/internal/logger"
	"shelfmarket-backend/internal/repository"
)

type bookingRepository struct {
	db DBTX
}

func NewBookingRepository(db DBTX) repository.BookingRepository {
	return &bookingRepository{db: db}
}

const bookingColumns = `id, vendor_id, unit_ids, start_date, end_date, is_trial, trial_days, status, contract_id, created_on, updated_on`

func (r *bookingRepository) Create(ctx context.Context, b *domain.PendingBooking) error {
	logger.EnterMethod("bookingRepository.Create", "vendorID", b.VendorID, "units", len(b.UnitIDs))

	now := time.Now().UTC()
	query := `INSERT INTO pending_bookings (id, vendor_id, unit_ids, start_date, end_date, is_trial, trial_days, status, contract_id, created_on, updated_on)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	logger.DatabaseCall("INSERT", "pending_bookings", "bookingID", b.ID)
	_, err := r.db.ExecContext(ctx, query, b.ID, b.VendorID, pq.Array(b.UnitIDs), b.Interval.From, b.Interval.To,
		b.IsTrial, b.TrialDays, string(b.Status), b.ContractID, now, now)
	logger.DatabaseResult("INSERT", 1, err, "bookingID", b.ID)
	if err != nil {
		logger.ExitMethodWithError("bookingRepository.Create", err, "bookingID", b.ID)
		return errs.Wrap(err, "insert pending booking")
	}

	b.CreatedOn = now
	b.UpdatedOn = now
	logger.ExitMethod("bookingRepository.Create", "bookingID", b.ID)
	return nil
}

func (r *bookingRepository) GetByID(ctx context.Context, id string) (*domain.PendingBooking, error) {
	return r.getOne(ctx, `SELECT `+bookingColumns+` FROM pending_bookings WHERE id = $1`, id)
}

func (r *bookingRepository) GetForUpdate(ctx context.Context, id string) (*domain.PendingBooking, error) {
	return r.getOne(ctx, `SELECT `+bookingColumns+` FROM pending_bookings WHERE id = $1 FOR UPDATE`, id)
}

func (r *bookingRepository) getOne(ctx context.Context, query, id string) (*domain.PendingBooking, error) {
	logger.DatabaseCall("SELECT", "pending_bookings", "bookingID", id)
	var (
		b       domain.PendingBooking
		unitIDs pq.StringArray
		start   time.Time
		end     sql.NullTime
		status  string
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(&b.ID, &b.VendorID, &unitIDs, &start, &end,
		&b.IsTrial, &b.TrialDays, &status, &b.ContractID, &b.CreatedOn, &b.UpdatedOn)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("pending booking", id)
	}
	if err != nil {
		return nil, errs.Wrap(err, "get pending booking")
	}
	b.UnitIDs = []string(unitIDs)
	b.Interval = domain.Interval{From: dateOf(start), To: datePtr(end)}
	b.Status = domain.PendingBookingStatus(status)
	return &b, nil
}

func (r *bookingRepository) Update(ctx context.Context, b *domain.PendingBooking) error {
	now := time.Now().UTC()
	query := `UPDATE pending_bookings SET status = $2, contract_id = $3, updated_on = $4 WHERE id = $1`
	logger.DatabaseCall("UPDATE", "pending_bookings", "bookingID", b.ID, "status", b.Status)
	result, err := r.db.ExecContext(ctx, query, b.ID, string(b.Status), b.ContractID, now)
	if err != nil {
		logger.DatabaseResult("UPDATE", 0, err, "bookingID", b.ID)
		return errs.Wrap(err, "update pending booking")
	}
	rows, err := result.RowsAffected()
	logger.DatabaseResult("UPDATE", rows, err, "bookingID", b.ID)
	if err != nil {
		return errs.Wrap(err, "update pending booking")
	}
	if rows == 0 {
		return errs.NotFound("pending booking", b.ID)
	}
	b.UpdatedOn = now
	return nil
}
