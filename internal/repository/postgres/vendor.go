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

type vendorRepository struct {
	db DBTX
}

func NewVendorRepository(db DBTX) repository.VendorRepository {
	return &vendorRepository{db: db}
}

func (r *vendorRepository) Create(ctx context.Context, v *domain.Vendor) error {
	now := time.Now().UTC()
	logger.DatabaseCall("INSERT", "vendors", "vendorID", v.ID)
	_, err := r.db.ExecContext(ctx, `INSERT INTO vendors (id, name, email, created_on) VALUES ($1, $2, $3, $4)`,
		v.ID, v.Name, v.Email, now)
	logger.DatabaseResult("INSERT", 1, err, "vendorID", v.ID)
	if err != nil {
		return errs.Wrap(err, "insert vendor")
	}
	v.CreatedOn = now
	return nil
}

func (r *vendorRepository) GetByID(ctx context.Context, id string) (*domain.Vendor, error) {
	var v domain.Vendor
	err := r.db.QueryRowContext(ctx, `SELECT id, name, email, created_on FROM vendors WHERE id = $1`, id).
		Scan(&v.ID, &v.Name, &v.Email, &v.CreatedOn)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("vendor", id)
	}
	if err != nil {
		return nil, errs.Wrap(err, "get vendor")
	}
	return &v, nil
}
