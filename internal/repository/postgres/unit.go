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

type unitRepository struct {
	db DBTX
}

func NewUnitRepository(db DBTX) repository.UnitRepository {
	return &unitRepository{db: db}
}

const unitColumns = `id, name, unit_type, size, site, list_price_cents, created_on, updated_on`

func (r *unitRepository) Create(ctx context.Context, u *domain.RentalUnit) error {
	logger.EnterMethod("unitRepository.Create", "name", u.Name, "type", u.Type, "site", u.Site)

	now := time.Now().UTC()
	query := `INSERT INTO rental_units (id, name, unit_type, size, site, list_price_cents, created_on, updated_on)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	logger.DatabaseCall("INSERT", "rental_units", "unitID", u.ID)
	_, err := r.db.ExecContext(ctx, query, u.ID, u.Name, u.Type, u.Size, u.Site, u.ListPriceCents, now, now)
	logger.DatabaseResult("INSERT", 1, err, "unitID", u.ID)
	if err != nil {
		logger.ExitMethodWithError("unitRepository.Create", err, "unitID", u.ID)
		return errs.Wrap(err, "insert rental unit")
	}

	u.CreatedOn = now
	u.UpdatedOn = now
	logger.ExitMethod("unitRepository.Create", "unitID", u.ID)
	return nil
}

func (r *unitRepository) GetByID(ctx context.Context, id string) (*domain.RentalUnit, error) {
	query := `SELECT ` + unitColumns + ` FROM rental_units WHERE id = $1`
	u, err := scanUnit(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("rental unit", id)
	}
	if err != nil {
		return nil, errs.Wrap(err, "get rental unit")
	}
	return u, nil
}

func (r *unitRepository) Update(ctx context.Context, u *domain.RentalUnit) error {
	now := time.Now().UTC()
	query := `UPDATE rental_units SET name = $2, unit_type = $3, size = $4, site = $5, list_price_cents = $6, updated_on = $7
	          WHERE id = $1`
	logger.DatabaseCall("UPDATE", "rental_units", "unitID", u.ID)
	result, err := r.db.ExecContext(ctx, query, u.ID, u.Name, u.Type, u.Size, u.Site, u.ListPriceCents, now)
	if err != nil {
		logger.DatabaseResult("UPDATE", 0, err, "unitID", u.ID)
		return errs.Wrap(err, "update rental unit")
	}
	rows, err := result.RowsAffected()
	logger.DatabaseResult("UPDATE", rows, err, "unitID", u.ID)
	if err != nil {
		return errs.Wrap(err, "update rental unit")
	}
	if rows == 0 {
		return errs.NotFound("rental unit", u.ID)
	}
	u.UpdatedOn = now
	return nil
}

func (r *unitRepository) ListByTypes(ctx context.Context, types []string) ([]domain.RentalUnit, error) {
	query := `SELECT ` + unitColumns + ` FROM rental_units WHERE unit_type = ANY($1) ORDER BY site, name, id`
	return r.list(ctx, query, pq.Array(types))
}

func (r *unitRepository) ListByIDs(ctx context.Context, ids []string) ([]domain.RentalUnit, error) {
	query := `SELECT ` + unitColumns + ` FROM rental_units WHERE id = ANY($1) ORDER BY site, name, id`
	return r.list(ctx, query, pq.Array(ids))
}

func (r *unitRepository) list(ctx context.Context, query string, args ...any) ([]domain.RentalUnit, error) {
	logger.DatabaseCall("SELECT", "rental_units")
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		logger.DatabaseResult("SELECT", 0, err)
		return nil, errs.Wrap(err, "list rental units")
	}
	defer rows.Close()

	var units []domain.RentalUnit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, errs.Wrap(err, "scan rental unit")
		}
		units = append(units, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(err, "iterate rental units")
	}
	logger.DatabaseResult("SELECT", int64(len(units)), nil)
	return units, nil
}

// LockForUpdate locks unit rows in id order so concurrent confirmations on
// overlapping unit sets cannot deadlock.
func (r *unitRepository) LockForUpdate(ctx context.Context, ids []string) error {
	query := `SELECT id FROM rental_units WHERE id = ANY($1) ORDER BY id FOR UPDATE`
	logger.DatabaseCall("SELECT FOR UPDATE", "rental_units", "unitIDs", ids)
	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		logger.DatabaseResult("SELECT FOR UPDATE", 0, err)
		return errs.Wrap(err, "lock rental units")
	}
	defer rows.Close()

	locked := make(map[string]bool, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return errs.Wrap(err, "scan locked unit")
		}
		locked[id] = true
	}
	if err := rows.Err(); err != nil {
		return errs.Wrap(err, "iterate locked units")
	}
	logger.DatabaseResult("SELECT FOR UPDATE", int64(len(locked)), nil)

	for _, id := range ids {
		if !locked[id] {
			return errs.NotFound("rental unit", id)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUnit(row rowScanner) (*domain.RentalUnit, error) {
	var u domain.RentalUnit
	if err := row.Scan(&u.ID, &u.Name, &u.Type, &u.Size, &u.Site, &u.ListPriceCents, &u.CreatedOn, &u.UpdatedOn); err != nil {
		return nil, err
	}
	return &u, nil
}
