package postgres

import (
	"context"
	"time"

	"shelfmarket-backend/internal/errs"
	"shelfmarket-backend/internal/logger"
	"shelfmarket-backend/internal/repository"
)

type jobLockRepository struct {
	db DBTX
}

func NewJobLockRepository(db DBTX) repository.JobLockRepository {
	return &jobLockRepository{db: db}
}

// TryAcquire inserts the lock row, or takes over a row held longer than
// staleAfter. The lock lives in a table so it survives process restarts.
func (r *jobLockRepository) TryAcquire(ctx context.Context, name, holder string, now time.Time, staleAfter time.Duration) (bool, bool, error) {
	logger.DatabaseCall("INSERT", "job_locks", "job", name, "holder", holder)
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO job_locks (job_name, holder, acquired_at) VALUES ($1, $2, $3) ON CONFLICT (job_name) DO NOTHING`,
		name, holder, now)
	if err != nil {
		logger.DatabaseResult("INSERT", 0, err, "job", name)
		return false, false, errs.Wrapf(err, "acquire job lock %s", name)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, false, errs.Wrapf(err, "acquire job lock %s", name)
	}
	if rows == 1 {
		logger.DatabaseResult("INSERT", rows, nil, "job", name)
		return true, false, nil
	}

	logger.DatabaseCall("UPDATE", "job_locks", "job", name, "holder", holder)
	result, err = r.db.ExecContext(ctx,
		`UPDATE job_locks SET holder = $2, acquired_at = $3 WHERE job_name = $1 AND acquired_at < $4`,
		name, holder, now, now.Add(-staleAfter))
	if err != nil {
		logger.DatabaseResult("UPDATE", 0, err, "job", name)
		return false, false, errs.Wrapf(err, "take over job lock %s", name)
	}
	rows, err = result.RowsAffected()
	logger.DatabaseResult("UPDATE", rows, err, "job", name)
	if err != nil {
		return false, false, errs.Wrapf(err, "take over job lock %s", name)
	}
	if rows == 1 {
		return true, true, nil
	}
	return false, false, nil
}

func (r *jobLockRepository) Release(ctx context.Context, name, holder string) error {
	logger.DatabaseCall("DELETE", "job_locks", "job", name, "holder", holder)
	_, err := r.db.ExecContext(ctx, `DELETE FROM job_locks WHERE job_name = $1 AND holder = $2`, name, holder)
	logger.DatabaseResult("DELETE", 1, err, "job", name)
	if err != nil {
		return errs.Wrapf(err, "release job lock %s", name)
	}
	return nil
}
