package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"shelfmarket-backend/internal/domain"
	"shelfmarket-backend/internal/errs"
	"shelfmarket-backend/internal/logger"
	"shelfmarket-backend/internal/repository"
)

type jobRunRepository struct {
	db DBTX
}

func NewJobRunRepository(db DBTX) repository.JobRunRepository {
	return &jobRunRepository{db: db}
}

func (r *jobRunRepository) Create(ctx context.Context, run *domain.JobRun) error {
	failures, err := json.Marshal(failuresOrEmpty(run.Failures))
	if err != nil {
		return errs.Wrap(err, "encode job run failures")
	}
	query := `INSERT INTO job_runs (id, job_name, started_at, finished_at, processed, dispatched, transitioned, failures, outcome)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	logger.DatabaseCall("INSERT", "job_runs", "job", run.JobName, "runID", run.ID)
	_, err = r.db.ExecContext(ctx, query, run.ID, run.JobName, run.StartedAt, run.FinishedAt,
		run.Processed, run.Dispatched, run.Transitioned, failures, string(run.Outcome))
	logger.DatabaseResult("INSERT", 1, err, "runID", run.ID)
	if err != nil {
		return errs.Wrap(err, "insert job run")
	}
	return nil
}

func (r *jobRunRepository) Finish(ctx context.Context, run *domain.JobRun) error {
	failures, err := json.Marshal(failuresOrEmpty(run.Failures))
	if err != nil {
		return errs.Wrap(err, "encode job run failures")
	}
	query := `UPDATE job_runs SET finished_at = $2, processed = $3, dispatched = $4, transitioned = $5, failures = $6, outcome = $7
	          WHERE id = $1`
	logger.DatabaseCall("UPDATE", "job_runs", "runID", run.ID)
	result, err := r.db.ExecContext(ctx, query, run.ID, run.FinishedAt, run.Processed, run.Dispatched,
		run.Transitioned, failures, string(run.Outcome))
	if err != nil {
		logger.DatabaseResult("UPDATE", 0, err, "runID", run.ID)
		return errs.Wrap(err, "finish job run")
	}
	rows, err := result.RowsAffected()
	logger.DatabaseResult("UPDATE", rows, err, "runID", run.ID)
	if err != nil {
		return errs.Wrap(err, "finish job run")
	}
	if rows == 0 {
		return errs.NotFound("job run", run.ID)
	}
	return nil
}

func (r *jobRunRepository) Latest(ctx context.Context, jobName string) (*domain.JobRun, error) {
	query := `SELECT id, job_name, started_at, finished_at, processed, dispatched, transitioned, failures, outcome
	          FROM job_runs WHERE job_name = $1 ORDER BY started_at DESC LIMIT 1`
	var (
		run      domain.JobRun
		finished sql.NullTime
		failures []byte
		outcome  string
	)
	err := r.db.QueryRowContext(ctx, query, jobName).Scan(&run.ID, &run.JobName, &run.StartedAt, &finished,
		&run.Processed, &run.Dispatched, &run.Transitioned, &failures, &outcome)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("job run", jobName)
	}
	if err != nil {
		return nil, errs.Wrap(err, "get latest job run")
	}
	if len(failures) > 0 {
		if err := json.Unmarshal(failures, &run.Failures); err != nil {
			return nil, errs.Wrap(err, "decode job run failures")
		}
	}
	run.FinishedAt = timePtr(finished)
	run.Outcome = domain.JobRunOutcome(outcome)
	return &run, nil
}

// RecentOutcomes lists outcomes newest first.
func (r *jobRunRepository) RecentOutcomes(ctx context.Context, jobName string, limit int) ([]domain.JobRunOutcome, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT outcome FROM job_runs WHERE job_name = $1 ORDER BY started_at DESC LIMIT $2`, jobName, limit)
	if err != nil {
		return nil, errs.Wrap(err, "list job run outcomes")
	}
	defer rows.Close()

	var outcomes []domain.JobRunOutcome
	for rows.Next() {
		var o string
		if err := rows.Scan(&o); err != nil {
			return nil, errs.Wrap(err, "scan job run outcome")
		}
		outcomes = append(outcomes, domain.JobRunOutcome(o))
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(err, "iterate job run outcomes")
	}
	return outcomes, nil
}

func failuresOrEmpty(f []domain.AccountFailure) []domain.AccountFailure {
	if f == nil {
		return []domain.AccountFailure{}
	}
	return f
}
