package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"shelfmarket-backend/internal/errs"
	"shelfmarket-backend/internal/logger"
	"shelfmarket-backend/internal/repository"
)

var (
	ErrTransactionBegin   = errs.New("failed to begin transaction")
	ErrTransactionCommit  = errs.New("failed to commit transaction")
	ErrMaxRetriesExceeded = errs.New("transaction failed after max retries")
)

// Within runs fn in a transaction, retrying with exponential backoff when
// PostgreSQL reports a serialization failure or deadlock.
func (s *Store) Within(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	for attempt := 0; ; attempt++ {
		err := s.runInTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !isRetryableError(err) {
			return err
		}
		if attempt >= s.maxRetries {
			logger.Error("transaction failed after max retries", "attempts", attempt+1, "error", err)
			return errs.Mark(err, ErrMaxRetriesExceeded)
		}

		waitTime := time.Duration(1<<attempt) * 50 * time.Millisecond
		logger.Warn("retrying transaction due to retryable error",
			"attempt", attempt+1,
			"wait_time", waitTime,
			"error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
		}
	}
}

func (s *Store) runInTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return errs.Mark(err, ErrTransactionBegin)
	}

	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			logger.Warn("failed to rollback transaction", "error", rollbackErr)
		}
	}()

	if err := fn(ctx, newRepos(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errs.Mark(err, ErrTransactionCommit)
	}
	return nil
}

func isRetryableError(err error) bool {
	var pqErr *pq.Error
	if !errs.As(err, &pqErr) {
		return false
	}

	// 40001: serialization_failure
	// 40P01: deadlock_detected
	switch pqErr.Code {
	case "40001", "40P01":
		return true
	default:
		return false
	}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func datePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	y, m, d := t.Time.Date()
	v := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &v
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
