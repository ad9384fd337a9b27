package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelfmarket-backend/internal/domain"
	"shelfmarket-backend/internal/errs"
	"shelfmarket-backend/internal/repository"
	"shelfmarket-backend/internal/repository/postgres"
)

func TestStore_Within(t *testing.T) {
	t.Run("Commit", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		store := postgres.NewStore(db, 2)
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO vendors").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err = store.Within(context.Background(), func(ctx context.Context, tx repository.Tx) error {
			return tx.Vendors().Create(ctx, &domain.Vendor{ID: "v-1", Name: "Käserei Alm", Email: "alm@example.com"})
		})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("RollbackOnError", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		store := postgres.NewStore(db, 2)
		mock.ExpectBegin()
		mock.ExpectRollback()

		err = store.Within(context.Background(), func(ctx context.Context, tx repository.Tx) error {
			return errs.Invalid("nope")
		})
		assert.True(t, errs.Is(err, errs.ErrInvalidRequest))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("RetriesSerializationFailure", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		store := postgres.NewStore(db, 2)
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO vendors").WillReturnError(&pq.Error{Code: "40001"})
		mock.ExpectRollback()
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO vendors").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		attempts := 0
		err = store.Within(context.Background(), func(ctx context.Context, tx repository.Tx) error {
			attempts++
			return tx.Vendors().Create(ctx, &domain.Vendor{ID: "v-1", Name: "Käserei Alm", Email: "alm@example.com"})
		})
		assert.NoError(t, err)
		assert.Equal(t, 2, attempts)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("GivesUpAfterMaxRetries", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		store := postgres.NewStore(db, 1)
		for i := 0; i < 2; i++ {
			mock.ExpectBegin()
			mock.ExpectExec("INSERT INTO vendors").WillReturnError(&pq.Error{Code: "40P01"})
			mock.ExpectRollback()
		}

		err = store.Within(context.Background(), func(ctx context.Context, tx repository.Tx) error {
			return tx.Vendors().Create(ctx, &domain.Vendor{ID: "v-1"})
		})
		assert.True(t, errs.Is(err, postgres.ErrMaxRetriesExceeded))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUnitRepository_LockForUpdate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := postgres.NewUnitRepository(db)
	ctx := context.Background()

	t.Run("AllLocked", func(t *testing.T) {
		mock.ExpectQuery("SELECT id FROM rental_units WHERE id = ANY\\(\\$1\\) ORDER BY id FOR UPDATE").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("u-1").AddRow("u-2"))

		assert.NoError(t, repo.LockForUpdate(ctx, []string{"u-2", "u-1"}))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("MissingUnit", func(t *testing.T) {
		mock.ExpectQuery("SELECT id FROM rental_units").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("u-1"))

		err := repo.LockForUpdate(ctx, []string{"u-1", "u-9"})
		assert.True(t, errs.Is(err, errs.ErrNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUnitRepository_ListByTypes(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("SELECT (.+) FROM rental_units WHERE unit_type = ANY\\(\\$1\\)").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "unit_type", "size", "site", "list_price_cents", "created_on", "updated_on"}).
			AddRow("u-1", "Kühlregal 1", domain.UnitTypeCooled, "M", "Markthalle", 4500, now, now))

	units, err := postgres.NewUnitRepository(db).ListByTypes(context.Background(), []string{domain.UnitTypeCooled})
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "Kühlregal 1", units[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobLockRepository_TryAcquire(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := postgres.NewJobLockRepository(db)
	ctx := context.Background()
	now := time.Date(2025, 10, 1, 6, 0, 0, 0, time.UTC)

	t.Run("Fresh", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO job_locks (.+) ON CONFLICT \\(job_name\\) DO NOTHING").
			WithArgs("trial_scan", "worker-a", now).
			WillReturnResult(sqlmock.NewResult(0, 1))

		acquired, tookOver, err := repo.TryAcquire(ctx, "trial_scan", "worker-a", now, 6*time.Hour)
		require.NoError(t, err)
		assert.True(t, acquired)
		assert.False(t, tookOver)
	})

	t.Run("HeldByOther", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO job_locks").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("UPDATE job_locks SET holder = \\$2, acquired_at = \\$3 WHERE job_name = \\$1 AND acquired_at < \\$4").
			WithArgs("trial_scan", "worker-b", now, now.Add(-6*time.Hour)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		acquired, tookOver, err := repo.TryAcquire(ctx, "trial_scan", "worker-b", now, 6*time.Hour)
		require.NoError(t, err)
		assert.False(t, acquired)
		assert.False(t, tookOver)
	})

	t.Run("StaleTakeover", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO job_locks").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("UPDATE job_locks").WillReturnResult(sqlmock.NewResult(0, 1))

		acquired, tookOver, err := repo.TryAcquire(ctx, "trial_scan", "worker-b", now, 6*time.Hour)
		require.NoError(t, err)
		assert.True(t, acquired)
		assert.True(t, tookOver)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationJobRepository_ClaimDue(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := postgres.NewNotificationJobRepository(db)
	now := time.Date(2025, 10, 1, 6, 0, 0, 0, time.UTC)
	cols := []string{"id", "kind", "recipient_id", "payload", "status", "attempts", "run_at", "locked_at", "locked_by", "last_error", "sent_at", "created_at"}

	mock.ExpectQuery("UPDATE notification_jobs (.+) FOR UPDATE SKIP LOCKED\\) RETURNING").
		WithArgs(now, "worker-a", now.Add(-10*time.Minute), 10).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("n-2", domain.NotificationTrialReminder3, "v-1", []byte(`{"days_remaining":3}`), "processing", 1,
				now.Add(-time.Minute), now, "worker-a", "", nil, now.Add(-time.Hour)).
			AddRow("n-1", domain.NotificationBookingConfirmed, "v-2", []byte(`{}`), "processing", 2,
				now.Add(-time.Hour), now, "worker-a", "smtp timeout", nil, now.Add(-2*time.Hour)))

	jobs, err := repo.ClaimDue(context.Background(), now, 10*time.Minute, 10, "worker-a")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "n-1", jobs[0].ID)
	assert.Equal(t, 2, jobs[0].Attempts)
	assert.Equal(t, "smtp timeout", jobs[0].LastError)
	assert.Equal(t, float64(3), jobs[1].Payload["days_remaining"])
	assert.Equal(t, domain.NotificationStatusProcessing, jobs[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationJobRepository_MarkRetry(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := postgres.NewNotificationJobRepository(db)
	next := time.Date(2025, 10, 1, 6, 1, 0, 0, time.UTC)

	mock.ExpectExec("UPDATE notification_jobs SET status = 'queued'").
		WithArgs("n-1", next, "connection refused").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE notification_jobs SET status = 'failed'").
		WithArgs("n-404", "gone").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, repo.MarkRetry(context.Background(), "n-1", next, "connection refused"))
	err = repo.MarkFailed(context.Background(), "n-404", "gone")
	assert.True(t, errs.Is(err, errs.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRunRepository_RecentOutcomes(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT outcome FROM job_runs WHERE job_name = \\$1 ORDER BY started_at DESC LIMIT \\$2").
		WithArgs("trial_scan", 3).
		WillReturnRows(sqlmock.NewRows([]string{"outcome"}).AddRow("overlap").AddRow("overlap").AddRow("completed"))

	outcomes, err := postgres.NewJobRunRepository(db).RecentOutcomes(context.Background(), "trial_scan", 3)
	require.NoError(t, err)
	assert.Equal(t, []domain.JobRunOutcome{domain.JobRunOverlap, domain.JobRunOverlap, domain.JobRunCompleted}, outcomes)
	assert.NoError(t, mock.ExpectationsWereMet())
}
