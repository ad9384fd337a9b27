package postgres

import (
	"context"
	"database/sql"
	_ "embed"

	_ "github.com/lib/pq"

	"shelfmarket-backend/internal/errs"
	"shelfmarket-backend/internal/repository"
)

//go:embed schema.sql
var schemaSQL string

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db         *sql.DB
	maxRetries int
	repos
	jobLocks repository.JobLockRepository
	jobRuns  repository.JobRunRepository
}

// repos groups the repositories that can be bound to either the pool or a tx.
type repos struct {
	units         repository.UnitRepository
	contracts     repository.ContractRepository
	bookings      repository.BookingRepository
	vendors       repository.VendorRepository
	trialStates   repository.TrialStateRepository
	notifications repository.NotificationJobRepository
}

func newRepos(q DBTX) repos {
	return repos{
		units:         NewUnitRepository(q),
		contracts:     NewContractRepository(q),
		bookings:      NewBookingRepository(q),
		vendors:       NewVendorRepository(q),
		trialStates:   NewTrialStateRepository(q),
		notifications: NewNotificationJobRepository(q),
	}
}

func (r repos) Units() repository.UnitRepository                       { return r.units }
func (r repos) Contracts() repository.ContractRepository               { return r.contracts }
func (r repos) Bookings() repository.BookingRepository                 { return r.bookings }
func (r repos) Vendors() repository.VendorRepository                   { return r.vendors }
func (r repos) TrialStates() repository.TrialStateRepository           { return r.trialStates }
func (r repos) NotificationJobs() repository.NotificationJobRepository { return r.notifications }

// NewStore wires all repositories over db. Transactions are retried up to
// maxRetries times on serialization failures and deadlocks.
func NewStore(db *sql.DB, maxRetries int) *Store {
	return &Store{
		db:         db,
		maxRetries: maxRetries,
		repos:      newRepos(db),
		jobLocks:   NewJobLockRepository(db),
		jobRuns:    NewJobRunRepository(db),
	}
}

func (s *Store) JobLocks() repository.JobLockRepository { return s.jobLocks }
func (s *Store) JobRuns() repository.JobRunRepository   { return s.jobRuns }

// EnsureSchema creates missing tables and indexes.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return errs.Wrap(err, "apply schema")
	}
	return nil
}

var _ repository.Store = (*Store)(nil)
