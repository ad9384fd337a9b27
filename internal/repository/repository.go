package repository

import (
	"context"
	"time"

	"shelfmarket-backend/internal/domain"
)

type UnitRepository interface {
	Create(ctx context.Context, unit *domain.RentalUnit) error
	GetByID(ctx context.Context, id string) (*domain.RentalUnit, error)
	Update(ctx context.Context, unit *domain.RentalUnit) error
	ListByTypes(ctx context.Context, types []string) ([]domain.RentalUnit, error)
	ListByIDs(ctx context.Context, ids []string) ([]domain.RentalUnit, error)
	// LockForUpdate takes row locks on the units for the rest of the transaction.
	LockForUpdate(ctx context.Context, ids []string) error
}

type ContractRepository interface {
	Create(ctx context.Context, contract *domain.Contract) error
	GetByID(ctx context.Context, id string) (*domain.Contract, error)
	GetForUpdate(ctx context.Context, id string) (*domain.Contract, error)
	// Update writes state, impact and services if the stored version still
	// matches contract.Version, then bumps the version.
	Update(ctx context.Context, contract *domain.Contract) error
	ListNonTerminalByUnits(ctx context.Context, unitIDs []string) ([]domain.Contract, error)
	CountByUnit(ctx context.Context, unitID string) (int, error)
	// ListOpenTrials returns trials not yet converted or ended, by vendor.
	ListOpenTrials(ctx context.Context) ([]domain.Contract, error)
	ListDueForStart(ctx context.Context, today time.Time) ([]domain.Contract, error)
	ListChargesForPeriod(ctx context.Context, start, end time.Time) ([]domain.ContractCharge, error)
}

type BookingRepository interface {
	Create(ctx context.Context, booking *domain.PendingBooking) error
	GetByID(ctx context.Context, id string) (*domain.PendingBooking, error)
	GetForUpdate(ctx context.Context, id string) (*domain.PendingBooking, error)
	Update(ctx context.Context, booking *domain.PendingBooking) error
}

type VendorRepository interface {
	Create(ctx context.Context, vendor *domain.Vendor) error
	GetByID(ctx context.Context, id string) (*domain.Vendor, error)
}

type TrialStateRepository interface {
	Create(ctx context.Context, state *domain.TrialState) error
	Get(ctx context.Context, vendorID string) (*domain.TrialState, error)
	GetForUpdate(ctx context.Context, vendorID string) (*domain.TrialState, error)
	Update(ctx context.Context, state *domain.TrialState) error
}

type NotificationJobRepository interface {
	Enqueue(ctx context.Context, job *domain.NotificationJob) error
	GetByID(ctx context.Context, id string) (*domain.NotificationJob, error)
	// ClaimDue leases up to limit due jobs, including processing jobs whose
	// lease expired, and increments their attempt counter.
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int, worker string) ([]domain.NotificationJob, error)
	MarkSent(ctx context.Context, id string, at time.Time) error
	MarkRetry(ctx context.Context, id string, nextRunAt time.Time, lastErr string) error
	MarkFailed(ctx context.Context, id string, lastErr string) error
}

type JobLockRepository interface {
	// TryAcquire takes the named lock. A lock older than staleAfter is taken
	// over and reported through tookOver.
	TryAcquire(ctx context.Context, name, holder string, now time.Time, staleAfter time.Duration) (acquired, tookOver bool, err error)
	Release(ctx context.Context, name, holder string) error
}

type JobRunRepository interface {
	Create(ctx context.Context, run *domain.JobRun) error
	Finish(ctx context.Context, run *domain.JobRun) error
	Latest(ctx context.Context, jobName string) (*domain.JobRun, error)
	RecentOutcomes(ctx context.Context, jobName string, limit int) ([]domain.JobRunOutcome, error)
}

// Tx exposes the repositories bound to one transaction.
type Tx interface {
	Units() UnitRepository
	Contracts() ContractRepository
	Bookings() BookingRepository
	Vendors() VendorRepository
	TrialStates() TrialStateRepository
	NotificationJobs() NotificationJobRepository
}

// UnitOfWork runs fn inside a transaction. fn may be re-run on serialization
// failures and must not have side effects outside tx.
type UnitOfWork interface {
	Within(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Store is the full persistence surface. Repositories reached directly from a
// Store run outside any transaction.
type Store interface {
	Tx
	UnitOfWork
	JobLocks() JobLockRepository
	JobRuns() JobRunRepository
}
