// Package memory is an in-process Store used for local development and tests.
// All state sits behind one mutex; Within holds it for the whole callback and
// restores a snapshot when the callback fails.
package memory

import (
	"context"
	"sync"
	"time"

	"shelfmarket-backend/internal/domain"
	"shelfmarket-backend/internal/repository"
)

type lockRow struct {
	holder     string
	acquiredAt time.Time
}

type data struct {
	units     map[string]domain.RentalUnit
	contracts map[string]*domain.Contract
	bookings  map[string]domain.PendingBooking
	vendors   map[string]domain.Vendor
	trials    map[string]domain.TrialState
	jobs      map[string]domain.NotificationJob
	locks     map[string]lockRow
	runs      []domain.JobRun
}

func newData() *data {
	return &data{
		units:     map[string]domain.RentalUnit{},
		contracts: map[string]*domain.Contract{},
		bookings:  map[string]domain.PendingBooking{},
		vendors:   map[string]domain.Vendor{},
		trials:    map[string]domain.TrialState{},
		jobs:      map[string]domain.NotificationJob{},
		locks:     map[string]lockRow{},
	}
}

func (d *data) clone() *data {
	out := newData()
	for k, v := range d.units {
		out.units[k] = v
	}
	for k, v := range d.contracts {
		out.contracts[k] = v.Clone()
	}
	for k, v := range d.bookings {
		out.bookings[k] = cloneBooking(v)
	}
	for k, v := range d.vendors {
		out.vendors[k] = v
	}
	for k, v := range d.trials {
		out.trials[k] = cloneTrialState(v)
	}
	for k, v := range d.jobs {
		out.jobs[k] = v
	}
	for k, v := range d.locks {
		out.locks[k] = v
	}
	out.runs = append([]domain.JobRun(nil), d.runs...)
	return out
}

type Store struct {
	mu   sync.Mutex
	data *data
	now  func() time.Time
	view
}

// New returns an empty store. now stamps created and updated times and may be nil.
func New(now func() time.Time) *Store {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	s := &Store{data: newData(), now: now}
	s.view = view{s: s}
	return s
}

// Within runs fn with the store locked. Changes made by a failing fn are
// discarded. fn must not call back into the Store outside tx.
func (s *Store) Within(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(ctx, view{s: s, inTx: true}); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

func (s *Store) JobLocks() repository.JobLockRepository { return jobLockRepository{s.view} }
func (s *Store) JobRuns() repository.JobRunRepository   { return jobRunRepository{s.view} }

// view binds the repositories either to the store, locking per call, or to a
// running Within callback that already holds the lock.
type view struct {
	s    *Store
	inTx bool
}

func (v view) lock() func() {
	if v.inTx {
		return func() {}
	}
	v.s.mu.Lock()
	return v.s.mu.Unlock
}

func (v view) Units() repository.UnitRepository                       { return unitRepository{v} }
func (v view) Contracts() repository.ContractRepository               { return contractRepository{v} }
func (v view) Bookings() repository.BookingRepository                 { return bookingRepository{v} }
func (v view) Vendors() repository.VendorRepository                   { return vendorRepository{v} }
func (v view) TrialStates() repository.TrialStateRepository           { return trialStateRepository{v} }
func (v view) NotificationJobs() repository.NotificationJobRepository { return notificationJobRepository{v} }

var _ repository.Store = (*Store)(nil)

func cloneBooking(b domain.PendingBooking) domain.PendingBooking {
	b.UnitIDs = append([]string(nil), b.UnitIDs...)
	b.Interval.To = cloneTime(b.Interval.To)
	return b
}

func cloneTrialState(s domain.TrialState) domain.TrialState {
	s.LastReminderSentAt = cloneTime(s.LastReminderSentAt)
	s.TrialConversionDate = cloneTime(s.TrialConversionDate)
	s.ConversionRequestedAt = cloneTime(s.ConversionRequestedAt)
	return s
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
