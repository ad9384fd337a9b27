package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	"shelfmarket-backend/internal/domain"
	"shelfmarket-backend/internal/errs"
)

type unitRepository struct{ view }

func (r unitRepository) Create(_ context.Context, u *domain.RentalUnit) error {
	defer r.lock()()
	if _, ok := r.s.data.units[u.ID]; ok {
		return errs.Newf("rental unit %s already exists", u.ID)
	}
	now := r.s.now()
	u.CreatedOn, u.UpdatedOn = now, now
	r.s.data.units[u.ID] = *u
	return nil
}

func (r unitRepository) GetByID(_ context.Context, id string) (*domain.RentalUnit, error) {
	defer r.lock()()
	u, ok := r.s.data.units[id]
	if !ok {
		return nil, errs.NotFound("rental unit", id)
	}
	return &u, nil
}

func (r unitRepository) Update(_ context.Context, u *domain.RentalUnit) error {
	defer r.lock()()
	old, ok := r.s.data.units[u.ID]
	if !ok {
		return errs.NotFound("rental unit", u.ID)
	}
	u.CreatedOn = old.CreatedOn
	u.UpdatedOn = r.s.now()
	r.s.data.units[u.ID] = *u
	return nil
}

func (r unitRepository) ListByTypes(_ context.Context, types []string) ([]domain.RentalUnit, error) {
	defer r.lock()()
	var out []domain.RentalUnit
	for _, u := range r.s.data.units {
		if slices.Contains(types, u.Type) {
			out = append(out, u)
		}
	}
	sortUnits(out)
	return out, nil
}

func (r unitRepository) ListByIDs(_ context.Context, ids []string) ([]domain.RentalUnit, error) {
	defer r.lock()()
	var out []domain.RentalUnit
	for _, id := range ids {
		if u, ok := r.s.data.units[id]; ok {
			out = append(out, u)
		}
	}
	sortUnits(out)
	return out, nil
}

// LockForUpdate only checks existence; Within already serializes writers.
func (r unitRepository) LockForUpdate(_ context.Context, ids []string) error {
	defer r.lock()()
	for _, id := range ids {
		if _, ok := r.s.data.units[id]; !ok {
			return errs.NotFound("rental unit", id)
		}
	}
	return nil
}

func sortUnits(units []domain.RentalUnit) {
	slices.SortFunc(units, func(a, b domain.RentalUnit) int {
		if c := strings.Compare(a.Site, b.Site); c != 0 {
			return c
		}
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

type contractRepository struct{ view }

func (r contractRepository) Create(_ context.Context, c *domain.Contract) error {
	defer r.lock()()
	if _, ok := r.s.data.contracts[c.ID]; ok {
		return errs.Newf("contract %s already exists", c.ID)
	}
	if _, ok := r.s.data.vendors[c.VendorID]; !ok {
		return errs.NotFound("vendor", c.VendorID)
	}
	now := r.s.now()
	c.CreatedOn, c.UpdatedOn = now, now
	r.s.data.contracts[c.ID] = c.Clone()
	return nil
}

func (r contractRepository) GetByID(_ context.Context, id string) (*domain.Contract, error) {
	defer r.lock()()
	return r.get(id)
}

func (r contractRepository) GetForUpdate(_ context.Context, id string) (*domain.Contract, error) {
	defer r.lock()()
	return r.get(id)
}

func (r contractRepository) get(id string) (*domain.Contract, error) {
	c, ok := r.s.data.contracts[id]
	if !ok {
		return nil, errs.NotFound("contract", id)
	}
	return r.withVendor(c), nil
}

func (r contractRepository) withVendor(c *domain.Contract) *domain.Contract {
	out := c.Clone()
	out.VendorName = r.s.data.vendors[c.VendorID].Name
	return out
}

func (r contractRepository) Update(_ context.Context, c *domain.Contract) error {
	defer r.lock()()
	stored, ok := r.s.data.contracts[c.ID]
	if !ok {
		return errs.NotFound("contract", c.ID)
	}
	if stored.Version != c.Version {
		return errs.Mark(errs.Newf("contract %s changed since version %d", c.ID, c.Version), errs.ErrConcurrentUpdate)
	}
	c.Version++
	c.UpdatedOn = r.s.now()
	r.s.data.contracts[c.ID] = c.Clone()
	return nil
}

func (r contractRepository) ListNonTerminalByUnits(_ context.Context, unitIDs []string) ([]domain.Contract, error) {
	defer r.lock()()
	return r.filter(func(c *domain.Contract) bool {
		if c.State.IsTerminal() {
			return false
		}
		for _, s := range c.Services {
			if slices.Contains(unitIDs, s.UnitID) {
				return true
			}
		}
		return false
	}), nil
}

func (r contractRepository) CountByUnit(_ context.Context, unitID string) (int, error) {
	defer r.lock()()
	return len(r.filter(func(c *domain.Contract) bool {
		return slices.ContainsFunc(c.Services, func(s domain.Service) bool { return s.UnitID == unitID })
	})), nil
}

func (r contractRepository) ListOpenTrials(_ context.Context) ([]domain.Contract, error) {
	defer r.lock()()
	out := r.filter(func(c *domain.Contract) bool { return c.IsTrial && slices.Contains(domain.TrialPhaseStates, c.State) })
	slices.SortStableFunc(out, func(a, b domain.Contract) int { return strings.Compare(a.VendorID, b.VendorID) })
	return out, nil
}

func (r contractRepository) ListDueForStart(_ context.Context, today time.Time) ([]domain.Contract, error) {
	defer r.lock()()
	return r.filter(func(c *domain.Contract) bool {
		return c.State == domain.ContractStateScheduled && !c.Impact.From.After(today)
	}), nil
}

func (r contractRepository) ListChargesForPeriod(_ context.Context, start, end time.Time) ([]domain.ContractCharge, error) {
	defer r.lock()()
	period := domain.Interval{From: start, To: &end}
	var out []domain.ContractCharge
	for _, c := range r.filter(func(c *domain.Contract) bool { return c.Impact.Overlaps(period) }) {
		out = append(out, domain.ContractCharge{
			ContractID:             c.ID,
			IsTrial:                c.IsTrial,
			PaymentObligationStart: c.PaymentObligationStart,
			Impact:                 c.Impact,
			MonthlyPriceCents:      c.MonthlyPriceCents(),
		})
	}
	return out, nil
}

// filter returns matching contracts ordered by impact start, then id.
func (r contractRepository) filter(keep func(c *domain.Contract) bool) []domain.Contract {
	var out []domain.Contract
	for _, c := range r.s.data.contracts {
		if keep(c) {
			out = append(out, *r.withVendor(c))
		}
	}
	slices.SortFunc(out, func(a, b domain.Contract) int {
		if c := a.Impact.From.Compare(b.Impact.From); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

type bookingRepository struct{ view }

func (r bookingRepository) Create(_ context.Context, b *domain.PendingBooking) error {
	defer r.lock()()
	if _, ok := r.s.data.vendors[b.VendorID]; !ok {
		return errs.NotFound("vendor", b.VendorID)
	}
	now := r.s.now()
	b.CreatedOn, b.UpdatedOn = now, now
	r.s.data.bookings[b.ID] = cloneBooking(*b)
	return nil
}

func (r bookingRepository) GetByID(_ context.Context, id string) (*domain.PendingBooking, error) {
	defer r.lock()()
	return r.get(id)
}

func (r bookingRepository) GetForUpdate(_ context.Context, id string) (*domain.PendingBooking, error) {
	defer r.lock()()
	return r.get(id)
}

func (r bookingRepository) get(id string) (*domain.PendingBooking, error) {
	b, ok := r.s.data.bookings[id]
	if !ok {
		return nil, errs.NotFound("pending booking", id)
	}
	out := cloneBooking(b)
	return &out, nil
}

func (r bookingRepository) Update(_ context.Context, b *domain.PendingBooking) error {
	defer r.lock()()
	if _, ok := r.s.data.bookings[b.ID]; !ok {
		return errs.NotFound("pending booking", b.ID)
	}
	b.UpdatedOn = r.s.now()
	r.s.data.bookings[b.ID] = cloneBooking(*b)
	return nil
}

type vendorRepository struct{ view }

func (r vendorRepository) Create(_ context.Context, v *domain.Vendor) error {
	defer r.lock()()
	if _, ok := r.s.data.vendors[v.ID]; ok {
		return errs.Newf("vendor %s already exists", v.ID)
	}
	v.CreatedOn = r.s.now()
	r.s.data.vendors[v.ID] = *v
	return nil
}

func (r vendorRepository) GetByID(_ context.Context, id string) (*domain.Vendor, error) {
	defer r.lock()()
	v, ok := r.s.data.vendors[id]
	if !ok {
		return nil, errs.NotFound("vendor", id)
	}
	return &v, nil
}

type trialStateRepository struct{ view }

func (r trialStateRepository) Create(_ context.Context, s *domain.TrialState) error {
	defer r.lock()()
	if _, ok := r.s.data.trials[s.VendorID]; ok {
		return errs.Newf("trial state for vendor %s already exists", s.VendorID)
	}
	s.UpdatedOn = r.s.now()
	r.s.data.trials[s.VendorID] = cloneTrialState(*s)
	return nil
}

func (r trialStateRepository) Get(_ context.Context, vendorID string) (*domain.TrialState, error) {
	defer r.lock()()
	return r.get(vendorID)
}

func (r trialStateRepository) GetForUpdate(_ context.Context, vendorID string) (*domain.TrialState, error) {
	defer r.lock()()
	return r.get(vendorID)
}

func (r trialStateRepository) get(vendorID string) (*domain.TrialState, error) {
	s, ok := r.s.data.trials[vendorID]
	if !ok {
		return nil, errs.NotFound("trial state", vendorID)
	}
	out := cloneTrialState(s)
	return &out, nil
}

func (r trialStateRepository) Update(_ context.Context, s *domain.TrialState) error {
	defer r.lock()()
	if _, ok := r.s.data.trials[s.VendorID]; !ok {
		return errs.NotFound("trial state", s.VendorID)
	}
	s.UpdatedOn = r.s.now()
	r.s.data.trials[s.VendorID] = cloneTrialState(*s)
	return nil
}

type notificationJobRepository struct{ view }

func (r notificationJobRepository) Enqueue(_ context.Context, job *domain.NotificationJob) error {
	defer r.lock()()
	now := r.s.now()
	if job.Status == "" {
		job.Status = domain.NotificationStatusQueued
	}
	if job.RunAt.IsZero() {
		job.RunAt = now
	}
	job.CreatedAt = now
	r.s.data.jobs[job.ID] = *job
	return nil
}

func (r notificationJobRepository) GetByID(_ context.Context, id string) (*domain.NotificationJob, error) {
	defer r.lock()()
	job, ok := r.s.data.jobs[id]
	if !ok {
		return nil, errs.NotFound("notification job", id)
	}
	return &job, nil
}

func (r notificationJobRepository) ClaimDue(_ context.Context, now time.Time, lease time.Duration, limit int, worker string) ([]domain.NotificationJob, error) {
	defer r.lock()()
	expired := now.Add(-lease)
	var due []domain.NotificationJob
	for _, job := range r.s.data.jobs {
		switch {
		case job.Status == domain.NotificationStatusQueued && !job.RunAt.After(now):
		case job.Status == domain.NotificationStatusProcessing && job.LockedAt != nil && job.LockedAt.Before(expired):
		default:
			continue
		}
		due = append(due, job)
	}
	slices.SortFunc(due, func(a, b domain.NotificationJob) int {
		if c := a.RunAt.Compare(b.RunAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		lockedAt := now
		due[i].Status = domain.NotificationStatusProcessing
		due[i].Attempts++
		due[i].LockedAt = &lockedAt
		due[i].LockedBy = worker
		r.s.data.jobs[due[i].ID] = due[i]
	}
	return due, nil
}

func (r notificationJobRepository) MarkSent(_ context.Context, id string, at time.Time) error {
	return r.update(id, func(job *domain.NotificationJob) {
		sentAt := at
		job.Status = domain.NotificationStatusSent
		job.SentAt = &sentAt
		job.LastError = ""
	})
}

func (r notificationJobRepository) MarkRetry(_ context.Context, id string, nextRunAt time.Time, lastErr string) error {
	return r.update(id, func(job *domain.NotificationJob) {
		job.Status = domain.NotificationStatusQueued
		job.RunAt = nextRunAt
		job.LastError = lastErr
	})
}

func (r notificationJobRepository) MarkFailed(_ context.Context, id string, lastErr string) error {
	return r.update(id, func(job *domain.NotificationJob) {
		job.Status = domain.NotificationStatusFailed
		job.LastError = lastErr
	})
}

func (r notificationJobRepository) update(id string, fn func(job *domain.NotificationJob)) error {
	defer r.lock()()
	job, ok := r.s.data.jobs[id]
	if !ok {
		return errs.NotFound("notification job", id)
	}
	fn(&job)
	job.LockedAt = nil
	job.LockedBy = ""
	r.s.data.jobs[id] = job
	return nil
}

type jobLockRepository struct{ view }

func (r jobLockRepository) TryAcquire(_ context.Context, name, holder string, now time.Time, staleAfter time.Duration) (bool, bool, error) {
	defer r.lock()()
	existing, held := r.s.data.locks[name]
	if held && !existing.acquiredAt.Before(now.Add(-staleAfter)) {
		return false, false, nil
	}
	r.s.data.locks[name] = lockRow{holder: holder, acquiredAt: now}
	return true, held, nil
}

func (r jobLockRepository) Release(_ context.Context, name, holder string) error {
	defer r.lock()()
	if existing, ok := r.s.data.locks[name]; ok && existing.holder == holder {
		delete(r.s.data.locks, name)
	}
	return nil
}

type jobRunRepository struct{ view }

func (r jobRunRepository) Create(_ context.Context, run *domain.JobRun) error {
	defer r.lock()()
	r.s.data.runs = append(r.s.data.runs, *run)
	return nil
}

func (r jobRunRepository) Finish(_ context.Context, run *domain.JobRun) error {
	defer r.lock()()
	for i := range r.s.data.runs {
		if r.s.data.runs[i].ID == run.ID {
			r.s.data.runs[i] = *run
			return nil
		}
	}
	return errs.NotFound("job run", run.ID)
}

func (r jobRunRepository) Latest(_ context.Context, jobName string) (*domain.JobRun, error) {
	defer r.lock()()
	for i := len(r.s.data.runs) - 1; i >= 0; i-- {
		if r.s.data.runs[i].JobName == jobName {
			run := r.s.data.runs[i]
			return &run, nil
		}
	}
	return nil, errs.NotFound("job run", jobName)
}

// RecentOutcomes lists outcomes newest first.
func (r jobRunRepository) RecentOutcomes(_ context.Context, jobName string, limit int) ([]domain.JobRunOutcome, error) {
	defer r.lock()()
	var out []domain.JobRunOutcome
	for i := len(r.s.data.runs) - 1; i >= 0 && len(out) < limit; i-- {
		if r.s.data.runs[i].JobName == jobName {
			out = append(out, r.s.data.runs[i].Outcome)
		}
	}
	return out, nil
}
