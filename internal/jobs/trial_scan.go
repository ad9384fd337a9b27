package jobs

import (
	"context"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"shelfmarket-backend/internal/domain"
	"shelfmarket-backend/internal/errs"
	"shelfmarket-backend/internal/logger"
	"shelfmarket-backend/internal/repository"
)

// RunSummary reports one trial scan.
type RunSummary struct {
	RunID        string                  `json:"run_id"`
	StartedAt    time.Time               `json:"started_at"`
	FinishedAt   time.Time               `json:"finished_at"`
	Vendors      int                     `json:"vendors"`
	Dispatched   int                     `json:"dispatched"`
	Transitioned int                     `json:"transitioned"`
	Failures     []domain.AccountFailure `json:"failures"`
}

// SchedulerStatus is the admin view of the trial scan.
type SchedulerStatus struct {
	LastRun             *domain.JobRun `json:"last_run,omitempty"`
	ConsecutiveOverlaps int            `json:"consecutive_overlaps"`
}

type vendorTrials struct {
	vendorID  string
	trialEnd  time.Time
	contracts []domain.Contract
}

type vendorResult struct {
	dispatched   int
	transitioned int
}

// TrialScan is the cron entry point.
func (jr *JobRunner) TrialScan() {
	jr.runWithRecovery("TrialScan", func(ctx context.Context) error {
		summary, err := jr.RunTrialScan(ctx)
		if err != nil {
			return err
		}
		logger.Info("Trial scan finished",
			"vendors", summary.Vendors,
			"dispatched", summary.Dispatched,
			"transitioned", summary.Transitioned,
			"failures", len(summary.Failures))
		return nil
	})
}

// RunTrialScan sends due trial reminders and ends lapsed trials. Each vendor is
// processed in its own transaction; a failing vendor is recorded and skipped.
func (jr *JobRunner) RunTrialScan(ctx context.Context) (*RunSummary, error) {
	summary := &RunSummary{}
	run, err := jr.exclusive(ctx, JobTrialScan, func(ctx context.Context, run *domain.JobRun) error {
		today := domain.Date(jr.clock.Now())

		trials, err := jr.store.Contracts().ListOpenTrials(ctx)
		if err != nil {
			return errs.Wrap(err, "load open trials")
		}
		groups := groupByVendor(trials)
		summary.Vendors = len(groups)

		var (
			mu sync.Mutex
			g  errgroup.Group
		)
		g.SetLimit(max(jr.config.Workers, 1))
		for _, vt := range groups {
			g.Go(func() error {
				res, err := jr.processVendor(ctx, vt, today)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					logger.Error("Trial scan failed for vendor", "vendorID", vt.vendorID, "error", err)
					run.Failures = append(run.Failures, domain.AccountFailure{VendorID: vt.vendorID, Error: err.Error()})
					return nil
				}
				run.Dispatched += res.dispatched
				run.Transitioned += res.transitioned
				return nil
			})
		}
		_ = g.Wait()

		run.Processed = len(groups)
		slices.SortFunc(run.Failures, func(a, b domain.AccountFailure) int {
			switch {
			case a.VendorID < b.VendorID:
				return -1
			case a.VendorID > b.VendorID:
				return 1
			}
			return 0
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	summary.RunID = run.ID
	summary.StartedAt = run.StartedAt
	summary.FinishedAt = *run.FinishedAt
	summary.Dispatched = run.Dispatched
	summary.Transitioned = run.Transitioned
	summary.Failures = run.Failures
	return summary, nil
}

// groupByVendor buckets open trials per vendor. A vendor's trial ends with the
// earliest payment obligation start among its trials.
func groupByVendor(trials []domain.Contract) []vendorTrials {
	byVendor := make(map[string]*vendorTrials)
	var order []string
	for _, c := range trials {
		end, ok := c.TrialEndDate()
		if !ok {
			continue
		}
		vt, seen := byVendor[c.VendorID]
		if !seen {
			vt = &vendorTrials{vendorID: c.VendorID, trialEnd: end}
			byVendor[c.VendorID] = vt
			order = append(order, c.VendorID)
		}
		if end.Before(vt.trialEnd) {
			vt.trialEnd = end
		}
		vt.contracts = append(vt.contracts, c)
	}
	slices.Sort(order)

	out := make([]vendorTrials, 0, len(order))
	for _, id := range order {
		out = append(out, *byVendor[id])
	}
	return out
}

// processVendor sets every due reminder flag, queues only the most urgent
// reminder and, once the trial has ended, converts or expires the vendor's
// lapsed trials. Flags, queue rows and transitions commit together.
func (jr *JobRunner) processVendor(ctx context.Context, vt vendorTrials, today time.Time) (vendorResult, error) {
	daysRemaining := domain.DaysBetween(today, vt.trialEnd)
	now := jr.clock.Now()

	var res vendorResult
	err := jr.store.Within(ctx, func(ctx context.Context, tx repository.Tx) error {
		res = vendorResult{}
		state, err := jr.lockTrialState(ctx, tx, vt.vendorID)
		if err != nil {
			return err
		}

		due := state.DueThresholds(daysRemaining)
		for _, t := range due {
			state.MarkSent(t, now)
		}
		if urgent, ok := domain.MostUrgent(due); ok {
			kind := urgent.NotificationKind()
			payload := map[string]any{
				"days_remaining": max(daysRemaining, 0),
				"trial_end":      domain.FormatDate(vt.trialEnd),
			}
			if urgent == domain.ReminderExpiration && state.ConversionRequested() {
				kind = domain.NotificationTrialConverted
				payload["conversion_date"] = domain.FormatDate(vt.trialEnd)
			}
			_, err := jr.services.Notifications.EnqueueTx(ctx, tx, kind, vt.vendorID, payload)
			if err != nil {
				return err
			}
			res.dispatched++
		}

		if daysRemaining <= 0 {
			n, err := endLapsedTrials(ctx, tx, state, vt.contracts, today)
			if err != nil {
				return err
			}
			res.transitioned = n
		}
		return tx.TrialStates().Update(ctx, state)
	})
	return res, err
}

// lockTrialState locks the vendor's flags, creating them for vendors that
// predate trial tracking.
func (jr *JobRunner) lockTrialState(ctx context.Context, tx repository.Tx, vendorID string) (*domain.TrialState, error) {
	state, err := tx.TrialStates().GetForUpdate(ctx, vendorID)
	if err == nil {
		return state, nil
	}
	if !errs.Is(err, errs.ErrNotFound) {
		return nil, err
	}
	state = &domain.TrialState{VendorID: vendorID}
	if err := tx.TrialStates().Create(ctx, state); err != nil {
		return nil, err
	}
	return tx.TrialStates().GetForUpdate(ctx, vendorID)
}

// endLapsedTrials transitions every trial whose payment obligation has begun.
// The transition is dated at the trial end so a late scan neither bills nor
// frees days it did not observe.
func endLapsedTrials(ctx context.Context, tx repository.Tx, state *domain.TrialState, contracts []domain.Contract, today time.Time) (int, error) {
	transitioned := 0
	for _, listed := range contracts {
		end, ok := listed.TrialEndDate()
		if !ok || end.After(today) {
			continue
		}
		c, err := tx.Contracts().GetForUpdate(ctx, listed.ID)
		if err != nil {
			return transitioned, err
		}
		if !slices.Contains(domain.TrialPhaseStates, c.State) {
			continue
		}

		if state.ConversionRequested() {
			changed, err := c.AdvanceToActive(end)
			if err != nil {
				return transitioned, err
			}
			if !changed {
				continue
			}
			state.TrialConversionDate = domain.DatePtr(end)
		} else if err := c.Expire(end); err != nil {
			return transitioned, err
		}

		if err := tx.Contracts().Update(ctx, c); err != nil {
			return transitioned, err
		}
		logger.Info("Trial ended", "contractID", c.ID, "vendorID", c.VendorID, "state", c.State)
		transitioned++
	}
	return transitioned, nil
}

// GetSchedulerStatus returns the latest trial scan run and the current overlap
// streak.
func (jr *JobRunner) GetSchedulerStatus(ctx context.Context) (*SchedulerStatus, error) {
	status := &SchedulerStatus{}
	run, err := jr.store.JobRuns().Latest(ctx, JobTrialScan)
	switch {
	case err == nil:
		status.LastRun = run
	case !errs.Is(err, errs.ErrNotFound):
		return nil, errs.Wrap(err, "load latest trial scan")
	}

	overlaps, err := jr.consecutiveOverlaps(ctx, JobTrialScan, 100)
	if err != nil {
		return nil, errs.Wrap(err, "count overlapping runs")
	}
	status.ConsecutiveOverlaps = overlaps
	return status, nil
}
