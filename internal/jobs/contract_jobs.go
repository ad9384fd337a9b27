package jobs

import (
	"context"

	"shelfmarket-backend/internal/domain"
	"shelfmarket-backend/internal/errs"
	"shelfmarket-backend/internal/logger"
)

// ActivateContracts is the cron entry point.
func (jr *JobRunner) ActivateContracts() {
	jr.runWithRecovery("ActivateStartedContracts", func(ctx context.Context) error {
		summary, err := jr.ActivateStartedContracts(ctx)
		if err != nil {
			return err
		}
		logger.Info("Contract activation finished", "started", summary.Transitioned, "failures", len(summary.Failures))
		return nil
	})
}

// ActivateStartedContracts starts every scheduled contract whose first day has
// been reached.
func (jr *JobRunner) ActivateStartedContracts(ctx context.Context) (*RunSummary, error) {
	run, err := jr.exclusive(ctx, JobContractActivation, func(ctx context.Context, run *domain.JobRun) error {
		today := domain.Date(jr.clock.Now())
		due, err := jr.store.Contracts().ListDueForStart(ctx, today)
		if err != nil {
			return errs.Wrap(err, "load contracts due for start")
		}
		run.Processed = len(due)

		for _, c := range due {
			_, changed, err := jr.services.Contracts.StartContract(ctx, c.ID)
			if err != nil {
				logger.Error("Failed to start contract", "contractID", c.ID, "error", err)
				run.Failures = append(run.Failures, domain.AccountFailure{VendorID: c.VendorID, ContractID: c.ID, Error: err.Error()})
				continue
			}
			if changed {
				logger.Debug("Contract started", "contractID", c.ID, "vendorID", c.VendorID)
				run.Transitioned++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &RunSummary{
		RunID:        run.ID,
		StartedAt:    run.StartedAt,
		FinishedAt:   *run.FinishedAt,
		Vendors:      run.Processed,
		Transitioned: run.Transitioned,
		Failures:     run.Failures,
	}, nil
}
