package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"shelfmarket-backend/internal/clock"
	"shelfmarket-backend/internal/config"
	"shelfmarket-backend/internal/domain"
	"shelfmarket-backend/internal/errs"
	"shelfmarket-backend/internal/logger"
	"shelfmarket-backend/internal/repository"
	"shelfmarket-backend/internal/service"
)

// Persisted job names. They key the job lock and the run history.
const (
	JobTrialScan          = "trial_scan"
	JobContractActivation = "contract_activation"
)

// JobRunner coordinates all scheduled jobs
type JobRunner struct {
	store    repository.Store
	services *Services
	clock    clock.Clock
	config   config.SchedulerConfig
	holder   string
}

// Services holds all service dependencies needed by jobs
type Services struct {
	Contracts     service.ContractService
	Notifications service.NotificationService
	Alerter       service.Alerter
}

// NewJobRunner creates a new job runner with all dependencies
func NewJobRunner(store repository.Store, services *Services, clk clock.Clock, cfg config.SchedulerConfig) *JobRunner {
	return &JobRunner{
		store:    store,
		services: services,
		clock:    clk,
		config:   cfg,
		holder:   "runner-" + uuid.NewString(),
	}
}

func (jr *JobRunner) Config() config.SchedulerConfig {
	return jr.config
}

// runWithRecovery wraps job execution with panic recovery
func (jr *JobRunner) runWithRecovery(jobName string, jobFunc func(ctx context.Context) error) {
	log := logger.WithJob(jobName)
	defer func() {
		if r := recover(); r != nil {
			log.Error("Job panicked", "panic", r)
		}
	}()

	log.Info("Starting job")
	start := time.Now()
	if err := jobFunc(context.Background()); err != nil {
		if errs.Is(err, errs.ErrJobOverlap) {
			log.Warn("Job skipped", "reason", err)
			return
		}
		log.Error("Job failed", "error", err, "stack", errs.ExtractStackLines(err, 5))
		return
	}
	log.Info("Job completed", "duration", time.Since(start))
}

// exclusive runs fn under the persisted lock for jobName and records the run.
// A held lock records an overlap run and returns ErrJobOverlap.
func (jr *JobRunner) exclusive(ctx context.Context, jobName string, fn func(ctx context.Context, run *domain.JobRun) error) (*domain.JobRun, error) {
	now := jr.clock.Now()
	acquired, tookOver, err := jr.store.JobLocks().TryAcquire(ctx, jobName, jr.holder, now, jr.config.StaleLockAfter)
	if err != nil {
		return nil, errs.Wrapf(err, "acquire %s lock", jobName)
	}
	if !acquired {
		return nil, jr.recordOverlap(ctx, jobName, now)
	}
	defer func() {
		if err := jr.store.JobLocks().Release(context.WithoutCancel(ctx), jobName, jr.holder); err != nil {
			logger.Error("Failed to release job lock", "job", jobName, "error", err)
		}
	}()
	if tookOver {
		logger.Warn("Took over stale job lock, previous run presumably crashed", "job", jobName, "stale_after", jr.config.StaleLockAfter)
	}

	run := &domain.JobRun{
		ID:        uuid.NewString(),
		JobName:   jobName,
		StartedAt: now,
		Outcome:   domain.JobRunRunning,
	}
	if err := jr.store.JobRuns().Create(ctx, run); err != nil {
		return nil, errs.Wrapf(err, "record %s run", jobName)
	}

	runErr := fn(ctx, run)

	finished := jr.clock.Now()
	run.FinishedAt = &finished
	run.Outcome = domain.JobRunCompleted
	if runErr != nil {
		run.Failures = append(run.Failures, domain.AccountFailure{Error: runErr.Error()})
	}
	if err := jr.store.JobRuns().Finish(context.WithoutCancel(ctx), run); err != nil {
		logger.Error("Failed to record job run", "job", jobName, "runID", run.ID, "error", err)
	}
	return run, runErr
}

// recordOverlap persists the skipped run and alerts once the last
// OverlapAlertAfter runs were all skipped.
func (jr *JobRunner) recordOverlap(ctx context.Context, jobName string, now time.Time) error {
	run := &domain.JobRun{
		ID:         uuid.NewString(),
		JobName:    jobName,
		StartedAt:  now,
		FinishedAt: &now,
		Outcome:    domain.JobRunOverlap,
	}
	if err := jr.store.JobRuns().Create(ctx, run); err != nil {
		logger.Error("Failed to record overlapping run", "job", jobName, "error", err)
	}

	overlaps, err := jr.consecutiveOverlaps(ctx, jobName, jr.config.OverlapAlertAfter)
	if err != nil {
		logger.Error("Failed to count overlapping runs", "job", jobName, "error", err)
	}
	logger.Warn("Job already running, skipping", "job", jobName, "consecutive_overlaps", overlaps)
	if jr.config.OverlapAlertAfter > 0 && overlaps >= jr.config.OverlapAlertAfter {
		jr.services.Alerter.Alert(ctx, "Scheduled job keeps overlapping",
			fmt.Sprintf("Job %s found its previous run still in progress on the last %d attempts.", jobName, overlaps))
	}
	return errs.Mark(errs.Newf("%s is already running", jobName), errs.ErrJobOverlap)
}

func (jr *JobRunner) consecutiveOverlaps(ctx context.Context, jobName string, limit int) (int, error) {
	if limit <= 0 {
		limit = 1
	}
	outcomes, err := jr.store.JobRuns().RecentOutcomes(ctx, jobName, limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, o := range outcomes {
		if o != domain.JobRunOverlap {
			break
		}
		n++
	}
	return n, nil
}
