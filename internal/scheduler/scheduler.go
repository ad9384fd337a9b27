package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"

	"shelfmarket-backend/internal/errs"
	"shelfmarket-backend/internal/jobs"
	"shelfmarket-backend/internal/logger"
)

// Scheduler manages cron job scheduling
type Scheduler struct {
	cron *cron.Cron
	jobs *jobs.JobRunner
}

// cronLogger routes cron's own messages into the application logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	logger.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

// NewScheduler creates a new scheduler with the provided job runner. Every
// schedule must parse; a bad spec fails startup instead of silently dropping
// the job.
func NewScheduler(jobRunner *jobs.JobRunner) (*Scheduler, error) {
	log := cronLogger{}
	// UTC with seconds precision. A job still running when its next tick fires
	// skips that tick.
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithSeconds(),
		cron.WithLogger(log),
		cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
	)

	s := &Scheduler{
		cron: c,
		jobs: jobRunner,
	}

	if err := s.registerJobs(); err != nil {
		return nil, err
	}
	return s, nil
}

// registerJobs registers all scheduled jobs with the cron scheduler
func (s *Scheduler) registerJobs() error {
	cfg := s.jobs.Config()

	entries := []struct {
		name string
		spec string
		fn   func()
	}{
		{"ActivateStartedContracts", cfg.ContractActivation, s.jobs.ActivateContracts},
		{"TrialScan", cfg.TrialScan, s.jobs.TrialScan},
		{"DeliverNotifications", cfg.NotificationDelivery, s.jobs.DeliverNotifications},
	}
	for _, e := range entries {
		if _, err := s.cron.AddFunc(e.spec, e.fn); err != nil {
			return errs.Wrapf(err, "register %s job with schedule %q", e.name, e.spec)
		}
		logger.Debug("Registered cron job", "job", e.name, "schedule", e.spec)
	}

	logger.Info("All cron jobs registered successfully", "count", len(entries))
	return nil
}

// Start begins the cron scheduler
func (s *Scheduler) Start() {
	logger.Info("Starting cron scheduler...")
	s.cron.Start()
	logger.Info("Cron scheduler started successfully")
}

// Stop gracefully stops the cron scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	logger.Info("Stopping cron scheduler...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	logger.Info("Cron scheduler stopped")
}

// Entries returns the number of registered jobs
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
