package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"shelfmarket-backend/internal/app"
	"shelfmarket-backend/internal/clock"
	"shelfmarket-backend/internal/config"
	"shelfmarket-backend/internal/jobs"
	"shelfmarket-backend/internal/logger"
	"shelfmarket-backend/internal/scheduler"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "config/config.dev.yaml", "Path to configuration file")
	runOnce := flag.String("run-once", "", "Run a specific job once and exit (e.g., 'trial-scan', 'all-daily')")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.Initialize(cfg.Log.Level, cfg.Log.Format)
	logger.Info("Starting cronjob runner...", "log_level", cfg.Log.Level)

	a, err := app.Build(context.Background(), cfg, clock.RealClock{})
	if err != nil {
		logger.Error("Failed to initialize application", "error", err)
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer a.Close()

	// Check if running a single job
	if *runOnce != "" {
		logger.Info("Running job once", "job", *runOnce)
		if !runJobOnce(a.Jobs, *runOnce) {
			a.Close()
			os.Exit(1)
		}
		logger.Info("Job execution completed", "job", *runOnce)
		return
	}

	// Initialize Scheduler
	cronScheduler, err := scheduler.NewScheduler(a.Jobs)
	if err != nil {
		logger.Error("Failed to register cron jobs", "error", err)
		a.Close()
		log.Fatalf("Failed to register cron jobs: %v", err)
	}

	// Start scheduler
	cronScheduler.Start()
	logger.Info("Cronjob scheduler is running. Press Ctrl+C to stop.")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	// Graceful shutdown
	logger.Info("Shutting down cronjob scheduler...")
	cronScheduler.Stop()
	logger.Info("Cronjob scheduler stopped. Goodbye!")
}

// runJobOnce runs a specific job once. It reports false for an unknown name.
func runJobOnce(jobRunner *jobs.JobRunner, jobName string) bool {
	switch jobName {
	case "activate-contracts":
		jobRunner.ActivateContracts()
	case "trial-scan":
		jobRunner.TrialScan()
	case "deliver-notifications":
		jobRunner.DeliverNotifications()
	case "all-daily":
		jobRunner.RunAllDailyJobs()
	default:
		logger.Error("Unknown job name", "job", jobName)
		fmt.Printf("Available jobs:\n")
		fmt.Printf("  - activate-contracts\n")
		fmt.Printf("  - trial-scan\n")
		fmt.Printf("  - deliver-notifications\n")
		fmt.Printf("  - all-daily\n")
		return false
	}
	return true
}
