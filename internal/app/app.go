// Package app wires configuration into stores, services and jobs for the
// server and cronjob binaries.
package app

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"shelfmarket-backend/internal/broker/kafka"
	"shelfmarket-backend/internal/clock"
	"shelfmarket-backend/internal/config"
	"shelfmarket-backend/internal/errs"
	"shelfmarket-backend/internal/jobs"
	"shelfmarket-backend/internal/logger"
	"shelfmarket-backend/internal/repository"
	"shelfmarket-backend/internal/repository/memory"
	"shelfmarket-backend/internal/repository/postgres"
	"shelfmarket-backend/internal/service"
)

// App holds the wired dependency graph.
type App struct {
	Config *config.Config
	Store  repository.Store
	Clock  clock.Clock

	Notifications service.NotificationService
	Alerter       service.Alerter
	Availability  service.AvailabilityService
	Bookings      service.BookingService
	Contracts     service.ContractService
	Vendors       service.VendorService
	Catalog       service.CatalogService
	Revenue       service.RevenueService

	Jobs *jobs.JobRunner

	closers []func() error
}

// Build opens the configured store and transport and wires every service.
// Callers must Close the returned App.
func Build(ctx context.Context, cfg *config.Config, clk clock.Clock) (*App, error) {
	a := &App{Config: cfg, Clock: clk}

	store, err := a.openStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = store

	var publisher service.Publisher
	if cfg.Notification.Transport == "kafka" {
		producer, err := kafka.NewProducer(cfg.Notification.Kafka)
		if err != nil {
			a.Close()
			return nil, errs.Wrap(err, "connect to kafka")
		}
		a.closers = append(a.closers, producer.Close)
		publisher = producer
	}
	sender, err := service.NewSender(cfg, publisher)
	if err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("Notification transport configured", "transport", cfg.Notification.Transport)

	a.Alerter = service.NewAdminAlerter(sender, cfg.Notification.AdminEmail)
	a.Notifications = service.NewNotificationService(store, sender, a.Alerter, clk, cfg.Notification)
	a.Availability = service.NewAvailabilityService(store.Units(), store.Contracts())
	a.Bookings = service.NewBookingService(store, cfg.Trial.DefaultDays)
	a.Contracts = service.NewContractService(store, a.Notifications, clk)
	a.Vendors = service.NewVendorService(store, clk)
	a.Catalog = service.NewCatalogService(store)
	a.Revenue = service.NewRevenueService(store.Contracts())

	a.Jobs = jobs.NewJobRunner(store, &jobs.Services{
		Contracts:     a.Contracts,
		Notifications: a.Notifications,
		Alerter:       a.Alerter,
	}, clk, cfg.Scheduler)

	return a, nil
}

func (a *App) openStore(ctx context.Context) (repository.Store, error) {
	cfg := a.Config
	if cfg.Storage.Type == "memory" {
		logger.Warn("Using in-memory storage, data is lost on exit")
		return memory.New(a.Clock.Now), nil
	}

	logger.Debug("Connecting to database...", "connection_string", fmt.Sprintf("%s@%s:%d/%s", cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database))
	db, err := sql.Open("postgres", cfg.GetDatabaseConnectionString())
	if err != nil {
		return nil, errs.Wrap(err, "open database")
	}
	a.closers = append(a.closers, db.Close)
	if cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, errs.Wrap(err, "ping database")
	}
	logger.Info("Database connection established", "host", cfg.Database.Host, "database", cfg.Database.Database)

	if cfg.Storage.EnsureSchema {
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			return nil, err
		}
		logger.Info("Database schema ensured")
	}
	return postgres.NewStore(db, cfg.Database.TxMaxRetries), nil
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Error("Failed to close resource", "error", err)
		}
	}
	a.closers = nil
}
