package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	httpapi "shelfmarket-backend/internal/api/http"
	"shelfmarket-backend/internal/app"
	"shelfmarket-backend/internal/clock"
	"shelfmarket-backend/internal/config"
	"shelfmarket-backend/internal/logger"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "config/config.dev.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.Initialize(cfg.Log.Level, cfg.Log.Format)
	logger.Info("Starting shelf marketplace backend...", "log_level", cfg.Log.Level, "log_format", cfg.Log.Format)
	logger.Info("Server configuration", "address", cfg.GetServerAddress(), "storage", cfg.Storage.Type)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, clock.RealClock{})
	if err != nil {
		logger.Error("Failed to initialize application", "error", err)
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer a.Close()

	handler := httpapi.NewHandler(httpapi.Services{
		Availability: a.Availability,
		Bookings:     a.Bookings,
		Contracts:    a.Contracts,
		Vendors:      a.Vendors,
		Catalog:      a.Catalog,
		Revenue:      a.Revenue,
		Scanner:      a.Jobs,
	})
	router := mux.NewRouter()
	httpapi.RegisterRoutes(router, handler)

	srv := &http.Server{
		Addr:              cfg.GetServerAddress(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "address", srv.Addr)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			a.Close()
			log.Fatalf("Failed to serve: %v", err)
		}
	case <-ctx.Done():
	}

	// Graceful shutdown
	logger.Info("Shutting down HTTP server...", "timeout", cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	logger.Info("HTTP server stopped")
}
