package http

import (
	"context"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"shelfmarket-backend/internal/jobs"
	"shelfmarket-backend/internal/logger"
	"shelfmarket-backend/internal/service"
)

// TrialScanner exposes the on-demand trial scan and its status.
type TrialScanner interface {
	RunTrialScan(ctx context.Context) (*jobs.RunSummary, error)
	GetSchedulerStatus(ctx context.Context) (*jobs.SchedulerStatus, error)
}

// Handler serves the marketplace admin API.
type Handler struct {
	availability service.AvailabilityService
	bookings     service.BookingService
	contracts    service.ContractService
	vendors      service.VendorService
	catalog      service.CatalogService
	revenue      service.RevenueService
	scanner      TrialScanner
}

// Services bundles the handler dependencies.
type Services struct {
	Availability service.AvailabilityService
	Bookings     service.BookingService
	Contracts    service.ContractService
	Vendors      service.VendorService
	Catalog      service.CatalogService
	Revenue      service.RevenueService
	Scanner      TrialScanner
}

func NewHandler(s Services) *Handler {
	return &Handler{
		availability: s.Availability,
		bookings:     s.Bookings,
		contracts:    s.Contracts,
		vendors:      s.Vendors,
		catalog:      s.Catalog,
		revenue:      s.Revenue,
		scanner:      s.Scanner,
	}
}

// RegisterRoutes registers the admin API on router.
func RegisterRoutes(router *mux.Router, h *Handler) {
	router.Use(requestLogger, recovery)

	v1 := router.PathPrefix("/v1").Subrouter()

	v1.HandleFunc("/availability", h.CheckAvailability).Methods(http.MethodGet)

	v1.HandleFunc("/bookings", h.CreateBooking).Methods(http.MethodPost)
	v1.HandleFunc("/bookings/{id}", h.GetBooking).Methods(http.MethodGet)
	v1.HandleFunc("/bookings/{id}/cancel", h.CancelBooking).Methods(http.MethodPost)
	v1.HandleFunc("/bookings/{id}/confirm", h.ConfirmBooking).Methods(http.MethodPost)

	v1.HandleFunc("/contracts/{id}", h.GetContract).Methods(http.MethodGet)
	v1.HandleFunc("/contracts/{id}/cancel", h.CancelContract).Methods(http.MethodPost)
	v1.HandleFunc("/contracts/{id}/advance", h.AdvanceContract).Methods(http.MethodPost)
	v1.HandleFunc("/contracts/{id}/services", h.ReviseServices).Methods(http.MethodPut)

	v1.HandleFunc("/reports/revenue", h.RevenueReport).Methods(http.MethodGet)

	v1.HandleFunc("/vendors", h.RegisterVendor).Methods(http.MethodPost)
	v1.HandleFunc("/vendors/{id}/trial-conversion", h.ConfirmTrialConversion).Methods(http.MethodPost)
	v1.HandleFunc("/vendors/{id}/trial-reset", h.ResetTrialReminders).Methods(http.MethodPost)

	v1.HandleFunc("/units", h.CreateUnit).Methods(http.MethodPost)
	v1.HandleFunc("/units/{id}", h.UpdateUnit).Methods(http.MethodPut)

	v1.HandleFunc("/admin/trial-scan", h.RunTrialScan).Methods(http.MethodPost)
	v1.HandleFunc("/admin/scheduler-status", h.SchedulerStatus).Methods(http.MethodGet)
}

const requestIDHeader = "X-Request-ID"

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// requestLogger tags each request with an id and logs it at a level chosen
// by the response status.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		attrs := []any{
			"status", rec.status,
			"method", r.Method,
			"path", r.URL.Path,
			"latency_ms", time.Since(start).Milliseconds(),
			"request_id", requestID,
		}
		switch {
		case rec.status >= 500:
			logger.Error("Request completed", attrs...)
		case rec.status >= 400:
			logger.Warn("Request completed", attrs...)
		default:
			logger.Debug("Request completed", attrs...)
		}
	})
}

func recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				logger.Error("Panic recovered",
					"panic", p,
					"method", r.Method,
					"path", r.URL.Path,
					"stack", string(debug.Stack()))
				writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error", Code: "internal"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
