package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpapi "shelfmarket-backend/internal/api/http"
	"shelfmarket-backend/internal/clock"
	"shelfmarket-backend/internal/config"
	"shelfmarket-backend/internal/domain"
	"shelfmarket-backend/internal/errs"
	"shelfmarket-backend/internal/jobs"
	"shelfmarket-backend/internal/repository/memory"
	"shelfmarket-backend/internal/service"
)

type fakeScanner struct {
	summary *jobs.RunSummary
	status  *jobs.SchedulerStatus
	err     error
}

func (f *fakeScanner) RunTrialScan(context.Context) (*jobs.RunSummary, error) {
	return f.summary, f.err
}

func (f *fakeScanner) GetSchedulerStatus(context.Context) (*jobs.SchedulerStatus, error) {
	return f.status, f.err
}

type apiFixture struct {
	router  *mux.Router
	scanner *fakeScanner
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	clk := clock.NewMockClock(time.Date(2025, 9, 1, 9, 0, 0, 0, time.UTC))
	store := memory.New(clk.Now)
	notifier := service.NewNotificationService(store, service.NewLogSender(), service.NewAdminAlerter(service.NewLogSender(), ""), clk, config.NotificationConfig{
		MaxAttempts: 3,
		BaseBackoff: 30 * time.Second,
		MaxBackoff:  time.Hour,
		BatchSize:   10,
		ClaimLease:  time.Minute,
	})
	scanner := &fakeScanner{}
	h := httpapi.NewHandler(httpapi.Services{
		Availability: service.NewAvailabilityService(store.Units(), store.Contracts()),
		Bookings:     service.NewBookingService(store, 30),
		Contracts:    service.NewContractService(store, notifier, clk),
		Vendors:      service.NewVendorService(store, clk),
		Catalog:      service.NewCatalogService(store),
		Revenue:      service.NewRevenueService(store.Contracts()),
		Scanner:      scanner,
	})
	router := mux.NewRouter()
	httpapi.RegisterRoutes(router, h)
	return &apiFixture{router: router, scanner: scanner}
}

func (a *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

type apiError struct {
	Error     string            `json:"error"`
	Code      string            `json:"code"`
	UnitID    string            `json:"unit_id"`
	Conflicts []domain.Conflict `json:"conflicts"`
}

func (a *apiFixture) vendor(t *testing.T, name, email string) domain.Vendor {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/v1/vendors", map[string]string{"name": name, "email": email})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[domain.Vendor](t, rec)
}

func (a *apiFixture) unit(t *testing.T, name, unitType string) domain.RentalUnit {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/v1/units", map[string]any{
		"name":             name,
		"type":             unitType,
		"site":             "Markthalle",
		"list_price_cents": 5000,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[domain.RentalUnit](t, rec)
}

func (a *apiFixture) booking(t *testing.T, body map[string]any) domain.PendingBooking {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/v1/bookings", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[domain.PendingBooking](t, rec)
}

func TestBookingLifecycle(t *testing.T) {
	api := newAPI(t)
	lutz := api.vendor(t, "Imkerei Lutz", "lutz@example.com")
	berger := api.vendor(t, "Hofladen Berger", "berger@example.com")
	shelf := api.unit(t, "Regal A1", "Regal")
	assert.Equal(t, domain.UnitTypeShelf, shelf.Type)

	first := api.booking(t, map[string]any{
		"vendor_id":       lutz.ID,
		"unit_ids":        []string{shelf.ID},
		"start":           "2025-09-01",
		"duration_months": 1,
	})
	require.NotNil(t, first.Interval.To)
	assert.Equal(t, "2025-10-01", domain.FormatDate(*first.Interval.To))

	rec := api.do(t, http.MethodPost, "/v1/bookings/"+first.ID+"/confirm", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	contract := decode[domain.Contract](t, rec)
	assert.Equal(t, domain.ContractStateActive, contract.State)

	t.Run("overlapping confirmation reports the blocking interval", func(t *testing.T) {
		second := api.booking(t, map[string]any{
			"vendor_id":     berger.ID,
			"unit_ids":      []string{shelf.ID},
			"start":         "2025-09-15",
			"duration_days": 10,
		})
		rec := api.do(t, http.MethodPost, "/v1/bookings/"+second.ID+"/confirm", nil)
		require.Equal(t, http.StatusConflict, rec.Code)
		body := decode[apiError](t, rec)
		assert.Equal(t, "unit_conflict", body.Code)
		assert.Equal(t, shelf.ID, body.UnitID)
		require.Len(t, body.Conflicts, 1)
		assert.Equal(t, contract.ID, body.Conflicts[0].ContractID)
		assert.Equal(t, "[2025-09-01, 2025-10-01)", body.Conflicts[0].Interval.String())
	})

	t.Run("availability shows the next free day", func(t *testing.T) {
		rec := api.do(t, http.MethodGet, "/v1/availability?start=2025-09-10&duration_days=5&types=regal", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		body := decode[struct {
			Units []domain.UnitAvailability `json:"units"`
		}](t, rec)
		require.Len(t, body.Units, 1)
		assert.False(t, body.Units[0].Available)
		require.NotNil(t, body.Units[0].NextAvailable)
		assert.Equal(t, "2025-10-01", domain.FormatDate(*body.Units[0].NextAvailable))
	})

	t.Run("cancel twice answers 200 with a note", func(t *testing.T) {
		rec := api.do(t, http.MethodPost, "/v1/contracts/"+contract.ID+"/cancel", map[string]string{"effective_date": "2025-09-20"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		first := decode[struct {
			Contract domain.Contract `json:"contract"`
			Note     string          `json:"note"`
		}](t, rec)
		assert.Equal(t, domain.ContractStateCancelled, first.Contract.State)
		assert.Empty(t, first.Note)

		rec = api.do(t, http.MethodPost, "/v1/contracts/"+contract.ID+"/cancel", map[string]string{"effective_date": "2025-09-10"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		again := decode[struct {
			Contract domain.Contract `json:"contract"`
			Note     string          `json:"note"`
		}](t, rec)
		assert.Equal(t, "contract is already cancelled", again.Note)
		assert.Equal(t, "[2025-09-01, 2025-09-20)", again.Contract.Impact.String())
	})

	t.Run("revenue counts the cancelled contract", func(t *testing.T) {
		rec := api.do(t, http.MethodGet, "/v1/reports/revenue?start=2025-09-01&end=2025-10-01", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		report := decode[service.RevenueReport](t, rec)
		assert.Equal(t, int64(5000), report.TotalCents)
		assert.Equal(t, 1, report.ContractCount)
	})
}

func TestErrorMapping(t *testing.T) {
	api := newAPI(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"bad date", http.MethodGet, "/v1/availability?start=01.09.2025&duration_days=5&types=regal", nil, http.StatusBadRequest, "invalid_request"},
		{"missing duration", http.MethodGet, "/v1/availability?start=2025-09-01&types=regal", nil, http.StatusBadRequest, "invalid_request"},
		{"days and months", http.MethodGet, "/v1/availability?start=2025-09-01&duration_days=5&duration_months=1&types=regal", nil, http.StatusBadRequest, "invalid_request"},
		{"unknown type", http.MethodGet, "/v1/availability?start=2025-09-01&duration_days=5&types=sauna", nil, http.StatusBadRequest, "invalid_request"},
		{"unknown contract", http.MethodGet, "/v1/contracts/nope", nil, http.StatusNotFound, "not_found"},
		{"cancel unknown contract", http.MethodPost, "/v1/contracts/nope/cancel", map[string]string{"effective_date": "2025-09-01"}, http.StatusNotFound, "not_found"},
		{"cancel without date", http.MethodPost, "/v1/contracts/nope/cancel", map[string]string{}, http.StatusBadRequest, "invalid_request"},
		{"unknown body field", http.MethodPost, "/v1/vendors", map[string]string{"nickname": "x"}, http.StatusBadRequest, "invalid_request"},
		{"empty revenue period", http.MethodGet, "/v1/reports/revenue?start=2025-09-01&end=2025-09-01", nil, http.StatusBadRequest, "invalid_request"},
		{"unknown vendor trial reset", http.MethodPost, "/v1/vendors/nope/trial-reset", nil, http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[apiError](t, rec).Code)
		})
	}
}

func TestTrialScanEndpoints(t *testing.T) {
	api := newAPI(t)

	t.Run("summary", func(t *testing.T) {
		api.scanner.summary = &jobs.RunSummary{RunID: "run-1", Vendors: 2, Dispatched: 1}
		api.scanner.err = nil
		rec := api.do(t, http.MethodPost, "/v1/admin/trial-scan", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		body := decode[map[string]any](t, rec)
		assert.Equal(t, "run-1", body["run_id"])
		assert.Equal(t, []any{}, body["failures"])
	})

	t.Run("overlap", func(t *testing.T) {
		api.scanner.err = errs.Mark(errs.New("trial_scan is already running"), errs.ErrJobOverlap)
		rec := api.do(t, http.MethodPost, "/v1/admin/trial-scan", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "job_overlap", decode[apiError](t, rec).Code)
	})

	t.Run("status", func(t *testing.T) {
		api.scanner.err = nil
		api.scanner.status = &jobs.SchedulerStatus{ConsecutiveOverlaps: 2}
		rec := api.do(t, http.MethodGet, "/v1/admin/scheduler-status", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 2, decode[jobs.SchedulerStatus](t, rec).ConsecutiveOverlaps)
	})

	t.Run("status store failure hides detail", func(t *testing.T) {
		api.scanner.err = errs.New("connection refused")
		rec := api.do(t, http.MethodGet, "/v1/admin/scheduler-status", nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		body := decode[apiError](t, rec)
		assert.Equal(t, "internal", body.Code)
		assert.NotContains(t, body.Error, "connection refused")
	})
}

func TestRecoveryMiddleware(t *testing.T) {
	h := httpapi.NewHandler(httpapi.Services{})
	router := mux.NewRouter()
	httpapi.RegisterRoutes(router, h)

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/scheduler-status", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "internal", decode[apiError](t, rec).Code)
}
