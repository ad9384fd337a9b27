package service_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"shelfmarket-backend/internal/clock"
	"shelfmarket-backend/internal/config"
	"shelfmarket-backend/internal/domain"
	"shelfmarket-backend/internal/repository"
	"shelfmarket-backend/internal/repository/memory"
	"shelfmarket-backend/internal/service"
)

type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, msg service.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

type recordingAlerter struct {
	mu       sync.Mutex
	subjects []string
}

func (a *recordingAlerter) Alert(_ context.Context, subject, _ string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subjects = append(a.subjects, subject)
}

func (a *recordingAlerter) Subjects() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.subjects...)
}

func notificationConfig() config.NotificationConfig {
	return config.NotificationConfig{
		Transport:   "log",
		MaxAttempts: 3,
		BaseBackoff: 30 * time.Second,
		MaxBackoff:  time.Hour,
		BatchSize:   50,
		ClaimLease:  10 * time.Minute,
	}
}

type fixture struct {
	store     *memory.Store
	clock     *clock.MockClock
	alerts    *recordingAlerter
	notifier  service.NotificationService
	contracts service.ContractService
	bookings  service.BookingService
	vendors   service.VendorService
	catalog   service.CatalogService
}

func newFixture(t *testing.T, today string) *fixture {
	t.Helper()
	clk := clock.NewMockClock(domain.MustDate(today).Add(9 * time.Hour))
	store := memory.New(clk.Now)
	alerts := &recordingAlerter{}
	notifier := service.NewNotificationService(store, service.NewLogSender(), alerts, clk, notificationConfig())
	return &fixture{
		store:     store,
		clock:     clk,
		alerts:    alerts,
		notifier:  notifier,
		contracts: service.NewContractService(store, notifier, clk),
		bookings:  service.NewBookingService(store, 30),
		vendors:   service.NewVendorService(store, clk),
		catalog:   service.NewCatalogService(store),
	}
}

func (f *fixture) vendor(t *testing.T, name string) *domain.Vendor {
	t.Helper()
	email := strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@example.com"
	v, err := f.vendors.RegisterVendor(context.Background(), name, email)
	require.NoError(t, err)
	return v
}

func (f *fixture) unit(t *testing.T, name, unitType string, priceCents int64) *domain.RentalUnit {
	t.Helper()
	u := &domain.RentalUnit{Name: name, Type: unitType, Site: "Markthalle", ListPriceCents: priceCents}
	require.NoError(t, f.catalog.CreateUnit(context.Background(), u))
	return u
}

func (f *fixture) book(t *testing.T, req service.BookingRequest) *domain.PendingBooking {
	t.Helper()
	b, err := f.bookings.CreateBooking(context.Background(), req)
	require.NoError(t, err)
	return b
}

// contract books and confirms units for days starting at start. days == 0
// books an open-ended contract.
func (f *fixture) contract(t *testing.T, vendorID, start string, days int, unitIDs ...string) *domain.Contract {
	t.Helper()
	b := f.book(t, service.BookingRequest{
		VendorID:     vendorID,
		UnitIDs:      unitIDs,
		Start:        domain.MustDate(start),
		DurationDays: days,
		OpenEnded:    days == 0,
	})
	c, err := f.contracts.ConfirmBooking(context.Background(), b.ID, nil)
	require.NoError(t, err)
	return c
}

// failingQueueStore rejects every queue write outside transactions.
type failingQueueStore struct {
	*memory.Store
	err error
}

func (s failingQueueStore) NotificationJobs() repository.NotificationJobRepository {
	return failingJobs{NotificationJobRepository: s.Store.NotificationJobs(), err: s.err}
}

type failingJobs struct {
	repository.NotificationJobRepository
	err error
}

func (j failingJobs) Enqueue(context.Context, *domain.NotificationJob) error {
	return j.err
}
