package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"shelfmarket-backend/internal/domain"
	"shelfmarket-backend/internal/repository"
)

type AvailabilityService interface {
	CheckAvailability(ctx context.Context, start time.Time, durationDays int, types []string) ([]domain.UnitAvailability, error)
	IsOccupiedOn(ctx context.Context, unitID string, day time.Time) (bool, error)
}

// UnitAssignment places one unit of a booking into the contract. A nil Interval
// uses the booking interval; a nil price uses the unit list price.
type UnitAssignment struct {
	UnitID            string           `json:"unit_id"`
	Interval          *domain.Interval `json:"interval,omitempty"`
	MonthlyPriceCents *int64           `json:"monthly_price_cents,omitempty"`
}

type ContractService interface {
	ConfirmBooking(ctx context.Context, pendingBookingID string, assignments []UnitAssignment) (*domain.Contract, error)
	StartContract(ctx context.Context, contractID string) (*domain.Contract, bool, error)
	AdvanceToActive(ctx context.Context, contractID string) (*domain.Contract, bool, error)
	CancelContract(ctx context.Context, contractID string, effective time.Time) (*domain.Contract, error)
	ExpireContract(ctx context.Context, contractID string) (*domain.Contract, error)
	ReviseServices(ctx context.Context, contractID string, services []domain.Service) (*domain.Contract, error)
	GetContract(ctx context.Context, contractID string) (*domain.Contract, error)
}

type BookingRequest struct {
	VendorID     string    `json:"vendor_id"`
	UnitIDs      []string  `json:"unit_ids"`
	Start        time.Time `json:"start"`
	DurationDays int       `json:"duration_days"`
	OpenEnded    bool      `json:"open_ended"`
	IsTrial      bool      `json:"is_trial"`
	TrialDays    int       `json:"trial_days"`
}

type BookingService interface {
	CreateBooking(ctx context.Context, req BookingRequest) (*domain.PendingBooking, error)
	CancelBooking(ctx context.Context, bookingID string) (*domain.PendingBooking, error)
	GetBooking(ctx context.Context, bookingID string) (*domain.PendingBooking, error)
}

type VendorService interface {
	RegisterVendor(ctx context.Context, name, email string) (*domain.Vendor, error)
	ConfirmTrialConversion(ctx context.Context, vendorID string) (*domain.TrialState, error)
	ResetTrialReminders(ctx context.Context, vendorID string) (*domain.TrialState, error)
}

type CatalogService interface {
	CreateUnit(ctx context.Context, unit *domain.RentalUnit) error
	UpdateUnit(ctx context.Context, unit *domain.RentalUnit) error
}

type RevenueReport struct {
	Start         time.Time       `json:"start"`
	End           time.Time       `json:"end"`
	Total         decimal.Decimal `json:"total"`
	TotalCents    int64           `json:"total_cents"`
	ContractCount int             `json:"contract_count"`
}

type RevenueService interface {
	RevenueForPeriod(ctx context.Context, start, end time.Time) (*RevenueReport, error)
}

type DeliveryStats struct {
	Claimed int `json:"claimed"`
	Sent    int `json:"sent"`
	Retried int `json:"retried"`
	Failed  int `json:"failed"`
}

type NotificationService interface {
	Enqueue(ctx context.Context, kind, recipientID string, payload map[string]any) (string, error)
	// EnqueueTx writes the job inside the caller's transaction.
	EnqueueTx(ctx context.Context, tx repository.Tx, kind, recipientID string, payload map[string]any) (string, error)
	DeliverDue(ctx context.Context) (DeliveryStats, error)
}

// Message is a rendered notification handed to a transport.
type Message struct {
	JobID       string         `json:"job_id"`
	Kind        string         `json:"kind"`
	RecipientID string         `json:"recipient_id"`
	To          string         `json:"to"`
	ToName      string         `json:"to_name"`
	Subject     string         `json:"subject"`
	Body        string         `json:"body"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// Sender delivers a rendered message. Errors marked errs.ErrPermanentDelivery
// are not retried.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type Alerter interface {
	Alert(ctx context.Context, subject, message string)
}
