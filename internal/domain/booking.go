package domain

import (
	"time"

	"shelfmarket-backend/internal/errs"
)

type PendingBookingStatus string

const (
	PendingBookingStatusPending   PendingBookingStatus = "pending"
	PendingBookingStatusCompleted PendingBookingStatus = "completed"
	PendingBookingStatusCancelled PendingBookingStatus = "cancelled"
)

// PendingBooking is a provisional request that becomes a contract on confirmation.
type PendingBooking struct {
	ID         string               `json:"id"`
	VendorID   string               `json:"vendor_id"`
	UnitIDs    []string             `json:"unit_ids"`
	Interval   Interval             `json:"interval"`
	IsTrial    bool                 `json:"is_trial"`
	TrialDays  int                  `json:"trial_days"`
	Status     PendingBookingStatus `json:"status"`
	ContractID string               `json:"contract_id,omitempty"`
	CreatedOn  time.Time            `json:"created_on"`
	UpdatedOn  time.Time            `json:"updated_on"`
}

func (b *PendingBooking) Validate() error {
	if b.VendorID == "" {
		return errs.Invalid("vendor is required")
	}
	if len(b.UnitIDs) == 0 {
		return errs.Invalid("at least one unit must be selected")
	}
	if b.Interval.Empty() {
		return errs.Invalid("requested interval %s is empty", b.Interval)
	}
	if b.IsTrial && b.TrialDays <= 0 {
		return errs.Invalid("trial booking needs a positive trial length")
	}
	return nil
}

// PaymentObligationStart is the day after the trial ends, nil for paid bookings.
func (b *PendingBooking) PaymentObligationStart() *time.Time {
	if !b.IsTrial {
		return nil
	}
	d := b.Interval.From.AddDate(0, 0, b.TrialDays)
	return &d
}

func (b *PendingBooking) Complete(contractID string) error {
	if b.Status != PendingBookingStatusPending {
		return errs.Invalid("booking %s is %s", b.ID, b.Status)
	}
	b.Status = PendingBookingStatusCompleted
	b.ContractID = contractID
	return nil
}

// Cancel withdraws a pending booking. Cancelling twice is a no-op.
func (b *PendingBooking) Cancel() error {
	switch b.Status {
	case PendingBookingStatusCancelled:
		return nil
	case PendingBookingStatusCompleted:
		return errs.Invalid("booking %s is already completed", b.ID)
	}
	b.Status = PendingBookingStatusCancelled
	return nil
}

type Vendor struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedOn time.Time `json:"created_on"`
}
