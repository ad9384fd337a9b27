package domain

import (
	"fmt"
	"strings"
	"time"

	"shelfmarket-backend/internal/errs"
)

// Conflict is one contract blocking a unit during a requested interval.
type Conflict struct {
	ContractID string   `json:"contract_id"`
	VendorName string   `json:"vendor_name"`
	Interval   Interval `json:"interval"`
}

type UnitAvailability struct {
	Unit          RentalUnit `json:"unit"`
	Available     bool       `json:"available"`
	Conflicts     []Conflict `json:"conflicts,omitempty"`
	NextAvailable *time.Time `json:"next_available,omitempty"`
}

// ConflictError carries the concrete conflicts of a unit that lost a booking race.
type ConflictError struct {
	UnitID    string
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	parts := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		parts = append(parts, fmt.Sprintf("%s %s", c.ContractID, c.Interval))
	}
	return fmt.Sprintf("unit %s is booked by %s", e.UnitID, strings.Join(parts, ", "))
}

// NewConflictError returns a ConflictError marked as ErrUnitConflict.
func NewConflictError(unitID string, conflicts []Conflict) error {
	return errs.Mark(&ConflictError{UnitID: unitID, Conflicts: conflicts}, errs.ErrUnitConflict)
}

// ContractCharge is the per-contract row revenue aggregation works on.
type ContractCharge struct {
	ContractID             string     `json:"contract_id"`
	IsTrial                bool       `json:"is_trial"`
	PaymentObligationStart *time.Time `json:"payment_obligation_start,omitempty"`
	Impact                 Interval   `json:"availability_impact"`
	MonthlyPriceCents      int64      `json:"monthly_price_cents"`
}

// BillableIn reports whether the charge counts toward the period [start, end).
// A trial counts once its payment obligation has begun by the period end, and
// only if the contract was still running when it began.
func (c ContractCharge) BillableIn(period Interval) bool {
	if period.To == nil || !c.Impact.Overlaps(period) {
		return false
	}
	if !c.IsTrial {
		return true
	}
	if c.PaymentObligationStart == nil {
		return false
	}
	pos := *c.PaymentObligationStart
	if pos.After(*period.To) {
		return false
	}
	if c.Impact.To != nil && !pos.Before(*c.Impact.To) {
		return false
	}
	return true
}
