package domain

import (
	"time"

	"shelfmarket-backend/internal/errs"
)

type ContractState string

const (
	ContractStateScheduled   ContractState = "SCHEDULED"
	ContractStateTrialActive ContractState = "TRIAL_ACTIVE"
	ContractStateActive      ContractState = "ACTIVE"
	ContractStateCancelled   ContractState = "CANCELLED"
	ContractStateExpired     ContractState = "EXPIRED"
)

// NonTerminalStates are the states in which a contract blocks its units.
var NonTerminalStates = []ContractState{
	ContractStateScheduled,
	ContractStateTrialActive,
	ContractStateActive,
}

// TrialPhaseStates are the states of a trial that has not been converted or ended.
var TrialPhaseStates = []ContractState{
	ContractStateScheduled,
	ContractStateTrialActive,
}

func (s ContractState) IsTerminal() bool {
	return s == ContractStateCancelled || s == ContractStateExpired
}

func (s ContractState) Valid() bool {
	switch s {
	case ContractStateScheduled, ContractStateTrialActive, ContractStateActive,
		ContractStateCancelled, ContractStateExpired:
		return true
	}
	return false
}

// Service binds one rental unit to a contract for a sub-interval.
type Service struct {
	ID                string   `json:"id"`
	UnitID            string   `json:"unit_id"`
	Interval          Interval `json:"interval"`
	MonthlyPriceCents int64    `json:"monthly_price_cents"`
}

type Contract struct {
	ID                     string        `json:"id"`
	VendorID               string        `json:"vendor_id"`
	VendorName             string        `json:"vendor_name,omitempty"`
	Services               []Service     `json:"services"`
	State                  ContractState `json:"state"`
	Impact                 Interval      `json:"availability_impact"`
	IsTrial                bool          `json:"is_trial"`
	PaymentObligationStart *time.Time    `json:"payment_obligation_start,omitempty"`
	TrialConversionDate    *time.Time    `json:"trial_conversion_date,omitempty"`
	TerminatedOn           *time.Time    `json:"terminated_on,omitempty"`
	PendingBookingID       string        `json:"pending_booking_id,omitempty"`
	Version                int64         `json:"version"`
	CreatedOn              time.Time     `json:"created_on"`
	UpdatedOn              time.Time     `json:"updated_on"`
}

// NewContract builds a contract from its services. The initial state depends on
// whether the earliest service has already started on today.
func NewContract(id, vendorID string, services []Service, isTrial bool, paymentStart *time.Time, today time.Time) (*Contract, error) {
	if vendorID == "" {
		return nil, errs.Invalid("vendor is required")
	}
	impact, err := ImpactOf(services)
	if err != nil {
		return nil, err
	}
	c := &Contract{
		ID:       id,
		VendorID: vendorID,
		Services: services,
		State:    ContractStateScheduled,
		Impact:   impact,
		IsTrial:  isTrial,
		Version:  1,
	}
	if isTrial {
		if paymentStart == nil {
			return nil, errs.Invalid("trial contract requires a payment obligation start date")
		}
		ps := Date(*paymentStart)
		if ps.Before(impact.From) {
			return nil, errs.Invalid("payment obligation cannot start before the contract")
		}
		c.PaymentObligationStart = &ps
	}
	if !impact.From.After(Date(today)) {
		c.State = c.startedState()
	}
	return c, nil
}

// ImpactOf returns the bound of all service intervals.
func ImpactOf(services []Service) (Interval, error) {
	if len(services) == 0 {
		return Interval{}, errs.Invalid("contract needs at least one service")
	}
	var impact Interval
	for i, s := range services {
		if s.UnitID == "" {
			return Interval{}, errs.Invalid("service %d has no unit", i)
		}
		if s.MonthlyPriceCents < 0 {
			return Interval{}, errs.Invalid("service %d has a negative price", i)
		}
		if s.Interval.Empty() {
			return Interval{}, errs.Invalid("service %d has an empty interval %s", i, s.Interval)
		}
		if i == 0 {
			impact = s.Interval
			continue
		}
		impact = impact.Bound(s.Interval)
	}
	return impact, nil
}

// UnitInterval is the bound of this contract's services on one unit.
func (c *Contract) UnitInterval(unitID string) (Interval, bool) {
	var out Interval
	found := false
	for _, s := range c.Services {
		if s.UnitID != unitID {
			continue
		}
		if !found {
			out = s.Interval
			found = true
			continue
		}
		out = out.Bound(s.Interval)
	}
	return out, found
}

func (c *Contract) UnitIDs() []string {
	seen := make(map[string]bool, len(c.Services))
	var ids []string
	for _, s := range c.Services {
		if !seen[s.UnitID] {
			seen[s.UnitID] = true
			ids = append(ids, s.UnitID)
		}
	}
	return ids
}

func (c *Contract) MonthlyPriceCents() int64 {
	var total int64
	for _, s := range c.Services {
		total += s.MonthlyPriceCents
	}
	return total
}

// TrialEndDate is the first day of the payment obligation.
func (c *Contract) TrialEndDate() (time.Time, bool) {
	if !c.IsTrial || c.PaymentObligationStart == nil {
		return time.Time{}, false
	}
	return *c.PaymentObligationStart, true
}

func (c *Contract) startedState() ContractState {
	if c.IsTrial {
		return ContractStateTrialActive
	}
	return ContractStateActive
}

// Start moves a scheduled contract into its running state once its first day
// has been reached. It reports whether the state changed.
func (c *Contract) Start(today time.Time) (bool, error) {
	if c.State.IsTerminal() {
		return false, errs.Mark(errs.Newf("contract %s is %s", c.ID, c.State), errs.ErrAlreadyTerminal)
	}
	if c.State != ContractStateScheduled {
		return false, nil
	}
	if c.Impact.From.After(Date(today)) {
		return false, errs.Mark(errs.Newf("contract %s starts on %s", c.ID, FormatDate(c.Impact.From)), errs.ErrInvalidTransition)
	}
	c.State = c.startedState()
	return true, nil
}

// AdvanceToActive converts a running trial into a paid contract. Calling it on
// an active contract is a no-op.
func (c *Contract) AdvanceToActive(today time.Time) (bool, error) {
	switch c.State {
	case ContractStateActive:
		return false, nil
	case ContractStateCancelled, ContractStateExpired:
		return false, errs.Mark(errs.Newf("contract %s is %s", c.ID, c.State), errs.ErrAlreadyTerminal)
	case ContractStateScheduled:
		if _, err := c.Start(today); err != nil {
			return false, err
		}
		if c.State == ContractStateActive {
			return true, nil
		}
	}
	c.State = ContractStateActive
	c.TrialConversionDate = DatePtr(today)
	return true, nil
}

// Cancel terminates the contract as of effective. The impact range is only
// ever shortened.
func (c *Contract) Cancel(effective time.Time) error {
	return c.terminate(ContractStateCancelled, effective)
}

// Expire terminates a lapsed trial. Same truncation as Cancel.
func (c *Contract) Expire(effective time.Time) error {
	return c.terminate(ContractStateExpired, effective)
}

func (c *Contract) terminate(state ContractState, effective time.Time) error {
	if c.State.IsTerminal() {
		return errs.Mark(errs.Newf("contract %s is already %s", c.ID, c.State), errs.ErrAlreadyTerminal)
	}
	eff := Date(effective)
	for i := range c.Services {
		c.Services[i].Interval = c.Services[i].Interval.TruncateAt(eff)
	}
	c.Impact = c.Impact.TruncateAt(eff)
	c.State = state
	c.TerminatedOn = &eff
	return nil
}

// ReplaceServices swaps the service set of a live contract and recomputes its
// impact. Terminal contracts are frozen.
func (c *Contract) ReplaceServices(services []Service) error {
	if c.State.IsTerminal() {
		return errs.Mark(errs.Newf("contract %s is %s", c.ID, c.State), errs.ErrAlreadyTerminal)
	}
	impact, err := ImpactOf(services)
	if err != nil {
		return err
	}
	if c.IsTrial && c.PaymentObligationStart != nil && c.PaymentObligationStart.Before(impact.From) {
		return errs.Invalid("services cannot start after the payment obligation")
	}
	c.Services = services
	c.Impact = impact
	return nil
}

// Clone returns a deep copy.
func (c *Contract) Clone() *Contract {
	out := *c
	out.Services = make([]Service, len(c.Services))
	for i, s := range c.Services {
		out.Services[i] = s
		out.Services[i].Interval = s.Interval.clone()
	}
	out.Impact = c.Impact.clone()
	out.PaymentObligationStart = cloneTime(c.PaymentObligationStart)
	out.TrialConversionDate = cloneTime(c.TrialConversionDate)
	out.TerminatedOn = cloneTime(c.TerminatedOn)
	return &out
}

func (i Interval) clone() Interval {
	return Interval{From: i.From, To: cloneTime(i.To)}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
