package service

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"shelfmarket-backend/internal/clock"
	"shelfmarket-backend/internal/domain"
	"shelfmarket-backend/internal/errs"
	"shelfmarket-backend/internal/logger"
	"shelfmarket-backend/internal/repository"
)

type contractService struct {
	store    repository.Store
	notifier NotificationService
	clock    clock.Clock
}

func NewContractService(store repository.Store, notifier NotificationService, clk clock.Clock) ContractService {
	return &contractService{
		store:    store,
		notifier: notifier,
		clock:    clk,
	}
}

// ConfirmBooking turns a pending booking into a contract. Unit rows are locked
// and availability is resolved again inside the transaction, so of two
// confirmations racing for a unit exactly one wins.
func (s *contractService) ConfirmBooking(ctx context.Context, pendingBookingID string, assignments []UnitAssignment) (*domain.Contract, error) {
	logger.EnterMethod("contractService.ConfirmBooking", "bookingID", pendingBookingID, "assignments", len(assignments))
	today := domain.Date(s.clock.Now())

	var contract *domain.Contract
	err := s.store.Within(ctx, func(ctx context.Context, tx repository.Tx) error {
		booking, err := tx.Bookings().GetForUpdate(ctx, pendingBookingID)
		if err != nil {
			return err
		}
		if booking.Status != domain.PendingBookingStatusPending {
			return errs.Invalid("booking %s is %s", booking.ID, booking.Status)
		}

		plan := assignments
		if len(plan) == 0 {
			for _, id := range booking.UnitIDs {
				plan = append(plan, UnitAssignment{UnitID: id})
			}
		}
		unitIDs, err := assignedUnitIDs(booking, plan)
		if err != nil {
			return err
		}

		if err := tx.Units().LockForUpdate(ctx, unitIDs); err != nil {
			return err
		}
		units, err := tx.Units().ListByIDs(ctx, unitIDs)
		if err != nil {
			return errs.Wrap(err, "load assigned units")
		}
		services, err := buildServices(booking, plan, units)
		if err != nil {
			return err
		}

		existing, err := tx.Contracts().ListNonTerminalByUnits(ctx, unitIDs)
		if err != nil {
			return errs.Wrap(err, "load contracts for units")
		}
		if err := checkServiceConflicts(services, existing, ""); err != nil {
			return err
		}

		c, err := domain.NewContract(uuid.NewString(), booking.VendorID, services, booking.IsTrial, booking.PaymentObligationStart(), today)
		if err != nil {
			return err
		}
		c.PendingBookingID = booking.ID
		if err := tx.Contracts().Create(ctx, c); err != nil {
			return err
		}
		if err := booking.Complete(c.ID); err != nil {
			return err
		}
		if err := tx.Bookings().Update(ctx, booking); err != nil {
			return err
		}

		_, err = s.notifier.EnqueueTx(ctx, tx, domain.NotificationBookingConfirmed, c.VendorID, map[string]any{
			"contract_id": c.ID,
			"start":       domain.FormatDate(c.Impact.From),
			"units":       c.UnitIDs(),
			"is_trial":    c.IsTrial,
		})
		if err != nil {
			return err
		}
		contract = c
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError("contractService.ConfirmBooking", err, "bookingID", pendingBookingID)
		return nil, err
	}

	logger.Info("Booking confirmed", "bookingID", pendingBookingID, "contractID", contract.ID, "state", contract.State)
	logger.ExitMethod("contractService.ConfirmBooking", "contractID", contract.ID)
	return contract, nil
}

// assignedUnitIDs validates the plan against the booking and returns the unit
// ids sorted, which is also the lock order.
func assignedUnitIDs(booking *domain.PendingBooking, plan []UnitAssignment) ([]string, error) {
	var ids []string
	for _, a := range plan {
		if !slices.Contains(booking.UnitIDs, a.UnitID) {
			return nil, errs.Invalid("unit %s is not part of booking %s", a.UnitID, booking.ID)
		}
		if !slices.Contains(ids, a.UnitID) {
			ids = append(ids, a.UnitID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func buildServices(booking *domain.PendingBooking, plan []UnitAssignment, units []domain.RentalUnit) ([]domain.Service, error) {
	byID := make(map[string]domain.RentalUnit, len(units))
	for _, u := range units {
		byID[u.ID] = u
	}

	services := make([]domain.Service, 0, len(plan))
	for _, a := range plan {
		unit, ok := byID[a.UnitID]
		if !ok {
			return nil, errs.NotFound("rental unit", a.UnitID)
		}
		iv := booking.Interval
		if a.Interval != nil {
			var err error
			if iv, err = domain.NewInterval(a.Interval.From, a.Interval.To); err != nil {
				return nil, err
			}
		}
		price := unit.ListPriceCents
		if a.MonthlyPriceCents != nil {
			price = *a.MonthlyPriceCents
		}
		services = append(services, domain.Service{
			ID:                uuid.NewString(),
			UnitID:            unit.ID,
			Interval:          iv,
			MonthlyPriceCents: price,
		})
	}
	return services, nil
}

// checkServiceConflicts fails with a ConflictError for the first unit whose new
// service overlaps another live contract, or another new service on the same
// unit. selfID is skipped when revising an existing contract.
func checkServiceConflicts(services []domain.Service, existing []domain.Contract, selfID string) error {
	others := existing
	if selfID != "" {
		others = slices.DeleteFunc(slices.Clone(existing), func(c domain.Contract) bool { return c.ID == selfID })
	}
	for i, svc := range services {
		if conflicts := unitConflicts(svc.UnitID, others, svc.Interval); len(conflicts) > 0 {
			return domain.NewConflictError(svc.UnitID, conflicts)
		}
		for _, prev := range services[:i] {
			if prev.UnitID == svc.UnitID && prev.Interval.Overlaps(svc.Interval) {
				return errs.Invalid("services on unit %s overlap: %s and %s", svc.UnitID, prev.Interval, svc.Interval)
			}
		}
	}
	return nil
}

func (s *contractService) StartContract(ctx context.Context, contractID string) (*domain.Contract, bool, error) {
	today := domain.Date(s.clock.Now())
	return s.transition(ctx, contractID, func(_ context.Context, _ repository.Tx, c *domain.Contract) (bool, error) {
		return c.Start(today)
	})
}

// AdvanceToActive converts a trial. Repeated calls report changed=false.
func (s *contractService) AdvanceToActive(ctx context.Context, contractID string) (*domain.Contract, bool, error) {
	today := domain.Date(s.clock.Now())
	return s.transition(ctx, contractID, func(ctx context.Context, tx repository.Tx, c *domain.Contract) (bool, error) {
		wasTrial := c.State == domain.ContractStateTrialActive || (c.IsTrial && c.State == domain.ContractStateScheduled)
		changed, err := c.AdvanceToActive(today)
		if err != nil || !changed || !wasTrial {
			return changed, err
		}
		return true, recordConversion(ctx, tx, c.VendorID, today)
	})
}

// recordConversion stamps the vendor's trial state. Vendors created before
// trial tracking have no row and are skipped.
func recordConversion(ctx context.Context, tx repository.Tx, vendorID string, day time.Time) error {
	state, err := tx.TrialStates().GetForUpdate(ctx, vendorID)
	if errs.Is(err, errs.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	state.TrialConversionDate = domain.DatePtr(day)
	return tx.TrialStates().Update(ctx, state)
}

// CancelContract truncates the contract at effective. A terminal contract is
// returned unchanged together with ErrAlreadyTerminal.
func (s *contractService) CancelContract(ctx context.Context, contractID string, effective time.Time) (*domain.Contract, error) {
	eff := domain.Date(effective)
	c, _, err := s.transition(ctx, contractID, func(ctx context.Context, tx repository.Tx, c *domain.Contract) (bool, error) {
		if err := c.Cancel(eff); err != nil {
			return false, err
		}
		_, err := s.notifier.EnqueueTx(ctx, tx, domain.NotificationContractCancelled, c.VendorID, map[string]any{
			"contract_id":    c.ID,
			"effective_date": domain.FormatDate(eff),
		})
		return true, err
	})
	if err == nil {
		logger.Info("Contract cancelled", "contractID", contractID, "effective", domain.FormatDate(eff))
	}
	return c, err
}

func (s *contractService) ExpireContract(ctx context.Context, contractID string) (*domain.Contract, error) {
	today := domain.Date(s.clock.Now())
	c, _, err := s.transition(ctx, contractID, func(_ context.Context, _ repository.Tx, c *domain.Contract) (bool, error) {
		if err := c.Expire(today); err != nil {
			return false, err
		}
		return true, nil
	})
	return c, err
}

func (s *contractService) ReviseServices(ctx context.Context, contractID string, services []domain.Service) (*domain.Contract, error) {
	c, _, err := s.transition(ctx, contractID, func(ctx context.Context, tx repository.Tx, c *domain.Contract) (bool, error) {
		if c.State.IsTerminal() {
			return false, errs.Mark(errs.Newf("contract %s is %s", c.ID, c.State), errs.ErrAlreadyTerminal)
		}
		revised := make([]domain.Service, len(services))
		var unitIDs []string
		for i, svc := range services {
			if svc.ID == "" {
				svc.ID = uuid.NewString()
			}
			revised[i] = svc
			if !slices.Contains(unitIDs, svc.UnitID) {
				unitIDs = append(unitIDs, svc.UnitID)
			}
		}
		slices.Sort(unitIDs)

		if err := tx.Units().LockForUpdate(ctx, unitIDs); err != nil {
			return false, err
		}
		existing, err := tx.Contracts().ListNonTerminalByUnits(ctx, unitIDs)
		if err != nil {
			return false, errs.Wrap(err, "load contracts for units")
		}
		if err := checkServiceConflicts(revised, existing, c.ID); err != nil {
			return false, err
		}
		return true, c.ReplaceServices(revised)
	})
	return c, err
}

func (s *contractService) GetContract(ctx context.Context, contractID string) (*domain.Contract, error) {
	return s.store.Contracts().GetByID(ctx, contractID)
}

// transition runs a read-modify-write on one contract under a row lock. The
// contract is written back only when apply reports a change. The loaded
// contract is returned even when apply fails.
func (s *contractService) transition(ctx context.Context, contractID string, apply func(ctx context.Context, tx repository.Tx, c *domain.Contract) (bool, error)) (*domain.Contract, bool, error) {
	var (
		out     *domain.Contract
		changed bool
	)
	err := s.store.Within(ctx, func(ctx context.Context, tx repository.Tx) error {
		c, err := tx.Contracts().GetForUpdate(ctx, contractID)
		if err != nil {
			return err
		}
		before := c.Clone()
		changed, err = apply(ctx, tx, c)
		if err != nil {
			out = before
			return err
		}
		out = c
		if !changed {
			return nil
		}
		return tx.Contracts().Update(ctx, c)
	})
	if err != nil {
		return out, false, err
	}
	return out, changed, nil
}
