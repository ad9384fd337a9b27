package service

import (
	"context"
	"slices"

	"github.com/google/uuid"

	"shelfmarket-backend/internal/domain"
	"shelfmarket-backend/internal/errs"
	"shelfmarket-backend/internal/logger"
	"shelfmarket-backend/internal/repository"
)

type bookingService struct {
	store            repository.Store
	defaultTrialDays int
}

// NewBookingService creates pending bookings. Trial bookings without an
// explicit length get defaultTrialDays.
func NewBookingService(store repository.Store, defaultTrialDays int) BookingService {
	return &bookingService{
		store:            store,
		defaultTrialDays: defaultTrialDays,
	}
}

func (s *bookingService) CreateBooking(ctx context.Context, req BookingRequest) (*domain.PendingBooking, error) {
	logger.EnterMethod("bookingService.CreateBooking", "vendorID", req.VendorID, "units", len(req.UnitIDs))

	var interval domain.Interval
	var err error
	if req.OpenEnded {
		interval, err = domain.NewInterval(req.Start, nil)
	} else {
		interval, err = domain.ForDays(req.Start, req.DurationDays)
	}
	if err != nil {
		return nil, err
	}

	unitIDs := slices.Clone(req.UnitIDs)
	slices.Sort(unitIDs)
	unitIDs = slices.Compact(unitIDs)

	b := &domain.PendingBooking{
		ID:        uuid.NewString(),
		VendorID:  req.VendorID,
		UnitIDs:   unitIDs,
		Interval:  interval,
		IsTrial:   req.IsTrial,
		TrialDays: req.TrialDays,
		Status:    domain.PendingBookingStatusPending,
	}
	if b.IsTrial && b.TrialDays == 0 {
		b.TrialDays = s.defaultTrialDays
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if b.IsTrial && b.Interval.To != nil && b.PaymentObligationStart().After(*b.Interval.To) {
		return nil, errs.Invalid("trial of %d days is longer than the booking", b.TrialDays)
	}

	err = s.store.Within(ctx, func(ctx context.Context, tx repository.Tx) error {
		if _, err := tx.Vendors().GetByID(ctx, b.VendorID); err != nil {
			return err
		}
		units, err := tx.Units().ListByIDs(ctx, b.UnitIDs)
		if err != nil {
			return errs.Wrap(err, "load booked units")
		}
		if len(units) != len(b.UnitIDs) {
			for _, id := range b.UnitIDs {
				if !slices.ContainsFunc(units, func(u domain.RentalUnit) bool { return u.ID == id }) {
					return errs.NotFound("rental unit", id)
				}
			}
		}
		return tx.Bookings().Create(ctx, b)
	})
	if err != nil {
		logger.ExitMethodWithError("bookingService.CreateBooking", err)
		return nil, err
	}

	logger.ExitMethod("bookingService.CreateBooking", "bookingID", b.ID)
	return b, nil
}

func (s *bookingService) CancelBooking(ctx context.Context, bookingID string) (*domain.PendingBooking, error) {
	var out *domain.PendingBooking
	err := s.store.Within(ctx, func(ctx context.Context, tx repository.Tx) error {
		b, err := tx.Bookings().GetForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if b.Status == domain.PendingBookingStatusCancelled {
			out = b
			return nil
		}
		if err := b.Cancel(); err != nil {
			return err
		}
		out = b
		return tx.Bookings().Update(ctx, b)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *bookingService) GetBooking(ctx context.Context, bookingID string) (*domain.PendingBooking, error) {
	return s.store.Bookings().GetByID(ctx, bookingID)
}
