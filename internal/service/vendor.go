package service

import (
	"context"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"shelfmarket-backend/internal/clock"
	"shelfmarket-backend/internal/domain"
	"shelfmarket-backend/internal/errs"
	"shelfmarket-backend/internal/logger"
	"shelfmarket-backend/internal/repository"
)

type vendorService struct {
	store repository.Store
	clock clock.Clock
}

func NewVendorService(store repository.Store, clk clock.Clock) VendorService {
	return &vendorService{store: store, clock: clk}
}

// RegisterVendor creates the vendor and its trial automation state together.
func (s *vendorService) RegisterVendor(ctx context.Context, name, email string) (*domain.Vendor, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errs.Invalid("vendor name is required")
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return nil, errs.Invalid("invalid email address %q", email)
	}

	v := &domain.Vendor{ID: uuid.NewString(), Name: name, Email: addr.Address}
	err = s.store.Within(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := tx.Vendors().Create(ctx, v); err != nil {
			return err
		}
		return tx.TrialStates().Create(ctx, &domain.TrialState{VendorID: v.ID})
	})
	if err != nil {
		return nil, err
	}
	logger.Info("Vendor registered", "vendorID", v.ID)
	return v, nil
}

// ConfirmTrialConversion records the vendor's decision to keep their units
// after the trial. The next trial scan on or after the trial end converts the
// contracts instead of expiring them.
func (s *vendorService) ConfirmTrialConversion(ctx context.Context, vendorID string) (*domain.TrialState, error) {
	return s.updateTrialState(ctx, vendorID, func(state *domain.TrialState) {
		if state.ConversionRequestedAt == nil {
			now := s.clock.Now()
			state.ConversionRequestedAt = &now
		}
	})
}

// ResetTrialReminders clears all reminder flags. Admin rollback only.
func (s *vendorService) ResetTrialReminders(ctx context.Context, vendorID string) (*domain.TrialState, error) {
	state, err := s.updateTrialState(ctx, vendorID, func(state *domain.TrialState) {
		state.Reset()
	})
	if err == nil {
		logger.Warn("Trial reminder flags reset", "vendorID", vendorID)
	}
	return state, err
}

func (s *vendorService) updateTrialState(ctx context.Context, vendorID string, apply func(state *domain.TrialState)) (*domain.TrialState, error) {
	var out *domain.TrialState
	err := s.store.Within(ctx, func(ctx context.Context, tx repository.Tx) error {
		state, err := tx.TrialStates().GetForUpdate(ctx, vendorID)
		if err != nil {
			return err
		}
		apply(state)
		if err := tx.TrialStates().Update(ctx, state); err != nil {
			return err
		}
		out = state
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
