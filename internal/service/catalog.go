package service

import (
	"context"

	"github.com/google/uuid"

	"shelfmarket-backend/internal/domain"
	"shelfmarket-backend/internal/errs"
	"shelfmarket-backend/internal/repository"
)

type catalogService struct {
	store repository.Store
}

func NewCatalogService(store repository.Store) CatalogService {
	return &catalogService{store: store}
}

func (s *catalogService) CreateUnit(ctx context.Context, unit *domain.RentalUnit) error {
	if err := unit.Normalize(); err != nil {
		return err
	}
	if unit.ID == "" {
		unit.ID = uuid.NewString()
	}
	return s.store.Units().Create(ctx, unit)
}

// UpdateUnit refuses to move or retype a unit once any contract references it.
func (s *catalogService) UpdateUnit(ctx context.Context, unit *domain.RentalUnit) error {
	if err := unit.Normalize(); err != nil {
		return err
	}
	return s.store.Within(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := tx.Units().LockForUpdate(ctx, []string{unit.ID}); err != nil {
			return err
		}
		current, err := tx.Units().GetByID(ctx, unit.ID)
		if err != nil {
			return err
		}
		if current.Type != unit.Type || current.Site != unit.Site {
			n, err := tx.Contracts().CountByUnit(ctx, unit.ID)
			if err != nil {
				return err
			}
			if n > 0 {
				return errs.Invalid("unit %s is referenced by %d contract(s); type and site cannot change", unit.ID, n)
			}
		}
		return tx.Units().Update(ctx, unit)
	})
}
