package service

import (
	"context"
	"slices"
	"strings"
	"time"

	"shelfmarket-backend/internal/domain"
	"shelfmarket-backend/internal/errs"
	"shelfmarket-backend/internal/logger"
	"shelfmarket-backend/internal/repository"
)

type availabilityService struct {
	unitRepo     repository.UnitRepository
	contractRepo repository.ContractRepository
}

func NewAvailabilityService(unitRepo repository.UnitRepository, contractRepo repository.ContractRepository) AvailabilityService {
	return &availabilityService{
		unitRepo:     unitRepo,
		contractRepo: contractRepo,
	}
}

func (s *availabilityService) CheckAvailability(ctx context.Context, start time.Time, durationDays int, types []string) ([]domain.UnitAvailability, error) {
	logger.EnterMethod("availabilityService.CheckAvailability", "start", domain.FormatDate(start), "days", durationDays, "types", types)

	if durationDays <= 0 {
		return nil, errs.Invalid("duration must be at least one day, got %d", durationDays)
	}
	canonical, err := domain.CanonicalUnitTypes(types)
	if err != nil {
		logger.ExitMethodWithError("availabilityService.CheckAvailability", err)
		return nil, err
	}
	requested, err := domain.ForDays(start, durationDays)
	if err != nil {
		return nil, err
	}

	units, err := s.unitRepo.ListByTypes(ctx, canonical)
	if err != nil {
		return nil, errs.Wrap(err, "list units by type")
	}
	if len(units) == 0 {
		logger.ExitMethod("availabilityService.CheckAvailability", "units", 0)
		return []domain.UnitAvailability{}, nil
	}

	ids := make([]string, len(units))
	for i, u := range units {
		ids[i] = u.ID
	}
	contracts, err := s.contractRepo.ListNonTerminalByUnits(ctx, ids)
	if err != nil {
		return nil, errs.Wrap(err, "list contracts for units")
	}

	result := ResolveAvailability(units, contracts, requested)
	logger.ExitMethod("availabilityService.CheckAvailability", "units", len(result))
	return result, nil
}

// IsOccupiedOn answers from live contracts only; there is no stored flag.
func (s *availabilityService) IsOccupiedOn(ctx context.Context, unitID string, day time.Time) (bool, error) {
	if _, err := s.unitRepo.GetByID(ctx, unitID); err != nil {
		return false, err
	}
	contracts, err := s.contractRepo.ListNonTerminalByUnits(ctx, []string{unitID})
	if err != nil {
		return false, errs.Wrap(err, "list contracts for unit")
	}
	for i := range contracts {
		if iv, ok := contracts[i].UnitInterval(unitID); ok && iv.Contains(day) {
			return true, nil
		}
	}
	return false, nil
}

// ResolveAvailability tests requested against every contract's sub-interval on
// each unit. Units keep the order they were given in.
func ResolveAvailability(units []domain.RentalUnit, contracts []domain.Contract, requested domain.Interval) []domain.UnitAvailability {
	out := make([]domain.UnitAvailability, 0, len(units))
	for _, u := range units {
		conflicts := unitConflicts(u.ID, contracts, requested)
		ua := domain.UnitAvailability{Unit: u, Available: len(conflicts) == 0}
		if !ua.Available {
			ua.Conflicts = conflicts
			ua.NextAvailable = nextAvailable(conflicts)
		}
		out = append(out, ua)
	}
	return out
}

func unitConflicts(unitID string, contracts []domain.Contract, requested domain.Interval) []domain.Conflict {
	var conflicts []domain.Conflict
	for i := range contracts {
		iv, ok := contracts[i].UnitInterval(unitID)
		if !ok || !iv.Overlaps(requested) {
			continue
		}
		conflicts = append(conflicts, domain.Conflict{
			ContractID: contracts[i].ID,
			VendorName: contracts[i].VendorName,
			Interval:   iv,
		})
	}
	slices.SortFunc(conflicts, func(a, b domain.Conflict) int {
		if c := a.Interval.From.Compare(b.Interval.From); c != 0 {
			return c
		}
		return strings.Compare(a.ContractID, b.ContractID)
	})
	return conflicts
}

// nextAvailable is the latest conflict end, or nil when any conflict is open-ended.
func nextAvailable(conflicts []domain.Conflict) *time.Time {
	var latest *time.Time
	for _, c := range conflicts {
		if c.Interval.To == nil {
			return nil
		}
		if latest == nil || c.Interval.To.After(*latest) {
			end := *c.Interval.To
			latest = &end
		}
	}
	return latest
}
