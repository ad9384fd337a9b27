package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"shelfmarket-backend/internal/domain"
	"shelfmarket-backend/internal/errs"
	"shelfmarket-backend/internal/logger"
	"shelfmarket-backend/internal/repository"
)

type revenueService struct {
	contractRepo repository.ContractRepository
}

func NewRevenueService(contractRepo repository.ContractRepository) RevenueService {
	return &revenueService{contractRepo: contractRepo}
}

// RevenueForPeriod sums the monthly price of every contract billable in
// [start, end). Trials count only once their payment obligation has started.
func (s *revenueService) RevenueForPeriod(ctx context.Context, start, end time.Time) (*RevenueReport, error) {
	start, end = domain.Date(start), domain.Date(end)
	period, err := domain.NewInterval(start, &end)
	if err != nil {
		return nil, err
	}

	charges, err := s.contractRepo.ListChargesForPeriod(ctx, start, end)
	if err != nil {
		return nil, errs.Wrap(err, "load contract charges")
	}

	report := &RevenueReport{Start: start, End: end, Total: decimal.Zero}
	for _, ch := range charges {
		if !ch.BillableIn(period) {
			continue
		}
		report.TotalCents += ch.MonthlyPriceCents
		report.ContractCount++
	}
	report.Total = decimal.New(report.TotalCents, -2)

	logger.Info("Revenue aggregated", "start", domain.FormatDate(start), "end", domain.FormatDate(end),
		"contracts", report.ContractCount, "total", report.Total.StringFixed(2))
	return report, nil
}
