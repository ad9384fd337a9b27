package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelfmarket-backend/internal/domain"
	"shelfmarket-backend/internal/errs"
	"shelfmarket-backend/internal/repository/postgres"
)

var contractRowColumns = []string{"id", "vendor_id", "name", "state", "impact_from", "impact_to", "is_trial",
	"payment_obligation_start", "trial_conversion_date", "terminated_on", "pending_booking_id",
	"version", "created_on", "updated_on"}

var serviceRowColumns = []string{"id", "contract_id", "unit_id", "start_date", "end_date", "monthly_price_cents"}

func TestContractRepository_GetByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error opening mock database: %v", err)
	}
	defer db.Close()

	repo := postgres.NewContractRepository(db)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		now := time.Now()
		mock.ExpectQuery("SELECT (.+) FROM contracts c JOIN vendors v ON v.id = c.vendor_id WHERE c.id = \\$1").
			WithArgs("c-1").
			WillReturnRows(sqlmock.NewRows(contractRowColumns).
				AddRow("c-1", "v-1", "Hofladen Berger", "ACTIVE", domain.MustDate("2025-09-01"), domain.MustDate("2025-12-01"),
					false, nil, nil, nil, "pb-1", 3, now, now))
		mock.ExpectQuery("SELECT (.+) FROM contract_services WHERE contract_id = ANY\\(\\$1\\)").
			WillReturnRows(sqlmock.NewRows(serviceRowColumns).
				AddRow("s-1", "c-1", "u-1", domain.MustDate("2025-09-01"), domain.MustDate("2025-12-01"), 4500).
				AddRow("s-2", "c-1", "u-2", domain.MustDate("2025-10-01"), nil, 2000))

		c, err := repo.GetByID(ctx, "c-1")
		require.NoError(t, err)
		assert.Equal(t, "Hofladen Berger", c.VendorName)
		assert.Equal(t, domain.ContractStateActive, c.State)
		assert.Equal(t, int64(3), c.Version)
		require.Len(t, c.Services, 2)
		assert.True(t, c.Services[1].Interval.OpenEnded())
		assert.Equal(t, int64(6500), c.MonthlyPriceCents())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM contracts c").
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows(contractRowColumns))

		_, err := repo.GetByID(ctx, "missing")
		assert.True(t, errs.Is(err, errs.ErrNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestContractRepository_Update(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error opening mock database: %v", err)
	}
	defer db.Close()

	repo := postgres.NewContractRepository(db)
	ctx := context.Background()

	newContract := func() *domain.Contract {
		return &domain.Contract{
			ID:       "c-1",
			VendorID: "v-1",
			State:    domain.ContractStateCancelled,
			Impact:   domain.Interval{From: domain.MustDate("2025-01-01"), To: domain.DatePtr(domain.MustDate("2025-06-01"))},
			Services: []domain.Service{{
				ID:       "s-1",
				UnitID:   "u-1",
				Interval: domain.Interval{From: domain.MustDate("2025-01-01"), To: domain.DatePtr(domain.MustDate("2025-06-01"))},
			}},
			Version: 2,
		}
	}

	t.Run("Success", func(t *testing.T) {
		c := newContract()
		mock.ExpectExec("UPDATE contracts").
			WithArgs("c-1", "CANCELLED", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), int64(2)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("DELETE FROM contract_services").
			WithArgs("c-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO contract_services").
			WithArgs("s-1", "c-1", "u-1", sqlmock.AnyArg(), sqlmock.AnyArg(), int64(0)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Update(ctx, c))
		assert.Equal(t, int64(3), c.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("StaleVersion", func(t *testing.T) {
		c := newContract()
		mock.ExpectExec("UPDATE contracts").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.Update(ctx, c)
		assert.True(t, errs.Is(err, errs.ErrConcurrentUpdate))
		assert.Equal(t, int64(2), c.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestContractRepository_ListNonTerminalByUnits(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error opening mock database: %v", err)
	}
	defer db.Close()

	repo := postgres.NewContractRepository(db)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectQuery("SELECT (.+) FROM contracts c (.+) WHERE c.state = ANY\\(\\$2\\)").
		WillReturnRows(sqlmock.NewRows(contractRowColumns).
			AddRow("c-1", "v-1", "Imkerei Lutz", "ACTIVE", domain.MustDate("2025-09-01"), nil,
				false, nil, nil, nil, "", 1, now, now).
			AddRow("c-2", "v-2", "Seifenwerk", "SCHEDULED", domain.MustDate("2026-01-01"), domain.MustDate("2026-02-01"),
				true, domain.MustDate("2026-01-15"), nil, nil, "", 1, now, now))
	mock.ExpectQuery("SELECT (.+) FROM contract_services").
		WillReturnRows(sqlmock.NewRows(serviceRowColumns).
			AddRow("s-1", "c-1", "u-1", domain.MustDate("2025-09-01"), nil, 3000).
			AddRow("s-2", "c-2", "u-1", domain.MustDate("2026-01-01"), domain.MustDate("2026-02-01"), 3000))

	contracts, err := repo.ListNonTerminalByUnits(ctx, []string{"u-1"})
	require.NoError(t, err)
	require.Len(t, contracts, 2)
	assert.Len(t, contracts[0].Services, 1)
	assert.Len(t, contracts[1].Services, 1)
	assert.True(t, contracts[1].IsTrial)
	assert.Equal(t, domain.MustDate("2026-01-15"), *contracts[1].PaymentObligationStart)
	assert.NoError(t, mock.ExpectationsWereMet())

	none, err := repo.ListNonTerminalByUnits(ctx, nil)
	assert.NoError(t, err)
	assert.Empty(t, none)
}

func TestContractRepository_ListChargesForPeriod(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error opening mock database: %v", err)
	}
	defer db.Close()

	repo := postgres.NewContractRepository(db)
	start := domain.MustDate("2025-10-01")
	end := domain.MustDate("2025-11-01")

	mock.ExpectQuery("SELECT (.+) FROM contracts c\\s+LEFT JOIN contract_services s (.+) GROUP BY").
		WithArgs(start, end).
		WillReturnRows(sqlmock.NewRows([]string{"id", "is_trial", "payment_obligation_start", "impact_from", "impact_to", "sum"}).
			AddRow("c-1", true, domain.MustDate("2025-10-15"), domain.MustDate("2025-09-15"), nil, 5000).
			AddRow("c-2", false, nil, domain.MustDate("2025-01-01"), domain.MustDate("2026-01-01"), 8000))

	charges, err := repo.ListChargesForPeriod(context.Background(), start, end)
	require.NoError(t, err)
	require.Len(t, charges, 2)
	assert.Equal(t, int64(5000), charges[0].MonthlyPriceCents)
	assert.True(t, charges[0].Impact.OpenEnded())
	assert.Nil(t, charges[1].PaymentObligationStart)
	assert.NoError(t, mock.ExpectationsWereMet())
}
