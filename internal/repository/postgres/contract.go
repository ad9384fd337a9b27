package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"shelfmarket-backend/internal/domain"
	"shelfmarket-backend/internal/errs"
	"shelfmarket-backend/internal/logger"
	"shelfmarket-backend/internal/repository"
)

type contractRepository struct {
	db DBTX
}

func NewContractRepository(db DBTX) repository.ContractRepository {
	return &contractRepository{db: db}
}

const contractColumns = `c.id, c.vendor_id, v.name, c.state, c.impact_from, c.impact_to, c.is_trial,
	c.payment_obligation_start, c.trial_conversion_date, c.terminated_on, c.pending_booking_id,
	c.version, c.created_on, c.updated_on`

const contractFrom = ` FROM contracts c JOIN vendors v ON v.id = c.vendor_id`

func nonTerminalStates() any {
	return stateArray(domain.NonTerminalStates)
}

func stateArray(in []domain.ContractState) any {
	states := make([]string, len(in))
	for i, s := range in {
		states[i] = string(s)
	}
	return pq.Array(states)
}

func (r *contractRepository) Create(ctx context.Context, c *domain.Contract) error {
	logger.EnterMethod("contractRepository.Create", "contractID", c.ID, "vendorID", c.VendorID, "state", c.State)

	now := time.Now().UTC()
	query := `INSERT INTO contracts (id, vendor_id, state, impact_from, impact_to, is_trial, payment_obligation_start,
	              trial_conversion_date, terminated_on, pending_booking_id, version, created_on, updated_on)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	logger.DatabaseCall("INSERT", "contracts", "contractID", c.ID)
	_, err := r.db.ExecContext(ctx, query,
		c.ID, c.VendorID, string(c.State), c.Impact.From, c.Impact.To, c.IsTrial, c.PaymentObligationStart,
		c.TrialConversionDate, c.TerminatedOn, c.PendingBookingID, c.Version, now, now)
	logger.DatabaseResult("INSERT", 1, err, "contractID", c.ID)
	if err != nil {
		logger.ExitMethodWithError("contractRepository.Create", err, "contractID", c.ID)
		return errs.Wrap(err, "insert contract")
	}

	if err := r.insertServices(ctx, c); err != nil {
		logger.ExitMethodWithError("contractRepository.Create", err, "contractID", c.ID)
		return err
	}

	c.CreatedOn = now
	c.UpdatedOn = now
	logger.ExitMethod("contractRepository.Create", "contractID", c.ID, "services", len(c.Services))
	return nil
}

func (r *contractRepository) insertServices(ctx context.Context, c *domain.Contract) error {
	query := `INSERT INTO contract_services (id, contract_id, unit_id, start_date, end_date, monthly_price_cents)
	          VALUES ($1, $2, $3, $4, $5, $6)`
	for _, s := range c.Services {
		logger.DatabaseCall("INSERT", "contract_services", "serviceID", s.ID, "unitID", s.UnitID)
		if _, err := r.db.ExecContext(ctx, query, s.ID, c.ID, s.UnitID, s.Interval.From, s.Interval.To, s.MonthlyPriceCents); err != nil {
			logger.DatabaseResult("INSERT", 0, err, "serviceID", s.ID)
			return errs.Wrapf(err, "insert service %s", s.ID)
		}
	}
	return nil
}

func (r *contractRepository) GetByID(ctx context.Context, id string) (*domain.Contract, error) {
	return r.getOne(ctx, `SELECT `+contractColumns+contractFrom+` WHERE c.id = $1`, id)
}

// GetForUpdate locks the contract row for the rest of the transaction.
func (r *contractRepository) GetForUpdate(ctx context.Context, id string) (*domain.Contract, error) {
	return r.getOne(ctx, `SELECT `+contractColumns+contractFrom+` WHERE c.id = $1 FOR UPDATE OF c`, id)
}

func (r *contractRepository) getOne(ctx context.Context, query, id string) (*domain.Contract, error) {
	logger.DatabaseCall("SELECT", "contracts", "contractID", id)
	c, err := scanContract(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		logger.DatabaseResult("SELECT", 0, nil, "contractID", id)
		return nil, errs.NotFound("contract", id)
	}
	if err != nil {
		logger.DatabaseResult("SELECT", 0, err, "contractID", id)
		return nil, errs.Wrap(err, "get contract")
	}
	contracts := []domain.Contract{*c}
	if err := r.attachServices(ctx, contracts); err != nil {
		return nil, err
	}
	return &contracts[0], nil
}

func (r *contractRepository) Update(ctx context.Context, c *domain.Contract) error {
	logger.EnterMethod("contractRepository.Update", "contractID", c.ID, "state", c.State, "version", c.Version)

	now := time.Now().UTC()
	query := `UPDATE contracts
	          SET state = $2, impact_from = $3, impact_to = $4, trial_conversion_date = $5, terminated_on = $6,
	              version = version + 1, updated_on = $7
	          WHERE id = $1 AND version = $8`
	logger.DatabaseCall("UPDATE", "contracts", "contractID", c.ID)
	result, err := r.db.ExecContext(ctx, query,
		c.ID, string(c.State), c.Impact.From, c.Impact.To, c.TrialConversionDate, c.TerminatedOn, now, c.Version)
	if err != nil {
		logger.DatabaseResult("UPDATE", 0, err, "contractID", c.ID)
		return errs.Wrap(err, "update contract")
	}
	rows, err := result.RowsAffected()
	logger.DatabaseResult("UPDATE", rows, err, "contractID", c.ID)
	if err != nil {
		return errs.Wrap(err, "update contract")
	}
	if rows == 0 {
		err := errs.Mark(errs.Newf("contract %s changed since version %d", c.ID, c.Version), errs.ErrConcurrentUpdate)
		logger.ExitMethodWithError("contractRepository.Update", err, "contractID", c.ID)
		return err
	}

	if _, err := r.db.ExecContext(ctx, `DELETE FROM contract_services WHERE contract_id = $1`, c.ID); err != nil {
		return errs.Wrap(err, "clear contract services")
	}
	if err := r.insertServices(ctx, c); err != nil {
		return err
	}

	c.Version++
	c.UpdatedOn = now
	logger.ExitMethod("contractRepository.Update", "contractID", c.ID, "version", c.Version)
	return nil
}

// ListNonTerminalByUnits loads every live contract with a service on any of the
// units, with all of its services, in two queries.
func (r *contractRepository) ListNonTerminalByUnits(ctx context.Context, unitIDs []string) ([]domain.Contract, error) {
	if len(unitIDs) == 0 {
		return nil, nil
	}
	query := `SELECT ` + contractColumns + contractFrom + `
	          WHERE c.state = ANY($2)
	            AND EXISTS (SELECT 1 FROM contract_services s WHERE s.contract_id = c.id AND s.unit_id = ANY($1))
	          ORDER BY c.impact_from, c.id`
	return r.list(ctx, query, pq.Array(unitIDs), nonTerminalStates())
}

func (r *contractRepository) CountByUnit(ctx context.Context, unitID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT contract_id) FROM contract_services WHERE unit_id = $1`, unitID).Scan(&n)
	if err != nil {
		return 0, errs.Wrap(err, "count contracts by unit")
	}
	return n, nil
}

func (r *contractRepository) ListOpenTrials(ctx context.Context) ([]domain.Contract, error) {
	query := `SELECT ` + contractColumns + contractFrom + `
	          WHERE c.is_trial = TRUE AND c.state = ANY($1)
	          ORDER BY c.vendor_id, c.payment_obligation_start, c.id`
	return r.list(ctx, query, stateArray(domain.TrialPhaseStates))
}

func (r *contractRepository) ListDueForStart(ctx context.Context, today time.Time) ([]domain.Contract, error) {
	query := `SELECT ` + contractColumns + contractFrom + `
	          WHERE c.state = $1 AND c.impact_from <= $2
	          ORDER BY c.impact_from, c.id`
	return r.list(ctx, query, string(domain.ContractStateScheduled), today)
}

// ListChargesForPeriod sums service prices per contract in one pass. Vendor and
// unit details are not joined since the total does not depend on them.
func (r *contractRepository) ListChargesForPeriod(ctx context.Context, start, end time.Time) ([]domain.ContractCharge, error) {
	query := `SELECT c.id, c.is_trial, c.payment_obligation_start, c.impact_from, c.impact_to,
	                 COALESCE(SUM(s.monthly_price_cents), 0)
	          FROM contracts c
	          LEFT JOIN contract_services s ON s.contract_id = c.id
	          WHERE c.impact_from < $2
	            AND (c.impact_to IS NULL OR c.impact_to > $1)
	            AND (c.impact_to IS NULL OR c.impact_to > c.impact_from)
	          GROUP BY c.id, c.is_trial, c.payment_obligation_start, c.impact_from, c.impact_to
	          ORDER BY c.impact_from, c.id`
	logger.DatabaseCall("SELECT", "contracts", "start", start, "end", end)
	rows, err := r.db.QueryContext(ctx, query, start, end)
	if err != nil {
		logger.DatabaseResult("SELECT", 0, err)
		return nil, errs.Wrap(err, "list contract charges")
	}
	defer rows.Close()

	var charges []domain.ContractCharge
	for rows.Next() {
		var ch domain.ContractCharge
		var pos, to sql.NullTime
		var from time.Time
		if err := rows.Scan(&ch.ContractID, &ch.IsTrial, &pos, &from, &to, &ch.MonthlyPriceCents); err != nil {
			return nil, errs.Wrap(err, "scan contract charge")
		}
		ch.PaymentObligationStart = datePtr(pos)
		ch.Impact = domain.Interval{From: dateOf(from), To: datePtr(to)}
		charges = append(charges, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(err, "iterate contract charges")
	}
	logger.DatabaseResult("SELECT", int64(len(charges)), nil)
	return charges, nil
}

func (r *contractRepository) list(ctx context.Context, query string, args ...any) ([]domain.Contract, error) {
	logger.DatabaseCall("SELECT", "contracts")
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		logger.DatabaseResult("SELECT", 0, err)
		return nil, errs.Wrap(err, "list contracts")
	}

	var contracts []domain.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			rows.Close()
			return nil, errs.Wrap(err, "scan contract")
		}
		contracts = append(contracts, *c)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, errs.Wrap(err, "iterate contracts")
	}
	logger.DatabaseResult("SELECT", int64(len(contracts)), nil)

	if err := r.attachServices(ctx, contracts); err != nil {
		return nil, err
	}
	return contracts, nil
}

// attachServices loads services for all contracts with a single query.
func (r *contractRepository) attachServices(ctx context.Context, contracts []domain.Contract) error {
	if len(contracts) == 0 {
		return nil
	}
	ids := make([]string, len(contracts))
	index := make(map[string]int, len(contracts))
	for i, c := range contracts {
		ids[i] = c.ID
		index[c.ID] = i
	}

	query := `SELECT id, contract_id, unit_id, start_date, end_date, monthly_price_cents
	          FROM contract_services WHERE contract_id = ANY($1) ORDER BY start_date, id`
	logger.DatabaseCall("SELECT", "contract_services", "contracts", len(ids))
	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		logger.DatabaseResult("SELECT", 0, err)
		return errs.Wrap(err, "list contract services")
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var s domain.Service
		var contractID string
		var start time.Time
		var end sql.NullTime
		if err := rows.Scan(&s.ID, &contractID, &s.UnitID, &start, &end, &s.MonthlyPriceCents); err != nil {
			return errs.Wrap(err, "scan contract service")
		}
		s.Interval = domain.Interval{From: dateOf(start), To: datePtr(end)}
		if i, ok := index[contractID]; ok {
			contracts[i].Services = append(contracts[i].Services, s)
			n++
		}
	}
	if err := rows.Err(); err != nil {
		return errs.Wrap(err, "iterate contract services")
	}
	logger.DatabaseResult("SELECT", int64(n), nil)
	return nil
}

func scanContract(row rowScanner) (*domain.Contract, error) {
	var c domain.Contract
	var state string
	var from time.Time
	var to, pos, conversion, terminatedOn sql.NullTime
	err := row.Scan(&c.ID, &c.VendorID, &c.VendorName, &state, &from, &to, &c.IsTrial,
		&pos, &conversion, &terminatedOn, &c.PendingBookingID, &c.Version, &c.CreatedOn, &c.UpdatedOn)
	if err != nil {
		return nil, err
	}
	c.State = domain.ContractState(state)
	c.Impact = domain.Interval{From: dateOf(from), To: datePtr(to)}
	c.PaymentObligationStart = datePtr(pos)
	c.TrialConversionDate = datePtr(conversion)
	c.TerminatedOn = datePtr(terminatedOn)
	return &c, nil
}
