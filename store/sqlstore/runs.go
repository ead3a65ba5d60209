package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/hours-engine/carryover"
	"github.com/warp/hours-engine/ledger"
)

// =============================================================================
// CARRY-OVER RUNS (carryover.RunStore)
// =============================================================================

type runRow struct {
	Year        int    `db:"year"`
	EmployeeID  string `db:"employee_id"`
	Category    string `db:"category"`
	Status      string `db:"status"`
	Balance     string `db:"balance"`
	Cap         string `db:"cap"`
	CarriedOver string `db:"carried_over"`
	Expired     string `db:"expired"`
	Error       string `db:"error"`
	ProcessedAt string `db:"processed_at"`
}

func (r runRow) run() (carryover.Run, error) {
	processedAt, err := parseTime(r.ProcessedAt)
	if err != nil {
		return carryover.Run{}, fmt.Errorf("carry-over run %d %s %s: %w", r.Year, r.EmployeeID, r.Category, err)
	}
	return carryover.Run{
		Year:        r.Year,
		EmployeeID:  ledger.EmployeeID(r.EmployeeID),
		Category:    ledger.Category(r.Category),
		Status:      carryover.Status(r.Status),
		Balance:     decimalOrZero(r.Balance),
		Cap:         decimalOrZero(r.Cap),
		CarriedOver: decimalOrZero(r.CarriedOver),
		Expired:     decimalOrZero(r.Expired),
		Error:       r.Error,
		ProcessedAt: processedAt,
	}, nil
}

func decimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

const selectRun = `
	SELECT year, employee_id, category, status, balance, cap, carried_over, expired, error, processed_at
	FROM carryover_runs
`

// GetRun returns the record of one item, if any.
func (s *Store) GetRun(ctx context.Context, year int, id ledger.EmployeeID, category ledger.Category) (carryover.Run, bool, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row,
		s.db.Rebind(selectRun+` WHERE year = ? AND employee_id = ? AND category = ?`),
		year, string(id), string(category))
	if errors.Is(err, sql.ErrNoRows) {
		return carryover.Run{}, false, nil
	}
	if err != nil {
		return carryover.Run{}, false, err
	}
	run, err := row.run()
	return run, err == nil, err
}

// SaveRun upserts a run record.
func (s *Store) SaveRun(ctx context.Context, r carryover.Run) error {
	row := runRow{
		Year:        r.Year,
		EmployeeID:  string(r.EmployeeID),
		Category:    string(r.Category),
		Status:      string(r.Status),
		Balance:     r.Balance.String(),
		Cap:         r.Cap.String(),
		CarriedOver: r.CarriedOver.String(),
		Expired:     r.Expired.String(),
		Error:       r.Error,
		ProcessedAt: formatTime(r.ProcessedAt),
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO carryover_runs (year, employee_id, category, status, balance, cap,
			carried_over, expired, error, processed_at)
		VALUES (:year, :employee_id, :category, :status, :balance, :cap,
			:carried_over, :expired, :error, :processed_at)
		ON CONFLICT(year, employee_id, category) DO UPDATE SET
			status = excluded.status,
			balance = excluded.balance,
			cap = excluded.cap,
			carried_over = excluded.carried_over,
			expired = excluded.expired,
			error = excluded.error,
			processed_at = excluded.processed_at
	`, row)
	if err != nil {
		return fmt.Errorf("failed to save carry-over run: %w", err)
	}
	return nil
}

// ListRuns returns the records of a year.
func (s *Store) ListRuns(ctx context.Context, year int) ([]carryover.Run, error) {
	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows,
		s.db.Rebind(selectRun+` WHERE year = ? ORDER BY employee_id, category`), year); err != nil {
		return nil, err
	}
	out := make([]carryover.Run, 0, len(rows))
	for _, r := range rows {
		run, err := r.run()
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

var _ carryover.RunStore = (*Store)(nil)
