package sqlstore

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/warp/hours-engine/ledger"
)

// =============================================================================
// LEDGER STORE (ledger.Store)
// =============================================================================

type txRow struct {
	ID             string  `db:"id"`
	EmployeeID     string  `db:"employee_id"`
	Category       string  `db:"category"`
	Type           string  `db:"tx_type"`
	Hours          string  `db:"hours"`
	Date           string  `db:"tx_date"`
	PeriodYear     int     `db:"period_year"`
	PeriodMonth    int     `db:"period_month"`
	Reason         string  `db:"reason"`
	IdempotencyKey *string `db:"idempotency_key"`
	CreatedBy      string  `db:"created_by"`
	CreatedAt      string  `db:"created_at"`
}

func toTxRow(tx ledger.Transaction) txRow {
	return txRow{
		ID:             string(tx.ID),
		EmployeeID:     string(tx.EmployeeID),
		Category:       string(tx.Category),
		Type:           string(tx.Type),
		Hours:          tx.Hours.String(),
		Date:           tx.Date.Format(ledger.DateLayout),
		PeriodYear:     tx.PeriodYear,
		PeriodMonth:    tx.PeriodMonth,
		Reason:         tx.Reason,
		IdempotencyKey: nullString(tx.IdempotencyKey),
		CreatedBy:      tx.CreatedBy,
		CreatedAt:      formatTime(tx.CreatedAt),
	}
}

func (r txRow) transaction() (ledger.Transaction, error) {
	hours, err := decimal.NewFromString(r.Hours)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("transaction %s: bad hours %q: %w", r.ID, r.Hours, err)
	}
	date, err := ledger.ParseDate(r.Date)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("transaction %s: %w", r.ID, err)
	}
	createdAt, err := parseTime(r.CreatedAt)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("transaction %s: %w", r.ID, err)
	}
	tx := ledger.Transaction{
		ID:          ledger.TransactionID(r.ID),
		EmployeeID:  ledger.EmployeeID(r.EmployeeID),
		Category:    ledger.Category(r.Category),
		Type:        ledger.TransactionType(r.Type),
		Hours:       hours,
		Date:        date,
		PeriodYear:  r.PeriodYear,
		PeriodMonth: r.PeriodMonth,
		Reason:      r.Reason,
		CreatedBy:   r.CreatedBy,
		CreatedAt:   createdAt,
	}
	if r.IdempotencyKey != nil {
		tx.IdempotencyKey = *r.IdempotencyKey
	}
	return tx, nil
}

const insertTx = `
	INSERT INTO hours_ledger
	(id, employee_id, category, tx_type, hours, tx_date, period_year, period_month,
	 reason, idempotency_key, created_by, created_at)
	VALUES (:id, :employee_id, :category, :tx_type, :hours, :tx_date, :period_year, :period_month,
	 :reason, :idempotency_key, :created_by, :created_at)
`

const selectTx = `
	SELECT id, employee_id, category, tx_type, hours, tx_date, period_year, period_month,
	       reason, idempotency_key, created_by, created_at
	FROM hours_ledger
`

// Append adds one transaction.
func (s *Store) Append(ctx context.Context, tx ledger.Transaction) error {
	return s.AppendBatch(ctx, []ledger.Transaction{tx})
}

// AppendBatch adds txs in one database transaction.
func (s *Store) AppendBatch(ctx context.Context, txs []ledger.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, tx := range txs {
		if err := appendTx(ctx, sqlTx, tx); err != nil {
			return err
		}
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transactions: %w", err)
	}
	return nil
}

func appendTx(ctx context.Context, db sqlx.ExtContext, tx ledger.Transaction) error {
	_, err := sqlx.NamedExecContext(ctx, db, insertTx, toTxRow(tx))
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

// ListForPeriod returns one balance key's transactions.
func (s *Store) ListForPeriod(ctx context.Context, employeeID ledger.EmployeeID, category ledger.Category, year int) ([]ledger.Transaction, error) {
	query := selectTx + `
		WHERE employee_id = ? AND category = ? AND period_year = ?
		ORDER BY tx_date ASC, created_at ASC
	`
	return s.queryTransactions(ctx, query, string(employeeID), string(category), year)
}

// ListForEmployee returns an employee's transactions matching f.
func (s *Store) ListForEmployee(ctx context.Context, employeeID ledger.EmployeeID, f ledger.Filter) ([]ledger.Transaction, error) {
	query := selectTx + ` WHERE employee_id = ?`
	args := []any{string(employeeID)}
	if f.Category != "" {
		query += ` AND category = ?`
		args = append(args, string(f.Category))
	}
	if f.Type != "" {
		query += ` AND tx_type = ?`
		args = append(args, string(f.Type))
	}
	if f.Year != 0 {
		query += ` AND period_year = ?`
		args = append(args, f.Year)
	}
	if f.Month != 0 {
		query += ` AND period_month = ?`
		args = append(args, f.Month)
	}
	query += ` ORDER BY tx_date ASC, created_at ASC`
	return s.queryTransactions(ctx, query, args...)
}

// Exists reports whether an idempotency key was already recorded.
func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		s.db.Rebind(`SELECT COUNT(*) FROM hours_ledger WHERE idempotency_key = ?`), idempotencyKey)
	return count > 0, err
}

func (s *Store) queryTransactions(ctx context.Context, query string, args ...any) ([]ledger.Transaction, error) {
	var rows []txRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	out := make([]ledger.Transaction, 0, len(rows))
	for _, r := range rows {
		tx, err := r.transaction()
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}

var _ ledger.Store = (*Store)(nil)
