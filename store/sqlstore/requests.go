package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/hours-engine/ledger"
)

// =============================================================================
// LEAVE REQUESTS (ledger.PendingSource)
// =============================================================================

// Request statuses.
const (
	RequestPending   = "pending"
	RequestApproved  = "approved"
	RequestRejected  = "rejected"
	RequestCancelled = "cancelled"
)

// ErrRequestNotFound is returned for unknown request IDs.
var ErrRequestNotFound = errors.New("request not found")

// Request is a leave request as seen by the engine: hours reserved against
// a balance until it is decided.
type Request struct {
	ID         string            `json:"id"`
	EmployeeID ledger.EmployeeID `json:"employee_id"`
	Category   ledger.Category   `json:"category"`
	Hours      decimal.Decimal   `json:"hours"`
	Date       time.Time         `json:"date"`
	Status     string            `json:"status"`
	Reason     string            `json:"reason,omitempty"`
	DecidedBy  string            `json:"decided_by,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

type requestRow struct {
	ID         string `db:"id"`
	EmployeeID string `db:"employee_id"`
	Category   string `db:"category"`
	Hours      string `db:"hours"`
	Date       string `db:"request_date"`
	PeriodYear int    `db:"period_year"`
	Status     string `db:"status"`
	Reason     string `db:"reason"`
	DecidedBy  string `db:"decided_by"`
	CreatedAt  string `db:"created_at"`
	UpdatedAt  string `db:"updated_at"`
}

func (r requestRow) request() (Request, error) {
	hours, err := decimal.NewFromString(r.Hours)
	if err != nil {
		return Request{}, fmt.Errorf("request %s: bad hours %q: %w", r.ID, r.Hours, err)
	}
	date, err := ledger.ParseDate(r.Date)
	if err != nil {
		return Request{}, fmt.Errorf("request %s: %w", r.ID, err)
	}
	createdAt, err := parseTime(r.CreatedAt)
	if err != nil {
		return Request{}, fmt.Errorf("request %s: %w", r.ID, err)
	}
	updatedAt, err := parseTime(r.UpdatedAt)
	if err != nil {
		return Request{}, fmt.Errorf("request %s: %w", r.ID, err)
	}
	return Request{
		ID:         r.ID,
		EmployeeID: ledger.EmployeeID(r.EmployeeID),
		Category:   ledger.Category(r.Category),
		Hours:      hours,
		Date:       date,
		Status:     r.Status,
		Reason:     r.Reason,
		DecidedBy:  r.DecidedBy,
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
	}, nil
}

const selectRequest = `
	SELECT id, employee_id, category, hours, request_date, period_year, status,
	       reason, decided_by, created_at, updated_at
	FROM leave_requests
`

// SaveRequest inserts or updates a request.
func (s *Store) SaveRequest(ctx context.Context, r Request) error {
	now := s.now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.Status == "" {
		r.Status = RequestPending
	}
	row := requestRow{
		ID:         r.ID,
		EmployeeID: string(r.EmployeeID),
		Category:   string(r.Category),
		Hours:      r.Hours.String(),
		Date:       r.Date.Format(ledger.DateLayout),
		PeriodYear: r.Date.Year(),
		Status:     r.Status,
		Reason:     r.Reason,
		DecidedBy:  r.DecidedBy,
		CreatedAt:  formatTime(r.CreatedAt),
		UpdatedAt:  formatTime(now),
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO leave_requests (id, employee_id, category, hours, request_date, period_year,
			status, reason, decided_by, created_at, updated_at)
		VALUES (:id, :employee_id, :category, :hours, :request_date, :period_year,
			:status, :reason, :decided_by, :created_at, :updated_at)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			decided_by = excluded.decided_by,
			updated_at = excluded.updated_at
	`, row)
	if err != nil {
		return fmt.Errorf("failed to save request: %w", err)
	}
	return nil
}

// GetRequest returns ErrRequestNotFound for unknown IDs.
func (s *Store) GetRequest(ctx context.Context, id string) (Request, error) {
	var row requestRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(selectRequest+` WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return Request{}, fmt.Errorf("%w: %s", ErrRequestNotFound, id)
	}
	if err != nil {
		return Request{}, err
	}
	return row.request()
}

// RequestsByEmployee returns an employee's requests, newest first.
func (s *Store) RequestsByEmployee(ctx context.Context, id ledger.EmployeeID) ([]Request, error) {
	var rows []requestRow
	if err := s.db.SelectContext(ctx, &rows,
		s.db.Rebind(selectRequest+` WHERE employee_id = ? ORDER BY created_at DESC`), string(id)); err != nil {
		return nil, err
	}
	out := make([]Request, 0, len(rows))
	for _, r := range rows {
		req, err := r.request()
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}

// PendingHours sums pending requests of one balance key.
func (s *Store) PendingHours(ctx context.Context, id ledger.EmployeeID, category ledger.Category, year int) (decimal.Decimal, error) {
	var hours []string
	err := s.db.SelectContext(ctx, &hours, s.db.Rebind(`
		SELECT hours FROM leave_requests
		WHERE employee_id = ? AND category = ? AND period_year = ? AND status = ?
	`), string(id), string(category), year, RequestPending)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, h := range hours {
		d, err := decimal.NewFromString(h)
		if err != nil {
			return decimal.Zero, fmt.Errorf("pending request: bad hours %q: %w", h, err)
		}
		total = total.Add(d)
	}
	return total, nil
}

var _ ledger.PendingSource = (*Store)(nil)
