package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/warp/hours-engine/ledger"
	"github.com/warp/hours-engine/realtime"
)

// =============================================================================
// ATTENDANCE (realtime.AttendanceStore)
// =============================================================================

type attendanceRow struct {
	EmployeeID    string `db:"employee_id"`
	Date          string `db:"work_date"`
	ActualHours   string `db:"actual_hours"`
	ExpectedHours string `db:"expected_hours"`
	BalanceHours  string `db:"balance_hours"`
	Status        string `db:"status"`
	Source        string `db:"source"`
	Finalized     bool   `db:"finalized"`
	Notes         string `db:"notes"`
	UpdatedAt     string `db:"updated_at"`
}

const selectAttendance = `
	SELECT employee_id, work_date, actual_hours, expected_hours, balance_hours,
	       status, source, finalized, notes, updated_at
	FROM attendance
`

func (r attendanceRow) attendance() (realtime.Attendance, error) {
	date, err := ledger.ParseDate(r.Date)
	if err != nil {
		return realtime.Attendance{}, err
	}
	updatedAt, err := parseTime(r.UpdatedAt)
	if err != nil {
		return realtime.Attendance{}, fmt.Errorf("attendance %s %s: %w", r.EmployeeID, r.Date, err)
	}
	return realtime.Attendance{
		EmployeeID:    ledger.EmployeeID(r.EmployeeID),
		Date:          date,
		ActualHours:   decimalOrZero(r.ActualHours),
		ExpectedHours: decimalOrZero(r.ExpectedHours),
		BalanceHours:  decimalOrZero(r.BalanceHours),
		Status:        realtime.Status(r.Status),
		Source:        realtime.AttendanceSource(r.Source),
		Finalized:     r.Finalized,
		Notes:         r.Notes,
		UpdatedAt:     updatedAt,
	}, nil
}

// GetAttendance returns the record of one day, if any.
func (s *Store) GetAttendance(ctx context.Context, id ledger.EmployeeID, date time.Time) (realtime.Attendance, bool, error) {
	var row attendanceRow
	err := s.db.GetContext(ctx, &row,
		s.db.Rebind(selectAttendance+` WHERE employee_id = ? AND work_date = ?`),
		string(id), date.Format(ledger.DateLayout))
	if errors.Is(err, sql.ErrNoRows) {
		return realtime.Attendance{}, false, nil
	}
	if err != nil {
		return realtime.Attendance{}, false, err
	}
	a, err := row.attendance()
	return a, err == nil, err
}

// SaveAttendance upserts the record of one day.
func (s *Store) SaveAttendance(ctx context.Context, a realtime.Attendance) error {
	updated := a.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}
	row := attendanceRow{
		EmployeeID:    string(a.EmployeeID),
		Date:          a.Date.Format(ledger.DateLayout),
		ActualHours:   a.ActualHours.String(),
		ExpectedHours: a.ExpectedHours.String(),
		BalanceHours:  a.BalanceHours.String(),
		Status:        string(a.Status),
		Source:        string(a.Source),
		Finalized:     a.Finalized,
		Notes:         a.Notes,
		UpdatedAt:     formatTime(updated),
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO attendance (employee_id, work_date, actual_hours, expected_hours, balance_hours,
			status, source, finalized, notes, updated_at)
		VALUES (:employee_id, :work_date, :actual_hours, :expected_hours, :balance_hours,
			:status, :source, :finalized, :notes, :updated_at)
		ON CONFLICT(employee_id, work_date) DO UPDATE SET
			actual_hours = excluded.actual_hours,
			expected_hours = excluded.expected_hours,
			balance_hours = excluded.balance_hours,
			status = excluded.status,
			source = excluded.source,
			finalized = excluded.finalized,
			notes = excluded.notes,
			updated_at = excluded.updated_at
	`, row)
	if err != nil {
		return fmt.Errorf("failed to save attendance: %w", err)
	}
	return nil
}

// AttendanceRange returns an employee's records between from and to, inclusive.
func (s *Store) AttendanceRange(ctx context.Context, id ledger.EmployeeID, from, to time.Time) ([]realtime.Attendance, error) {
	var rows []attendanceRow
	err := s.db.SelectContext(ctx, &rows,
		s.db.Rebind(selectAttendance+` WHERE employee_id = ? AND work_date >= ? AND work_date <= ? ORDER BY work_date`),
		string(id), from.Format(ledger.DateLayout), to.Format(ledger.DateLayout))
	if err != nil {
		return nil, err
	}
	out := make([]realtime.Attendance, 0, len(rows))
	for _, r := range rows {
		a, err := r.attendance()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

var _ realtime.AttendanceStore = (*Store)(nil)
