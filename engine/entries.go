package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/hours-engine/ledger"
	"github.com/warp/hours-engine/realtime"
	"github.com/warp/hours-engine/store/sqlstore"
)

// ErrRequestDecided is returned when a request is no longer pending.
var ErrRequestDecided = errors.New("request already decided")

// =============================================================================
// MANUAL ENTRIES
// =============================================================================

// Entry is a manual ledger entry. Expiration is reserved for the year-end
// close and rejected here.
type Entry struct {
	EmployeeID     ledger.EmployeeID
	Category       ledger.Category
	Type           ledger.TransactionType
	Hours          decimal.Decimal
	Date           time.Time // today when zero
	Reason         string
	CreatedBy      string
	IdempotencyKey string
}

// PostEntry validates and appends a manual entry. Overtime usage fails with
// *ledger.InsufficientBalanceError when the available balance is short.
func (e *Engine) PostEntry(ctx context.Context, en Entry) (ledger.Transaction, error) {
	if en.Type == ledger.TxExpiration {
		return ledger.Transaction{}, &ledger.ValidationError{Field: "type", Message: "expiration is posted by the year-end close only"}
	}
	if _, err := e.Store.GetEmployee(ctx, en.EmployeeID); err != nil {
		return ledger.Transaction{}, err
	}
	if en.Date.IsZero() {
		en.Date = ledger.DateOf(e.Now().In(e.Location))
	}
	tx := ledger.Transaction{
		EmployeeID:     en.EmployeeID,
		Category:       en.Category,
		Type:           en.Type,
		Hours:          en.Hours,
		Date:           ledger.DateOf(en.Date),
		PeriodYear:     en.Date.Year(),
		PeriodMonth:    int(en.Date.Month()),
		Reason:         en.Reason,
		IdempotencyKey: en.IdempotencyKey,
		CreatedBy:      en.CreatedBy,
	}
	if err := ledger.Validate(tx); err != nil {
		return ledger.Transaction{}, err
	}

	if tx.Category == ledger.CategoryOvertime && tx.Type == ledger.TxUsage {
		e.usageMu.Lock()
		defer e.usageMu.Unlock()
		if err := e.requireAvailable(ctx, tx.Key(), tx.Hours, decimal.Zero); err != nil {
			return ledger.Transaction{}, err
		}
	}

	id, err := e.Ledger.Append(ctx, tx)
	if err != nil {
		return ledger.Transaction{}, err
	}
	tx.ID = id
	return tx, nil
}

// requireAvailable fails when key cannot cover hours. reserved is the part
// of the pending hours that belongs to the operation itself.
func (e *Engine) requireAvailable(ctx context.Context, key ledger.BalanceKey, hours, reserved decimal.Decimal) error {
	b, err := e.Projector.Project(ctx, key.EmployeeID, key.Category, key.Year)
	if err != nil {
		return err
	}
	available := b.Available().Add(reserved)
	if available.LessThan(hours) {
		return &ledger.InsufficientBalanceError{Key: key, Available: available, Requested: hours}
	}
	return nil
}

// =============================================================================
// LEAVE REQUESTS
// =============================================================================

// SubmitRequest records a pending request. Its hours count as pending in
// the balance until it is decided.
func (e *Engine) SubmitRequest(ctx context.Context, req sqlstore.Request) (sqlstore.Request, error) {
	if _, err := e.Store.GetEmployee(ctx, req.EmployeeID); err != nil {
		return sqlstore.Request{}, err
	}
	if !req.Category.Valid() {
		return sqlstore.Request{}, &ledger.ValidationError{Field: "category", Message: fmt.Sprintf("unknown category %q", req.Category)}
	}
	if !req.Hours.IsPositive() {
		return sqlstore.Request{}, &ledger.ValidationError{Field: "hours", Message: "must be positive"}
	}
	if req.Date.IsZero() {
		return sqlstore.Request{}, &ledger.ValidationError{Field: "date", Message: "is required"}
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.Date = ledger.DateOf(req.Date)
	req.Status = sqlstore.RequestPending
	req.DecidedBy = ""

	if req.Category == ledger.CategoryOvertime {
		e.usageMu.Lock()
		defer e.usageMu.Unlock()
		key := ledger.BalanceKey{EmployeeID: req.EmployeeID, Category: req.Category, Year: req.Date.Year()}
		if err := e.requireAvailable(ctx, key, req.Hours, decimal.Zero); err != nil {
			return sqlstore.Request{}, err
		}
	}
	if err := e.Store.SaveRequest(ctx, req); err != nil {
		return sqlstore.Request{}, err
	}
	return e.Store.GetRequest(ctx, req.ID)
}

// DecideRequest moves a pending request to status. Approval posts the usage
// under the key request:<id>, so approving twice posts once. Approving
// overtime re-checks the balance: other usage may have been posted since
// the request was submitted.
func (e *Engine) DecideRequest(ctx context.Context, id, status, decidedBy string) (sqlstore.Request, error) {
	switch status {
	case sqlstore.RequestApproved, sqlstore.RequestRejected, sqlstore.RequestCancelled:
	default:
		return sqlstore.Request{}, &ledger.ValidationError{Field: "status", Message: fmt.Sprintf("cannot move a request to %q", status)}
	}

	e.usageMu.Lock()
	defer e.usageMu.Unlock()

	req, err := e.Store.GetRequest(ctx, id)
	if err != nil {
		return sqlstore.Request{}, err
	}
	if req.Status != sqlstore.RequestPending {
		return req, fmt.Errorf("%w: %s is %s", ErrRequestDecided, id, req.Status)
	}

	if status == sqlstore.RequestApproved {
		if req.Category == ledger.CategoryOvertime {
			key := ledger.BalanceKey{EmployeeID: req.EmployeeID, Category: req.Category, Year: req.Date.Year()}
			if err := e.requireAvailable(ctx, key, req.Hours, req.Hours); err != nil {
				return req, err
			}
		}
		reason := req.Reason
		if reason == "" {
			reason = fmt.Sprintf("approved %s request %s", req.Category, req.ID)
		}
		_, err := e.Ledger.Append(ctx, ledger.Transaction{
			EmployeeID:     req.EmployeeID,
			Category:       req.Category,
			Type:           ledger.TxUsage,
			Hours:          req.Hours,
			Date:           req.Date,
			PeriodYear:     req.Date.Year(),
			PeriodMonth:    int(req.Date.Month()),
			Reason:         reason,
			IdempotencyKey: "request:" + req.ID,
			CreatedBy:      decidedBy,
		})
		if err != nil && !errors.Is(err, ledger.ErrDuplicateIdempotencyKey) {
			return req, err
		}
	}

	req.Status = status
	req.DecidedBy = decidedBy
	if err := e.Store.SaveRequest(ctx, req); err != nil {
		return req, err
	}
	e.Logger.InfoContext(ctx, "request decided",
		"request_id", req.ID,
		"employee_id", req.EmployeeID,
		"category", req.Category,
		"status", status,
		"decided_by", decidedBy,
	)
	return e.Store.GetRequest(ctx, id)
}

// =============================================================================
// ATTENDANCE
// =============================================================================

// Correction replaces the recorded hours of one day.
type Correction struct {
	EmployeeID  ledger.EmployeeID
	Date        time.Time
	ActualHours decimal.Decimal
	Notes       string
	CreatedBy   string
}

// Attendance returns the saved record of a day.
func (e *Engine) Attendance(ctx context.Context, id ledger.EmployeeID, date time.Time) (realtime.Attendance, bool, error) {
	if _, err := e.Store.GetEmployee(ctx, id); err != nil {
		return realtime.Attendance{}, false, err
	}
	return e.Attendances.GetAttendance(ctx, id, ledger.DateOf(date))
}

// CorrectAttendance stores a manual record. Auto-save never overwrites it
// and the daily finalization uses its hours. A day that was already
// finalized gets the difference to the previous figure posted to overtime
// right away, keyed on the record it replaces: retrying a correction whose
// save failed posts the difference once.
func (e *Engine) CorrectAttendance(ctx context.Context, c Correction) (realtime.Attendance, error) {
	if _, err := e.Store.GetEmployee(ctx, c.EmployeeID); err != nil {
		return realtime.Attendance{}, err
	}
	if c.ActualHours.IsNegative() || c.ActualHours.GreaterThan(decimal.NewFromInt(24)) {
		return realtime.Attendance{}, &ledger.ValidationError{Field: "actual_hours", Message: "must be within [0, 24]"}
	}
	date := ledger.DateOf(c.Date)
	existing, found, err := e.Attendances.GetAttendance(ctx, c.EmployeeID, date)
	if err != nil {
		return realtime.Attendance{}, err
	}

	week, err := e.Schedules.WeekFor(ctx, c.EmployeeID)
	if err != nil {
		return realtime.Attendance{}, fmt.Errorf("load schedule: %w", err)
	}
	endOfDay := time.Date(date.Year(), date.Month(), date.Day(), 23, 59, 0, 0, e.Location)
	snap, err := realtime.Compute(week, endOfDay)
	if err != nil {
		return realtime.Attendance{}, fmt.Errorf("resolve %s: %w", date.Format(ledger.DateLayout), err)
	}

	rec := realtime.Attendance{
		EmployeeID:    c.EmployeeID,
		Date:          date,
		ActualHours:   c.ActualHours,
		ExpectedHours: snap.ContractHours,
		BalanceHours:  c.ActualHours.Sub(snap.ContractHours),
		Status:        realtime.StatusCompleted,
		Source:        realtime.SourceManual,
		Notes:         c.Notes,
		UpdatedAt:     e.Now().UTC(),
	}

	if found && existing.Finalized {
		rec.Finalized = true
		if delta := c.ActualHours.Sub(existing.ActualHours); !delta.IsZero() {
			tx := ledger.Transaction{
				EmployeeID:     c.EmployeeID,
				Category:       ledger.CategoryOvertime,
				Type:           ledger.TxAdjustment,
				Hours:          delta.Abs(),
				Date:           date,
				PeriodYear:     date.Year(),
				PeriodMonth:    int(date.Month()),
				Reason:         fmt.Sprintf("attendance correction %s: %s -> %s", date.Format(ledger.DateLayout), existing.ActualHours, c.ActualHours),
				IdempotencyKey: correctionKey(existing, c.ActualHours),
				CreatedBy:      c.CreatedBy,
			}
			if delta.IsNegative() {
				tx.Type = ledger.TxUsage
			}
			if _, err := e.Ledger.Append(ctx, tx); err != nil && !errors.Is(err, ledger.ErrDuplicateIdempotencyKey) {
				return realtime.Attendance{}, err
			}
		}
	}

	if err := e.Attendances.SaveAttendance(ctx, rec); err != nil {
		return realtime.Attendance{}, err
	}
	e.Logger.InfoContext(ctx, "attendance corrected",
		"employee_id", c.EmployeeID,
		"date", date.Format(ledger.DateLayout),
		"actual_hours", c.ActualHours.String(),
		"finalized", rec.Finalized,
	)
	return rec, nil
}

// correctionKey identifies the change of one saved record to actual.
// The record's UpdatedAt tells apart two corrections between the same figures.
func correctionKey(existing realtime.Attendance, actual decimal.Decimal) string {
	return fmt.Sprintf("correction:%s:%s:%d:%s->%s",
		existing.EmployeeID,
		existing.Date.Format(ledger.DateLayout),
		existing.UpdatedAt.UnixNano(),
		existing.ActualHours.String(),
		actual.String(),
	)
}
