/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the domain model (decimal hours, typed IDs) from the wire contract, where
  hours are plain JSON numbers.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry go-playground/validator tags. decodeAndValidate
  rejects a body that fails them with 400 and one message per field.
  Domain rules (schedule invariants, balance checks) stay in the engine.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/hours-engine/carryover"
	"github.com/warp/hours-engine/contract"
	"github.com/warp/hours-engine/engine"
	"github.com/warp/hours-engine/ledger"
	"github.com/warp/hours-engine/realtime"
	"github.com/warp/hours-engine/schedule"
	"github.com/warp/hours-engine/store/sqlstore"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// SaveEmployeeRequest creates or updates an employee.
type SaveEmployeeRequest struct {
	ID           string `json:"id" validate:"required,max=64"`
	Name         string `json:"name" validate:"required,max=200"`
	Email        string `json:"email" validate:"omitempty,email"`
	ContractType string `json:"contract_type" validate:"omitempty,max=64"`
	Active       *bool  `json:"active"`
	HireDate     string `json:"hire_date" validate:"omitempty,datetime=2006-01-02"`
}

// PostTransactionRequest is a manual ledger entry.
type PostTransactionRequest struct {
	Category       string  `json:"category" validate:"required,oneof=overtime vacation permission"`
	Type           string  `json:"type" validate:"required,oneof=accrual usage adjustment"`
	Hours          float64 `json:"hours" validate:"gt=0,lte=10000"`
	Date           string  `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Reason         string  `json:"reason" validate:"required,max=500"`
	IdempotencyKey string  `json:"idempotency_key" validate:"omitempty,max=128"`
}

// SaveScheduleRequest replaces an employee's week.
type SaveScheduleRequest struct {
	Days []schedule.DaySchedule `json:"days" validate:"required,min=1,max=7"`
}

// CorrectAttendanceRequest is a manual attendance correction.
type CorrectAttendanceRequest struct {
	ActualHours float64 `json:"actual_hours" validate:"gte=0,lte=24"`
	Notes       string  `json:"notes" validate:"max=500"`
}

// SubmitRequestRequest records a pending leave request.
type SubmitRequestRequest struct {
	ID         string  `json:"id" validate:"omitempty,max=64"`
	EmployeeID string  `json:"employee_id" validate:"required"`
	Category   string  `json:"category" validate:"required,oneof=overtime vacation permission"`
	Hours      float64 `json:"hours" validate:"gt=0,lte=2000"`
	Date       string  `json:"date" validate:"required,datetime=2006-01-02"`
	Reason     string  `json:"reason" validate:"max=500"`
}

// DecideRequestRequest moves a request out of pending.
type DecideRequestRequest struct {
	Status string `json:"status" validate:"required,oneof=approved rejected cancelled"`
}

// CarryoverRequest triggers a year-end close.
type CarryoverRequest struct {
	Year        int    `json:"year" validate:"gte=0"`
	EmployeeID  string `json:"employee_id"`
	Concurrency int    `json:"concurrency" validate:"gte=0,lte=64"`
}

// AccrualRequest triggers a monthly accrual.
type AccrualRequest struct {
	Year       int    `json:"year" validate:"gte=0"`
	Month      int    `json:"month" validate:"gte=0,lte=12"`
	EmployeeID string `json:"employee_id"`
}

// FinalizeRequest triggers the daily finalization of one date.
type FinalizeRequest struct {
	Date string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// EmployeeDTO represents an employee in API responses.
type EmployeeDTO struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email,omitempty"`
	ContractType string `json:"contract_type"`
	Active       bool   `json:"active"`
	HireDate     string `json:"hire_date,omitempty"`
	CreatedAt    string `json:"created_at,omitempty"`
}

// BalanceDTO is one projected balance.
type BalanceDTO struct {
	EmployeeID   string  `json:"employee_id"`
	Category     string  `json:"category"`
	Year         int     `json:"year"`
	TotalAccrued float64 `json:"total_accrued"`
	TotalUsed    float64 `json:"total_used"`
	Current      float64 `json:"current"`
	Pending      float64 `json:"pending"`
	Available    float64 `json:"available"`
}

// TransactionDTO represents a ledger transaction.
type TransactionDTO struct {
	ID             string  `json:"id"`
	EmployeeID     string  `json:"employee_id"`
	Category       string  `json:"category"`
	Type           string  `json:"type"`
	Hours          float64 `json:"hours"`
	SignedHours    float64 `json:"signed_hours"`
	Date           string  `json:"date"`
	PeriodYear     int     `json:"period_year"`
	PeriodMonth    int     `json:"period_month"`
	Reason         string  `json:"reason"`
	IdempotencyKey string  `json:"idempotency_key,omitempty"`
	CreatedBy      string  `json:"created_by,omitempty"`
	CreatedAt      string  `json:"created_at,omitempty"`
}

// SnapshotDTO is the real-time view of today. Available is false when the
// schedule is malformed and there is no data to show.
type SnapshotDTO struct {
	Date           string  `json:"date"`
	Available      bool    `json:"available"`
	Message        string  `json:"message,omitempty"`
	IsWorkingDay   bool    `json:"is_working_day"`
	WorkType       string  `json:"work_type"`
	Status         string  `json:"status"`
	ActualHours    float64 `json:"actual_hours"`
	ExpectedHours  float64 `json:"expected_hours"`
	ContractHours  float64 `json:"contract_hours"`
	RemainingHours float64 `json:"remaining_hours"`
	BalanceHours   float64 `json:"balance_hours"`
	Start          string  `json:"start,omitempty"`
	End            string  `json:"end,omitempty"`
	BreakStart     string  `json:"break_start,omitempty"`
	BreakEnd       string  `json:"break_end,omitempty"`
}

// ScheduleDTO is an employee's week.
type ScheduleDTO struct {
	EmployeeID  string                 `json:"employee_id"`
	Configured  bool                   `json:"configured"`
	WeeklyHours float64                `json:"weekly_hours"`
	Days        []schedule.DaySchedule `json:"days"`
}

// AttendanceDTO is the saved record of a day.
type AttendanceDTO struct {
	EmployeeID    string  `json:"employee_id"`
	Date          string  `json:"date"`
	ActualHours   float64 `json:"actual_hours"`
	ExpectedHours float64 `json:"expected_hours"`
	BalanceHours  float64 `json:"balance_hours"`
	Status        string  `json:"status"`
	Source        string  `json:"source"`
	Finalized     bool    `json:"finalized"`
	Notes         string  `json:"notes,omitempty"`
	UpdatedAt     string  `json:"updated_at,omitempty"`
}

// RequestDTO is a leave request.
type RequestDTO struct {
	ID         string  `json:"id"`
	EmployeeID string  `json:"employee_id"`
	Category   string  `json:"category"`
	Hours      float64 `json:"hours"`
	Date       string  `json:"date"`
	Status     string  `json:"status"`
	Reason     string  `json:"reason,omitempty"`
	DecidedBy  string  `json:"decided_by,omitempty"`
	CreatedAt  string  `json:"created_at,omitempty"`
}

// RunDTO is one carry-over run record.
type RunDTO struct {
	Year        int     `json:"year"`
	EmployeeID  string  `json:"employee_id"`
	Category    string  `json:"category"`
	Status      string  `json:"status"`
	Balance     float64 `json:"balance"`
	Cap         float64 `json:"cap"`
	CarriedOver float64 `json:"carried_over"`
	Expired     float64 `json:"expired"`
	Error       string  `json:"error,omitempty"`
	ProcessedAt string  `json:"processed_at,omitempty"`
}

// CarryoverItemDTO is the close of one employee.
type CarryoverItemDTO struct {
	EmployeeID string   `json:"employee_id"`
	Status     string   `json:"status"`
	Categories []RunDTO `json:"categories"`
}

// CarryoverReportDTO summarizes a year-end close.
type CarryoverReportDTO struct {
	Year        int                `json:"year"`
	Processed   int                `json:"processed"`
	Succeeded   int                `json:"succeeded"`
	Failed      int                `json:"failed"`
	Skipped     int                `json:"skipped"`
	DurationMS  int64              `json:"duration_ms"`
	SuccessRate float64            `json:"success_rate"`
	Items       []CarryoverItemDTO `json:"items"`
}

// PolicyDTO previews an employee's year-end close.
type PolicyDTO struct {
	EmployeeID   string              `json:"employee_id"`
	ContractType string              `json:"contract_type"`
	Year         int                 `json:"year"`
	Categories   []CategoryPolicyDTO `json:"categories"`
}

// CategoryPolicyDTO previews one category.
type CategoryPolicyDTO struct {
	Category     string  `json:"category"`
	AnnualHours  float64 `json:"annual_hours"`
	MaxCarryover float64 `json:"max_carryover"`
	Balance      float64 `json:"balance"`
	WouldCarry   float64 `json:"would_carry"`
	WouldExpire  float64 `json:"would_expire"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func hours(d decimal.Decimal) float64 { return d.InexactFloat64() }

func toEmployeeDTO(e sqlstore.Employee) EmployeeDTO {
	dto := EmployeeDTO{
		ID:           string(e.ID),
		Name:         e.Name,
		Email:        e.Email,
		ContractType: e.ContractType,
		Active:       e.Active,
		HireDate:     e.HireDate,
	}
	if !e.CreatedAt.IsZero() {
		dto.CreatedAt = e.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

func toBalanceDTO(b ledger.Balance) BalanceDTO {
	return BalanceDTO{
		EmployeeID:   string(b.EmployeeID),
		Category:     string(b.Category),
		Year:         b.Year,
		TotalAccrued: hours(b.TotalAccrued),
		TotalUsed:    hours(b.TotalUsed),
		Current:      hours(b.Current),
		Pending:      hours(b.Pending),
		Available:    hours(b.Available()),
	}
}

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	dto := TransactionDTO{
		ID:             string(tx.ID),
		EmployeeID:     string(tx.EmployeeID),
		Category:       string(tx.Category),
		Type:           string(tx.Type),
		Hours:          hours(tx.Hours),
		SignedHours:    hours(tx.Signed()),
		Date:           tx.Date.Format(ledger.DateLayout),
		PeriodYear:     tx.PeriodYear,
		PeriodMonth:    tx.PeriodMonth,
		Reason:         tx.Reason,
		IdempotencyKey: tx.IdempotencyKey,
		CreatedBy:      tx.CreatedBy,
	}
	if !tx.CreatedAt.IsZero() {
		dto.CreatedAt = tx.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

func toTransactionDTOs(txs []ledger.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	return dtos
}

func toSnapshotDTO(s realtime.Snapshot) SnapshotDTO {
	return SnapshotDTO{
		Date:           s.Date.Format(ledger.DateLayout),
		Available:      true,
		IsWorkingDay:   s.IsWorkingDay,
		WorkType:       string(s.WorkType),
		Status:         string(s.Status),
		ActualHours:    hours(s.ActualHours),
		ExpectedHours:  hours(s.ExpectedHours),
		ContractHours:  hours(s.ContractHours),
		RemainingHours: hours(s.RemainingHours),
		BalanceHours:   hours(s.BalanceHours),
		Start:          s.Start,
		End:            s.End,
		BreakStart:     s.BreakStart,
		BreakEnd:       s.BreakEnd,
	}
}

func toAttendanceDTO(a realtime.Attendance) AttendanceDTO {
	dto := AttendanceDTO{
		EmployeeID:    string(a.EmployeeID),
		Date:          a.Date.Format(ledger.DateLayout),
		ActualHours:   hours(a.ActualHours),
		ExpectedHours: hours(a.ExpectedHours),
		BalanceHours:  hours(a.BalanceHours),
		Status:        string(a.Status),
		Source:        string(a.Source),
		Finalized:     a.Finalized,
		Notes:         a.Notes,
	}
	if !a.UpdatedAt.IsZero() {
		dto.UpdatedAt = a.UpdatedAt.Format(time.RFC3339)
	}
	return dto
}

func toRequestDTO(r sqlstore.Request) RequestDTO {
	dto := RequestDTO{
		ID:         r.ID,
		EmployeeID: string(r.EmployeeID),
		Category:   string(r.Category),
		Hours:      hours(r.Hours),
		Date:       r.Date.Format(ledger.DateLayout),
		Status:     r.Status,
		Reason:     r.Reason,
		DecidedBy:  r.DecidedBy,
	}
	if !r.CreatedAt.IsZero() {
		dto.CreatedAt = r.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

func toRunDTO(r carryover.Run) RunDTO {
	dto := RunDTO{
		Year:        r.Year,
		EmployeeID:  string(r.EmployeeID),
		Category:    string(r.Category),
		Status:      string(r.Status),
		Balance:     hours(r.Balance),
		Cap:         hours(r.Cap),
		CarriedOver: hours(r.CarriedOver),
		Expired:     hours(r.Expired),
		Error:       r.Error,
	}
	if !r.ProcessedAt.IsZero() {
		dto.ProcessedAt = r.ProcessedAt.Format(time.RFC3339)
	}
	return dto
}

func toRunDTOs(runs []carryover.Run) []RunDTO {
	dtos := make([]RunDTO, len(runs))
	for i, r := range runs {
		dtos[i] = toRunDTO(r)
	}
	return dtos
}

func toCarryoverReportDTO(r *carryover.Report) CarryoverReportDTO {
	dto := CarryoverReportDTO{
		Year:        r.Year,
		Processed:   r.Processed,
		Succeeded:   r.Succeeded,
		Failed:      r.Failed,
		Skipped:     r.Skipped,
		DurationMS:  r.Duration.Milliseconds(),
		SuccessRate: r.SuccessRate,
		Items:       make([]CarryoverItemDTO, 0, len(r.Items)),
	}
	for _, item := range r.Items {
		dto.Items = append(dto.Items, CarryoverItemDTO{
			EmployeeID: string(item.EmployeeID),
			Status:     string(item.Status),
			Categories: toRunDTOs(item.Categories),
		})
	}
	return dto
}

func toPolicyDTO(p engine.Policy) PolicyDTO {
	dto := PolicyDTO{
		EmployeeID:   string(p.EmployeeID),
		ContractType: p.ContractType,
		Year:         p.Year,
		Categories:   make([]CategoryPolicyDTO, 0, len(p.Categories)),
	}
	for _, c := range p.Categories {
		dto.Categories = append(dto.Categories, CategoryPolicyDTO{
			Category:     string(c.Category),
			AnnualHours:  hours(c.AnnualHours),
			MaxCarryover: hours(c.MaxCarryover),
			Balance:      hours(c.Balance),
			WouldCarry:   hours(c.WouldCarry),
			WouldExpire:  hours(c.WouldExpire),
		})
	}
	return dto
}

func toContractDTOs(types []contract.Type) []contract.Definition {
	out := make([]contract.Definition, len(types))
	for i, t := range types {
		out[i] = contract.ToDefinition(t)
	}
	return out
}
