/*
handlers.go - HTTP API handlers for the hours engine

PURPOSE:
  Exposes the engine via REST API. Handles HTTP request/response, JSON
  serialization and access checks, and delegates to engine.Engine.

ENDPOINTS:
  Employee (own resources, or any with manager/admin role):
    GET    /api/employees/{id}/hours/today          Real-time snapshot
    GET    /api/employees/{id}/balances             All categories
    GET    /api/employees/{id}/balances/{category}  One category
    GET    /api/employees/{id}/transactions         Ledger history
    POST   /api/employees/{id}/transactions         Manual entry (manager)
    GET    /api/employees/{id}/schedule             Weekly schedule
    PUT    /api/employees/{id}/schedule             Replace schedule (manager)
    GET    /api/employees/{id}/attendance/{date}    Saved attendance
    PUT    /api/employees/{id}/attendance/{date}    Manual correction (manager)
    GET    /api/employees/{id}/carryover-policy     Year-end preview
    GET    /api/contracts                           Contract types

  Admin:
    GET/POST /api/admin/employees
    POST   /api/admin/requests
    POST   /api/admin/requests/{id}/status
    POST   /api/admin/carryover
    GET    /api/admin/carryover/runs
    POST   /api/admin/accrual
    POST   /api/admin/autosave/hourly
    POST   /api/admin/autosave/daily

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 403: Caller may not touch the resource
  - 404: Employee, contract or request not found
  - 409: Duplicate idempotency key, request already decided
  - 422: Insufficient balance
  - 503: Balance unavailable
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - identity.go: Caller identity
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/warp/hours-engine/accrual"
	"github.com/warp/hours-engine/carryover"
	"github.com/warp/hours-engine/contract"
	"github.com/warp/hours-engine/engine"
	"github.com/warp/hours-engine/ledger"
	"github.com/warp/hours-engine/realtime"
	"github.com/warp/hours-engine/schedule"
	"github.com/warp/hours-engine/store/sqlstore"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine   *engine.Engine
	Validate *validator.Validate
	Logger   *slog.Logger
}

// NewHandler creates a handler over e.
func NewHandler(e *engine.Engine, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{Engine: e, Validate: v, Logger: logger}
}

// =============================================================================
// REAL-TIME AND BALANCES
// =============================================================================

// GetToday returns the real-time snapshot of today.
// GET /api/employees/{id}/hours/today?at=RFC3339&entry=HH:MM&exit=HH:MM
func (h *Handler) GetToday(w http.ResponseWriter, r *http.Request) {
	id, ok := h.employeeParam(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	var at time.Time
	if s := q.Get("at"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid at (use RFC3339)", err)
			return
		}
		at = t
	}
	var ov *realtime.Override
	if entry, exit := q.Get("entry"), q.Get("exit"); entry != "" || exit != "" {
		ov = &realtime.Override{EntryTime: entry, ExitTime: exit}
	}

	snap, err := h.Engine.Today(r.Context(), id, at, ov)
	if errors.Is(err, schedule.ErrInvalidSchedule) {
		dto := toSnapshotDTO(snap)
		dto.Available = false
		dto.Message = err.Error()
		writeJSON(w, http.StatusOK, dto)
		return
	}
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSnapshotDTO(snap))
}

// ListBalances returns every category for a year.
// GET /api/employees/{id}/balances?year=2025
func (h *Handler) ListBalances(w http.ResponseWriter, r *http.Request) {
	id, ok := h.employeeParam(w, r)
	if !ok {
		return
	}
	year, ok := queryInt(w, r, "year")
	if !ok {
		return
	}
	balances, err := h.Engine.Balances(r.Context(), id, year)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dtos := make([]BalanceDTO, len(balances))
	for i, b := range balances {
		dtos[i] = toBalanceDTO(b)
	}
	writeJSON(w, http.StatusOK, map[string]any{"balances": dtos})
}

// GetBalance returns one category.
// GET /api/employees/{id}/balances/{category}?year=2025
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := h.employeeParam(w, r)
	if !ok {
		return
	}
	category, err := ledger.ParseCategory(chi.URLParam(r, "category"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid category", err)
		return
	}
	year, ok := queryInt(w, r, "year")
	if !ok {
		return
	}
	b, err := h.Engine.Balance(r.Context(), id, category, year)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(b))
}

// ListTransactions returns ledger history.
// GET /api/employees/{id}/transactions?category=&type=&year=&month=
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.employeeParam(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	var f ledger.Filter
	if s := q.Get("category"); s != "" {
		c, err := ledger.ParseCategory(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid category", err)
			return
		}
		f.Category = c
	}
	if s := q.Get("type"); s != "" {
		f.Type = ledger.TransactionType(s)
		if !f.Type.Valid() {
			writeError(w, http.StatusBadRequest, "Invalid type", nil)
			return
		}
	}
	if f.Year, ok = queryInt(w, r, "year"); !ok {
		return
	}
	if f.Month, ok = queryInt(w, r, "month"); !ok {
		return
	}

	txs, err := h.Engine.Transactions(r.Context(), id, f)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": toTransactionDTOs(txs)})
}

// PostTransaction records a manual ledger entry.
// POST /api/employees/{id}/transactions
func (h *Handler) PostTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := h.managedEmployeeParam(w, r)
	if !ok {
		return
	}
	var req PostTransactionRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	var date time.Time
	if req.Date != "" {
		date, _ = ledger.ParseDate(req.Date)
	}
	caller, _ := IdentityFromContext(r.Context())

	tx, err := h.Engine.PostEntry(r.Context(), engine.Entry{
		EmployeeID:     id,
		Category:       ledger.Category(req.Category),
		Type:           ledger.TransactionType(req.Type),
		Hours:          decimal.NewFromFloat(req.Hours).Round(2),
		Date:           date,
		Reason:         req.Reason,
		CreatedBy:      string(caller.EmployeeID),
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

// =============================================================================
// SCHEDULE AND ATTENDANCE
// =============================================================================

// GetSchedule returns the employee's week.
// GET /api/employees/{id}/schedule
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := h.employeeParam(w, r)
	if !ok {
		return
	}
	week, configured, err := h.Engine.Schedule(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ScheduleDTO{
		EmployeeID:  string(id),
		Configured:  configured,
		WeeklyHours: hours(week.WeeklyHours()),
		Days:        week,
	})
}

// PutSchedule replaces the employee's week.
// PUT /api/employees/{id}/schedule
func (h *Handler) PutSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := h.managedEmployeeParam(w, r)
	if !ok {
		return
	}
	var req SaveScheduleRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	week := schedule.Week(req.Days)
	if err := h.Engine.SaveSchedule(r.Context(), id, week); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ScheduleDTO{
		EmployeeID:  string(id),
		Configured:  true,
		WeeklyHours: hours(week.WeeklyHours()),
		Days:        week,
	})
}

// GetAttendance returns the saved record of a day.
// GET /api/employees/{id}/attendance/{date}
func (h *Handler) GetAttendance(w http.ResponseWriter, r *http.Request) {
	id, ok := h.employeeParam(w, r)
	if !ok {
		return
	}
	date, err := ledger.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}
	rec, found, err := h.Engine.Attendance(r.Context(), id, date)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "No attendance saved for this date", nil)
		return
	}
	writeJSON(w, http.StatusOK, toAttendanceDTO(rec))
}

// PutAttendance stores a manual correction.
// PUT /api/employees/{id}/attendance/{date}
func (h *Handler) PutAttendance(w http.ResponseWriter, r *http.Request) {
	id, ok := h.managedEmployeeParam(w, r)
	if !ok {
		return
	}
	date, err := ledger.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}
	var req CorrectAttendanceRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	caller, _ := IdentityFromContext(r.Context())
	rec, err := h.Engine.CorrectAttendance(r.Context(), engine.Correction{
		EmployeeID:  id,
		Date:        time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, h.Engine.Location),
		ActualHours: decimal.NewFromFloat(req.ActualHours).Round(2),
		Notes:       req.Notes,
		CreatedBy:   string(caller.EmployeeID),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAttendanceDTO(rec))
}

// GetCarryoverPolicy previews the year-end close.
// GET /api/employees/{id}/carryover-policy?year=2025
func (h *Handler) GetCarryoverPolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := h.employeeParam(w, r)
	if !ok {
		return
	}
	year, ok := queryInt(w, r, "year")
	if !ok {
		return
	}
	policy, err := h.Engine.CarryoverPolicy(r.Context(), id, year)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(policy))
}

// ListContracts returns every contract type.
// GET /api/contracts
func (h *Handler) ListContracts(w http.ResponseWriter, r *http.Request) {
	types, err := h.Engine.Contracts(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contracts": toContractDTOs(types)})
}

// =============================================================================
// ADMIN
// =============================================================================

// ListEmployees returns all employees.
// GET /api/admin/employees
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Engine.Store.ListEmployees(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(e)
	}
	writeJSON(w, http.StatusOK, map[string]any{"employees": dtos})
}

// SaveEmployee creates or updates an employee.
// POST /api/admin/employees
func (h *Handler) SaveEmployee(w http.ResponseWriter, r *http.Request) {
	var req SaveEmployeeRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	emp, err := h.Engine.SaveEmployee(r.Context(), sqlstore.Employee{
		ID:           ledger.EmployeeID(req.ID),
		Name:         req.Name,
		Email:        req.Email,
		ContractType: req.ContractType,
		Active:       active,
		HireDate:     req.HireDate,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(emp))
}

// SubmitRequest records a pending leave request.
// POST /api/admin/requests
func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequestRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	date, _ := ledger.ParseDate(req.Date)
	saved, err := h.Engine.SubmitRequest(r.Context(), sqlstore.Request{
		ID:         req.ID,
		EmployeeID: ledger.EmployeeID(req.EmployeeID),
		Category:   ledger.Category(req.Category),
		Hours:      decimal.NewFromFloat(req.Hours).Round(2),
		Date:       date,
		Reason:     req.Reason,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequestDTO(saved))
}

// DecideRequest approves, rejects or cancels a pending request.
// POST /api/admin/requests/{id}/status
func (h *Handler) DecideRequest(w http.ResponseWriter, r *http.Request) {
	var req DecideRequestRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	caller, _ := IdentityFromContext(r.Context())
	decided, err := h.Engine.DecideRequest(r.Context(), chi.URLParam(r, "id"), req.Status, string(caller.EmployeeID))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(decided))
}

// TriggerCarryover closes a year.
// POST /api/admin/carryover
func (h *Handler) TriggerCarryover(w http.ResponseWriter, r *http.Request) {
	var req CarryoverRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	report, err := h.Engine.RunCarryover(r.Context(), carryover.Options{
		Year:        req.Year,
		EmployeeID:  ledger.EmployeeID(req.EmployeeID),
		Concurrency: req.Concurrency,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCarryoverReportDTO(report))
}

// ListCarryoverRuns returns the run records of a year.
// GET /api/admin/carryover/runs?year=2024
func (h *Handler) ListCarryoverRuns(w http.ResponseWriter, r *http.Request) {
	year, ok := queryInt(w, r, "year")
	if !ok {
		return
	}
	runs, err := h.Engine.CarryoverRuns(r.Context(), year)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": toRunDTOs(runs)})
}

// TriggerAccrual posts a month of accrual.
// POST /api/admin/accrual
func (h *Handler) TriggerAccrual(w http.ResponseWriter, r *http.Request) {
	var req AccrualRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	report, err := h.Engine.RunAccrual(r.Context(), accrual.Options{
		Year:       req.Year,
		Month:      time.Month(req.Month),
		EmployeeID: ledger.EmployeeID(req.EmployeeID),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// TriggerHourlySave runs the hourly attendance save now.
// POST /api/admin/autosave/hourly
func (h *Handler) TriggerHourlySave(w http.ResponseWriter, r *http.Request) {
	report, err := h.Engine.SaveHourly(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// TriggerDailyFinalize finalizes one day, yesterday by default.
// POST /api/admin/autosave/daily
func (h *Handler) TriggerDailyFinalize(w http.ResponseWriter, r *http.Request) {
	var req FinalizeRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	var day time.Time
	if req.Date != "" {
		d, _ := ledger.ParseDate(req.Date)
		day = time.Date(d.Year(), d.Month(), d.Day(), 12, 0, 0, 0, h.Engine.Location)
	}
	report, err := h.Engine.FinalizeDay(r.Context(), day)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Healthz reports whether the database answers.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "driver": h.Engine.Store.Driver()})
}

// =============================================================================
// HELPERS
// =============================================================================

// employeeParam reads {id} and checks the caller may read it.
func (h *Handler) employeeParam(w http.ResponseWriter, r *http.Request) (ledger.EmployeeID, bool) {
	id := ledger.EmployeeID(chi.URLParam(r, "id"))
	caller, _ := IdentityFromContext(r.Context())
	if !caller.CanAccess(id) {
		writeError(w, http.StatusForbidden, "Not allowed to access this employee", nil)
		return "", false
	}
	return id, true
}

// managedEmployeeParam reads {id} for writes reserved to managers.
func (h *Handler) managedEmployeeParam(w http.ResponseWriter, r *http.Request) (ledger.EmployeeID, bool) {
	caller, _ := IdentityFromContext(r.Context())
	if !caller.CanManage() {
		writeError(w, http.StatusForbidden, "Manager or admin role required", nil)
		return "", false
	}
	return ledger.EmployeeID(chi.URLParam(r, "id")), true
}

func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, true
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid %s", name), err)
		return 0, false
	}
	return v, true
}

// decodeAndValidate decodes a JSON body into dst and runs the validator.
// An empty body decodes as {}.
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.Validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			details := make(map[string]string, len(fieldErrs))
			for _, fe := range fieldErrs {
				details[fe.Field()] = validationMessage(fe)
			}
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Validation failed", Code: "validation", Details: details})
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "datetime":
		return "must be a date (YYYY-MM-DD)"
	case "email":
		return "must be an email address"
	}
	if fe.Param() != "" {
		return fmt.Sprintf("must satisfy %s=%s", fe.Tag(), fe.Param())
	}
	return "must satisfy " + fe.Tag()
}

// writeDomainError maps engine errors to a status code.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance):
		status, code = http.StatusUnprocessableEntity, "insufficient_balance"
	case errors.Is(err, ledger.ErrDuplicateIdempotencyKey):
		status, code = http.StatusConflict, "duplicate"
	case errors.Is(err, engine.ErrRequestDecided):
		status, code = http.StatusConflict, "request_decided"
	case ledger.IsNotFound(err), errors.Is(err, sqlstore.ErrRequestNotFound):
		status, code = http.StatusNotFound, "not_found"
	case ledger.IsClientError(err), errors.Is(err, schedule.ErrInvalidSchedule), errors.Is(err, contract.ErrInvalidContract),
		errors.Is(err, carryover.ErrInvalidCap):
		status, code = http.StatusBadRequest, "invalid"
	case errors.Is(err, ledger.ErrBalanceUnavailable):
		status, code = http.StatusServiceUnavailable, "balance_unavailable"
	}
	if status >= http.StatusInternalServerError {
		h.Logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
