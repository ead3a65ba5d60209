package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/warp/hours-engine/contract"
	"github.com/warp/hours-engine/ledger"
	"github.com/warp/hours-engine/schedule"
)

// =============================================================================
// EMPLOYEES (realtime.Roster)
// =============================================================================

// Employee is the engine's view of an HR record.
type Employee struct {
	ID           ledger.EmployeeID `json:"id"`
	Name         string            `json:"name"`
	Email        string            `json:"email,omitempty"`
	ContractType string            `json:"contract_type"`
	Active       bool              `json:"active"`
	HireDate     string            `json:"hire_date,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

type employeeRow struct {
	ID           string `db:"id"`
	Name         string `db:"name"`
	Email        string `db:"email"`
	ContractType string `db:"contract_type"`
	Active       bool   `db:"active"`
	HireDate     string `db:"hire_date"`
	CreatedAt    string `db:"created_at"`
	UpdatedAt    string `db:"updated_at"`
}

func (r employeeRow) employee() (Employee, error) {
	createdAt, err := parseTime(r.CreatedAt)
	if err != nil {
		return Employee{}, fmt.Errorf("employee %s: %w", r.ID, err)
	}
	updatedAt, err := parseTime(r.UpdatedAt)
	if err != nil {
		return Employee{}, fmt.Errorf("employee %s: %w", r.ID, err)
	}
	return Employee{
		ID:           ledger.EmployeeID(r.ID),
		Name:         r.Name,
		Email:        r.Email,
		ContractType: r.ContractType,
		Active:       r.Active,
		HireDate:     r.HireDate,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}, nil
}

const selectEmployee = `SELECT id, name, email, contract_type, active, hire_date, created_at, updated_at FROM employees`

// SaveEmployee inserts or updates an employee.
func (s *Store) SaveEmployee(ctx context.Context, e Employee) error {
	now := s.now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.ContractType == "" {
		e.ContractType = contract.FullTime
	}
	row := employeeRow{
		ID:           string(e.ID),
		Name:         e.Name,
		Email:        e.Email,
		ContractType: e.ContractType,
		Active:       e.Active,
		HireDate:     e.HireDate,
		CreatedAt:    formatTime(e.CreatedAt),
		UpdatedAt:    formatTime(now),
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO employees (id, name, email, contract_type, active, hire_date, created_at, updated_at)
		VALUES (:id, :name, :email, :contract_type, :active, :hire_date, :created_at, :updated_at)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			contract_type = excluded.contract_type,
			active = excluded.active,
			hire_date = excluded.hire_date,
			updated_at = excluded.updated_at
	`, row)
	if err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	return nil
}

// GetEmployee returns ledger.ErrEmployeeNotFound for unknown IDs.
func (s *Store) GetEmployee(ctx context.Context, id ledger.EmployeeID) (Employee, error) {
	var row employeeRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(selectEmployee+` WHERE id = ?`), string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return Employee{}, fmt.Errorf("%w: %s", ledger.ErrEmployeeNotFound, id)
	}
	if err != nil {
		return Employee{}, err
	}
	return row.employee()
}

// ListEmployees returns every employee ordered by ID.
func (s *Store) ListEmployees(ctx context.Context) ([]Employee, error) {
	var rows []employeeRow
	if err := s.db.SelectContext(ctx, &rows, selectEmployee+` ORDER BY id`); err != nil {
		return nil, err
	}
	out := make([]Employee, 0, len(rows))
	for _, r := range rows {
		emp, err := r.employee()
		if err != nil {
			return nil, err
		}
		out = append(out, emp)
	}
	return out, nil
}

// ActiveEmployeeIDs lists active employees.
func (s *Store) ActiveEmployeeIDs(ctx context.Context) ([]ledger.EmployeeID, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, `SELECT id FROM employees WHERE active = TRUE ORDER BY id`); err != nil {
		return nil, err
	}
	out := make([]ledger.EmployeeID, len(ids))
	for i, id := range ids {
		out[i] = ledger.EmployeeID(id)
	}
	return out, nil
}

// =============================================================================
// CONTRACT TYPES (carryover.ContractSource)
// =============================================================================

// SaveContractType stores t, replacing a type of the same name.
func (s *Store) SaveContractType(ctx context.Context, t contract.Type) error {
	if err := t.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(contract.ToDefinition(t))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO contract_types (name, definition_json, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			definition_json = excluded.definition_json,
			updated_at = excluded.updated_at
	`), t.Name, string(data), formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("failed to save contract type: %w", err)
	}
	return nil
}

// GetContractType looks up a stored type, then the presets.
func (s *Store) GetContractType(ctx context.Context, name string) (contract.Type, error) {
	var data string
	err := s.db.GetContext(ctx, &data, s.db.Rebind(`SELECT definition_json FROM contract_types WHERE name = ?`), name)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if t, ok := contract.Lookup(name); ok {
			return t, nil
		}
		return contract.Type{}, fmt.Errorf("%w: %s", ledger.ErrContractNotFound, name)
	case err != nil:
		return contract.Type{}, err
	}
	return contract.ParseJSON([]byte(data))
}

// ListContractTypes returns stored types merged over the presets, by name.
func (s *Store) ListContractTypes(ctx context.Context) ([]contract.Type, error) {
	var rows []string
	if err := s.db.SelectContext(ctx, &rows, `SELECT definition_json FROM contract_types`); err != nil {
		return nil, err
	}
	byName := make(map[string]contract.Type)
	for _, p := range contract.Presets() {
		byName[p.Name] = p
	}
	for _, data := range rows {
		t, err := contract.ParseJSON([]byte(data))
		if err != nil {
			return nil, err
		}
		byName[t.Name] = t
	}
	out := make([]contract.Type, 0, len(byName))
	for _, t := range byName {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ContractFor resolves the contract type of an employee.
func (s *Store) ContractFor(ctx context.Context, id ledger.EmployeeID) (contract.Type, error) {
	emp, err := s.GetEmployee(ctx, id)
	if err != nil {
		return contract.Type{}, err
	}
	return s.GetContractType(ctx, emp.ContractType)
}

// =============================================================================
// WORK SCHEDULES (realtime.ScheduleSource)
// =============================================================================

type scheduleRow struct {
	EmployeeID           string `db:"employee_id"`
	DayOfWeek            int    `db:"day_of_week"`
	IsWorkingDay         bool   `db:"is_working_day"`
	WorkType             string `db:"work_type"`
	StartTime            string `db:"start_time"`
	EndTime              string `db:"end_time"`
	BreakStartTime       string `db:"break_start_time"`
	BreakDurationMinutes int    `db:"break_duration_minutes"`
}

// SaveSchedule replaces an employee's week. The week is validated first.
func (s *Store) SaveSchedule(ctx context.Context, id ledger.EmployeeID, week schedule.Week) error {
	if err := week.Validate(); err != nil {
		return err
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM work_schedules WHERE employee_id = ?`), string(id)); err != nil {
		return fmt.Errorf("failed to clear schedule: %w", err)
	}
	for _, d := range week {
		row := scheduleRow{
			EmployeeID:           string(id),
			DayOfWeek:            int(d.DayOfWeek),
			IsWorkingDay:         d.IsWorkingDay,
			WorkType:             string(d.WorkType),
			StartTime:            d.StartTime,
			EndTime:              d.EndTime,
			BreakStartTime:       d.BreakStartTime,
			BreakDurationMinutes: d.BreakDurationMinutes,
		}
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO work_schedules (employee_id, day_of_week, is_working_day, work_type,
				start_time, end_time, break_start_time, break_duration_minutes)
			VALUES (:employee_id, :day_of_week, :is_working_day, :work_type,
				:start_time, :end_time, :break_start_time, :break_duration_minutes)
		`, row); err != nil {
			return fmt.Errorf("failed to save schedule: %w", err)
		}
	}
	return tx.Commit()
}

// Schedule returns the stored week and whether one is configured.
func (s *Store) Schedule(ctx context.Context, id ledger.EmployeeID) (schedule.Week, bool, error) {
	var rows []scheduleRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT employee_id, day_of_week, is_working_day, work_type, start_time, end_time,
		       break_start_time, break_duration_minutes
		FROM work_schedules WHERE employee_id = ? ORDER BY day_of_week
	`), string(id))
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	week := make(schedule.Week, 0, len(rows))
	for _, r := range rows {
		week = append(week, schedule.DaySchedule{
			DayOfWeek:            time.Weekday(r.DayOfWeek),
			IsWorkingDay:         r.IsWorkingDay,
			WorkType:             schedule.WorkType(r.WorkType),
			StartTime:            r.StartTime,
			EndTime:              r.EndTime,
			BreakStartTime:       r.BreakStartTime,
			BreakDurationMinutes: r.BreakDurationMinutes,
		})
	}
	return week, true, nil
}

// WeekFor returns the employee's week, or the standard Monday to Friday
// week when none is configured.
func (s *Store) WeekFor(ctx context.Context, id ledger.EmployeeID) (schedule.Week, error) {
	week, ok, err := s.Schedule(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return schedule.StandardWeek(), nil
	}
	return week, nil
}
