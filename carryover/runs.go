package carryover

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/hours-engine/ledger"
)

// =============================================================================
// RUN RECORDS - one per (year, employee, category)
// =============================================================================

// Status is the outcome of one carry-over item.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Run records the close of one employee category for a year.
type Run struct {
	Year        int               `json:"year"`
	EmployeeID  ledger.EmployeeID `json:"employee_id"`
	Category    ledger.Category   `json:"category"`
	Status      Status            `json:"status"`
	Balance     decimal.Decimal   `json:"balance"`
	Cap         decimal.Decimal   `json:"cap"`
	CarriedOver decimal.Decimal   `json:"carried_over"`
	Expired     decimal.Decimal   `json:"expired"`
	Error       string            `json:"error,omitempty"`
	ProcessedAt time.Time         `json:"processed_at"`
}

// RunStore persists run records so an interrupted close can resume.
type RunStore interface {
	GetRun(ctx context.Context, year int, employeeID ledger.EmployeeID, category ledger.Category) (Run, bool, error)
	SaveRun(ctx context.Context, run Run) error
	ListRuns(ctx context.Context, year int) ([]Run, error)
}

type runKey struct {
	year     int
	employee ledger.EmployeeID
	category ledger.Category
}

// MemoryRuns is an in-memory RunStore.
type MemoryRuns struct {
	mu   sync.RWMutex
	runs map[runKey]Run
}

// NewMemoryRuns creates an empty run store.
func NewMemoryRuns() *MemoryRuns {
	return &MemoryRuns{runs: make(map[runKey]Run)}
}

func (m *MemoryRuns) GetRun(_ context.Context, year int, employeeID ledger.EmployeeID, category ledger.Category) (Run, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[runKey{year, employeeID, category}]
	return r, ok, nil
}

func (m *MemoryRuns) SaveRun(_ context.Context, run Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[runKey{run.Year, run.EmployeeID, run.Category}] = run
	return nil
}

func (m *MemoryRuns) ListRuns(_ context.Context, year int) ([]Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Run
	for k, r := range m.runs {
		if k.year == year {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EmployeeID != out[j].EmployeeID {
			return out[i].EmployeeID < out[j].EmployeeID
		}
		return out[i].Category < out[j].Category
	})
	return out, nil
}

var _ RunStore = (*MemoryRuns)(nil)
