package accrual_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/hours-engine/accrual"
	"github.com/warp/hours-engine/contract"
	"github.com/warp/hours-engine/ledger"
	"github.com/warp/hours-engine/ledger/store"
	"github.com/warp/hours-engine/schedule"
)

type roster []ledger.EmployeeID

func (r roster) ActiveEmployeeIDs(context.Context) ([]ledger.EmployeeID, error) { return r, nil }

type contracts map[ledger.EmployeeID]contract.Type

func (c contracts) ContractFor(_ context.Context, id ledger.EmployeeID) (contract.Type, error) {
	ct, ok := c[id]
	if !ok {
		return contract.Type{}, ledger.ErrContractNotFound
	}
	return ct, nil
}

type schedules struct{}

func (schedules) WeekFor(context.Context, ledger.EmployeeID) (schedule.Week, error) {
	return schedule.StandardWeek(), nil
}

func TestMonthHours_March2025(t *testing.T) {
	// 21 weekdays in March 2025
	got, err := accrual.MonthHours(schedule.StandardWeek(), 2025, time.March)

	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(168)), "got %s", got)
}

// brokenMondays is the standard week with Monday's break outside the shift.
func brokenMondays() schedule.Week {
	week := schedule.StandardWeek()
	for i := range week {
		if week[i].DayOfWeek == time.Monday {
			week[i].BreakStartTime = "07:00"
			week[i].BreakDurationMinutes = 60
		}
	}
	return week
}

type weekSource schedule.Week

func (w weekSource) WeekFor(context.Context, ledger.EmployeeID) (schedule.Week, error) {
	return schedule.Week(w), nil
}

func TestMonthHours_MalformedDayCountsAsNonWorking(t *testing.T) {
	// GIVEN: five Mondays in March 2025 that fail to resolve
	got, err := accrual.MonthHours(brokenMondays(), 2025, time.March)

	// THEN: the other 16 weekdays still count
	assert.ErrorIs(t, err, schedule.ErrInvalidSchedule)
	assert.True(t, got.Equal(decimal.NewFromInt(128)), "got %s", got)
}

func TestRunner_MalformedDayDoesNotBlockTheMonth(t *testing.T) {
	mem := store.NewMemory()
	r := accrual.NewRunner(roster{"emp-001"}, contracts{"emp-001": contract.Default()}, weekSource(brokenMondays()), ledger.New(mem, nil), nil)
	ctx := context.Background()

	report, err := r.Run(ctx, accrual.Options{Year: 2025, Month: time.March})

	require.NoError(t, err)
	assert.Equal(t, 2, report.Posted)
	assert.Zero(t, report.Failed)
	txs, err := mem.ListForPeriod(ctx, "emp-001", ledger.CategoryVacation, 2025)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "12.8", txs[0].Hours.String())
}

func TestAmount(t *testing.T) {
	got := accrual.Amount(decimal.NewFromInt(168), decimal.NewFromInt(208), decimal.NewFromInt(40))
	assert.Equal(t, "16.8", got.String())

	assert.True(t, accrual.Amount(decimal.NewFromInt(168), decimal.Zero, decimal.NewFromInt(40)).IsZero())
	assert.True(t, accrual.Amount(decimal.NewFromInt(168), decimal.NewFromInt(208), decimal.Zero).IsZero())
}

func TestRunner_PostsOncePerMonth(t *testing.T) {
	// GIVEN: a full-time and a cococo employee
	mem := store.NewMemory()
	l := ledger.New(mem, nil)
	cococo, _ := contract.Lookup(contract.Cococo)
	r := accrual.NewRunner(
		roster{"emp-001", "emp-002"},
		contracts{"emp-001": contract.Default(), "emp-002": cococo},
		schedules{}, l, nil,
	)
	ctx := context.Background()

	// WHEN
	report, err := r.Run(ctx, accrual.Options{Year: 2025, Month: time.March})

	// THEN: only the full-time employee accrues
	require.NoError(t, err)
	assert.Equal(t, 2, report.Posted)
	assert.Equal(t, 2, report.Skipped)

	txs, err := mem.ListForPeriod(ctx, "emp-001", ledger.CategoryPermission, 2025)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "8.4", txs[0].Hours.String())
	assert.Equal(t, ledger.Date(2025, 3, 31), txs[0].Date)
	assert.Equal(t, "accrual:emp-001:permission:2025:03", txs[0].IdempotencyKey)

	// AND: a second run is a no-op
	again, err := r.Run(ctx, accrual.Options{Year: 2025, Month: time.March})
	require.NoError(t, err)
	assert.Zero(t, again.Posted)
	assert.Equal(t, 2, mem.Count())
}

func TestRunner_DefaultsToPreviousMonth(t *testing.T) {
	mem := store.NewMemory()
	r := accrual.NewRunner(roster{"emp-001"}, contracts{"emp-001": contract.Default()}, schedules{}, ledger.New(mem, nil), nil)
	r.Now = func() time.Time { return time.Date(2025, time.January, 1, 2, 0, 0, 0, time.UTC) }

	report, err := r.Run(context.Background(), accrual.Options{})

	require.NoError(t, err)
	assert.Equal(t, 2024, report.Year)
	assert.Equal(t, time.December, report.Month)
	txs, _ := mem.ListForPeriod(context.Background(), "emp-001", ledger.CategoryVacation, 2024)
	require.Len(t, txs, 1)
	assert.Equal(t, ledger.Date(2024, 12, 31), txs[0].Date)
}

func TestRunner_MissingContractFails(t *testing.T) {
	r := accrual.NewRunner(roster{"emp-404"}, contracts{}, schedules{}, ledger.New(store.NewMemory(), nil), nil)

	report, err := r.Run(context.Background(), accrual.Options{Year: 2025, Month: time.March})

	require.NoError(t, err)
	assert.Equal(t, 2, report.Failed)
}
