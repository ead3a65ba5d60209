package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/hours-engine/engine"
	"github.com/warp/hours-engine/ledger"
	"github.com/warp/hours-engine/metrics"
	"github.com/warp/hours-engine/realtime"
	"github.com/warp/hours-engine/schedule"
	"github.com/warp/hours-engine/store/sqlstore"
)

func h(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var rome = func() *time.Location {
	loc, err := time.LoadLocation("Europe/Rome")
	if err != nil {
		panic(err)
	}
	return loc
}()

// Monday 10 March 2025, 11:00 in Rome.
var monday = time.Date(2025, time.March, 10, 11, 0, 0, 0, rome)

func newEngine(t *testing.T, m *metrics.Metrics) *engine.Engine {
	t.Helper()
	ctx := context.Background()
	st, err := sqlstore.Open(ctx, sqlstore.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	e := engine.New(st, engine.Options{
		Location: rome,
		Metrics:  m,
		Now:      func() time.Time { return monday },
	})
	_, err = e.SaveEmployee(ctx, sqlstore.Employee{ID: "emp-001", Name: "Giulia Bianchi", Active: true})
	require.NoError(t, err)
	return e
}

func accrue(t *testing.T, e *engine.Engine, category ledger.Category, hours string, date time.Time) {
	t.Helper()
	_, err := e.PostEntry(context.Background(), engine.Entry{
		EmployeeID: "emp-001",
		Category:   category,
		Type:       ledger.TxAccrual,
		Hours:      h(hours),
		Date:       date,
		Reason:     "opening balance",
		CreatedBy:  "test",
	})
	require.NoError(t, err)
}

func TestToday_UsesStoredOrStandardWeek(t *testing.T) {
	m := metrics.New()
	e := newEngine(t, m)

	snap, err := e.Today(context.Background(), "emp-001", time.Time{}, nil)

	require.NoError(t, err)
	assert.Equal(t, realtime.StatusWorking, snap.Status)
	assert.True(t, h("2.0").Equal(snap.ActualHours), snap.ActualHours.String())
	assert.True(t, h("6.0").Equal(snap.RemainingHours), snap.RemainingHours.String())

	count, err := testutil.GatherAndCount(m.Gatherer(), "hours_realtime_computations_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestToday_UnknownEmployee(t *testing.T) {
	e := newEngine(t, nil)

	_, err := e.Today(context.Background(), "nobody", time.Time{}, nil)

	assert.ErrorIs(t, err, ledger.ErrEmployeeNotFound)
}

func TestPostEntry_OvertimeUsageNeedsBalance(t *testing.T) {
	// GIVEN: 3 hours of overtime
	ctx := context.Background()
	e := newEngine(t, nil)
	accrue(t, e, ledger.CategoryOvertime, "3", monday)

	usage := engine.Entry{
		EmployeeID: "emp-001",
		Category:   ledger.CategoryOvertime,
		Type:       ledger.TxUsage,
		Hours:      h("4"),
		Reason:     "left early",
	}

	// WHEN: using more than available
	_, err := e.PostEntry(ctx, usage)

	// THEN: rejected with the shortage
	var short *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &short)
	assert.True(t, h("3").Equal(short.Available))

	// AND: a smaller usage goes through
	usage.Hours = h("2")
	tx, err := e.PostEntry(ctx, usage)
	require.NoError(t, err)
	assert.NotEmpty(t, tx.ID)
	assert.Equal(t, 2025, tx.PeriodYear)

	b, err := e.Balance(ctx, "emp-001", ledger.CategoryOvertime, 2025)
	require.NoError(t, err)
	assert.True(t, h("1").Equal(b.Current), b.Current.String())
}

func TestPostEntry_RejectsExpiration(t *testing.T) {
	e := newEngine(t, nil)

	_, err := e.PostEntry(context.Background(), engine.Entry{
		EmployeeID: "emp-001",
		Category:   ledger.CategoryVacation,
		Type:       ledger.TxExpiration,
		Hours:      h("1"),
		Reason:     "manual expiry",
	})

	assert.ErrorIs(t, err, ledger.ErrInvalidTransaction)
}

func TestRequests_PendingThenApproved(t *testing.T) {
	// GIVEN: 40 vacation hours and an 8 hour request
	ctx := context.Background()
	e := newEngine(t, nil)
	accrue(t, e, ledger.CategoryVacation, "40", monday)

	req, err := e.SubmitRequest(ctx, sqlstore.Request{
		EmployeeID: "emp-001",
		Category:   ledger.CategoryVacation,
		Hours:      h("8"),
		Date:       time.Date(2025, time.April, 18, 0, 0, 0, 0, time.UTC),
		Reason:     "long weekend",
	})
	require.NoError(t, err)

	b, err := e.Balance(ctx, "emp-001", ledger.CategoryVacation, 2025)
	require.NoError(t, err)
	assert.True(t, h("8").Equal(b.Pending))
	assert.True(t, h("32").Equal(b.Available()))

	// WHEN: the request is approved
	decided, err := e.DecideRequest(ctx, req.ID, sqlstore.RequestApproved, "mgr-001")
	require.NoError(t, err)
	assert.Equal(t, sqlstore.RequestApproved, decided.Status)

	// THEN: pending turns into usage, available is unchanged
	b, err = e.Balance(ctx, "emp-001", ledger.CategoryVacation, 2025)
	require.NoError(t, err)
	assert.True(t, b.Pending.IsZero())
	assert.True(t, h("8").Equal(b.TotalUsed))
	assert.True(t, h("32").Equal(b.Available()))

	// AND: it cannot be decided again
	_, err = e.DecideRequest(ctx, req.ID, sqlstore.RequestRejected, "mgr-001")
	assert.ErrorIs(t, err, engine.ErrRequestDecided)
}

func TestCorrectAttendance_BeforeAndAfterFinalization(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, nil)
	tuesday := time.Date(2025, time.March, 11, 0, 0, 0, 0, rome)

	// GIVEN: Monday finalized at the scheduled 8 hours, Tuesday corrected before closing
	_, err := e.FinalizeDay(ctx, monday)
	require.NoError(t, err)
	_, err = e.CorrectAttendance(ctx, engine.Correction{EmployeeID: "emp-001", Date: tuesday, ActualHours: h("10"), Notes: "release night"})
	require.NoError(t, err)

	// WHEN: Tuesday is finalized and Monday corrected afterwards
	_, err = e.FinalizeDay(ctx, tuesday)
	require.NoError(t, err)
	rec, err := e.CorrectAttendance(ctx, engine.Correction{EmployeeID: "emp-001", Date: monday, ActualHours: h("6.5"), CreatedBy: "mgr-001"})
	require.NoError(t, err)

	// THEN: overtime = +2 (Tuesday) - 1.5 (Monday correction)
	assert.True(t, rec.Finalized)
	assert.Equal(t, realtime.SourceManual, rec.Source)
	b, err := e.Balance(ctx, "emp-001", ledger.CategoryOvertime, 2025)
	require.NoError(t, err)
	assert.True(t, h("0.5").Equal(b.Current), b.Current.String())

	saved, ok, err := e.Attendance(ctx, "emp-001", tuesday)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "release night", saved.Notes)
	assert.True(t, saved.Finalized)
}

func TestDecideRequest_OvertimeApprovalRechecksBalance(t *testing.T) {
	// GIVEN: 3h of overtime fully requested, then 2h used by a short day
	ctx := context.Background()
	e := newEngine(t, nil)
	accrue(t, e, ledger.CategoryOvertime, "3", monday)
	_, err := e.FinalizeDay(ctx, monday)
	require.NoError(t, err)
	req, err := e.SubmitRequest(ctx, sqlstore.Request{
		EmployeeID: "emp-001",
		Category:   ledger.CategoryOvertime,
		Hours:      h("3"),
		Date:       time.Date(2025, time.April, 4, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	_, err = e.CorrectAttendance(ctx, engine.Correction{EmployeeID: "emp-001", Date: monday, ActualHours: h("6")})
	require.NoError(t, err)

	// WHEN: the request is approved
	_, err = e.DecideRequest(ctx, req.ID, sqlstore.RequestApproved, "mgr-001")

	// THEN: only 1h is left, so the approval is refused and the request stays pending
	var short *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &short)
	assert.True(t, h("1").Equal(short.Available), short.Available.String())
	stored, err := e.Store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, sqlstore.RequestPending, stored.Status)

	// AND: once the balance covers it, its own pending hours do not block it
	accrue(t, e, ledger.CategoryOvertime, "2", monday)
	decided, err := e.DecideRequest(ctx, req.ID, sqlstore.RequestApproved, "mgr-001")
	require.NoError(t, err)
	assert.Equal(t, sqlstore.RequestApproved, decided.Status)
	b, err := e.Balance(ctx, "emp-001", ledger.CategoryOvertime, 2025)
	require.NoError(t, err)
	assert.True(t, b.Current.IsZero(), b.Current.String())
}

// failingSaves fails the next n attendance saves.
type failingSaves struct {
	realtime.AttendanceStore
	n int
}

func (f *failingSaves) SaveAttendance(ctx context.Context, a realtime.Attendance) error {
	if f.n > 0 {
		f.n--
		return errors.New("connection reset")
	}
	return f.AttendanceStore.SaveAttendance(ctx, a)
}

func TestCorrectAttendance_RetryAfterFailedSavePostsOnce(t *testing.T) {
	// GIVEN: Monday finalized at 8h and a store that drops the next save
	ctx := context.Background()
	e := newEngine(t, nil)
	_, err := e.FinalizeDay(ctx, monday)
	require.NoError(t, err)
	e.Attendances = &failingSaves{AttendanceStore: e.Store, n: 1}
	fix := engine.Correction{EmployeeID: "emp-001", Date: monday, ActualHours: h("10"), CreatedBy: "mgr-001"}

	// WHEN: the correction fails after posting and is retried
	_, err = e.CorrectAttendance(ctx, fix)
	require.Error(t, err)
	rec, err := e.CorrectAttendance(ctx, fix)
	require.NoError(t, err)

	// THEN: the 2h difference is in the ledger once
	assert.True(t, h("10").Equal(rec.ActualHours))
	txs, err := e.Transactions(ctx, "emp-001", ledger.Filter{Category: ledger.CategoryOvertime})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.True(t, h("2").Equal(txs[0].Hours))
	b, err := e.Balance(ctx, "emp-001", ledger.CategoryOvertime, 2025)
	require.NoError(t, err)
	assert.True(t, h("2").Equal(b.Current), b.Current.String())

	// AND: a later correction back and forth still posts each change
	_, err = e.CorrectAttendance(ctx, engine.Correction{EmployeeID: "emp-001", Date: monday, ActualHours: h("9")})
	require.NoError(t, err)
	b, err = e.Balance(ctx, "emp-001", ledger.CategoryOvertime, 2025)
	require.NoError(t, err)
	assert.True(t, h("1").Equal(b.Current), b.Current.String())
}

type fixedWeek schedule.Week

func (w fixedWeek) WeekFor(context.Context, ledger.EmployeeID) (schedule.Week, error) {
	return schedule.Week(w), nil
}

func TestCorrectAttendance_InvalidScheduleIsRejected(t *testing.T) {
	// GIVEN: Monday's break falls outside the shift
	ctx := context.Background()
	e := newEngine(t, nil)
	e.Schedules = fixedWeek{{
		DayOfWeek:            time.Monday,
		IsWorkingDay:         true,
		WorkType:             schedule.WorkFullDay,
		StartTime:            "09:00",
		EndTime:              "18:00",
		BreakStartTime:       "07:00",
		BreakDurationMinutes: 60,
	}}

	// WHEN
	_, err := e.CorrectAttendance(ctx, engine.Correction{EmployeeID: "emp-001", Date: monday, ActualHours: h("9")})

	// THEN: nothing is saved with a made-up expected figure
	assert.ErrorIs(t, err, schedule.ErrInvalidSchedule)
	_, ok, err := e.Attendance(ctx, "emp-001", monday)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCarryoverPolicy_PreviewsClose(t *testing.T) {
	// GIVEN: a full-time employee with 180 vacation and 30 permission hours left in 2024
	ctx := context.Background()
	e := newEngine(t, nil)
	accrue(t, e, ledger.CategoryVacation, "180", time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC))
	accrue(t, e, ledger.CategoryPermission, "30", time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC))

	policy, err := e.CarryoverPolicy(ctx, "emp-001", 2024)

	require.NoError(t, err)
	assert.Equal(t, "full_time", policy.ContractType)
	require.Len(t, policy.Categories, 2)

	vacation := policy.Categories[0]
	assert.Equal(t, ledger.CategoryVacation, vacation.Category)
	assert.True(t, h("104").Equal(vacation.MaxCarryover))
	assert.True(t, h("104").Equal(vacation.WouldCarry))
	assert.True(t, h("76").Equal(vacation.WouldExpire))

	permission := policy.Categories[1]
	assert.True(t, h("52").Equal(permission.MaxCarryover))
	assert.True(t, h("30").Equal(permission.WouldCarry))
	assert.True(t, permission.WouldExpire.IsZero())
}

func TestImportContracts(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, nil)

	doc := `
[[contract]]
name = "four_day_week"
annual_vacation_hours = 160
annual_permission_hours = 64
max_carryover_hours = 80
weekly_hours = 32
daily_hours = 8
`
	types, err := e.ImportContracts(ctx, strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, types, 1)

	emp, err := e.SaveEmployee(ctx, sqlstore.Employee{ID: "emp-002", Name: "Marco Rossi", ContractType: "four_day_week", Active: true})
	require.NoError(t, err)
	assert.Equal(t, "four_day_week", emp.ContractType)

	_, err = e.SaveEmployee(ctx, sqlstore.Employee{ID: "emp-003", ContractType: "unknown"})
	assert.ErrorIs(t, err, ledger.ErrContractNotFound)
}
