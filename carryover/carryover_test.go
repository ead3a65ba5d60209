package carryover_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/hours-engine/carryover"
	"github.com/warp/hours-engine/contract"
	"github.com/warp/hours-engine/ledger"
	"github.com/warp/hours-engine/ledger/store"
)

func h(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// =============================================================================
// PROCESS
// =============================================================================

func TestProcess_CapsAndExpiresExcess(t *testing.T) {
	// GIVEN: 180 vacation hours left at the end of 2024, cap 104
	res, err := carryover.Process(carryover.Input{
		EmployeeID:     "emp-001",
		Category:       ledger.CategoryVacation,
		CurrentBalance: h("180"),
		MaxCarryover:   h("104"),
		Year:           2024,
	})

	// THEN: 104 carried into 2025, 76 expire on Dec 31 2024
	require.NoError(t, err)
	assert.True(t, res.CarriedOver.Equal(h("104")))
	assert.True(t, res.Expired.Equal(h("76")))
	require.Len(t, res.Transactions, 2)

	expire, carry := res.Transactions[0], res.Transactions[1]
	assert.Equal(t, ledger.TxExpiration, expire.Type)
	assert.Equal(t, ledger.Date(2024, 12, 31), expire.Date)
	assert.Equal(t, 2024, expire.PeriodYear)
	assert.Equal(t, 12, expire.PeriodMonth)
	assert.Equal(t, "carryover:emp-001:vacation:2024:expire", expire.IdempotencyKey)

	assert.Equal(t, ledger.TxAdjustment, carry.Type)
	assert.Equal(t, ledger.Date(2025, 1, 1), carry.Date)
	assert.Equal(t, 2025, carry.PeriodYear)
	assert.Equal(t, 1, carry.PeriodMonth)
	assert.Equal(t, "carryover:emp-001:vacation:2024:carry", carry.IdempotencyKey)
}

func TestProcess_Conservation(t *testing.T) {
	cases := []struct{ balance, capHours string }{
		{"180", "104"}, {"50", "104"}, {"104", "104"}, {"0.25", "0"}, {"33.5", "12.75"},
	}
	for _, c := range cases {
		res, err := carryover.Process(carryover.Input{
			EmployeeID: "emp-001", Category: ledger.CategoryPermission,
			CurrentBalance: h(c.balance), MaxCarryover: h(c.capHours), Year: 2024,
		})
		require.NoError(t, err)
		assert.True(t, res.CarriedOver.Add(res.Expired).Equal(h(c.balance)), "balance %s cap %s", c.balance, c.capHours)
		assert.True(t, res.CarriedOver.LessThanOrEqual(h(c.capHours)))
		assert.False(t, res.Expired.IsNegative())
	}
}

func TestProcess_FractionalCap(t *testing.T) {
	// GIVEN: 70 permission hours against a 52.5h cap
	res, err := carryover.Process(carryover.Input{
		EmployeeID: "emp-001", Category: ledger.CategoryPermission,
		CurrentBalance: h("70"), MaxCarryover: h("52.5"), Year: 2024,
	})

	// THEN: the half hour is carried, not expired
	require.NoError(t, err)
	assert.Equal(t, "52.5", res.CarriedOver.String())
	assert.Equal(t, "17.5", res.Expired.String())
}

func TestProcess_UnderCapCarriesEverything(t *testing.T) {
	res, err := carryover.Process(carryover.Input{
		EmployeeID: "emp-001", Category: ledger.CategoryVacation,
		CurrentBalance: h("40"), MaxCarryover: h("104"), Year: 2024,
	})

	require.NoError(t, err)
	require.Len(t, res.Transactions, 1)
	assert.Equal(t, ledger.TxAdjustment, res.Transactions[0].Type)
	assert.True(t, res.Expired.IsZero())
}

func TestProcess_NothingLeftIsNoOp(t *testing.T) {
	for _, balance := range []string{"0", "-8"} {
		res, err := carryover.Process(carryover.Input{
			EmployeeID: "emp-001", Category: ledger.CategoryVacation,
			CurrentBalance: h(balance), MaxCarryover: h("104"), Year: 2024,
		})
		require.NoError(t, err)
		assert.Empty(t, res.Transactions)
		assert.True(t, res.CarriedOver.IsZero())
		assert.True(t, res.Expired.IsZero())
	}
}

func TestProcess_NegativeCap(t *testing.T) {
	_, err := carryover.Process(carryover.Input{
		EmployeeID: "emp-001", Category: ledger.CategoryVacation,
		CurrentBalance: h("10"), MaxCarryover: h("-1"), Year: 2024,
	})
	assert.ErrorIs(t, err, carryover.ErrInvalidCap)
}

func TestProcess_DeterministicIDs(t *testing.T) {
	in := carryover.Input{EmployeeID: "emp-001", Category: ledger.CategoryVacation, CurrentBalance: h("180"), MaxCarryover: h("104"), Year: 2024}
	a, _ := carryover.Process(in)
	b, _ := carryover.Process(in)

	assert.Equal(t, a.Transactions[0].ID, b.Transactions[0].ID)
	assert.NotEqual(t, a.Transactions[0].ID, a.Transactions[1].ID)
}

// =============================================================================
// RUNNER
// =============================================================================

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

type failingBalances struct {
	inner  carryover.BalanceSource
	failOn ledger.EmployeeID
}

func (f failingBalances) Project(ctx context.Context, id ledger.EmployeeID, c ledger.Category, year int) (ledger.Balance, error) {
	if id == f.failOn {
		return ledger.Balance{}, errors.New("ledger offline")
	}
	return f.inner.Project(ctx, id, c, year)
}

type env struct {
	mem       *store.Memory
	ledger    *ledger.Ledger
	projector *ledger.Projector
	runs      *carryover.MemoryRuns
}

func newEnv(t *testing.T) env {
	t.Helper()
	mem := store.NewMemory()
	l := ledger.New(mem, nil)
	p := ledger.NewProjector(mem, nil, ledger.NewMemoryCache(0), nil)
	p.Attach(l)
	return env{mem: mem, ledger: l, projector: p, runs: carryover.NewMemoryRuns()}
}

func (e env) accrue(t *testing.T, id ledger.EmployeeID, c ledger.Category, hours string) {
	t.Helper()
	_, err := e.ledger.Append(context.Background(), ledger.Transaction{
		EmployeeID: id, Category: c, Type: ledger.TxAccrual, Hours: h(hours),
		Date: ledger.Date(2024, 6, 1), PeriodYear: 2024, PeriodMonth: 6, Reason: "opening",
	})
	require.NoError(t, err)
}

func (e env) runner(r roster, c contracts, balances carryover.BalanceSource) *carryover.Runner {
	if balances == nil {
		balances = e.projector
	}
	return carryover.NewRunner(r, c, balances, e.ledger, e.runs, nil)
}

func fullTime(ids ...ledger.EmployeeID) contracts {
	c := contracts{}
	for _, id := range ids {
		c[id] = contract.Default()
	}
	return c
}

func TestRunner_ClosesYearAndOpensNext(t *testing.T) {
	// GIVEN: 180 vacation and 70 permission hours left in 2024
	e := newEnv(t)
	ctx := context.Background()
	e.accrue(t, "emp-001", ledger.CategoryVacation, "180")
	e.accrue(t, "emp-001", ledger.CategoryPermission, "70")

	// WHEN
	report, err := e.runner(roster{"emp-001"}, fullTime("emp-001"), nil).Run(ctx, carryover.Options{Year: 2024})

	// THEN
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 100.0, report.SuccessRate)

	vacation2025, err := e.projector.Project(ctx, "emp-001", ledger.CategoryVacation, 2025)
	require.NoError(t, err)
	assert.True(t, vacation2025.Current.Equal(h("104")), "got %s", vacation2025.Current)

	permission2025, _ := e.projector.Project(ctx, "emp-001", ledger.CategoryPermission, 2025)
	assert.True(t, permission2025.Current.Equal(h("52")), "permission cap is half the vacation cap")

	vacation2024, _ := e.projector.Project(ctx, "emp-001", ledger.CategoryVacation, 2024)
	assert.True(t, vacation2024.TotalUsed.Equal(h("76")))
}

func TestRunner_RerunDoesNotDoublePost(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.accrue(t, "emp-001", ledger.CategoryVacation, "180")
	r := e.runner(roster{"emp-001"}, fullTime("emp-001"), nil)

	_, err := r.Run(ctx, carryover.Options{Year: 2024})
	require.NoError(t, err)
	second, err := r.Run(ctx, carryover.Options{Year: 2024})
	require.NoError(t, err)

	assert.Equal(t, 1, second.Skipped)
	assert.Equal(t, 3, e.mem.Count(), "opening accrual + expiration + adjustment")
}

func TestRunner_LostRunRecordStillIdempotent(t *testing.T) {
	// GIVEN: a close was posted but its run records were lost
	e := newEnv(t)
	ctx := context.Background()
	e.accrue(t, "emp-001", ledger.CategoryVacation, "180")
	_, err := e.runner(roster{"emp-001"}, fullTime("emp-001"), nil).Run(ctx, carryover.Options{Year: 2024})
	require.NoError(t, err)

	// WHEN: the projection used for the retry is the original snapshot
	e.runs = carryover.NewMemoryRuns()
	snapshot := snapshotBalances{current: h("180")}
	report, err := e.runner(roster{"emp-001"}, fullTime("emp-001"), snapshot).Run(ctx, carryover.Options{Year: 2024})

	// THEN: the ledger keys stop the duplicate
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 3, e.mem.Count())
}

type snapshotBalances struct{ current decimal.Decimal }

func (s snapshotBalances) Project(_ context.Context, id ledger.EmployeeID, c ledger.Category, year int) (ledger.Balance, error) {
	if c != ledger.CategoryVacation {
		return ledger.Balance{EmployeeID: id, Category: c, Year: year}, nil
	}
	return ledger.Balance{EmployeeID: id, Category: c, Year: year, TotalAccrued: s.current, Current: s.current}, nil
}

func TestRunner_OneFailureDoesNotStopTheBatch(t *testing.T) {
	// GIVEN: emp-002's balance cannot be read
	e := newEnv(t)
	ctx := context.Background()
	e.accrue(t, "emp-001", ledger.CategoryVacation, "20")
	e.accrue(t, "emp-003", ledger.CategoryVacation, "30")
	balances := failingBalances{inner: e.projector, failOn: "emp-002"}

	// WHEN
	report, err := e.runner(roster{"emp-001", "emp-002", "emp-003"}, fullTime("emp-001", "emp-002", "emp-003"), balances).
		Run(ctx, carryover.Options{Year: 2024, Concurrency: 2})

	// THEN
	require.NoError(t, err)
	assert.Equal(t, 3, report.Processed)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.InDelta(t, 66.67, report.SuccessRate, 0.01)

	failed := report.Items[1]
	assert.Equal(t, ledger.EmployeeID("emp-002"), failed.EmployeeID)
	assert.Equal(t, carryover.StatusFailed, failed.Status)
	assert.Contains(t, failed.Categories[0].Error, "ledger offline")

	// AND: a retry only redoes the failed employee
	report, err = e.runner(roster{"emp-001", "emp-002", "emp-003"}, fullTime("emp-001", "emp-002", "emp-003"), e.projector).
		Run(ctx, carryover.Options{Year: 2024})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 1, report.Succeeded)
}

func TestRunner_MissingContractFailsItem(t *testing.T) {
	e := newEnv(t)

	report, err := e.runner(roster{"emp-009"}, contracts{}, nil).Run(context.Background(), carryover.Options{Year: 2024})

	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	runs, _ := e.runs.ListRuns(context.Background(), 2024)
	require.Len(t, runs, 2)
	assert.Equal(t, carryover.StatusFailed, runs[0].Status)
}

func TestRunner_DefaultsToPreviousYear(t *testing.T) {
	e := newEnv(t)
	r := e.runner(roster{}, contracts{}, nil)
	r.Now = func() time.Time { return ledger.Date(2025, 1, 1) }

	report, err := r.Run(context.Background(), carryover.Options{})

	require.NoError(t, err)
	assert.Equal(t, 2024, report.Year)
	assert.Equal(t, 100.0, report.SuccessRate)
}

func TestRunner_OddVacationCapCarriesHalfPermissionHour(t *testing.T) {
	// GIVEN: a contract with a 105h vacation cap and 70 permission hours left
	e := newEnv(t)
	ctx := context.Background()
	e.accrue(t, "emp-001", ledger.CategoryPermission, "70")
	ct := contract.Default()
	ct.MaxCarryoverHours = h("105")

	// WHEN
	report, err := e.runner(roster{"emp-001"}, contracts{"emp-001": ct}, nil).Run(ctx, carryover.Options{Year: 2024})

	// THEN: 52.5h open 2025 and 17.5h expire
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	permission2025, err := e.projector.Project(ctx, "emp-001", ledger.CategoryPermission, 2025)
	require.NoError(t, err)
	assert.Equal(t, "52.5", permission2025.Current.String())
	permission2024, _ := e.projector.Project(ctx, "emp-001", ledger.CategoryPermission, 2024)
	assert.Equal(t, "17.5", permission2024.TotalUsed.String())
}

func TestRunner_PermissionRatioIsConfigurable(t *testing.T) {
	// GIVEN: a deployment default of a quarter of the vacation cap
	e := newEnv(t)
	ctx := context.Background()
	e.accrue(t, "emp-001", ledger.CategoryPermission, "70")
	r := e.runner(roster{"emp-001"}, fullTime("emp-001"), nil)
	r.PermissionRatio = h("0.25")

	// WHEN
	_, err := r.Run(ctx, carryover.Options{Year: 2024})

	// THEN: 104 x 0.25 carries over
	require.NoError(t, err)
	permission2025, _ := e.projector.Project(ctx, "emp-001", ledger.CategoryPermission, 2025)
	assert.True(t, permission2025.Current.Equal(h("26")), "got %s", permission2025.Current)
}

func TestRunner_UsesInjectedClock(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.accrue(t, "emp-001", ledger.CategoryVacation, "10")
	fixed := time.Date(2025, time.January, 1, 3, 0, 0, 0, time.UTC)
	r := e.runner(roster{"emp-001"}, fullTime("emp-001"), nil)
	r.Now = func() time.Time { return fixed }

	report, err := r.Run(ctx, carryover.Options{Year: 2024})

	require.NoError(t, err)
	assert.Zero(t, report.Duration)
	runs, err := e.runs.ListRuns(ctx, 2024)
	require.NoError(t, err)
	require.NotEmpty(t, runs)
	for _, run := range runs {
		assert.True(t, run.ProcessedAt.Equal(fixed))
	}
}
