/*
handlers_test.go - HTTP tests for API handlers

Tests for:
- Identity headers and access checks (401/403)
- Real-time snapshot and balances
- Manual entries, validation and insufficient balance
- Requests, year-end close and run history (admin)
- Health and metrics endpoints
*/
package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/hours-engine/engine"
	"github.com/warp/hours-engine/ledger"
	"github.com/warp/hours-engine/metrics"
	"github.com/warp/hours-engine/store/sqlstore"
)

type testServer struct {
	router  http.Handler
	engine  *engine.Engine
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	rome, err := time.LoadLocation("Europe/Rome")
	require.NoError(t, err)

	st, err := sqlstore.Open(ctx, sqlstore.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	e := engine.New(st, engine.Options{
		Location: rome,
		Metrics:  m,
		Logger:   logger,
		// Monday 10 March 2025, 11:00
		Now: func() time.Time { return time.Date(2025, time.March, 10, 11, 0, 0, 0, rome) },
	})
	for _, id := range []string{"emp-001", "emp-002"} {
		_, err := e.SaveEmployee(ctx, sqlstore.Employee{ID: ledger.EmployeeID(id), Name: id, Active: true})
		require.NoError(t, err)
	}

	return &testServer{
		router:  NewRouter(NewHandler(e, logger), RouterOptions{Metrics: m}),
		engine:  e,
		metrics: m,
	}
}

// do sends a request as employee id with role. An empty id sends no
// identity headers.
func (s *testServer) do(method, path, body, id string, role Role) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if id != "" {
		req.Header.Set(HeaderEmployeeID, id)
		req.Header.Set(HeaderEmployeeRole, string(role))
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestIdentity_RequiredAndScoped(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/employees/emp-001/balances", "", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/api/employees/emp-001/balances", "", "emp-001", "intern")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/api/employees/emp-001/balances", "", "emp-002", RoleEmployee)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodGet, "/api/employees/emp-001/balances", "", "emp-001", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/employees/emp-001/balances", "", "mgr-001", RoleManager)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodPost, "/api/admin/carryover", `{}`, "mgr-001", RoleManager)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetToday(t *testing.T) {
	s := newTestServer(t)

	// WHEN: asking at the engine clock (11:00, standard week)
	rec := s.do(http.MethodGet, "/api/employees/emp-001/hours/today", "", "emp-001", RoleEmployee)

	// THEN: two hours worked, six to go
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	snap := decode[SnapshotDTO](t, rec)
	assert.True(t, snap.Available)
	assert.Equal(t, "2025-03-10", snap.Date)
	assert.Equal(t, "working", snap.Status)
	assert.InDelta(t, 2.0, snap.ActualHours, 0.001)
	assert.InDelta(t, 6.0, snap.RemainingHours, 0.001)

	// WHEN: asking after the end of the day
	rec = s.do(http.MethodGet, "/api/employees/emp-001/hours/today?at=2025-03-10T19:00:00%2B01:00", "", "emp-001", RoleEmployee)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	snap = decode[SnapshotDTO](t, rec)
	assert.Equal(t, "completed", snap.Status)
	assert.InDelta(t, 8.0, snap.ActualHours, 0.001)

	rec = s.do(http.MethodGet, "/api/employees/emp-001/hours/today?at=yesterday", "", "emp-001", RoleEmployee)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/api/employees/ghost/hours/today", "", "ghost", RoleEmployee)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPostTransaction(t *testing.T) {
	s := newTestServer(t)
	path := "/api/employees/emp-001/transactions"

	// GIVEN: an employee may not post to their own ledger
	rec := s.do(http.MethodPost, path, `{"category":"overtime","type":"accrual","hours":3,"reason":"saturday release"}`, "emp-001", RoleEmployee)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// WHEN: a manager accrues 3 hours of overtime
	rec = s.do(http.MethodPost, path, `{"category":"overtime","type":"accrual","hours":3,"reason":"saturday release"}`, "mgr-001", RoleManager)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tx := decode[TransactionDTO](t, rec)
	assert.NotEmpty(t, tx.ID)
	assert.Equal(t, "2025-03-10", tx.Date)
	assert.Equal(t, "mgr-001", tx.CreatedBy)

	// THEN: using 4 is refused
	rec = s.do(http.MethodPost, path, `{"category":"overtime","type":"usage","hours":4,"reason":"left early"}`, "mgr-001", RoleManager)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "insufficient_balance", decode[ErrorResponse](t, rec).Code)

	// AND: the balance reflects the accrual
	rec = s.do(http.MethodGet, "/api/employees/emp-001/balances/overtime", "", "emp-001", RoleEmployee)
	require.Equal(t, http.StatusOK, rec.Code)
	b := decode[BalanceDTO](t, rec)
	assert.Equal(t, 2025, b.Year)
	assert.InDelta(t, 3.0, b.Current, 0.001)

	rec = s.do(http.MethodGet, path+"?category=overtime&type=accrual", "", "emp-001", RoleEmployee)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[map[string][]TransactionDTO](t, rec)
	assert.Len(t, list["transactions"], 1)
}

func TestPostTransaction_Validation(t *testing.T) {
	s := newTestServer(t)
	path := "/api/employees/emp-001/transactions"

	rec := s.do(http.MethodPost, path, `{"category":"sick","type":"accrual","hours":0}`, "mgr-001", RoleManager)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[struct {
		Code    string            `json:"code"`
		Details map[string]string `json:"details"`
	}](t, rec)
	assert.Equal(t, "validation", resp.Code)
	assert.Contains(t, resp.Details, "category")
	assert.Contains(t, resp.Details, "hours")
	assert.Contains(t, resp.Details, "reason")

	rec = s.do(http.MethodPost, path, `{"category":"vacation","type":"expiration","hours":1,"reason":"x"}`, "mgr-001", RoleManager)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, path, `{not json`, "mgr-001", RoleManager)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Duplicate idempotency key
	body := `{"category":"vacation","type":"accrual","hours":8,"reason":"opening","idempotency_key":"open-2025"}`
	rec = s.do(http.MethodPost, path, body, "mgr-001", RoleManager)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = s.do(http.MethodPost, path, body, "mgr-001", RoleManager)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSchedule_PutAndGet(t *testing.T) {
	s := newTestServer(t)
	path := "/api/employees/emp-001/schedule"

	rec := s.do(http.MethodGet, path, "", "emp-001", RoleEmployee)
	require.Equal(t, http.StatusOK, rec.Code)
	week := decode[ScheduleDTO](t, rec)
	assert.False(t, week.Configured)
	assert.InDelta(t, 40.0, week.WeeklyHours, 0.001)

	// Half days Monday to Friday
	var days []string
	for d := 1; d <= 5; d++ {
		days = append(days, `{"day_of_week":`+strconv.Itoa(d)+`,"is_working_day":true,"work_type":"morning","start_time":"08:00","end_time":"12:00"}`)
	}
	rec = s.do(http.MethodPut, path, `{"days":[`+strings.Join(days, ",")+`]}`, "mgr-001", RoleManager)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.InDelta(t, 20.0, decode[ScheduleDTO](t, rec).WeeklyHours, 0.001)

	rec = s.do(http.MethodGet, path, "", "emp-001", RoleEmployee)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[ScheduleDTO](t, rec).Configured)

	// End before start
	bad := `{"days":[{"day_of_week":1,"is_working_day":true,"work_type":"full_day","start_time":"18:00","end_time":"09:00"}]}`
	rec = s.do(http.MethodPut, path, bad, "mgr-001", RoleManager)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAttendance_CorrectAndGet(t *testing.T) {
	s := newTestServer(t)
	path := "/api/employees/emp-001/attendance/2025-03-07"

	rec := s.do(http.MethodGet, path, "", "emp-001", RoleEmployee)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodPut, path, `{"actual_hours":9.5,"notes":"client visit"}`, "mgr-001", RoleManager)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, path, "", "emp-001", RoleEmployee)
	require.Equal(t, http.StatusOK, rec.Code)
	att := decode[AttendanceDTO](t, rec)
	assert.Equal(t, "manual", att.Source)
	assert.InDelta(t, 9.5, att.ActualHours, 0.001)
	assert.InDelta(t, 1.5, att.BalanceHours, 0.001)

	rec = s.do(http.MethodPut, "/api/employees/emp-001/attendance/07-03-2025", `{"actual_hours":8}`, "mgr-001", RoleManager)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequests_SubmitAndDecide(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/employees/emp-001/transactions",
		`{"category":"vacation","type":"accrual","hours":40,"reason":"opening"}`, "adm-001", RoleAdmin)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/api/admin/requests",
		`{"employee_id":"emp-001","category":"vacation","hours":8,"date":"2025-04-18","reason":"long weekend"}`, "adm-001", RoleAdmin)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	req := decode[RequestDTO](t, rec)
	assert.Equal(t, "pending", req.Status)

	rec = s.do(http.MethodGet, "/api/employees/emp-001/balances/vacation", "", "emp-001", RoleEmployee)
	assert.InDelta(t, 32.0, decode[BalanceDTO](t, rec).Available, 0.001)

	rec = s.do(http.MethodPost, "/api/admin/requests/"+req.ID+"/status", `{"status":"approved"}`, "adm-001", RoleAdmin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "adm-001", decode[RequestDTO](t, rec).DecidedBy)

	rec = s.do(http.MethodPost, "/api/admin/requests/"+req.ID+"/status", `{"status":"rejected"}`, "adm-001", RoleAdmin)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/api/admin/requests/missing/status", `{"status":"rejected"}`, "adm-001", RoleAdmin)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCarryover_TriggerAndRuns(t *testing.T) {
	s := newTestServer(t)

	// GIVEN: 180 vacation hours left in 2024
	rec := s.do(http.MethodPost, "/api/employees/emp-001/transactions",
		`{"category":"vacation","type":"accrual","hours":180,"date":"2024-06-01","reason":"2024 entitlement"}`, "adm-001", RoleAdmin)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// WHEN: closing 2024 for emp-001
	rec = s.do(http.MethodPost, "/api/admin/carryover", `{"year":2024,"employee_id":"emp-001"}`, "adm-001", RoleAdmin)

	// THEN: one employee processed, 104 carried and 76 expired
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode[CarryoverReportDTO](t, rec)
	assert.Equal(t, 2024, report.Year)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 0, report.Failed)
	assert.InDelta(t, 100.0, report.SuccessRate, 0.001)

	rec = s.do(http.MethodGet, "/api/admin/carryover/runs?year=2024", "", "adm-001", RoleAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[map[string][]RunDTO](t, rec)["runs"]
	var vacation *RunDTO
	for i := range runs {
		if runs[i].Category == "vacation" {
			vacation = &runs[i]
		}
	}
	require.NotNil(t, vacation, rec.Body.String())
	assert.InDelta(t, 104.0, vacation.CarriedOver, 0.001)
	assert.InDelta(t, 76.0, vacation.Expired, 0.001)

	// AND: 2025 opens with the carried hours
	rec = s.do(http.MethodGet, "/api/employees/emp-001/balances/vacation?year=2025", "", "emp-001", RoleEmployee)
	assert.InDelta(t, 104.0, decode[BalanceDTO](t, rec).Current, 0.001)
}

func TestHealthzAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/healthz", "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	s.do(http.MethodGet, "/api/contracts", "", "emp-001", RoleEmployee)

	rec = s.do(http.MethodGet, "/metrics", "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `hours_http_requests_total{code="200",route="/api/contracts"} 1`)
}
