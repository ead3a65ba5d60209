package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/hours-engine/carryover"
	"github.com/warp/hours-engine/ledger"
	"github.com/warp/hours-engine/metrics"
	"github.com/warp/hours-engine/realtime"
)

var (
	_ ledger.Recorder       = (*metrics.Metrics)(nil)
	_ ledger.CacheRecorder  = (*metrics.Metrics)(nil)
	_ realtime.SaveRecorder = (*metrics.Metrics)(nil)
	_ carryover.Recorder    = (*metrics.Metrics)(nil)
)

func TestRecorders(t *testing.T) {
	m := metrics.New()

	m.LedgerAppend("vacation", "accrual", "ok")
	m.LedgerAppend("vacation", "accrual", "ok")
	m.BalanceCache("hit")
	m.AutoSave("hourly", "saved")
	m.CarryoverItem("permission", "completed")
	m.CarryoverRun(1500 * time.Millisecond)

	expected := `
# HELP hours_ledger_appends_total Ledger append attempts by category, transaction type and result.
# TYPE hours_ledger_appends_total counter
hours_ledger_appends_total{category="vacation",result="ok",type="accrual"} 2
`
	require.NoError(t, testutil.GatherAndCompare(m.Gatherer(), strings.NewReader(expected), "hours_ledger_appends_total"))

	count, err := testutil.GatherAndCount(m.Gatherer(), "hours_carryover_run_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMiddlewareAndHandler(t *testing.T) {
	m := metrics.New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/employees/{id}/balances", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Handle("/metrics", m.Handler())

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/employees/emp-001/balances", nil))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `hours_http_requests_total{code="418",route="/api/employees/{id}/balances"} 1`)
}
