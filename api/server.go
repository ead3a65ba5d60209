/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from proxy headers (rate limiting)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Logger:     Structured request log (slog)
  5. Timeout:    Per-request deadline
  6. Metrics:    Request counters and latency per route
  7. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /healthz              Liveness, database ping
  /metrics              Prometheus exposition
  /api/employees/*      Employee resources (identity required)
  /api/contracts        Contract types
  /api/admin/*          Admin operations (admin role, rate limited)

SECURITY NOTE:
  Authentication happens upstream. The gateway forwards the caller as
  X-Employee-ID / X-Employee-Role and this service trusts them.

SEE ALSO:
  - handlers.go: Handler implementations
  - identity.go: Caller identity middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/warp/hours-engine/metrics"
)

// RouterOptions configures NewRouter. The zero value is usable.
type RouterOptions struct {
	CORSOrigins []string
	// AdminRateLimit is requests per minute per client IP on /api/admin.
	// Zero disables the limit.
	AdminRateLimit int
	RequestTimeout time.Duration
	Metrics        *metrics.Metrics
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.Logger))
	r.Use(middleware.Timeout(timeout))
	r.Use(opts.Metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", HeaderEmployeeID, HeaderEmployeeRole},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Healthz)
	r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(RequireIdentity)

		r.Get("/contracts", h.ListContracts)

		// Employee routes
		r.Route("/employees/{id}", func(r chi.Router) {
			r.Get("/hours/today", h.GetToday)
			r.Get("/balances", h.ListBalances)
			r.Get("/balances/{category}", h.GetBalance)
			r.Get("/transactions", h.ListTransactions)
			r.Post("/transactions", h.PostTransaction)
			r.Get("/schedule", h.GetSchedule)
			r.Put("/schedule", h.PutSchedule)
			r.Get("/attendance/{date}", h.GetAttendance)
			r.Put("/attendance/{date}", h.PutAttendance)
			r.Get("/carryover-policy", h.GetCarryoverPolicy)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireRole(RoleAdmin))
			if opts.AdminRateLimit > 0 {
				r.Use(httprate.LimitByIP(opts.AdminRateLimit, time.Minute))
			}

			r.Get("/employees", h.ListEmployees)
			r.Post("/employees", h.SaveEmployee)
			r.Post("/requests", h.SubmitRequest)
			r.Post("/requests/{id}/status", h.DecideRequest)
			r.Post("/carryover", h.TriggerCarryover)
			r.Get("/carryover/runs", h.ListCarryoverRuns)
			r.Post("/accrual", h.TriggerAccrual)
			r.Post("/autosave/hourly", h.TriggerHourlySave)
			r.Post("/autosave/daily", h.TriggerDailyFinalize)
		})
	})

	return r
}

// requestLogger logs one line per request at info, or warn for 5xx.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			level := slog.LevelInfo
			if ww.Status() >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
