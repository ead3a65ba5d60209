/*
scheduler.go - Automated batch jobs

PURPOSE:
  Runs the periodic engine jobs on cron schedules in the company time zone:
  - hourly:    save every active employee's real-time snapshot
  - daily:     finalize yesterday and post overtime
  - accrual:   post last month's vacation and permission accrual
  - carryover: close the previous year

DESIGN:
  - robfig/cron with the engine location, so "5 0 * * *" is company midnight
  - Jobs that overrun are skipped, not stacked (SkipIfStillRunning)
  - A panicking job is recovered and logged
  - Every job is idempotent, so a restart that re-runs one is harmless

USAGE:
  scheduler, err := NewScheduler(engine, ScheduleSpecs{...}, logger)
  scheduler.Start()
  // ... later
  <-scheduler.Stop().Done()

SEE ALSO:
  - handlers.go: Trigger* endpoints (manual runs)
  - engine/engine.go: the jobs themselves
*/
package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/warp/hours-engine/accrual"
	"github.com/warp/hours-engine/carryover"
	"github.com/warp/hours-engine/engine"
)

// ScheduleSpecs are standard five-field cron expressions. An empty spec
// disables its job.
type ScheduleSpecs struct {
	Hourly    string
	Daily     string
	Accrual   string
	Carryover string
}

// Scheduler runs the engine's batch jobs.
type Scheduler struct {
	Engine *engine.Engine
	Logger *slog.Logger
	// JobTimeout bounds one run of any job.
	JobTimeout time.Duration

	cron *cron.Cron
}

// NewScheduler registers the jobs of specs. It fails on a malformed spec.
func NewScheduler(e *engine.Engine, specs ScheduleSpecs, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		Engine:     e,
		Logger:     logger.With("component", "scheduler"),
		JobTimeout: 30 * time.Minute,
	}
	cl := cronLogger{s.Logger}
	s.cron = cron.New(
		cron.WithLocation(e.Location),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	jobs := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{"hourly_save", specs.Hourly, s.hourly},
		{"daily_finalize", specs.Daily, s.daily},
		{"monthly_accrual", specs.Accrual, s.accrual},
		{"year_end_carryover", specs.Carryover, s.carryover},
	}
	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		if _, err := s.cron.AddFunc(job.spec, s.wrap(job.name, job.run)); err != nil {
			return nil, fmt.Errorf("schedule %s %q: %w", job.name, job.spec, err)
		}
	}
	return s, nil
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.Logger.Info("scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop stops scheduling. The returned context is done when running jobs
// have finished.
func (s *Scheduler) Stop() context.Context {
	ctx := s.cron.Stop()
	s.Logger.Info("scheduler stopping")
	return ctx
}

// Next returns when each job runs next, keyed by cron entry ID.
func (s *Scheduler) Next() map[cron.EntryID]time.Time {
	out := make(map[cron.EntryID]time.Time)
	for _, entry := range s.cron.Entries() {
		out[entry.ID] = entry.Next
	}
	return out
}

func (s *Scheduler) wrap(name string, run func(context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.JobTimeout)
		defer cancel()
		start := time.Now()
		if err := run(ctx); err != nil {
			s.Logger.Error("job failed", "job", name, "error", err, "duration_ms", time.Since(start).Milliseconds())
			return
		}
		s.Logger.Info("job completed", "job", name, "duration_ms", time.Since(start).Milliseconds())
	}
}

func (s *Scheduler) hourly(ctx context.Context) error {
	report, err := s.Engine.SaveHourly(ctx)
	if err != nil {
		return err
	}
	s.Logger.Debug("hourly save", "saved", report.Saved, "skipped", report.Skipped, "failed", report.Failed, "pending", report.Pending)
	return nil
}

func (s *Scheduler) daily(ctx context.Context) error {
	report, err := s.Engine.FinalizeDay(ctx, time.Time{})
	if err != nil {
		return err
	}
	s.Logger.Info("day finalized", "saved", report.Saved, "failed", report.Failed)
	return nil
}

func (s *Scheduler) accrual(ctx context.Context) error {
	report, err := s.Engine.RunAccrual(ctx, accrual.Options{})
	if err != nil {
		return err
	}
	s.Logger.Info("accrual posted", "year", report.Year, "month", int(report.Month), "posted", report.Posted, "failed", report.Failed)
	return nil
}

func (s *Scheduler) carryover(ctx context.Context) error {
	report, err := s.Engine.RunCarryover(ctx, carryover.Options{})
	if err != nil {
		return err
	}
	s.Logger.Info("year closed",
		"year", report.Year,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"success_rate", report.SuccessRate,
	)
	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
