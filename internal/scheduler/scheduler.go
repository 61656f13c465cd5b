// Package scheduler runs workflows on cron schedules stored in the run store.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"

	"github.com/seanchatmangpt/wrkflo/internal/engine"
	"github.com/seanchatmangpt/wrkflo/internal/store"
	"github.com/seanchatmangpt/wrkflo/pkg/schema"
)

// Job statuses recorded besides the run statuses.
const (
	StatusError = "error"
)

const (
	defaultInterval    = 60 * time.Second
	defaultConcurrency = 4
)

var jobsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "wrkflo_scheduled_jobs_total",
		Help: "Scheduled job executions by last run status",
	},
	[]string{"status"},
)

// Runner loads a document and runs one of its workflows. Satisfied by the
// service layer (avoids an import cycle with the loader).
type Runner interface {
	RunFile(ctx context.Context, documentPath, workflowID string, inputs map[string]any) (*engine.RunResult, error)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets how often the store is polled for due jobs.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithConcurrency caps how many jobs run at once.
func WithConcurrency(n int) Option {
	return func(s *Scheduler) { s.concurrency = n }
}

// Scheduler polls the store for due scheduled jobs and runs them.
type Scheduler struct {
	store       store.Store
	runner      Runner
	parser      cron.Parser
	logger      *slog.Logger
	interval    time.Duration
	concurrency int
	pool        *Pool

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
}

// NewScheduler creates a new Scheduler.
func NewScheduler(s store.Store, runner Runner, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	sched := &Scheduler{
		store:       s,
		runner:      runner,
		parser:      cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger:      logger,
		interval:    defaultInterval,
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(sched)
	}
	sched.pool = NewPool(sched.concurrency, func(jobID string, r any) {
		sched.logger.Error("scheduled job panicked", slog.String("job_id", jobID), slog.Any("panic", r))
	})
	return sched
}

// Add validates the job's cron expression, computes its first run time and
// stores it. An empty ID is generated.
func (s *Scheduler) Add(ctx context.Context, job *store.ScheduledJob) error {
	if job.DocumentPath == "" {
		return schema.NewError(schema.ErrCodeValidation, "scheduled job requires a document path")
	}
	next, err := s.CalculateNextRun(job.CronExpression, time.Now().UTC())
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, err.Error()).WithCause(err)
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if len(job.Inputs) > 0 && !json.Valid(job.Inputs) {
		return schema.NewErrorf(schema.ErrCodeValidation, "scheduled job %q has invalid inputs JSON", job.ID)
	}
	job.NextRunAt = &next
	return s.store.CreateScheduledJob(ctx, job)
}

// Remove deletes a scheduled job.
func (s *Scheduler) Remove(ctx context.Context, id string) error {
	return s.store.DeleteScheduledJob(ctx, id)
}

// List returns stored jobs matching filter.
func (s *Scheduler) List(ctx context.Context, filter store.ScheduledJobFilter) ([]*store.ScheduledJob, error) {
	return s.store.ListScheduledJobs(ctx, filter)
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", slog.Duration("interval", s.interval), slog.Int("concurrency", s.concurrency))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs every enabled job whose next run time has passed and waits for
// them to finish.
func (s *Scheduler) tick(ctx context.Context) {
	s.runDue(ctx, func(job *store.ScheduledJob, now time.Time) bool {
		return job.NextRunAt == nil || !job.NextRunAt.After(now)
	})
}

// RecoverMissed runs, once, every job whose next run time passed while the
// scheduler was down.
func (s *Scheduler) RecoverMissed(ctx context.Context) error {
	n, err := s.runDue(ctx, func(job *store.ScheduledJob, now time.Time) bool {
		return job.NextRunAt != nil && job.NextRunAt.Before(now)
	})
	if err != nil {
		return fmt.Errorf("list missed jobs: %w", err)
	}
	if n > 0 {
		s.logger.Info("recovered missed jobs", slog.Int("count", n))
	}
	return nil
}

func (s *Scheduler) runDue(ctx context.Context, due func(*store.ScheduledJob, time.Time) bool) (int, error) {
	enabled := true
	jobs, err := s.store.ListScheduledJobs(ctx, store.ScheduledJobFilter{Enabled: &enabled})
	if err != nil {
		s.logger.Error("failed to list scheduled jobs", slog.String("error", err.Error()))
		return 0, err
	}

	now := time.Now().UTC()
	var wg sync.WaitGroup
	started := 0
	for _, job := range jobs {
		if !due(job, now) {
			continue
		}
		wg.Add(1)
		err := s.pool.Submit(ctx, job.ID, func(ctx context.Context) (string, error) {
			defer wg.Done()
			return s.runJob(ctx, job, now)
		})
		switch {
		case errors.Is(err, ErrJobRunning):
			wg.Done()
			s.logger.Debug("scheduled job still running", slog.String("job_id", job.ID))
			continue
		case err != nil:
			wg.Done()
			s.logger.Warn("scheduled job not submitted", slog.String("job_id", job.ID), slog.String("error", err.Error()))
			continue
		}
		started++
	}
	wg.Wait()
	return started, nil
}

// runJob executes a scheduled job, updates its timestamps and returns the
// status recorded for it.
func (s *Scheduler) runJob(ctx context.Context, job *store.ScheduledJob, now time.Time) (string, error) {
	logger := s.logger.With(slog.String("job_id", job.ID), slog.String("document", job.DocumentPath))
	logger.Info("running scheduled job", slog.String("workflow_id", job.WorkflowID))

	var inputs map[string]any
	if len(job.Inputs) > 0 {
		if err := json.Unmarshal(job.Inputs, &inputs); err != nil {
			logger.Error("invalid scheduled job inputs", slog.String("error", err.Error()))
			if uerr := s.updateJobStatus(ctx, job, now, StatusError); uerr != nil {
				return StatusError, uerr
			}
			return StatusError, err
		}
	}

	status := StatusError
	result, err := s.runner.RunFile(ctx, job.DocumentPath, job.WorkflowID, inputs)
	switch {
	case err != nil:
		logger.Error("scheduled job execution failed", slog.String("error", err.Error()))
	default:
		status = string(result.Status)
		logger.Info("scheduled job finished", slog.String("run_id", result.RunID), slog.String("status", status))
	}

	if uerr := s.updateJobStatus(ctx, job, now, status); uerr != nil {
		return status, uerr
	}
	if err != nil {
		return status, err
	}
	if result.Status != schema.RunStatusSucceeded {
		return status, fmt.Errorf("run %s ended %s", result.RunID, result.Status)
	}
	return status, nil
}

func (s *Scheduler) updateJobStatus(ctx context.Context, job *store.ScheduledJob, now time.Time, status string) error {
	nextRun, err := s.CalculateNextRun(job.CronExpression, now)
	if err != nil {
		return fmt.Errorf("calculate next run for job %q: %w", job.ID, err)
	}

	// Recorded even when the run was cancelled with the scheduler.
	return s.store.UpdateScheduledJob(context.WithoutCancel(ctx), job.ID, store.ScheduledJobUpdate{
		LastRunAt:     &now,
		NextRunAt:     &nextRun,
		LastRunStatus: status,
	})
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stats reports running jobs and execution counters.
func (s *Scheduler) Stats() PoolStats {
	return s.pool.Stats()
}

// Stop shuts down the loop and waits for running jobs.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
	s.pool.Wait()

	s.logger.Info("scheduler stopped")
	return nil
}
