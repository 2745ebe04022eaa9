// Package scheduler fires cron-triggered plans on a fixed tick.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/planweave/planweave/internal/store"
	"github.com/planweave/planweave/pkg/schema"
)

// PlanRunner is the interface the scheduler uses to start runs.
// Satisfied by the orchestrator (avoids import cycle).
type PlanRunner interface {
	Execute(ctx context.Context, plan *schema.ExecutionPlan, userID string, triggerData map[string]any) (*store.ExecutionRecord, error)
}

// job tracks one registered cron plan.
type job struct {
	plan       *schema.ExecutionPlan
	nextRunAt  time.Time
	lastRunAt  *time.Time
	lastStatus string
}

// JobStatus is a read-only snapshot of a registered job.
type JobStatus struct {
	PlanID     string     `json:"plan_id"`
	Cron       string     `json:"cron"`
	NextRunAt  time.Time  `json:"next_run_at"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastStatus string     `json:"last_status,omitempty"`
}

// Scheduler keeps registered cron plans and runs those that are due.
type Scheduler struct {
	runner   PlanRunner
	parser   cron.Parser
	logger   *slog.Logger
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex

	jobsMu sync.Mutex
	jobs   map[string]*job

	inflightMu sync.Mutex
	inflight   map[string]struct{} // plan IDs currently executing (dedup)
}

// NewScheduler creates a scheduler ticking every 60 seconds.
func NewScheduler(runner PlanRunner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		interval: 60 * time.Second,
		jobs:     make(map[string]*job),
		inflight: make(map[string]struct{}),
	}
}

// Register adds a plan with a cron trigger to the schedule.
func (s *Scheduler) Register(plan *schema.ExecutionPlan) error {
	if plan == nil || plan.Trigger == nil || plan.Trigger.Cron == "" {
		return schema.NewError(schema.ErrCodeValidation, "plan has no cron trigger")
	}
	next, err := s.CalculateNextRun(plan.Trigger.Cron, time.Now().UTC())
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, err.Error()).WithCause(err)
	}

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	s.jobs[plan.ID] = &job{plan: plan, nextRunAt: next}
	return nil
}

// Unregister removes a plan from the schedule.
func (s *Scheduler) Unregister(planID string) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	delete(s.jobs, planID)
}

// Jobs returns a snapshot of the registered schedule.
func (s *Scheduler) Jobs() []JobStatus {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, JobStatus{
			PlanID:     j.plan.ID,
			Cron:       j.plan.Trigger.Cron,
			NextRunAt:  j.nextRunAt,
			LastRunAt:  j.lastRunAt,
			LastStatus: j.lastStatus,
		})
	}
	return out
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
	s.logger.Info("scheduler started", slog.Int("jobs", len(s.Jobs())))
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

// tick runs every registered job that is due.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()

	s.jobsMu.Lock()
	due := make([]*job, 0)
	for _, j := range s.jobs {
		if !j.nextRunAt.After(now) {
			due = append(due, j)
		}
	}
	s.jobsMu.Unlock()

	for _, j := range due {
		if !s.tryAcquire(j.plan.ID) {
			continue // already running (dedup)
		}
		s.runJob(ctx, j, now)
		s.release(j.plan.ID)
	}
}

// runJob starts one due plan and advances its schedule.
func (s *Scheduler) runJob(ctx context.Context, j *job, now time.Time) {
	s.logger.Info("running scheduled plan",
		slog.String("plan_id", j.plan.ID),
		slog.String("cron", j.plan.Trigger.Cron),
	)

	trigger := map[string]any{
		"trigger":      "cron",
		"scheduled_at": now.Format(time.RFC3339),
	}

	rec, err := s.runner.Execute(ctx, j.plan, j.plan.UserID, trigger)
	status := "success"
	if err != nil {
		status = "error"
		s.logger.Error("scheduled plan failed to start",
			slog.String("plan_id", j.plan.ID),
			slog.String("error", err.Error()),
		)
	} else if rec != nil {
		status = string(rec.Status)
	}

	next, err := s.CalculateNextRun(j.plan.Trigger.Cron, now)
	if err != nil {
		// Registration validated the expression; keep the job parked
		// rather than hot-looping on a parse failure.
		s.logger.Error("cron recalculation failed",
			slog.String("plan_id", j.plan.ID),
			slog.String("error", err.Error()),
		)
		next = now.Add(s.interval)
	}

	s.jobsMu.Lock()
	j.lastRunAt = &now
	j.lastStatus = status
	j.nextRunAt = next
	s.jobsMu.Unlock()
}

// tryAcquire returns true and marks the plan as in-flight if it is not already running.
func (s *Scheduler) tryAcquire(planID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[planID]; ok {
		return false
	}
	s.inflight[planID] = struct{}{}
	return true
}

// release removes the plan from the in-flight set.
func (s *Scheduler) release(planID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, planID)
}

// CalculateNextRun computes the next fire time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
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

	s.logger.Info("scheduler stopped")
	return nil
}
