package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/planweave/planweave/internal/logging"
	"github.com/planweave/planweave/internal/resolve"
	"github.com/planweave/planweave/internal/store"
	"github.com/planweave/planweave/pkg/schema"
)

// PlanSource resolves plans for runs the orchestrator did not receive a
// plan object for: resume, dead-letter retry, and trigger lookups.
type PlanSource interface {
	GetPlan(ctx context.Context, id string) (*schema.ExecutionPlan, error)
	FindByWebhookPath(ctx context.Context, path string) (*schema.ExecutionPlan, error)
}

// PlanValidator rejects malformed plans before a record is created.
type PlanValidator interface {
	ValidatePlan(plan *schema.ExecutionPlan) error
}

// EventSink receives execution lifecycle events. Publishing is
// best-effort; a failing sink never fails the run.
type EventSink interface {
	Publish(ctx context.Context, event schema.ExecutionEvent) error
}

// Metrics summarizes a user's execution history.
type Metrics struct {
	Total         int                      `json:"total_executions"`
	ByStatus      map[string]int           `json:"by_status"`
	SuccessRate   float64                  `json:"success_rate"`
	AvgDurationMs float64                  `json:"avg_duration_ms"`
	Recent        []*store.ExecutionRecord `json:"recent"`
}

// Orchestrator owns run lifecycles: it creates records, drives walks,
// aggregates final status, maintains the dead-letter queue and paused
// set, and exposes pause/resume/cancel to callers. Exactly one
// goroutine walks a given execution at a time.
type Orchestrator struct {
	store     store.Store
	plans     PlanSource
	driver    *Driver
	validator PlanValidator
	events    EventSink
	logger    *slog.Logger

	mu      sync.Mutex
	running map[string]*Control
}

// NewOrchestrator wires an orchestrator. plans and validator may be nil
// when the caller only ever passes plan objects directly.
func NewOrchestrator(st store.Store, plans PlanSource, driver *Driver, validator PlanValidator, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:     st,
		plans:     plans,
		driver:    driver,
		validator: validator,
		logger:    logger,
		running:   make(map[string]*Control),
	}
}

// SetEventSink attaches a lifecycle event sink. Call before the first
// execution starts.
func (o *Orchestrator) SetEventSink(sink EventSink) {
	o.events = sink
}

// emit publishes a lifecycle event when a sink is attached.
func (o *Orchestrator) emit(ctx context.Context, rec *store.ExecutionRecord, eventType string, payload any) {
	if o.events == nil {
		return
	}
	err := o.events.Publish(ctx, schema.ExecutionEvent{
		ExecutionID: rec.ID,
		PlanID:      rec.PlanID,
		Type:        eventType,
		Payload:     payload,
		Timestamp:   time.Now().UTC(),
	})
	if err != nil {
		o.logger.WarnContext(ctx, "event publish failed",
			slog.String("type", eventType), slog.String("error", err.Error()))
	}
}

// Execute runs a plan to completion (or suspension) and returns the
// final record.
func (o *Orchestrator) Execute(ctx context.Context, plan *schema.ExecutionPlan, userID string, triggerData map[string]any) (*store.ExecutionRecord, error) {
	rec, ctl, rc, err := o.begin(ctx, plan, userID, triggerData)
	if err != nil {
		return nil, err
	}
	return o.run(ctx, plan, rec, ctl, rc, 0)
}

// ExecuteAsync creates the record synchronously, then walks the plan in
// a background goroutine. The returned record is the initial running
// snapshot; callers poll GetExecution for the outcome.
func (o *Orchestrator) ExecuteAsync(ctx context.Context, plan *schema.ExecutionPlan, userID string, triggerData map[string]any) (*store.ExecutionRecord, error) {
	rec, ctl, rc, err := o.begin(ctx, plan, userID, triggerData)
	if err != nil {
		return nil, err
	}
	snapshot := *rec

	bg := context.WithoutCancel(ctx)
	go func() {
		if _, err := o.run(bg, plan, rec, ctl, rc, 0); err != nil {
			o.logger.ErrorContext(bg, "background execution failed",
				slog.String("execution_id", rec.ID), slog.String("error", err.Error()))
		}
	}()
	return &snapshot, nil
}

// ExecutePlanID looks the plan up and runs it.
func (o *Orchestrator) ExecutePlanID(ctx context.Context, planID, userID string, triggerData map[string]any) (*store.ExecutionRecord, error) {
	plan, err := o.lookupPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	return o.Execute(ctx, plan, userID, triggerData)
}

// TriggerWebhook starts the plan bound to a webhook path in the
// background and returns the initial record.
func (o *Orchestrator) TriggerWebhook(ctx context.Context, path string, triggerData map[string]any) (*store.ExecutionRecord, error) {
	if o.plans == nil {
		return nil, schema.NewError(schema.ErrCodeNotFound, "no plan source configured")
	}
	plan, err := o.plans.FindByWebhookPath(ctx, path)
	if err != nil {
		return nil, err
	}
	return o.ExecuteAsync(ctx, plan, plan.UserID, triggerData)
}

// begin validates the plan, creates and persists the running record,
// seeds the context with the trigger payload, and registers a control.
func (o *Orchestrator) begin(ctx context.Context, plan *schema.ExecutionPlan, userID string, triggerData map[string]any) (*store.ExecutionRecord, *Control, resolve.Context, error) {
	if plan == nil {
		return nil, nil, nil, schema.NewError(schema.ErrCodeValidation, "plan is nil")
	}
	if o.validator != nil {
		if err := o.validator.ValidatePlan(plan); err != nil {
			return nil, nil, nil, err
		}
	}
	if !plan.Enabled {
		return nil, nil, nil, schema.NewErrorf(schema.ErrCodeConflict, "plan %s is disabled", plan.ID)
	}
	if userID == "" {
		userID = plan.UserID
	}

	rec := &store.ExecutionRecord{
		ID:          uuid.NewString(),
		PlanID:      plan.ID,
		PlanName:    plan.Name,
		UserID:      userID,
		Status:      schema.ExecutionRunning,
		TriggerData: triggerData,
		StartedAt:   time.Now().UTC(),
	}

	var rc resolve.Context
	if triggerData != nil {
		// The trigger payload occupies context index 0, addressable
		// by the first step as {{step_1.output}}.
		rc = append(rc, resolve.Entry{Success: true, Output: mapToAny(triggerData)})
	}
	rec.Context = rc

	if err := o.store.PutExecution(ctx, rec); err != nil {
		return nil, nil, nil, err
	}

	ctl := NewControl()
	o.mu.Lock()
	o.running[rec.ID] = ctl
	o.mu.Unlock()

	o.emit(ctx, rec, schema.EventExecutionStarted, nil)
	return rec, ctl, rc, nil
}

// run walks the plan from start and finalizes the record.
func (o *Orchestrator) run(ctx context.Context, plan *schema.ExecutionPlan, rec *store.ExecutionRecord, ctl *Control, rc resolve.Context, start int) (*store.ExecutionRecord, error) {
	defer func() {
		o.mu.Lock()
		delete(o.running, rec.ID)
		o.mu.Unlock()
	}()

	ctx = logging.WithExecutionID(logging.WithPlanID(ctx, rec.PlanID), rec.ID)

	rc, wr := o.driver.Walk(ctx, ctl, plan, rec, rc, start)
	rec.Context = rc
	rec.Cursor = wr.Cursor

	if wr.Paused {
		if err := o.store.MarkPaused(ctx, &store.PausedExecution{
			ExecutionID: rec.ID,
			Cursor:      wr.Cursor,
			PausedAt:    time.Now().UTC(),
		}); err != nil {
			return nil, err
		}
		if err := o.store.PutExecution(ctx, rec); err != nil {
			return nil, err
		}
		o.logger.InfoContext(ctx, "execution paused", slog.Int("cursor", wr.Cursor))
		o.emit(ctx, rec, schema.EventExecutionPaused, map[string]any{"cursor": wr.Cursor})
		return rec, nil
	}

	final := AggregateStatus(rec)
	if wr.Cancelled {
		final = schema.ExecutionCancelled
	}
	var err error
	if rec.Status, err = TransitionExecution(rec.Status, final); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rec.CompletedAt = &now
	rec.DurationMs = now.Sub(rec.StartedAt).Milliseconds()

	if err := o.store.PutExecution(ctx, rec); err != nil {
		return nil, err
	}

	if rec.Status == schema.ExecutionFailed {
		entry := &store.DeadLetterEntry{
			ExecutionID: rec.ID,
			Record:      *rec,
			ArchivedAt:  now,
		}
		if err := o.store.AppendDeadLetter(ctx, entry); err != nil {
			o.logger.ErrorContext(ctx, "dead letter append failed", slog.String("error", err.Error()))
		} else {
			o.emit(ctx, rec, schema.EventExecutionArchived, nil)
		}
	}

	o.emit(ctx, rec, finishEventType(rec.Status), map[string]any{
		"status":      string(rec.Status),
		"duration_ms": rec.DurationMs,
	})

	o.logger.InfoContext(ctx, "execution finished",
		slog.String("status", string(rec.Status)),
		slog.Int("steps", len(rec.Steps)),
		slog.Int("retries", rec.RetryAttempts),
		slog.Int64("duration_ms", rec.DurationMs),
	)
	return rec, nil
}

// Pause requests suspension of a running execution. A run that is not
// currently in flight cannot be paused.
func (o *Orchestrator) Pause(ctx context.Context, executionID string) error {
	o.mu.Lock()
	ctl, ok := o.running[executionID]
	o.mu.Unlock()
	if ok {
		ctl.Pause()
		return nil
	}

	rec, err := o.store.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if rec.Status != schema.ExecutionRunning {
		return schema.NewErrorf(schema.ErrCodeConflict, "execution %s is %s, not running", executionID, rec.Status)
	}
	// Running record without an in-flight control (e.g. after a process
	// restart): mark it paused at its last known cursor.
	return o.store.MarkPaused(ctx, &store.PausedExecution{
		ExecutionID: executionID,
		Cursor:      rec.Cursor,
		PausedAt:    time.Now().UTC(),
	})
}

// Resume continues a paused execution from its stored cursor on the
// same record.
func (o *Orchestrator) Resume(ctx context.Context, executionID string) (*store.ExecutionRecord, error) {
	p, err := o.store.GetPaused(ctx, executionID)
	if err != nil {
		return nil, err
	}
	rec, err := o.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	plan, err := o.lookupPlan(ctx, rec.PlanID)
	if err != nil {
		return nil, err
	}
	if err := o.store.ClearPaused(ctx, executionID); err != nil {
		return nil, err
	}

	ctl := NewControl()
	o.mu.Lock()
	o.running[rec.ID] = ctl
	o.mu.Unlock()

	o.emit(ctx, rec, schema.EventExecutionResumed, map[string]any{"cursor": p.Cursor})
	return o.run(ctx, plan, rec, ctl, rec.Context, p.Cursor)
}

// Cancel aborts a running or paused execution.
func (o *Orchestrator) Cancel(ctx context.Context, executionID string) error {
	o.mu.Lock()
	ctl, ok := o.running[executionID]
	o.mu.Unlock()
	if ok {
		ctl.Cancel()
		return nil
	}

	// A paused run has no walker to signal; finalize it directly.
	if _, err := o.store.GetPaused(ctx, executionID); err == nil {
		rec, err := o.store.GetExecution(ctx, executionID)
		if err != nil {
			return err
		}
		if rec.Status, err = TransitionExecution(rec.Status, schema.ExecutionCancelled); err != nil {
			return err
		}
		now := time.Now().UTC()
		rec.CompletedAt = &now
		rec.DurationMs = now.Sub(rec.StartedAt).Milliseconds()
		if err := o.store.ClearPaused(ctx, executionID); err != nil {
			return err
		}
		return o.store.PutExecution(ctx, rec)
	}

	rec, err := o.store.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	return schema.NewErrorf(schema.ErrCodeConflict, "execution %s is %s and cannot be cancelled", executionID, rec.Status)
}

// RetryFromDLQ re-runs a dead-lettered execution as a brand new
// execution with a fresh id. The archived entry is never mutated.
func (o *Orchestrator) RetryFromDLQ(ctx context.Context, executionID string) (*store.ExecutionRecord, error) {
	entry, err := o.store.GetDeadLetter(ctx, executionID)
	if err != nil {
		return nil, err
	}
	plan, err := o.lookupPlan(ctx, entry.Record.PlanID)
	if err != nil {
		return nil, err
	}
	return o.Execute(ctx, plan, entry.Record.UserID, entry.Record.TriggerData)
}

// GetExecution returns an execution record.
func (o *Orchestrator) GetExecution(ctx context.Context, executionID string) (*store.ExecutionRecord, error) {
	return o.store.GetExecution(ctx, executionID)
}

// ListDeadLetters returns the dead-letter queue, most recent first.
func (o *Orchestrator) ListDeadLetters(ctx context.Context) ([]*store.DeadLetterEntry, error) {
	return o.store.ListDeadLetters(ctx)
}

// ListPaused returns the paused set.
func (o *Orchestrator) ListPaused(ctx context.Context) ([]*store.PausedExecution, error) {
	return o.store.ListPaused(ctx)
}

// ComputeMetrics summarizes a user's execution history from the store.
func (o *Orchestrator) ComputeMetrics(ctx context.Context, userID string) (*Metrics, error) {
	recs, err := o.store.ListExecutions(ctx, store.ExecutionFilter{UserID: userID})
	if err != nil {
		return nil, err
	}

	m := &Metrics{Total: len(recs), ByStatus: make(map[string]int)}
	var totalDur int64
	var completed int
	for _, rec := range recs {
		m.ByStatus[string(rec.Status)]++
		if rec.CompletedAt != nil {
			totalDur += rec.DurationMs
			completed++
		}
	}
	if m.Total > 0 {
		m.SuccessRate = float64(m.ByStatus[string(schema.ExecutionSuccess)]) / float64(m.Total)
	}
	if completed > 0 {
		m.AvgDurationMs = float64(totalDur) / float64(completed)
	}
	if len(recs) > 10 {
		recs = recs[:10]
	}
	m.Recent = recs
	return m, nil
}

func (o *Orchestrator) lookupPlan(ctx context.Context, planID string) (*schema.ExecutionPlan, error) {
	if o.plans == nil {
		return nil, schema.NewError(schema.ErrCodeNotFound, "no plan source configured")
	}
	return o.plans.GetPlan(ctx, planID)
}

func finishEventType(status schema.ExecutionStatus) string {
	switch status {
	case schema.ExecutionSuccess:
		return schema.EventExecutionCompleted
	case schema.ExecutionPartialFailure:
		return schema.EventExecutionPartial
	case schema.ExecutionCancelled:
		return schema.EventExecutionCancelled
	default:
		return schema.EventExecutionFailed
	}
}

func mapToAny(m map[string]any) any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
