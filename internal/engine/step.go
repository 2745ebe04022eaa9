package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/planweave/planweave/internal/logging"
	"github.com/planweave/planweave/internal/provider"
	"github.com/planweave/planweave/internal/resolve"
	"github.com/planweave/planweave/internal/store"
	"github.com/planweave/planweave/pkg/schema"
)

// outputPreviewLimit caps the stringified output stored per attempt log.
const outputPreviewLimit = 500

// RunInfo identifies the run a step dispatch belongs to.
type RunInfo struct {
	ExecutionID string
	PlanID      string
	UserID      string
}

// StepExecutorConfig tunes the retry behavior. The zero value means
// base 2 exponential backoff in seconds.
type StepExecutorConfig struct {
	BackoffBase float64
	BackoffUnit time.Duration
}

// StepExecutor dispatches one step to its provider with retries. It
// owns everything below a single step: parameter resolution, the retry
// loop, status transitions, and per-attempt logging. Step failures are
// recorded as data; the only errors it returns are the pause/cancel
// sentinels from an interrupted backoff wait.
type StepExecutor struct {
	invoker provider.Invoker
	creds   provider.CredentialSource
	store   store.Store
	logger  *slog.Logger

	backoffBase float64
	backoffUnit time.Duration

	// wait is injectable so tests can observe delays without sleeping.
	wait func(ctx context.Context, ctl *Control, delay time.Duration) error
}

// NewStepExecutor creates a step executor. creds and st may be nil.
func NewStepExecutor(invoker provider.Invoker, creds provider.CredentialSource, st store.Store, logger *slog.Logger, cfg StepExecutorConfig) *StepExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	base := cfg.BackoffBase
	if base <= 0 {
		base = DefaultBackoffBase
	}
	unit := cfg.BackoffUnit
	if unit <= 0 {
		unit = time.Second
	}
	return &StepExecutor{
		invoker:     invoker,
		creds:       creds,
		store:       st,
		logger:      logger,
		backoffBase: base,
		backoffUnit: unit,
		wait:        WaitForBackoff,
	}
}

// Run executes one action step (or one loop iteration when iteration is
// set) with up to RetryBudget retries. The returned result is terminal
// unless the error is ErrPaused or ErrCancelled, in which case the
// dispatch was abandoned mid-retry and must not be recorded.
func (x *StepExecutor) Run(ctx context.Context, ctl *Control, info RunInfo, step schema.Step, stepIndex int, iteration *int, rc resolve.Context) (store.StepResult, error) {
	res := store.StepResult{
		StepID:    step.ID,
		StepIndex: stepIndex,
		Iteration: iteration,
		Status:    schema.StepPending,
		Provider:  step.Provider,
		Action:    step.Action,
	}

	ctx = logging.WithIDs(ctx, info.ExecutionID, info.PlanID, step.ID)

	params := resolve.Params(step.Params, rc)

	var creds map[string]any
	if x.creds != nil && step.Provider != "" {
		var err error
		creds, err = x.creds.Credentials(ctx, info.UserID, step.Provider)
		if err != nil {
			res.Status, _ = TransitionStep(res.Status, schema.StepFailed)
			res.Error = "credential lookup failed: " + err.Error()
			finishResult(&res, time.Now().UTC())
			return res, nil
		}
	}

	maxRetries := step.RetryBudget()
	start := time.Now().UTC()
	res.StartedAt = &start

	for attempt := 0; ; attempt++ {
		target := schema.StepRunning
		if attempt > 0 {
			target = schema.StepRetrying
		}
		var err error
		if res.Status, err = TransitionStep(res.Status, target); err != nil {
			res.Status = schema.StepFailed
			res.Error = err.Error()
			break
		}

		t0 := time.Now()
		out := x.invoker.Invoke(ctx, step.Provider, step.Action, params, creds)
		latency := time.Since(t0)
		x.logAttempt(ctx, info, step, stepIndex, attempt, out, latency)

		if out.Success {
			res.Status, _ = TransitionStep(res.Status, schema.StepSuccess)
			res.Output = out.Output
			res.Error = ""
			break
		}

		res.Error = failureText(out)
		if attempt >= maxRetries {
			res.Status, _ = TransitionStep(res.Status, schema.StepFailed)
			break
		}

		res.RetryCount++
		delay := Backoff(x.backoffBase, attempt+1, x.backoffUnit)
		if err := x.wait(ctx, ctl, delay); err != nil {
			return res, err
		}
	}

	finishResult(&res, time.Now().UTC())
	return res, nil
}

func finishResult(res *store.StepResult, now time.Time) {
	res.CompletedAt = &now
	if res.StartedAt != nil {
		res.DurationMs = now.Sub(*res.StartedAt).Milliseconds()
	}
}

// logAttempt emits one structured entry per dispatch attempt and
// mirrors it into the store's dispatch log best-effort.
func (x *StepExecutor) logAttempt(ctx context.Context, info RunInfo, step schema.Step, stepIndex, attempt int, out provider.Result, latency time.Duration) {
	status := "success"
	if !out.Success {
		status = "failed"
	}

	x.logger.InfoContext(ctx, "step dispatch",
		slog.Int("step_index", stepIndex),
		slog.Int("attempt", attempt),
		slog.String("provider", step.Provider),
		slog.String("action", step.Action),
		slog.String("status", status),
		slog.Int64("latency_ms", latency.Milliseconds()),
		slog.String("error", out.Error),
	)

	if x.store == nil {
		return
	}
	entry := &store.StepLogEntry{
		ExecutionID:   info.ExecutionID,
		PlanID:        info.PlanID,
		StepIndex:     stepIndex,
		Provider:      step.Provider,
		Action:        step.Action,
		Status:        status,
		Message:       out.Message,
		LatencyMs:     latency.Milliseconds(),
		OutputPreview: truncate(resolve.Stringify(out.Output), outputPreviewLimit),
		Error:         out.Error,
		Timestamp:     time.Now().UTC(),
	}
	if err := x.store.AppendStepLog(ctx, entry); err != nil {
		x.logger.WarnContext(ctx, "append step log failed", slog.String("error", err.Error()))
	}
}

func failureText(out provider.Result) string {
	if out.Error != "" {
		return out.Error
	}
	if out.Message != "" {
		return out.Message
	}
	return "provider reported failure"
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
