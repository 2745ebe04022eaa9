package engine

import (
	"context"
	"log/slog"

	"github.com/planweave/planweave/internal/resolve"
	"github.com/planweave/planweave/internal/store"
	"github.com/planweave/planweave/pkg/schema"
)

// WalkResult reports how a plan walk ended. When Paused is set the
// record still carries status running and Cursor is the index to
// resume at; Cancelled means the run was aborted between steps.
type WalkResult struct {
	Paused    bool
	Cancelled bool
	Cursor    int
}

// Driver walks a plan's steps sequentially, exactly one step in flight.
// It owns the control flow above single steps: condition branching,
// dependency skips, bounded loops, stop-on-error, and the pause/cancel
// checkpoints between dispatches.
type Driver struct {
	steps  *StepExecutor
	logger *slog.Logger
}

// NewDriver creates a driver over the given step executor.
func NewDriver(steps *StepExecutor, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{steps: steps, logger: logger}
}

// Walk runs plan steps from index start, mutating rec as results land
// and returning the final context. Condition steps record nothing; an
// action or loop step appends exactly one entry to the main context, so
// {{step_n.output}} indices follow recorded order.
func (d *Driver) Walk(ctx context.Context, ctl *Control, plan *schema.ExecutionPlan, rec *store.ExecutionRecord, rc resolve.Context, start int) (resolve.Context, WalkResult) {
	info := RunInfo{ExecutionID: rec.ID, PlanID: rec.PlanID, UserID: rec.UserID}

	i := start
	for i < len(plan.Steps) {
		if ctl.CancelRequested() {
			return rc, WalkResult{Cancelled: true, Cursor: i}
		}
		if ctl.PauseRequested() {
			return rc, WalkResult{Paused: true, Cursor: i}
		}

		step := plan.Steps[i]
		switch step.Kind {
		case schema.StepKindCondition:
			if resolve.Evaluate(step.Condition, rc) {
				i++
				continue
			}
			if step.ElseJump != nil {
				i = *step.ElseJump
				continue
			}
			// False without else_jump ends the walk; the skipped
			// tail never appears in the record.
			return rc, WalkResult{Cursor: i}

		case schema.StepKindLoop:
			next, halted := d.runLoop(ctx, ctl, plan, rec, &rc, info, step, i)
			if next != nil {
				return rc, *next
			}
			if halted {
				return rc, WalkResult{Cursor: i}
			}
			i++

		default: // action
			if step.DependsOn != "" && !dependencyMet(rec, step.DependsOn) {
				res := store.StepResult{
					StepID:    step.ID,
					StepIndex: i,
					Status:    schema.StepSkipped,
					Provider:  step.Provider,
					Action:    step.Action,
					Error:     "dependency " + step.DependsOn + " not satisfied",
				}
				rec.Steps = append(rec.Steps, res)
				rc = append(rc, resolve.Entry{Success: false})
				i++
				continue
			}

			res, err := d.steps.Run(ctx, ctl, info, step, i, nil, rc)
			if err != nil {
				// The dispatch was abandoned mid-retry; nothing is
				// recorded and the cursor stays on this step.
				if err == ErrCancelled {
					return rc, WalkResult{Cancelled: true, Cursor: i}
				}
				return rc, WalkResult{Paused: true, Cursor: i}
			}

			rec.Steps = append(rec.Steps, res)
			rec.RetryAttempts += res.RetryCount
			rc = append(rc, resolve.Entry{
				Success: res.Status == schema.StepSuccess,
				Output:  res.Output,
			})

			if res.Status == schema.StepFailed {
				recordFailure(rec, res.StepID, res.Error)
				if !plan.ContinueOnError {
					return rc, WalkResult{Cursor: i}
				}
			}
			i++
		}
	}
	return rc, WalkResult{Cursor: i}
}

// runLoop executes one loop step. It returns a non-nil WalkResult when
// the walk must stop for pause/cancel, and halted=true when a failed
// iteration ends the run under stop-on-error.
func (d *Driver) runLoop(ctx context.Context, ctl *Control, plan *schema.ExecutionPlan, rec *store.ExecutionRecord, rc *resolve.Context, info RunInfo, step schema.Step, stepIndex int) (*WalkResult, bool) {
	items, ok := loopItems(step, *rc)
	if !ok {
		res := store.StepResult{
			StepID:    step.ID,
			StepIndex: stepIndex,
			Status:    schema.StepFailed,
			Provider:  step.Provider,
			Action:    step.Action,
			Error:     "items_source did not resolve to a list",
		}
		rec.Steps = append(rec.Steps, res)
		*rc = append(*rc, resolve.Entry{Success: false})
		recordFailure(rec, step.ID, res.Error)
		return nil, !plan.ContinueOnError
	}

	limit := len(items)
	if step.Loop.MaxIterations > 0 && limit > step.Loop.MaxIterations {
		limit = step.Loop.MaxIterations
	}

	outputs := make([]any, 0, limit)
	for it := 0; it < limit; it++ {
		if ctl.CancelRequested() {
			return &WalkResult{Cancelled: true, Cursor: stepIndex}, false
		}
		if ctl.PauseRequested() {
			return &WalkResult{Paused: true, Cursor: stepIndex}, false
		}

		// Each iteration sees a private context with the item appended
		// last, addressable as the highest step_n index.
		private := make(resolve.Context, 0, len(*rc)+1)
		private = append(private, *rc...)
		private = append(private, resolve.Entry{Success: true, Output: items[it]})

		iter := it
		res, err := d.steps.Run(ctx, ctl, info, step, stepIndex, &iter, private)
		if err != nil {
			if err == ErrCancelled {
				return &WalkResult{Cancelled: true, Cursor: stepIndex}, false
			}
			return &WalkResult{Paused: true, Cursor: stepIndex}, false
		}

		rec.Steps = append(rec.Steps, res)
		rec.RetryAttempts += res.RetryCount

		if res.Status != schema.StepSuccess {
			// First iteration failure aborts the loop; remaining
			// items are never attempted.
			*rc = append(*rc, resolve.Entry{Success: false})
			recordFailure(rec, step.ID, res.Error)
			return nil, !plan.ContinueOnError
		}
		outputs = append(outputs, res.Output)
	}

	*rc = append(*rc, resolve.Entry{Success: true, Output: outputs})
	return nil, false
}

// loopItems resolves items_source to a list. A map carrying an "items"
// list unwraps to that list.
func loopItems(step schema.Step, rc resolve.Context) ([]any, bool) {
	if step.Loop == nil {
		return nil, false
	}
	v, ok := resolve.Value(step.Loop.ItemsSource, rc)
	if !ok {
		return nil, false
	}
	switch items := v.(type) {
	case []any:
		return items, true
	case map[string]any:
		if inner, ok := items["items"].([]any); ok {
			return inner, true
		}
	}
	return nil, false
}

// dependencyMet reports whether the named step ran and succeeded. A
// loop dependency is judged by its aggregate outcome: iteration results
// share the loop's step id, so a mid-loop failure (recorded in
// FailedSteps) must not be masked by its earlier successful iterations.
func dependencyMet(rec *store.ExecutionRecord, stepID string) bool {
	for _, id := range rec.FailedSteps {
		if id == stepID {
			return false
		}
	}
	for _, res := range rec.Steps {
		if res.StepID != stepID {
			continue
		}
		if res.Iteration != nil {
			return true
		}
		return res.Status == schema.StepSuccess
	}
	return false
}

func recordFailure(rec *store.ExecutionRecord, stepID, errText string) {
	rec.FailedSteps = append(rec.FailedSteps, stepID)
	rec.Errors = append(rec.Errors, store.StepError{StepID: stepID, Error: errText})
}

// AggregateStatus folds recorded step results into the final execution
// status: no failures → success; failures alongside at least one
// success → partial_failure; failures only → failed. Iteration results
// do not count individually: each loop contributes exactly one
// step-level outcome, failed when the loop is in FailedSteps.
func AggregateStatus(rec *store.ExecutionRecord) schema.ExecutionStatus {
	failedSet := make(map[string]bool, len(rec.FailedSteps))
	for _, id := range rec.FailedSteps {
		failedSet[id] = true
	}

	var succeeded, failed int
	loops := make(map[string]bool)
	for _, res := range rec.Steps {
		if res.Iteration != nil {
			if loops[res.StepID] {
				continue
			}
			loops[res.StepID] = true
			if failedSet[res.StepID] {
				failed++
			} else {
				succeeded++
			}
			continue
		}
		switch res.Status {
		case schema.StepSuccess:
			succeeded++
		case schema.StepFailed:
			failed++
		}
	}
	if failed == 0 {
		return schema.ExecutionSuccess
	}
	if succeeded > 0 {
		return schema.ExecutionPartialFailure
	}
	return schema.ExecutionFailed
}
