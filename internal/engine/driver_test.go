package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planweave/planweave/internal/provider"
	"github.com/planweave/planweave/internal/resolve"
	"github.com/planweave/planweave/internal/store"
	"github.com/planweave/planweave/pkg/schema"
)

func newTestDriver(inv provider.Invoker) *Driver {
	x := NewStepExecutor(inv, nil, nil, nil, StepExecutorConfig{BackoffUnit: time.Millisecond})
	x.wait = func(context.Context, *Control, time.Duration) error { return nil }
	return NewDriver(x, nil)
}

func actionStep(id string) schema.Step {
	return schema.Step{ID: id, Kind: schema.StepKindAction, Provider: "p", Action: "a", MaxRetries: intPtr(0)}
}

func walk(t *testing.T, d *Driver, plan *schema.ExecutionPlan, rc resolve.Context) (*store.ExecutionRecord, resolve.Context, WalkResult) {
	t.Helper()
	rec := &store.ExecutionRecord{ID: "e1", PlanID: plan.ID, Status: schema.ExecutionRunning, StartedAt: time.Now()}
	rc, wr := d.Walk(context.Background(), NewControl(), plan, rec, rc, 0)
	return rec, rc, wr
}

func TestWalkPipelinePassesOutputsForward(t *testing.T) {
	inv := &scriptedInvoker{answer: func(call int, _, _ string, params map[string]any) provider.Result {
		return provider.Result{Success: true, Output: map[string]any{"call": call, "saw": params["input"]}}
	}}
	d := newTestDriver(inv)

	plan := &schema.ExecutionPlan{ID: "plan-1", Enabled: true, Steps: []schema.Step{
		actionStep("s1"),
		func() schema.Step {
			s := actionStep("s2")
			s.Params = map[string]any{"input": "{{step_1.output}}"}
			return s
		}(),
	}}

	rec, rc, wr := walk(t, d, plan, nil)

	assert.False(t, wr.Paused)
	require.Len(t, rec.Steps, 2)
	assert.Equal(t, schema.StepSuccess, rec.Steps[0].Status)
	assert.Equal(t, schema.StepSuccess, rec.Steps[1].Status)
	require.Len(t, rc, 2)

	// s2 saw s1's structured output, round-tripped through JSON.
	saw := rec.Steps[1].Output.(map[string]any)["saw"]
	assert.Equal(t, map[string]any{"call": float64(0), "saw": nil}, saw)
}

func TestWalkConditionTrueContinues(t *testing.T) {
	inv := &scriptedInvoker{answer: func(call int, _, _ string, _ map[string]any) provider.Result {
		return provider.Result{Success: true, Output: "ready"}
	}}
	d := newTestDriver(inv)

	plan := &schema.ExecutionPlan{ID: "plan-1", Enabled: true, Steps: []schema.Step{
		actionStep("s1"),
		{ID: "gate", Kind: schema.StepKindCondition, Condition: "{{step_1.output}} == ready"},
		actionStep("s3"),
	}}

	rec, rc, _ := walk(t, d, plan, nil)

	// Conditions record nothing; both actions ran.
	require.Len(t, rec.Steps, 2)
	assert.Equal(t, "s1", rec.Steps[0].StepID)
	assert.Equal(t, "s3", rec.Steps[1].StepID)
	assert.Len(t, rc, 2)
}

func TestWalkConditionFalseWithoutJumpTerminates(t *testing.T) {
	inv := &scriptedInvoker{answer: func(call int, _, _ string, _ map[string]any) provider.Result {
		return provider.Result{Success: true, Output: "not_ready"}
	}}
	d := newTestDriver(inv)

	plan := &schema.ExecutionPlan{ID: "plan-1", Enabled: true, Steps: []schema.Step{
		actionStep("s1"),
		{ID: "gate", Kind: schema.StepKindCondition, Condition: "{{step_1.output}} == ready"},
		actionStep("s3"),
	}}

	rec, _, wr := walk(t, d, plan, nil)

	assert.False(t, wr.Paused)
	// The skipped tail is simply absent from the record.
	require.Len(t, rec.Steps, 1)
	assert.Equal(t, "s1", rec.Steps[0].StepID)
	assert.Equal(t, 1, inv.callCount())
}

func TestWalkConditionFalseWithElseJump(t *testing.T) {
	inv := &scriptedInvoker{answer: func(call int, _, _ string, _ map[string]any) provider.Result {
		return provider.Result{Success: true, Output: "not_ready"}
	}}
	d := newTestDriver(inv)

	plan := &schema.ExecutionPlan{ID: "plan-1", Enabled: true, Steps: []schema.Step{
		actionStep("s1"),
		{ID: "gate", Kind: schema.StepKindCondition, Condition: "{{step_1.output}} == ready", ElseJump: intPtr(3)},
		actionStep("skipped"),
		actionStep("fallback"),
	}}

	rec, _, _ := walk(t, d, plan, nil)

	require.Len(t, rec.Steps, 2)
	assert.Equal(t, "s1", rec.Steps[0].StepID)
	// The walk resumed exactly at the else_jump index.
	assert.Equal(t, "fallback", rec.Steps[1].StepID)
	assert.Equal(t, 3, rec.Steps[1].StepIndex)
}

func TestWalkStopsOnFailureByDefault(t *testing.T) {
	inv := &scriptedInvoker{answer: func(call int, _, _ string, _ map[string]any) provider.Result {
		if call == 1 {
			return provider.Result{Success: false, Error: "bad"}
		}
		return provider.Result{Success: true}
	}}
	d := newTestDriver(inv)

	plan := &schema.ExecutionPlan{ID: "plan-1", Enabled: true, Steps: []schema.Step{
		actionStep("s1"), actionStep("s2"), actionStep("s3"),
	}}

	rec, _, _ := walk(t, d, plan, nil)

	require.Len(t, rec.Steps, 2)
	assert.Equal(t, schema.StepFailed, rec.Steps[1].Status)
	assert.Equal(t, []string{"s2"}, rec.FailedSteps)
	require.Len(t, rec.Errors, 1)
	assert.Equal(t, "bad", rec.Errors[0].Error)
	assert.Equal(t, 2, inv.callCount())
}

func TestWalkContinueOnErrorRunsTail(t *testing.T) {
	inv := &scriptedInvoker{answer: func(call int, _, _ string, _ map[string]any) provider.Result {
		if call == 0 {
			return provider.Result{Success: false, Error: "bad"}
		}
		return provider.Result{Success: true}
	}}
	d := newTestDriver(inv)

	plan := &schema.ExecutionPlan{ID: "plan-1", Enabled: true, ContinueOnError: true, Steps: []schema.Step{
		actionStep("s1"), actionStep("s2"),
	}}

	rec, _, _ := walk(t, d, plan, nil)

	require.Len(t, rec.Steps, 2)
	assert.Equal(t, schema.StepFailed, rec.Steps[0].Status)
	assert.Equal(t, schema.StepSuccess, rec.Steps[1].Status)
	assert.Equal(t, schema.ExecutionPartialFailure, AggregateStatus(rec))
}

func TestWalkDependencySkip(t *testing.T) {
	inv := &scriptedInvoker{answer: func(call int, _, _ string, _ map[string]any) provider.Result {
		if call == 0 {
			return provider.Result{Success: false, Error: "bad"}
		}
		return provider.Result{Success: true}
	}}
	d := newTestDriver(inv)

	s2 := actionStep("s2")
	s2.DependsOn = "s1"
	plan := &schema.ExecutionPlan{ID: "plan-1", Enabled: true, ContinueOnError: true, Steps: []schema.Step{
		actionStep("s1"), s2,
	}}

	rec, rc, _ := walk(t, d, plan, nil)

	require.Len(t, rec.Steps, 2)
	assert.Equal(t, schema.StepSkipped, rec.Steps[1].Status)
	// A skipped step is never dispatched.
	assert.Equal(t, 1, inv.callCount())
	// It still occupies a context slot, unresolvable.
	require.Len(t, rc, 2)
	assert.False(t, rc[1].Success)
}

func TestWalkLoopIteratesOverItems(t *testing.T) {
	inv := &scriptedInvoker{answer: func(call int, _, _ string, params map[string]any) provider.Result {
		if call == 0 {
			return provider.Result{Success: true, Output: []any{"a", "b", "c"}}
		}
		return provider.Result{Success: true, Output: params["item"]}
	}}
	d := newTestDriver(inv)

	loop := schema.Step{
		ID: "each", Kind: schema.StepKindLoop, Provider: "p", Action: "a",
		MaxRetries: intPtr(0),
		// Inside an iteration the item is the highest context index.
		Params: map[string]any{"item": "{{step_2.output}}"},
		Loop:   &schema.LoopConfig{ItemsSource: "{{step_1.output}}"},
	}
	plan := &schema.ExecutionPlan{ID: "plan-1", Enabled: true, Steps: []schema.Step{
		actionStep("produce"), loop,
	}}

	rec, rc, _ := walk(t, d, plan, nil)

	// One result for the producer, one per iteration.
	require.Len(t, rec.Steps, 4)
	for i, want := range []string{"a", "b", "c"} {
		res := rec.Steps[i+1]
		assert.Equal(t, "each", res.StepID)
		require.NotNil(t, res.Iteration)
		assert.Equal(t, i, *res.Iteration)
		assert.Equal(t, want, res.Output)
	}

	// The loop contributes one aggregate context entry.
	require.Len(t, rc, 2)
	assert.Equal(t, []any{"a", "b", "c"}, rc[1].Output)
}

func TestWalkLoopAbortsOnIterationFailure(t *testing.T) {
	inv := &scriptedInvoker{answer: func(call int, _, _ string, params map[string]any) provider.Result {
		if call == 0 {
			return provider.Result{Success: true, Output: []any{"a", "b", "c"}}
		}
		if params["item"] == "b" {
			return provider.Result{Success: false, Error: "b is broken"}
		}
		return provider.Result{Success: true, Output: params["item"]}
	}}
	d := newTestDriver(inv)

	loop := schema.Step{
		ID: "each", Kind: schema.StepKindLoop, Provider: "p", Action: "a",
		MaxRetries: intPtr(0),
		Params:     map[string]any{"item": "{{step_2.output}}"},
		Loop:       &schema.LoopConfig{ItemsSource: "{{step_1.output}}"},
	}
	plan := &schema.ExecutionPlan{ID: "plan-1", Enabled: true, Steps: []schema.Step{
		actionStep("produce"), loop, actionStep("after"),
	}}

	rec, _, _ := walk(t, d, plan, nil)

	// Producer + exactly two iteration results; c is never attempted
	// and neither is the tail step.
	require.Len(t, rec.Steps, 3)
	assert.Equal(t, schema.StepSuccess, rec.Steps[1].Status)
	assert.Equal(t, schema.StepFailed, rec.Steps[2].Status)
	assert.Equal(t, []string{"each"}, rec.FailedSteps)
	assert.Equal(t, 3, inv.callCount())
}

func TestWalkLoopMaxIterationsBounds(t *testing.T) {
	inv := &scriptedInvoker{answer: func(call int, _, _ string, params map[string]any) provider.Result {
		if call == 0 {
			return provider.Result{Success: true, Output: []any{"a", "b", "c", "d"}}
		}
		return provider.Result{Success: true, Output: params["item"]}
	}}
	d := newTestDriver(inv)

	loop := schema.Step{
		ID: "each", Kind: schema.StepKindLoop, Provider: "p", Action: "a",
		MaxRetries: intPtr(0),
		Params:     map[string]any{"item": "{{step_2.output}}"},
		Loop:       &schema.LoopConfig{ItemsSource: "{{step_1.output}}", MaxIterations: 2},
	}
	plan := &schema.ExecutionPlan{ID: "plan-1", Enabled: true, Steps: []schema.Step{
		actionStep("produce"), loop,
	}}

	rec, rc, _ := walk(t, d, plan, nil)

	require.Len(t, rec.Steps, 3)
	assert.Equal(t, []any{"a", "b"}, rc[1].Output)
}

func TestWalkLoopNonListSourceFails(t *testing.T) {
	inv := &scriptedInvoker{answer: func(call int, _, _ string, _ map[string]any) provider.Result {
		return provider.Result{Success: true, Output: "not a list"}
	}}
	d := newTestDriver(inv)

	loop := schema.Step{
		ID: "each", Kind: schema.StepKindLoop, Provider: "p",
		Loop: &schema.LoopConfig{ItemsSource: "{{step_1.output}}"},
	}
	plan := &schema.ExecutionPlan{ID: "plan-1", Enabled: true, Steps: []schema.Step{
		actionStep("produce"), loop,
	}}

	rec, _, _ := walk(t, d, plan, nil)

	require.Len(t, rec.Steps, 2)
	assert.Equal(t, schema.StepFailed, rec.Steps[1].Status)
	assert.Contains(t, rec.Steps[1].Error, "items_source")
}

func TestWalkTriggerDataIsStepOne(t *testing.T) {
	inv := &scriptedInvoker{answer: func(call int, _, _ string, params map[string]any) provider.Result {
		return provider.Result{Success: true, Output: params["from_trigger"]}
	}}
	d := newTestDriver(inv)

	s1 := actionStep("s1")
	s1.Params = map[string]any{"from_trigger": "{{step_1.output}}"}
	plan := &schema.ExecutionPlan{ID: "plan-1", Enabled: true, Steps: []schema.Step{s1}}

	trigger := resolve.Context{{Success: true, Output: map[string]any{"body": "hi"}}}
	rec, _, _ := walk(t, d, plan, trigger)

	require.Len(t, rec.Steps, 1)
	assert.Equal(t, map[string]any{"body": "hi"}, rec.Steps[0].Output)
}

func TestWalkPauseBetweenSteps(t *testing.T) {
	inv := &scriptedInvoker{answer: func(call int, _, _ string, _ map[string]any) provider.Result {
		return provider.Result{Success: true}
	}}
	d := newTestDriver(inv)

	plan := &schema.ExecutionPlan{ID: "plan-1", Enabled: true, Steps: []schema.Step{
		actionStep("s1"), actionStep("s2"),
	}}

	rec := &store.ExecutionRecord{ID: "e1", PlanID: "plan-1", Status: schema.ExecutionRunning}
	ctl := NewControl()
	ctl.Pause()
	_, wr := d.Walk(context.Background(), ctl, plan, rec, nil, 0)

	assert.True(t, wr.Paused)
	assert.Equal(t, 0, wr.Cursor)
	assert.Empty(t, rec.Steps)
	assert.Zero(t, inv.callCount())
}

func TestAggregateStatus(t *testing.T) {
	mk := func(statuses ...schema.StepStatus) *store.ExecutionRecord {
		rec := &store.ExecutionRecord{}
		for _, s := range statuses {
			rec.Steps = append(rec.Steps, store.StepResult{Status: s})
		}
		return rec
	}

	assert.Equal(t, schema.ExecutionSuccess, AggregateStatus(mk()))
	assert.Equal(t, schema.ExecutionSuccess, AggregateStatus(mk(schema.StepSuccess, schema.StepSkipped)))
	assert.Equal(t, schema.ExecutionPartialFailure, AggregateStatus(mk(schema.StepSuccess, schema.StepFailed)))
	assert.Equal(t, schema.ExecutionFailed, AggregateStatus(mk(schema.StepFailed)))
	assert.Equal(t, schema.ExecutionFailed, AggregateStatus(mk(schema.StepSkipped, schema.StepFailed)))
}

func TestWalkDependencyOnFailedLoopSkips(t *testing.T) {
	inv := &scriptedInvoker{answer: func(call int, _, _ string, params map[string]any) provider.Result {
		if call == 0 {
			return provider.Result{Success: true, Output: []any{"a", "b", "c"}}
		}
		if params["item"] == "b" {
			return provider.Result{Success: false, Error: "b is broken"}
		}
		return provider.Result{Success: true, Output: params["item"]}
	}}
	d := newTestDriver(inv)

	loop := schema.Step{
		ID: "each", Kind: schema.StepKindLoop, Provider: "p", Action: "a",
		MaxRetries: intPtr(0),
		Params:     map[string]any{"item": "{{step_2.output}}"},
		Loop:       &schema.LoopConfig{ItemsSource: "{{step_1.output}}"},
	}
	after := actionStep("after")
	after.DependsOn = "each"
	plan := &schema.ExecutionPlan{ID: "plan-1", Enabled: true, ContinueOnError: true, Steps: []schema.Step{
		actionStep("produce"), loop, after,
	}}

	rec, _, _ := walk(t, d, plan, nil)

	// The successful first iteration shares the loop's step id but must
	// not satisfy the dependency: the loop as a whole did not succeed.
	require.Len(t, rec.Steps, 4)
	assert.Equal(t, "after", rec.Steps[3].StepID)
	assert.Equal(t, schema.StepSkipped, rec.Steps[3].Status)
	assert.Equal(t, 3, inv.callCount())
}

func TestWalkDependencyOnSucceededLoopRuns(t *testing.T) {
	inv := &scriptedInvoker{answer: func(call int, _, _ string, params map[string]any) provider.Result {
		if call == 0 {
			return provider.Result{Success: true, Output: []any{"a", "b"}}
		}
		return provider.Result{Success: true, Output: params["item"]}
	}}
	d := newTestDriver(inv)

	loop := schema.Step{
		ID: "each", Kind: schema.StepKindLoop, Provider: "p", Action: "a",
		MaxRetries: intPtr(0),
		Params:     map[string]any{"item": "{{step_2.output}}"},
		Loop:       &schema.LoopConfig{ItemsSource: "{{step_1.output}}"},
	}
	after := actionStep("after")
	after.DependsOn = "each"
	plan := &schema.ExecutionPlan{ID: "plan-1", Enabled: true, Steps: []schema.Step{
		actionStep("produce"), loop, after,
	}}

	rec, _, _ := walk(t, d, plan, nil)

	require.Len(t, rec.Steps, 4)
	assert.Equal(t, "after", rec.Steps[3].StepID)
	assert.Equal(t, schema.StepSuccess, rec.Steps[3].Status)
}

func TestAggregateStatusLoopFailureWithNoOtherSuccesses(t *testing.T) {
	inv := &scriptedInvoker{answer: func(call int, _, _ string, params map[string]any) provider.Result {
		if params["item"] == "b" {
			return provider.Result{Success: false, Error: "b is broken"}
		}
		return provider.Result{Success: true, Output: params["item"]}
	}}
	d := newTestDriver(inv)

	loop := schema.Step{
		ID: "each", Kind: schema.StepKindLoop, Provider: "p", Action: "a",
		MaxRetries: intPtr(0),
		Params:     map[string]any{"item": "{{step_2.output}}"},
		Loop:       &schema.LoopConfig{ItemsSource: "{{step_1.output}}"},
	}
	plan := &schema.ExecutionPlan{ID: "plan-1", Enabled: true, Steps: []schema.Step{loop}}

	items := resolve.Context{{Success: true, Output: []any{"a", "b", "c"}}}
	rec, _, _ := walk(t, d, plan, items)

	// The first iteration succeeded, but iteration results never count
	// individually: the loop folds into a single failed outcome, and with
	// nothing else succeeding the run is failed, not partial_failure.
	require.Len(t, rec.Steps, 2)
	assert.Equal(t, schema.StepSuccess, rec.Steps[0].Status)
	assert.Equal(t, schema.StepFailed, rec.Steps[1].Status)
	assert.Equal(t, schema.ExecutionFailed, AggregateStatus(rec))
}

func TestAggregateStatusFoldsLoopToOneOutcome(t *testing.T) {
	// A completed loop counts as one success regardless of iteration count.
	rec := &store.ExecutionRecord{
		FailedSteps: []string{"tail"},
		Steps: []store.StepResult{
			{StepID: "each", Status: schema.StepSuccess, Iteration: intPtr(0)},
			{StepID: "each", Status: schema.StepSuccess, Iteration: intPtr(1)},
			{StepID: "tail", Status: schema.StepFailed},
		},
	}
	assert.Equal(t, schema.ExecutionPartialFailure, AggregateStatus(rec))

	// A mid-loop failure counts as one failure.
	rec = &store.ExecutionRecord{
		FailedSteps: []string{"each"},
		Steps: []store.StepResult{
			{StepID: "each", Status: schema.StepSuccess, Iteration: intPtr(0)},
			{StepID: "each", Status: schema.StepFailed, Iteration: intPtr(1)},
			{StepID: "out", Status: schema.StepSuccess},
		},
	}
	assert.Equal(t, schema.ExecutionPartialFailure, AggregateStatus(rec))
}
