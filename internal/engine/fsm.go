package engine

import (
	"github.com/planweave/planweave/pkg/schema"
)

// ValidExecutionTransitions defines the allowed execution status moves.
// Terminal statuses have no successors.
var ValidExecutionTransitions = map[schema.ExecutionStatus][]schema.ExecutionStatus{
	schema.ExecutionRunning: {
		schema.ExecutionSuccess,
		schema.ExecutionPartialFailure,
		schema.ExecutionFailed,
		schema.ExecutionCancelled,
	},
	schema.ExecutionSuccess:        {},
	schema.ExecutionPartialFailure: {},
	schema.ExecutionFailed:         {},
	schema.ExecutionCancelled:      {},
}

// ValidStepTransitions defines the allowed step status moves. Retrying
// can only follow a running or retrying step, never a terminal one. A
// pending step can fail without running when its credentials cannot be
// resolved.
var ValidStepTransitions = map[schema.StepStatus][]schema.StepStatus{
	schema.StepPending:  {schema.StepRunning, schema.StepSkipped, schema.StepFailed},
	schema.StepRunning:  {schema.StepRetrying, schema.StepSuccess, schema.StepFailed},
	schema.StepRetrying: {schema.StepRetrying, schema.StepSuccess, schema.StepFailed},
	schema.StepSuccess:  {},
	schema.StepFailed:   {},
	schema.StepSkipped:  {},
}

// CanTransitionExecution reports whether from→to is a legal move.
func CanTransitionExecution(from, to schema.ExecutionStatus) bool {
	for _, allowed := range ValidExecutionTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CanTransitionStep reports whether from→to is a legal move.
func CanTransitionStep(from, to schema.StepStatus) bool {
	for _, allowed := range ValidStepTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TransitionExecution validates an execution status change and returns
// the new status, or an INVALID_TRANSITION error.
func TransitionExecution(current, to schema.ExecutionStatus) (schema.ExecutionStatus, error) {
	if !CanTransitionExecution(current, to) {
		return current, schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"execution cannot move from %s to %s", current, to)
	}
	return to, nil
}

// TransitionStep validates a step status change and returns the new
// status, or an INVALID_TRANSITION error.
func TransitionStep(current, to schema.StepStatus) (schema.StepStatus, error) {
	if !CanTransitionStep(current, to) {
		return current, schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"step cannot move from %s to %s", current, to)
	}
	return to, nil
}
