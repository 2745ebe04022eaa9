package schema

import "time"

// Event type constants for the execution event stream.
const (
	EventExecutionStarted   = "execution_started"
	EventExecutionCompleted = "execution_completed"
	EventExecutionFailed    = "execution_failed"
	EventExecutionPartial   = "execution_partial_failure"
	EventExecutionCancelled = "execution_cancelled"
	EventExecutionPaused    = "execution_paused"
	EventExecutionResumed   = "execution_resumed"
	EventExecutionArchived  = "execution_archived"
)

// ExecutionEvent is a real-time event emitted while a plan runs.
type ExecutionEvent struct {
	ExecutionID string    `json:"execution_id"`
	PlanID      string    `json:"plan_id,omitempty"`
	StepID      string    `json:"step_id,omitempty"`
	Type        string    `json:"type"`
	Payload     any       `json:"payload,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}
