package store

import (
	"time"

	"github.com/planweave/planweave/internal/resolve"
	"github.com/planweave/planweave/pkg/schema"
)

// ExecutionRecord is the canonical record of one plan run. It is
// created when the run starts and mutated only by the owning run
// goroutine until it reaches a terminal status.
type ExecutionRecord struct {
	ID          string                 `json:"id"`
	PlanID      string                 `json:"plan_id"`
	PlanName    string                 `json:"plan_name,omitempty"`
	UserID      string                 `json:"user_id,omitempty"`
	Status      schema.ExecutionStatus `json:"status"`
	TriggerData map[string]any         `json:"trigger_data,omitempty"`
	Steps       []StepResult           `json:"steps"`
	FailedSteps []string               `json:"failed_steps,omitempty"`
	Errors      []StepError            `json:"errors,omitempty"`

	// Context is the ordered results visible to {{step_n.output}}
	// references, persisted so a paused run can resume.
	Context resolve.Context `json:"context,omitempty"`

	// Cursor is the plan index the walk resumes at after a pause.
	Cursor int `json:"cursor,omitempty"`

	RetryAttempts int        `json:"retry_attempts"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	DurationMs    int64      `json:"duration_ms,omitempty"`
}

// StepResult is the outcome of one step dispatch (or one loop
// iteration, when Iteration is set).
type StepResult struct {
	StepID      string            `json:"step_id"`
	StepIndex   int               `json:"step_index"`
	Iteration   *int              `json:"iteration,omitempty"`
	Status      schema.StepStatus `json:"status"`
	Provider    string            `json:"provider,omitempty"`
	Action      string            `json:"action,omitempty"`
	Output      any               `json:"output,omitempty"`
	Error       string            `json:"error,omitempty"`
	RetryCount  int               `json:"retry_count"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	DurationMs  int64             `json:"duration_ms,omitempty"`
}

// StepError summarizes one step failure on the record.
type StepError struct {
	StepID string `json:"step_id"`
	Error  string `json:"error"`
}

// DeadLetterEntry archives a fully failed execution. Entries are
// append-only: retrying never mutates the archived record.
type DeadLetterEntry struct {
	ExecutionID string          `json:"execution_id"`
	Record      ExecutionRecord `json:"record"`
	ArchivedAt  time.Time       `json:"archived_at"`
}

// PausedExecution marks a run whose walk is suspended.
type PausedExecution struct {
	ExecutionID string    `json:"execution_id"`
	Cursor      int       `json:"cursor"`
	PausedAt    time.Time `json:"paused_at"`
}

// StepLogEntry is one structured dispatch-attempt log line, kept for
// postmortem queries alongside the slog output.
type StepLogEntry struct {
	ExecutionID   string    `json:"execution_id"`
	PlanID        string    `json:"plan_id"`
	StepIndex     int       `json:"step_index"`
	Provider      string    `json:"provider,omitempty"`
	Action        string    `json:"action,omitempty"`
	Status        string    `json:"status"`
	Message       string    `json:"message,omitempty"`
	LatencyMs     int64     `json:"latency_ms"`
	OutputPreview string    `json:"output_preview,omitempty"`
	Error         string    `json:"error,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// ExecutionFilter narrows ListExecutions.
type ExecutionFilter struct {
	UserID string
	Status schema.ExecutionStatus
	Limit  int
}
