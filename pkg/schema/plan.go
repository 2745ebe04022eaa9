package schema

// StepKind discriminates how the control-flow driver treats a step.
type StepKind string

const (
	StepKindAction    StepKind = "action"
	StepKindCondition StepKind = "condition"
	StepKindLoop      StepKind = "loop"
)

// DefaultMaxRetries applies when a step does not set max_retries.
const DefaultMaxRetries = 3

// ExecutionPlan is a declarative sequence of steps executed in order.
// Plans are data: they are validated, stored, and replayed without code.
type ExecutionPlan struct {
	ID              string         `json:"id"`
	Name            string         `json:"name,omitempty"`
	UserID          string         `json:"user_id,omitempty"`
	Steps           []Step         `json:"steps"`
	Trigger         *TriggerSpec   `json:"trigger,omitempty"`
	Enabled         bool           `json:"enabled"`
	ContinueOnError bool           `json:"continue_on_error,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// Step is one unit of work inside a plan. Which fields are meaningful
// depends on Kind: action steps dispatch Provider/Action with Params,
// condition steps evaluate Condition and may branch via ElseJump, and
// loop steps replay themselves per item of Loop.ItemsSource.
type Step struct {
	ID        string         `json:"id"`
	Kind      StepKind       `json:"kind"`
	Provider  string         `json:"provider,omitempty"`
	Action    string         `json:"action,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
	DependsOn string         `json:"depends_on,omitempty"`
	Condition string         `json:"condition,omitempty"`
	ElseJump  *int           `json:"else_jump,omitempty"`
	Loop      *LoopConfig    `json:"loop,omitempty"`

	// MaxRetries is the number of retries after the first attempt.
	// nil means DefaultMaxRetries; an explicit 0 disables retries.
	MaxRetries *int `json:"max_retries,omitempty"`
}

// RetryBudget returns the effective number of retries for the step.
func (s *Step) RetryBudget() int {
	if s.MaxRetries == nil {
		return DefaultMaxRetries
	}
	if *s.MaxRetries < 0 {
		return 0
	}
	return *s.MaxRetries
}

// LoopConfig configures a loop step. ItemsSource is a single
// {{step_n.output}} reference that must resolve to a list.
type LoopConfig struct {
	ItemsSource   string `json:"items_source"`
	MaxIterations int    `json:"max_iterations,omitempty"`
}

// TriggerSpec declares how a plan is started besides direct invocation.
type TriggerSpec struct {
	Cron        string `json:"cron,omitempty"`
	WebhookPath string `json:"webhook_path,omitempty"`
}
