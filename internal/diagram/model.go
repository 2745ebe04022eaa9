// Package diagram renders execution plans as flowcharts, optionally
// overlaid with the step statuses of a finished or in-flight run.
package diagram

// NodeKind classifies a diagram node by its plan step kind.
type NodeKind string

const (
	NodeKindAction    NodeKind = "action"
	NodeKindCondition NodeKind = "condition"
	NodeKindLoop      NodeKind = "loop"
	NodeKindStart     NodeKind = "start"
	NodeKindEnd       NodeKind = "end"
)

// Model is the intermediate representation consumed by renderers.
type Model struct {
	Title string
	Nodes []*Node
	Edges []Edge
}

// Node represents a single plan step (or the synthetic start/end).
type Node struct {
	ID     string
	Label  string
	Kind   NodeKind
	Status *StatusOverlay
}

// StatusOverlay carries runtime state for a node.
type StatusOverlay struct {
	Status     string
	DurationMs int64
	RetryCount int
	Error      string
}

// Edge connects two nodes in execution order.
type Edge struct {
	From   string
	To     string
	Label  string
	Dashed bool // dependency edges, not control flow
}
