package diagram

import (
	"fmt"

	"github.com/planweave/planweave/internal/store"
	"github.com/planweave/planweave/pkg/schema"
)

const (
	startNodeID = "__start"
	endNodeID   = "__end"
)

// FromPlan builds a diagram model from a plan. rec may be nil; when
// given, top-level step results become status overlays on their nodes.
func FromPlan(plan *schema.ExecutionPlan, rec *store.ExecutionRecord) *Model {
	m := &Model{Title: plan.Name}
	if m.Title == "" {
		m.Title = plan.ID
	}

	m.Nodes = append(m.Nodes, &Node{ID: startNodeID, Label: "Start", Kind: NodeKindStart})
	for i, step := range plan.Steps {
		m.Nodes = append(m.Nodes, &Node{
			ID:     step.ID,
			Label:  stepLabel(step),
			Kind:   stepNodeKind(step.Kind),
			Status: overlayFor(rec, i),
		})
	}
	m.Nodes = append(m.Nodes, &Node{ID: endNodeID, Label: "End", Kind: NodeKindEnd})

	if len(plan.Steps) == 0 {
		m.Edges = append(m.Edges, Edge{From: startNodeID, To: endNodeID})
		return m
	}

	m.Edges = append(m.Edges, Edge{From: startNodeID, To: plan.Steps[0].ID})
	for i, step := range plan.Steps {
		next := endNodeID
		if i+1 < len(plan.Steps) {
			next = plan.Steps[i+1].ID
		}

		if step.Kind == schema.StepKindCondition {
			m.Edges = append(m.Edges, Edge{From: step.ID, To: next, Label: "true"})
			m.Edges = append(m.Edges, Edge{From: step.ID, To: jumpTarget(plan, step.ElseJump), Label: "false"})
		} else {
			m.Edges = append(m.Edges, Edge{From: step.ID, To: next})
		}

		if step.DependsOn != "" {
			m.Edges = append(m.Edges, Edge{From: step.DependsOn, To: step.ID, Label: "requires", Dashed: true})
		}
	}
	return m
}

// jumpTarget maps an else_jump index to a node id. A jump past the last
// step (or no jump at all) lands on the end node.
func jumpTarget(plan *schema.ExecutionPlan, elseJump *int) string {
	if elseJump == nil || *elseJump >= len(plan.Steps) {
		return endNodeID
	}
	return plan.Steps[*elseJump].ID
}

func stepLabel(step schema.Step) string {
	switch step.Kind {
	case schema.StepKindCondition:
		if step.Condition != "" {
			return step.Condition
		}
		return step.ID
	case schema.StepKindLoop:
		if step.Loop != nil {
			return fmt.Sprintf("%s over %s", step.ID, step.Loop.ItemsSource)
		}
		return step.ID
	default:
		if step.Provider != "" && step.Action != "" {
			return fmt.Sprintf("%s: %s.%s", step.ID, step.Provider, step.Action)
		}
		if step.Provider != "" {
			return fmt.Sprintf("%s: %s", step.ID, step.Provider)
		}
		return step.ID
	}
}

func stepNodeKind(kind schema.StepKind) NodeKind {
	switch kind {
	case schema.StepKindCondition:
		return NodeKindCondition
	case schema.StepKindLoop:
		return NodeKindLoop
	default:
		return NodeKindAction
	}
}

// overlayFor finds the top-level result for a step index. Loop
// iteration results carry an iteration number and are skipped.
func overlayFor(rec *store.ExecutionRecord, stepIndex int) *StatusOverlay {
	if rec == nil {
		return nil
	}
	for _, sr := range rec.Steps {
		if sr.StepIndex != stepIndex || sr.Iteration != nil {
			continue
		}
		return &StatusOverlay{
			Status:     string(sr.Status),
			DurationMs: sr.DurationMs,
			RetryCount: sr.RetryCount,
			Error:      sr.Error,
		}
	}
	return nil
}
