package diagram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planweave/planweave/internal/store"
	"github.com/planweave/planweave/pkg/schema"
)

func TestRenderMermaidShapes(t *testing.T) {
	out := RenderMermaid(FromPlan(branchingPlan(), nil))

	assert.True(t, strings.HasPrefix(out, "graph TD\n"))
	assert.Contains(t, out, "%% branching")
	assert.Contains(t, out, `__start(("Start"))`)
	assert.Contains(t, out, `fetch["fetch: http.get"]`)
	assert.Contains(t, out, `gate{`)
	assert.Contains(t, out, `cleanup[[`)
	assert.Contains(t, out, `__end(("End"))`)
}

func TestRenderMermaidEdges(t *testing.T) {
	out := RenderMermaid(FromPlan(branchingPlan(), nil))

	assert.Contains(t, out, "__start --> fetch")
	assert.Contains(t, out, "gate -->|true| notify")
	assert.Contains(t, out, "gate -->|false| cleanup")
	assert.Contains(t, out, "fetch -.->|requires| notify")
}

func TestRenderMermaidStatusClasses(t *testing.T) {
	rec := &store.ExecutionRecord{
		Steps: []store.StepResult{
			{StepIndex: 0, Status: schema.StepSuccess},
			{StepIndex: 2, Status: schema.StepSkipped},
		},
	}
	out := RenderMermaid(FromPlan(branchingPlan(), rec))

	assert.Contains(t, out, "class fetch success")
	assert.Contains(t, out, "class notify skipped")
	assert.NotContains(t, out, "class gate")
}

func TestRenderMermaidSafeIDs(t *testing.T) {
	plan := &schema.ExecutionPlan{
		ID: "p",
		Steps: []schema.Step{
			{ID: "fetch-data.v2", Kind: schema.StepKindAction, Provider: "http"},
		},
	}
	out := RenderMermaid(FromPlan(plan, nil))

	require.Contains(t, out, "fetch_data_v2[")
	assert.NotContains(t, out, "fetch-data.v2[")
}
