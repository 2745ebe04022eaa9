package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJQProviderSingleOutput(t *testing.T) {
	p := NewJQProvider()

	res := p.Invoke(context.Background(), "query", map[string]any{
		"query": ".items | length",
		"input": map[string]any{"items": []any{1, 2, 3}},
	}, nil)

	require.True(t, res.Success, res.Error)
	assert.Equal(t, 3, res.Output)
}

func TestJQProviderMultipleOutputs(t *testing.T) {
	p := NewJQProvider()

	res := p.Invoke(context.Background(), "query", map[string]any{
		"query": ".[] | .name",
		"input": []any{
			map[string]any{"name": "a"},
			map[string]any{"name": "b"},
		},
	}, nil)

	require.True(t, res.Success, res.Error)
	assert.Equal(t, []any{"a", "b"}, res.Output)
}

func TestJQProviderBadQuery(t *testing.T) {
	p := NewJQProvider()

	res := p.Invoke(context.Background(), "query", map[string]any{"query": ".[| bad"}, nil)
	require.False(t, res.Success)
	assert.Contains(t, res.Error, "jq:")
}

func TestJQProviderMissingQuery(t *testing.T) {
	p := NewJQProvider()

	res := p.Invoke(context.Background(), "query", map[string]any{}, nil)
	require.False(t, res.Success)
	assert.Contains(t, res.Error, "missing query")
}
