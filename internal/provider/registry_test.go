package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticProvider struct {
	name   string
	result Result
}

func (p *staticProvider) Name() string { return p.name }

func (p *staticProvider) Invoke(context.Context, string, map[string]any, map[string]any) Result {
	return p.result
}

type panickyProvider struct{}

func (p *panickyProvider) Name() string { return "boom" }

func (p *panickyProvider) Invoke(context.Context, string, map[string]any, map[string]any) Result {
	panic("provider bug")
}

func TestRegistryInvokeDispatches(t *testing.T) {
	r := NewRegistry()
	r.Register(&staticProvider{name: "noop", result: Result{Success: true, Output: "ok"}})

	res := r.Invoke(context.Background(), "noop", "run", nil, nil)
	assert.True(t, res.Success)
	assert.Equal(t, "ok", res.Output)
}

func TestRegistryUnknownProviderFailsSoft(t *testing.T) {
	r := NewRegistry()

	res := r.Invoke(context.Background(), "ghost", "run", nil, nil)
	require.False(t, res.Success)
	assert.Contains(t, res.Error, `unknown provider "ghost"`)
}

func TestRegistryRecoversProviderPanic(t *testing.T) {
	r := NewRegistry()
	r.Register(&panickyProvider{})

	res := r.Invoke(context.Background(), "boom", "run", nil, nil)
	require.False(t, res.Success)
	assert.Contains(t, res.Error, "panicked")
	assert.Contains(t, res.Error, "provider bug")
}

func TestRegistryNames(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r, nil)

	assert.Equal(t, []string{"expr", "http", "jq", "logic", "webhook"}, r.Names())
}
