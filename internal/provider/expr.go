package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ExprProvider evaluates deterministic expressions over a "data" map.
// Compiled programs are cached by source text.
type ExprProvider struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewExprProvider creates the expr provider with an empty program cache.
func NewExprProvider() *ExprProvider {
	return &ExprProvider{cache: make(map[string]*vm.Program)}
}

func (p *ExprProvider) Name() string { return "expr" }

func (p *ExprProvider) Invoke(_ context.Context, action string, params, _ map[string]any) Result {
	source := paramString(params, "expression", "")
	if source == "" {
		return Result{Success: false, Error: "expr: missing expression param"}
	}

	env, _ := params["data"].(map[string]any)
	if env == nil {
		env = map[string]any{}
	}

	program, err := p.compile(source)
	if err != nil {
		return Failure(fmt.Errorf("expr: %w", err))
	}

	output, err := expr.Run(program, env)
	if err != nil {
		return Failure(fmt.Errorf("expr: %w", err))
	}
	return Result{Success: true, Output: output}
}

func (p *ExprProvider) compile(source string) (*vm.Program, error) {
	p.mu.RLock()
	program, ok := p.cache[source]
	p.mu.RUnlock()
	if ok {
		return program, nil
	}

	compiled, err := expr.Compile(source, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile expression: %w", err)
	}

	p.mu.Lock()
	p.cache[source] = compiled
	p.mu.Unlock()
	return compiled, nil
}
