package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/itchyny/gojq"
)

// JQProvider reshapes data with jq programs. Parsed queries are cached
// by source text since plans re-run the same programs.
type JQProvider struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewJQProvider creates the jq provider with an empty program cache.
func NewJQProvider() *JQProvider {
	return &JQProvider{cache: make(map[string]*gojq.Code)}
}

func (p *JQProvider) Name() string { return "jq" }

func (p *JQProvider) Invoke(ctx context.Context, action string, params, _ map[string]any) Result {
	query := paramString(params, "query", "")
	if query == "" {
		return Result{Success: false, Error: "jq: missing query param"}
	}

	code, err := p.compile(query)
	if err != nil {
		return Failure(fmt.Errorf("jq: %w", err))
	}

	input := params["input"]
	iter := code.RunWithContext(ctx, input)

	var outputs []any
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return Failure(fmt.Errorf("jq: %w", err))
		}
		outputs = append(outputs, v)
	}

	var output any
	switch len(outputs) {
	case 0:
		output = nil
	case 1:
		output = outputs[0]
	default:
		output = outputs
	}
	return Result{
		Success: true,
		Output:  output,
		Message: fmt.Sprintf("jq produced %d value(s)", len(outputs)),
	}
}

func (p *JQProvider) compile(query string) (*gojq.Code, error) {
	p.mu.RLock()
	code, ok := p.cache[query]
	p.mu.RUnlock()
	if ok {
		return code, nil
	}

	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}
	compiled, err := gojq.Compile(parsed)
	if err != nil {
		return nil, fmt.Errorf("compile query: %w", err)
	}

	p.mu.Lock()
	p.cache[query] = compiled
	p.mu.Unlock()
	return compiled, nil
}
