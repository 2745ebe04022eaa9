package provider

import "context"

// LogicProvider turns already-resolved template parameters into step
// output. The engine resolves {{step_n.output}} references before
// dispatch, so "template" arrives as plain data; publishing it as the
// step's output makes it addressable by later steps.
type LogicProvider struct{}

// NewLogicProvider creates the logic provider.
func NewLogicProvider() *LogicProvider { return &LogicProvider{} }

func (p *LogicProvider) Name() string { return "logic" }

func (p *LogicProvider) Invoke(_ context.Context, action string, params, _ map[string]any) Result {
	template, ok := params["template"]
	if !ok {
		if template, ok = params["value"]; !ok {
			return Result{Success: false, Error: "logic: missing template param"}
		}
	}
	return Result{
		Success: true,
		Output:  template,
		Message: "logic step executed",
	}
}
