// Package validation rejects malformed execution plans before the
// engine creates a record for them. Structural shape is checked with
// JSON Schema; the cross-field rules a schema cannot express are
// checked semantically.
package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/planweave/planweave/pkg/schema"
)

// planSchemaJSON is the JSON Schema for ExecutionPlan validation.
// Embedded as a constant to avoid filesystem dependencies.
const planSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://planweave.dev/schemas/plan.json",
  "type": "object",
  "required": ["id", "steps"],
  "properties": {
    "id": { "type": "string", "minLength": 1 },
    "name": { "type": "string" },
    "user_id": { "type": "string" },
    "enabled": { "type": "boolean" },
    "continue_on_error": { "type": "boolean" },
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/step" }
    },
    "trigger": {
      "type": "object",
      "properties": {
        "cron": { "type": "string" },
        "webhook_path": { "type": "string" }
      },
      "additionalProperties": false
    },
    "metadata": { "type": "object" }
  },
  "additionalProperties": false,
  "$defs": {
    "step": {
      "type": "object",
      "required": ["id", "kind"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "kind": {
          "type": "string",
          "enum": ["action", "condition", "loop"]
        },
        "provider": { "type": "string" },
        "action": { "type": "string" },
        "params": { "type": "object" },
        "depends_on": { "type": "string" },
        "condition": { "type": "string" },
        "else_jump": { "type": "integer", "minimum": 0 },
        "max_retries": { "type": "integer", "minimum": 0 },
        "loop": {
          "type": "object",
          "required": ["items_source"],
          "properties": {
            "items_source": { "type": "string", "minLength": 1 },
            "max_iterations": { "type": "integer", "minimum": 0 }
          },
          "additionalProperties": false
        }
      },
      "additionalProperties": false
    }
  }
}`

// PlanValidator validates ExecutionPlans against the plan JSON Schema
// plus semantic rules. It is safe for concurrent use.
type PlanValidator struct {
	planSchema *jsonschema.Schema
}

// NewPlanValidator compiles the embedded plan schema.
func NewPlanValidator() (*PlanValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(planSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal plan schema: %w", err)
	}
	if err := c.AddResource("https://planweave.dev/schemas/plan.json", doc); err != nil {
		return nil, fmt.Errorf("add plan schema resource: %w", err)
	}
	compiled, err := c.Compile("https://planweave.dev/schemas/plan.json")
	if err != nil {
		return nil, fmt.Errorf("compile plan schema: %w", err)
	}
	return &PlanValidator{planSchema: compiled}, nil
}

// ValidatePlan checks the plan's shape and semantics. Failures come
// back as VALIDATION_ERROR EngineErrors with the violations attached.
func (v *PlanValidator) ValidatePlan(plan *schema.ExecutionPlan) error {
	if plan == nil {
		return schema.NewError(schema.ErrCodeValidation, "plan is nil")
	}

	doc, err := toJSONValue(plan)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize plan").WithCause(err)
	}
	if err := v.planSchema.Validate(doc); err != nil {
		return toEngineError(err)
	}

	return validateSemantics(plan)
}

// validateSemantics covers the rules JSON Schema cannot express.
func validateSemantics(plan *schema.ExecutionPlan) error {
	seen := make(map[string]struct{}, len(plan.Steps))
	for i, step := range plan.Steps {
		if _, exists := seen[step.ID]; exists {
			return schema.NewErrorf(schema.ErrCodeValidation, "duplicate step id %q", step.ID)
		}
		if step.DependsOn != "" {
			if _, ok := seen[step.DependsOn]; !ok {
				return schema.NewErrorf(schema.ErrCodeValidation,
					"step %d: depends_on %q does not name an earlier step", i, step.DependsOn).WithStep(step.ID)
			}
		}
		seen[step.ID] = struct{}{}

		switch step.Kind {
		case schema.StepKindAction:
			if step.Provider == "" {
				return schema.NewErrorf(schema.ErrCodeValidation,
					"step %d: action step requires a provider", i).WithStep(step.ID)
			}
		case schema.StepKindCondition:
			if strings.TrimSpace(step.Condition) == "" {
				return schema.NewErrorf(schema.ErrCodeValidation,
					"step %d: condition step requires an expression", i).WithStep(step.ID)
			}
			if step.ElseJump != nil && *step.ElseJump > len(plan.Steps) {
				return schema.NewErrorf(schema.ErrCodeValidation,
					"step %d: else_jump %d is out of range", i, *step.ElseJump).WithStep(step.ID)
			}
		case schema.StepKindLoop:
			if step.Loop == nil {
				return schema.NewErrorf(schema.ErrCodeValidation,
					"step %d: loop step requires a loop config", i).WithStep(step.ID)
			}
			if step.Provider == "" {
				return schema.NewErrorf(schema.ErrCodeValidation,
					"step %d: loop step requires a provider", i).WithStep(step.ID)
			}
		}
	}
	return nil
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toEngineError converts a jsonschema.ValidationError into an
// EngineError with the leaf violations listed in the details.
func toEngineError(err error) *schema.EngineError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}
	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}
	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf
// error messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
