package expressions

import (
	"context"

	"github.com/quotekit/quotekit/pkg/schema"
)

// Conditions dispatches boolean condition evaluation to the engine named
// by the condition's language. CEL is the default; "expr" selects the
// expr-lang engine.
type Conditions struct {
	engines map[string]Engine
}

// NewConditions builds the condition engine registry.
func NewConditions() (*Conditions, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	exprEngine := NewExprEngine()
	return &Conditions{
		engines: map[string]Engine{
			celEngine.Name():  celEngine,
			exprEngine.Name(): exprEngine,
		},
	}, nil
}

// EvalBool evaluates a condition against the scope (facts, vars, answers)
// and requires a boolean result. A non-boolean result is an EVAL_ERROR:
// conditions guard branching and a silent truthiness coercion would hide
// authoring mistakes.
func (c *Conditions) EvalBool(ctx context.Context, cond schema.Condition, data map[string]any) (bool, error) {
	lang := cond.Language
	if lang == "" {
		lang = "cel"
	}
	engine, ok := c.engines[lang]
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeConfig,
			"unknown condition language %q", lang)
	}

	out, err := engine.Evaluate(ctx, cond.Source, data)
	if err != nil {
		return false, err
	}

	b, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeEval,
			"condition %q evaluated to %T, want bool", cond.Source, out).
			WithDetails(map[string]any{"expression": cond.Source})
	}
	return b, nil
}

// Check compiles a condition without evaluating it, for publish-time
// validation.
func (c *Conditions) Check(cond schema.Condition) error {
	lang := cond.Language
	if lang == "" {
		lang = "cel"
	}
	switch lang {
	case "cel":
		_, err := c.engines["cel"].(*CELEngine).getOrCompile(cond.Source)
		return err
	case "expr":
		_, err := c.engines["expr"].(*ExprEngine).getOrCompile(cond.Source)
		return err
	default:
		return schema.NewErrorf(schema.ErrCodeConfig, "unknown condition language %q", lang)
	}
}
