// Package facts derives typed fact values and named variables from the
// answer ledger. Facts are projections of the latest answers; variables
// resolve to literals, facts, or arithmetic expressions over other
// variables.
package facts

import (
	"context"

	"github.com/quotekit/quotekit/internal/expressions"
	"github.com/quotekit/quotekit/pkg/schema"
)

// Resolver derives facts and variables for a run.
type Resolver struct {
	jq    *expressions.GoJQEngine
	arith *expressions.ArithEngine
}

// NewResolver creates a Resolver backed by the given engines.
func NewResolver(jq *expressions.GoJQEngine, arith *expressions.ArithEngine) *Resolver {
	return &Resolver{jq: jq, arith: arith}
}

// Facts projects the latest answers into typed fact values. The answers
// map holds the decoded answer value of the highest batch per node.
// Unanswered facts are simply absent from the result; a value that does
// not match the fact's declared type is an EVAL_ERROR, and an enum value
// outside the option set is an UNKNOWN_ENUM_VALUE error.
func (r *Resolver) Facts(ctx context.Context, defs []*schema.FactDefinition, answers map[string]any) (map[string]schema.FactValue, error) {
	out := make(map[string]schema.FactValue, len(defs))

	for _, def := range defs {
		if def.NodeID == "" {
			continue
		}
		raw, ok := answers[def.NodeID]
		if !ok {
			continue
		}

		if def.Path != "" {
			projected, err := r.jq.Project(ctx, def.Path, raw)
			if err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeEval,
					"project fact %q: %s", def.Name, err.Error()).
					WithCause(err).WithNode(def.NodeID)
			}
			if projected == nil {
				continue
			}
			raw = projected
		}

		fv, err := typedFact(def, raw)
		if err != nil {
			return nil, err
		}
		out[def.Name] = fv
	}

	return out, nil
}

func typedFact(def *schema.FactDefinition, raw any) (schema.FactValue, error) {
	switch def.Type {
	case schema.FactBoolean:
		b, ok := raw.(bool)
		if !ok {
			return schema.FactValue{}, factTypeError(def, raw)
		}
		return schema.FactValue{Type: schema.FactBoolean, Bool: b}, nil

	case schema.FactNumber:
		n, err := expressions.ToNumber(def.Name, raw)
		if err != nil {
			return schema.FactValue{}, factTypeError(def, raw)
		}
		return schema.FactValue{Type: schema.FactNumber, Number: n}, nil

	case schema.FactEnum:
		s, ok := raw.(string)
		if !ok {
			return schema.FactValue{}, factTypeError(def, raw)
		}
		for _, opt := range def.Options {
			if opt.Value != s {
				continue
			}
			weight := float64(opt.Ordinal)
			if opt.Weight != nil {
				weight = *opt.Weight
			}
			return schema.FactValue{Type: schema.FactEnum, Enum: s, Weight: weight}, nil
		}
		return schema.FactValue{}, schema.NewErrorf(schema.ErrCodeUnknownEnum,
			"value %q is not an option of fact %q", s, def.Name).WithNode(def.NodeID)

	case schema.FactString:
		s, ok := raw.(string)
		if !ok {
			return schema.FactValue{}, factTypeError(def, raw)
		}
		return schema.FactValue{Type: schema.FactString, Str: s}, nil

	default:
		return schema.FactValue{}, schema.NewErrorf(schema.ErrCodeConfig,
			"fact %q has unknown type %q", def.Name, def.Type)
	}
}

func factTypeError(def *schema.FactDefinition, raw any) error {
	return schema.NewErrorf(schema.ErrCodeEval,
		"answer for fact %q is %T, want %s", def.Name, raw, def.Type).
		WithNode(def.NodeID)
}

// Variables resolves the project's variables against the derived facts.
// Resolution is recursive: expression variables may reference other
// variables. A reference cycle is a CONFIG_ERROR: it can only come from a
// broken definition, never from user answers.
func (r *Resolver) Variables(ctx context.Context, vars []*schema.Variable, facts map[string]schema.FactValue) (map[string]any, error) {
	byName := make(map[string]*schema.Variable, len(vars))
	for _, v := range vars {
		byName[v.Name] = v
	}

	const (
		unresolved = iota
		resolving
		resolved
	)
	state := make(map[string]int, len(vars))
	values := make(map[string]any, len(vars))

	var resolve func(name string) (any, error)
	resolve = func(name string) (any, error) {
		if state[name] == resolved {
			return values[name], nil
		}
		if state[name] == resolving {
			return nil, schema.NewErrorf(schema.ErrCodeCycleDetected,
				"variable cycle through %q", name)
		}
		v, ok := byName[name]
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeUnknownVariable,
				"unknown variable %q", name)
		}
		state[name] = resolving

		val, err := r.resolveOne(ctx, v, facts, resolve)
		if err != nil {
			return nil, err
		}
		state[name] = resolved
		values[name] = val
		return val, nil
	}

	for _, v := range vars {
		if _, err := resolve(v.Name); err != nil {
			return nil, err
		}
	}
	return values, nil
}

func (r *Resolver) resolveOne(ctx context.Context, v *schema.Variable, facts map[string]schema.FactValue, resolve func(string) (any, error)) (any, error) {
	switch v.Kind {
	case schema.VariableLiteral:
		if v.Literal == nil {
			return nil, schema.NewErrorf(schema.ErrCodeConfig,
				"literal variable %q has no value", v.Name)
		}
		return *v.Literal, nil

	case schema.VariableFact:
		fv, ok := facts[v.Fact]
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeUnknownVariable,
				"variable %q: fact %q is not resolved", v.Name, v.Fact)
		}
		return coerceFact(v, fv)

	case schema.VariableExpression:
		expr, err := r.arith.Parse(v.Source)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeConfig,
				"variable %q: %s", v.Name, err.Error()).WithCause(err)
		}
		out, err := expr.EvalFunc(func(name string) (float64, error) {
			dep, err := resolve(name)
			if err != nil {
				return 0, err
			}
			return expressions.ToNumber(name, dep)
		})
		if err != nil {
			return nil, err
		}
		return out, nil

	default:
		return nil, schema.NewErrorf(schema.ErrCodeConfig,
			"variable %q has unknown kind %q", v.Name, v.Kind)
	}
}

// coerceFact maps a fact value into variable space: booleans stay boolean,
// numbers pass through, enum values coerce to their configured weight (or
// ordinal). String facts have no numeric meaning and cannot back a variable.
func coerceFact(v *schema.Variable, fv schema.FactValue) (any, error) {
	switch fv.Type {
	case schema.FactBoolean:
		return fv.Bool, nil
	case schema.FactNumber:
		return fv.Number, nil
	case schema.FactEnum:
		return fv.Weight, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeConfig,
			"variable %q references string fact %q", v.Name, v.Fact)
	}
}

// ConditionScope assembles the environment for condition evaluation.
func ConditionScope(facts map[string]schema.FactValue, vars map[string]any, answers map[string]any) map[string]any {
	flat := make(map[string]any, len(facts))
	for name, fv := range facts {
		flat[name] = fv.Native()
	}
	return map[string]any{
		"facts":   flat,
		"vars":    vars,
		"answers": answers,
	}
}

// NumericEnv flattens facts and variables into the name→number environment
// consumed by pricing expressions. Variables shadow facts on name
// collisions; string facts are omitted.
func NumericEnv(facts map[string]schema.FactValue, vars map[string]any) map[string]float64 {
	env := make(map[string]float64, len(facts)+len(vars))
	for name, fv := range facts {
		switch fv.Type {
		case schema.FactBoolean:
			if fv.Bool {
				env[name] = 1
			} else {
				env[name] = 0
			}
		case schema.FactNumber:
			env[name] = fv.Number
		case schema.FactEnum:
			env[name] = fv.Weight
		}
	}
	for name, v := range vars {
		n, err := expressions.ToNumber(name, v)
		if err != nil {
			continue // boolean/number only; nothing else reaches here
		}
		env[name] = n
	}
	return env
}
