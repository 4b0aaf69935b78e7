package validation

import (
	"fmt"
	"sort"

	"github.com/quotekit/quotekit/internal/expressions"
	"github.com/quotekit/quotekit/pkg/schema"
)

// validateFactCatalog checks a project's fact set: duplicate names,
// missing node bindings, unknown types, jq paths that do not compile, and
// enum option sets declaring the same value twice. Option values must be
// unique within a fact; the resolver matches answers by value and a
// duplicate would make the derived weight depend on option order.
func validateFactCatalog(defs []*schema.FactDefinition, jq *expressions.GoJQEngine) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	names := make(map[string]bool, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			result.AddError("facts", schema.ErrCodeValidation, "fact with empty name")
			continue
		}
		path := fmt.Sprintf("facts[%s]", def.Name)
		if names[def.Name] {
			result.AddError(path, schema.ErrCodeConfig,
				fmt.Sprintf("duplicate fact name %q", def.Name))
			continue
		}
		names[def.Name] = true

		if def.NodeID == "" {
			result.AddError(path+".node_id", schema.ErrCodeValidation,
				fmt.Sprintf("fact %q is bound to no node", def.Name))
		}
		switch def.Type {
		case schema.FactNumber, schema.FactBoolean, schema.FactEnum, schema.FactString:
		default:
			result.AddError(path+".type", schema.ErrCodeConfig,
				fmt.Sprintf("fact %q has unknown type %q", def.Name, def.Type))
		}
		if def.Path != "" {
			if err := jq.Check(def.Path); err != nil {
				result.AddError(path+".path", schema.ErrCodeConfig,
					fmt.Sprintf("path does not compile: %v", err))
			}
		}

		if def.Type == schema.FactEnum && len(def.Options) == 0 {
			result.AddError(path+".options", schema.ErrCodeValidation,
				fmt.Sprintf("enum fact %q has no options", def.Name))
		}
		if def.Type != schema.FactEnum && len(def.Options) > 0 {
			result.AddWarning(path+".options", schema.ErrCodeConfig,
				fmt.Sprintf("fact %q is not an enum but declares options", def.Name))
		}
		values := make(map[string]bool, len(def.Options))
		for oi, opt := range def.Options {
			optPath := fmt.Sprintf("%s.options[%d]", path, oi)
			if opt.Value == "" {
				result.AddError(optPath, schema.ErrCodeValidation,
					fmt.Sprintf("enum fact %q has an option with empty value", def.Name))
				continue
			}
			if values[opt.Value] {
				result.AddError(optPath, schema.ErrCodeConfig,
					fmt.Sprintf("enum fact %q declares value %q twice", def.Name, opt.Value))
			}
			values[opt.Value] = true
		}
	}

	return result
}

// validateVariableCatalog checks a project's variable set: duplicate
// names, per-kind field requirements, sources that do not parse, and
// reference cycles between expression variables. Identifiers naming
// neither a variable nor a fact are reported when factDefs is supplied;
// with no fact set to check against they are left to run time.
func validateVariableCatalog(vars []*schema.Variable, factDefs []*schema.FactDefinition, arith *expressions.ArithEngine) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	factNames := make(map[string]bool, len(factDefs))
	for _, f := range factDefs {
		factNames[f.Name] = true
	}

	byName := make(map[string]*schema.Variable, len(vars))
	for _, v := range vars {
		if v.Name == "" {
			result.AddError("variables", schema.ErrCodeValidation, "variable with empty name")
			continue
		}
		path := fmt.Sprintf("variables[%s]", v.Name)
		if _, dup := byName[v.Name]; dup {
			result.AddError(path, schema.ErrCodeConfig,
				fmt.Sprintf("duplicate variable name %q", v.Name))
			continue
		}
		byName[v.Name] = v

		switch v.Kind {
		case schema.VariableLiteral:
			if v.Literal == nil {
				result.AddError(path, schema.ErrCodeValidation,
					fmt.Sprintf("literal variable %q has no value", v.Name))
			}
		case schema.VariableFact:
			if v.Fact == "" {
				result.AddError(path, schema.ErrCodeValidation,
					fmt.Sprintf("fact variable %q names no fact", v.Name))
			} else if len(factDefs) > 0 && !factNames[v.Fact] {
				result.AddError(path+".fact", schema.ErrCodeNotFound,
					fmt.Sprintf("variable %q references unknown fact %q", v.Name, v.Fact))
			}
		case schema.VariableExpression:
			if v.Source == "" {
				result.AddError(path, schema.ErrCodeValidation,
					fmt.Sprintf("expression variable %q has no source", v.Name))
			}
		default:
			result.AddError(path, schema.ErrCodeConfig,
				fmt.Sprintf("variable %q has unknown kind %q", v.Name, v.Kind))
		}
	}

	// Dependency edges between expression variables; anything else an
	// identifier can legally name is a fact.
	deps := make(map[string][]string, len(byName))
	for name, v := range byName {
		if v.Kind != schema.VariableExpression || v.Source == "" {
			continue
		}
		prog, err := arith.Parse(v.Source)
		if err != nil {
			result.AddError(fmt.Sprintf("variables[%s].source", name), schema.ErrCodeConfig,
				fmt.Sprintf("expression does not parse: %v", err))
			continue
		}
		for _, ident := range prog.Identifiers() {
			if _, ok := byName[ident]; ok {
				deps[name] = append(deps[name], ident)
				continue
			}
			if len(factDefs) > 0 && !factNames[ident] {
				result.AddError(fmt.Sprintf("variables[%s].source", name), schema.ErrCodeUnknownVariable,
					fmt.Sprintf("variable %q uses identifier %q that is neither a variable nor a fact", name, ident))
			}
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(deps))
	var visit func(name string) bool
	visit = func(name string) bool {
		switch state[name] {
		case visiting:
			return true
		case done:
			return false
		}
		state[name] = visiting
		for _, dep := range deps[name] {
			if visit(dep) {
				return true
			}
		}
		state[name] = done
		return false
	}

	roots := make([]string, 0, len(deps))
	for name := range deps {
		roots = append(roots, name)
	}
	sort.Strings(roots)
	for _, name := range roots {
		if state[name] == unvisited && visit(name) {
			result.AddError(fmt.Sprintf("variables[%s]", name), schema.ErrCodeCycleDetected,
				fmt.Sprintf("variable reference cycle through %q", name))
		}
	}

	return result
}
