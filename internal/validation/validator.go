package validation

import (
	"github.com/quotekit/quotekit/internal/expressions"
	"github.com/quotekit/quotekit/pkg/schema"
)

// DefinitionValidator orchestrates the three-stage publish pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (cross-references, per-kind fields, condition compilation)
// 3. Topology (entry uniqueness, cycles, reachability)
type DefinitionValidator struct {
	jsonSchema *JSONSchemaValidator
	conds      *expressions.Conditions
	arith      *expressions.ArithEngine
	jq         *expressions.GoJQEngine
}

// NewDefinitionValidator creates a DefinitionValidator.
func NewDefinitionValidator(conds *expressions.Conditions, arith *expressions.ArithEngine) (*DefinitionValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &DefinitionValidator{
		jsonSchema: jsv,
		conds:      conds,
		arith:      arith,
		jq:         expressions.NewGoJQEngine(),
	}, nil
}

// ValidateDecisionGraph runs the full pipeline on a decision graph.
// factDefs supplies the project's facts for enum binding checks; pass nil
// to skip them. Structural errors short-circuit: semantic and topology
// stages are skipped.
func (v *DefinitionValidator) ValidateDecisionGraph(def *schema.DecisionGraph, factDefs []*schema.FactDefinition) *schema.ValidationResult {
	if def == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "decision graph is nil")
		return r
	}

	result := structuralResult(v.jsonSchema.ValidateDecisionGraph(def))
	if !result.Valid() {
		return result
	}

	result.Merge(validateDecisionSemantic(def, factDefs, v.conds))

	// Topology analysis assumes references resolve; skip it on semantic errors.
	if result.Valid() {
		result.Merge(validateDecisionTopology(def))
	}
	return result
}

// ValidatePricingGraph runs the full pipeline on a pricing graph.
func (v *DefinitionValidator) ValidatePricingGraph(pg *schema.PricingGraph) *schema.ValidationResult {
	if pg == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "pricing graph is nil")
		return r
	}

	result := structuralResult(v.jsonSchema.ValidatePricingGraph(pg))
	if !result.Valid() {
		return result
	}

	result.Merge(validatePricingSemantic(pg, v.conds, v.arith))

	if result.Valid() {
		result.Merge(validatePricingTopology(pg))
	}
	return result
}

// ValidateFacts runs semantic checks on a project's fact catalog.
func (v *DefinitionValidator) ValidateFacts(defs []*schema.FactDefinition) *schema.ValidationResult {
	return validateFactCatalog(defs, v.jq)
}

// ValidateVariables runs semantic checks on a project's variable catalog.
// factDefs supplies the fact names variables may reference; pass nil to
// defer unknown-identifier checks to run time.
func (v *DefinitionValidator) ValidateVariables(vars []*schema.Variable, factDefs []*schema.FactDefinition) *schema.ValidationResult {
	return validateVariableCatalog(vars, factDefs, v.arith)
}

// structuralResult converts the JSON Schema validator's error output into
// a ValidationResult, expanding collected violations into one issue each.
func structuralResult(err error) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if err == nil {
		return result
	}

	ee, ok := err.(*schema.EstimateError)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}
	if ee.Details != nil {
		if violations, ok := ee.Details["violations"].([]string); ok {
			for _, v := range violations {
				result.AddError("/", schema.ErrCodeValidation, v)
			}
			return result
		}
	}
	result.AddError("/", schema.ErrCodeValidation, ee.Message)
	return result
}
