package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/quotekit/quotekit/pkg/schema"
)

// decisionGraphSchemaJSON is the JSON Schema for DecisionGraph payloads.
// Embedded as a constant to avoid filesystem dependencies.
const decisionGraphSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://quotekit.dev/schemas/decision-graph.json",
  "type": "object",
  "required": ["id", "project_id", "nodes"],
  "properties": {
    "id": { "type": "string", "minLength": 1 },
    "project_id": { "type": "string", "minLength": 1 },
    "version": { "type": "integer", "minimum": 0 },
    "published": { "type": "boolean" },
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/node" }
    },
    "edges": {
      "type": "array",
      "items": { "$ref": "#/$defs/edge" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "node": {
      "type": "object",
      "required": ["node_id", "type"],
      "properties": {
        "node_id": { "type": "string", "minLength": 1 },
        "type": { "type": "string", "enum": ["question", "terminal"] },
        "ordinal": { "type": "integer" },
        "config": {
          "type": "object",
          "properties": {
            "prompt": { "type": "string" },
            "input": {
              "type": "string",
              "enum": ["number", "boolean", "enum", "text", "composite"]
            },
            "rule": { "type": "string" },
            "enum_fact": { "type": "string" }
          },
          "additionalProperties": false
        }
      },
      "additionalProperties": false
    },
    "edge": {
      "type": "object",
      "required": ["from_node_id", "to_node_id"],
      "properties": {
        "from_node_id": { "type": "string", "minLength": 1 },
        "to_node_id": { "type": "string", "minLength": 1 },
        "ordinal": { "type": "integer" },
        "condition": { "$ref": "#/$defs/condition" }
      },
      "additionalProperties": false
    },
    "condition": {
      "type": "object",
      "required": ["source"],
      "properties": {
        "language": { "type": "string", "enum": ["cel", "expr"] },
        "source": { "type": "string", "minLength": 1 }
      },
      "additionalProperties": false
    }
  }
}`

// pricingGraphSchemaJSON is the JSON Schema for PricingGraph payloads.
const pricingGraphSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://quotekit.dev/schemas/pricing-graph.json",
  "type": "object",
  "required": ["id", "project_id", "root_node_id", "nodes"],
  "properties": {
    "id": { "type": "string", "minLength": 1 },
    "project_id": { "type": "string", "minLength": 1 },
    "version": { "type": "integer", "minimum": 0 },
    "published": { "type": "boolean" },
    "root_node_id": { "type": "string", "minLength": 1 },
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/node" }
    },
    "trees": {
      "type": "array",
      "items": { "$ref": "#/$defs/tree" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "node": {
      "type": "object",
      "required": ["node_id", "kind"],
      "properties": {
        "node_id": { "type": "string", "minLength": 1 },
        "kind": {
          "type": "string",
          "enum": ["literal", "variable", "adjustment", "expression"]
        },
        "label": { "type": "string" },
        "literal": { "type": "number" },
        "variable": { "type": "string" },
        "child": { "type": "string" },
        "source": { "type": "string" },
        "children": {
          "type": "array",
          "items": { "type": "string" }
        }
      },
      "additionalProperties": false
    },
    "tree": {
      "type": "object",
      "required": ["id", "branches"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "name": { "type": "string" },
        "ordinal": { "type": "integer" },
        "branches": {
          "type": "array",
          "minItems": 1,
          "items": { "$ref": "#/$defs/branch" }
        }
      },
      "additionalProperties": false
    },
    "branch": {
      "type": "object",
      "required": ["condition"],
      "properties": {
        "ordinal": { "type": "integer" },
        "condition": { "$ref": "#/$defs/condition" },
        "adjustments": {
          "type": "array",
          "items": { "$ref": "#/$defs/adjustment" }
        }
      },
      "additionalProperties": false
    },
    "condition": {
      "type": "object",
      "required": ["source"],
      "properties": {
        "language": { "type": "string", "enum": ["cel", "expr"] },
        "source": { "type": "string", "minLength": 1 }
      },
      "additionalProperties": false
    },
    "adjustment": {
      "type": "object",
      "required": ["target_node_id", "op", "amount"],
      "properties": {
        "target_node_id": { "type": "string", "minLength": 1 },
        "op": { "type": "string", "enum": ["add", "multiply", "override"] },
        "amount": { "type": "number" },
        "label": { "type": "string" }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator validates definition payloads against JSON Schema
// Draft 2020-12. Both schemas are pre-compiled; the validator is safe for
// concurrent use.
type JSONSchemaValidator struct {
	decisionSchema *jsonschema.Schema
	pricingSchema  *jsonschema.Schema
}

// NewJSONSchemaValidator compiles both embedded schemas.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	compile := func(url, raw string) (*jsonschema.Schema, error) {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("unmarshal schema %s: %w", url, err)
		}
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("add schema resource %s: %w", url, err)
		}
		return c.Compile(url)
	}

	decision, err := compile("https://quotekit.dev/schemas/decision-graph.json", decisionGraphSchemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compile decision graph schema: %w", err)
	}
	pricing, err := compile("https://quotekit.dev/schemas/pricing-graph.json", pricingGraphSchemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compile pricing graph schema: %w", err)
	}

	return &JSONSchemaValidator{decisionSchema: decision, pricingSchema: pricing}, nil
}

// ValidateDecisionGraph checks the structural shape of a decision graph.
func (v *JSONSchemaValidator) ValidateDecisionGraph(def *schema.DecisionGraph) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "decision graph is nil")
	}
	return v.validate(v.decisionSchema, def, "decision graph")
}

// ValidatePricingGraph checks the structural shape of a pricing graph.
func (v *JSONSchemaValidator) ValidatePricingGraph(pg *schema.PricingGraph) error {
	if pg == nil {
		return schema.NewError(schema.ErrCodeValidation, "pricing graph is nil")
	}
	return v.validate(v.pricingSchema, pg, "pricing graph")
}

func (v *JSONSchemaValidator) validate(s *jsonschema.Schema, payload any, what string) error {
	doc, err := toJSONValue(payload)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"failed to serialize %s", what).WithCause(err)
	}
	if err := s.Validate(doc); err != nil {
		return toEstimateError(err)
	}
	return nil
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toEstimateError converts a jsonschema.ValidationError into an
// EstimateError carrying every leaf violation.
func toEstimateError(err error) *schema.EstimateError {
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
	return schema.NewErrorf(schema.ErrCodeValidation,
		"validation failed with %d errors", len(violations)).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
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
