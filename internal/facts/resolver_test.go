package facts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotekit/quotekit/internal/expressions"
	"github.com/quotekit/quotekit/pkg/schema"
)

func newTestResolver() *Resolver {
	return NewResolver(expressions.NewGoJQEngine(), expressions.NewArithEngine())
}

func floatPtr(f float64) *float64 { return &f }

// --- Fact projection ---

func TestFacts_TypedProjection(t *testing.T) {
	r := newTestResolver()
	defs := []*schema.FactDefinition{
		{Name: "length", Type: schema.FactNumber, NodeID: "q-length"},
		{Name: "rush", Type: schema.FactBoolean, NodeID: "q-rush"},
		{Name: "notes", Type: schema.FactString, NodeID: "q-notes"},
	}
	answers := map[string]any{
		"q-length": 10.0,
		"q-rush":   true,
		"q-notes":  "paint it red",
	}

	facts, err := r.Facts(context.Background(), defs, answers)
	require.NoError(t, err)
	require.Len(t, facts, 3)
	assert.Equal(t, 10.0, facts["length"].Number)
	assert.True(t, facts["rush"].Bool)
	assert.Equal(t, "paint it red", facts["notes"].Str)
}

func TestFacts_UnansweredNodesAreAbsent(t *testing.T) {
	r := newTestResolver()
	defs := []*schema.FactDefinition{
		{Name: "length", Type: schema.FactNumber, NodeID: "q-length"},
		{Name: "width", Type: schema.FactNumber, NodeID: "q-width"},
	}

	facts, err := r.Facts(context.Background(), defs, map[string]any{"q-length": 3})
	require.NoError(t, err)
	assert.Len(t, facts, 1)
	_, ok := facts["width"]
	assert.False(t, ok)
}

func TestFacts_CompositePath(t *testing.T) {
	r := newTestResolver()
	defs := []*schema.FactDefinition{
		{Name: "width", Type: schema.FactNumber, NodeID: "q-dims", Path: ".width"},
		{Name: "height", Type: schema.FactNumber, NodeID: "q-dims", Path: ".height"},
	}
	answers := map[string]any{
		"q-dims": map[string]any{"width": 12.0, "height": 30.0},
	}

	facts, err := r.Facts(context.Background(), defs, answers)
	require.NoError(t, err)
	assert.Equal(t, 12.0, facts["width"].Number)
	assert.Equal(t, 30.0, facts["height"].Number)
}

func TestFacts_EnumWeightCoercion(t *testing.T) {
	r := newTestResolver()
	def := &schema.FactDefinition{
		Name: "material", Type: schema.FactEnum, NodeID: "q-material",
		Options: []schema.EnumOption{
			{Value: "wood", Ordinal: 0},
			{Value: "steel", Ordinal: 1, Weight: floatPtr(2.5)},
		},
	}

	facts, err := r.Facts(context.Background(), []*schema.FactDefinition{def},
		map[string]any{"q-material": "steel"})
	require.NoError(t, err)
	assert.Equal(t, "steel", facts["material"].Enum)
	assert.Equal(t, 2.5, facts["material"].Weight)

	// No explicit weight falls back to the ordinal.
	facts, err = r.Facts(context.Background(), []*schema.FactDefinition{def},
		map[string]any{"q-material": "wood"})
	require.NoError(t, err)
	assert.Equal(t, 0.0, facts["material"].Weight)
}

func TestFacts_UnknownEnumValue(t *testing.T) {
	r := newTestResolver()
	def := &schema.FactDefinition{
		Name: "material", Type: schema.FactEnum, NodeID: "q-material",
		Options: []schema.EnumOption{{Value: "wood", Ordinal: 0}},
	}

	_, err := r.Facts(context.Background(), []*schema.FactDefinition{def},
		map[string]any{"q-material": "plutonium"})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeUnknownEnum, schema.CodeOf(err))
}

func TestFacts_TypeMismatch(t *testing.T) {
	r := newTestResolver()
	def := &schema.FactDefinition{Name: "length", Type: schema.FactNumber, NodeID: "q"}

	_, err := r.Facts(context.Background(), []*schema.FactDefinition{def},
		map[string]any{"q": "not a number"})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeEval, schema.CodeOf(err))
}

// --- Variable resolution ---

func TestVariables_Kinds(t *testing.T) {
	r := newTestResolver()
	facts := map[string]schema.FactValue{
		"length":   {Type: schema.FactNumber, Number: 10},
		"material": {Type: schema.FactEnum, Enum: "steel", Weight: 2.5},
		"rush":     {Type: schema.FactBoolean, Bool: true},
	}
	vars := []*schema.Variable{
		{Name: "baseRate", Kind: schema.VariableLiteral, Literal: floatPtr(50)},
		{Name: "len", Kind: schema.VariableFact, Fact: "length"},
		{Name: "matFactor", Kind: schema.VariableFact, Fact: "material"},
		{Name: "isRush", Kind: schema.VariableFact, Fact: "rush"},
		{Name: "lengthFee", Kind: schema.VariableExpression, Source: "len * baseRate"},
	}

	out, err := r.Variables(context.Background(), vars, facts)
	require.NoError(t, err)
	assert.Equal(t, 50.0, out["baseRate"])
	assert.Equal(t, 10.0, out["len"])
	assert.Equal(t, 2.5, out["matFactor"])
	assert.Equal(t, true, out["isRush"])
	assert.Equal(t, 500.0, out["lengthFee"])
}

func TestVariables_ExpressionChainOrderIndependent(t *testing.T) {
	r := newTestResolver()
	// c depends on b depends on a, declared out of order.
	vars := []*schema.Variable{
		{Name: "c", Kind: schema.VariableExpression, Source: "b + 1"},
		{Name: "b", Kind: schema.VariableExpression, Source: "a * 2"},
		{Name: "a", Kind: schema.VariableLiteral, Literal: floatPtr(3)},
	}

	out, err := r.Variables(context.Background(), vars, nil)
	require.NoError(t, err)
	assert.Equal(t, 7.0, out["c"])
}

func TestVariables_CycleDetected(t *testing.T) {
	r := newTestResolver()
	vars := []*schema.Variable{
		{Name: "a", Kind: schema.VariableExpression, Source: "b + 1"},
		{Name: "b", Kind: schema.VariableExpression, Source: "a + 1"},
	}

	_, err := r.Variables(context.Background(), vars, nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeCycleDetected, schema.CodeOf(err))
}

func TestVariables_StringFactRejected(t *testing.T) {
	r := newTestResolver()
	facts := map[string]schema.FactValue{
		"notes": {Type: schema.FactString, Str: "n/a"},
	}
	vars := []*schema.Variable{
		{Name: "v", Kind: schema.VariableFact, Fact: "notes"},
	}

	_, err := r.Variables(context.Background(), vars, facts)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeConfig, schema.CodeOf(err))
}

// --- Environments ---

func TestConditionScope(t *testing.T) {
	facts := map[string]schema.FactValue{
		"material": {Type: schema.FactEnum, Enum: "steel", Weight: 2.5},
		"length":   {Type: schema.FactNumber, Number: 10},
	}
	vars := map[string]any{"rate": 1.2}
	answers := map[string]any{"q-length": 10.0}

	scope := ConditionScope(facts, vars, answers)
	factScope := scope["facts"].(map[string]any)
	assert.Equal(t, "steel", factScope["material"])
	assert.Equal(t, 10.0, factScope["length"])
	assert.Equal(t, vars, scope["vars"])
	assert.Equal(t, answers, scope["answers"])
}

func TestNumericEnv(t *testing.T) {
	facts := map[string]schema.FactValue{
		"length":   {Type: schema.FactNumber, Number: 10},
		"material": {Type: schema.FactEnum, Enum: "steel", Weight: 2.5},
		"rush":     {Type: schema.FactBoolean, Bool: true},
		"notes":    {Type: schema.FactString, Str: "skipped"},
	}
	vars := map[string]any{"rate": 1.2, "rush": false}

	env := NumericEnv(facts, vars)
	assert.Equal(t, 10.0, env["length"])
	assert.Equal(t, 2.5, env["material"])
	assert.Equal(t, 1.2, env["rate"])
	assert.Equal(t, 0.0, env["rush"]) // variables shadow facts
	_, ok := env["notes"]
	assert.False(t, ok)
}
