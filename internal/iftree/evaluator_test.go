package iftree

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotekit/quotekit/internal/expressions"
	"github.com/quotekit/quotekit/pkg/schema"
)

func newConds(t *testing.T) *expressions.Conditions {
	t.Helper()
	c, err := expressions.NewConditions()
	require.NoError(t, err)
	return c
}

func steelScope(length float64) map[string]any {
	return map[string]any{
		"facts":   map[string]any{"material": "steel", "length": length},
		"vars":    map[string]any{},
		"answers": map[string]any{},
	}
}

func TestEvaluate_FirstMatchWins(t *testing.T) {
	tree := &schema.IfTree{
		ID: "t-material",
		Branches: []schema.Branch{
			{Ordinal: 0, Condition: schema.Condition{Source: `facts["material"] == "steel"`},
				Adjustments: []schema.Adjustment{{TargetNodeID: "adj-total", Op: schema.AdjustMultiply, Amount: 1.2}}},
			{Ordinal: 1, Condition: schema.Condition{Source: `facts["length"] > 0.0`},
				Adjustments: []schema.Adjustment{{TargetNodeID: "adj-total", Op: schema.AdjustAdd, Amount: 999}}},
		},
	}

	adjs, warns := Evaluate(context.Background(), newConds(t), tree, steelScope(10))
	assert.Empty(t, warns)
	// Both branches hold but only the first may fire: branches are a
	// decision list, not a rule set.
	require.Len(t, adjs, 1)
	assert.Equal(t, schema.AdjustMultiply, adjs[0].Op)
}

func TestEvaluate_OrdinalOrderNotSliceOrder(t *testing.T) {
	tree := &schema.IfTree{
		ID: "t-order",
		Branches: []schema.Branch{
			{Ordinal: 5, Condition: schema.Condition{Source: "true"},
				Adjustments: []schema.Adjustment{{TargetNodeID: "a", Op: schema.AdjustAdd, Amount: 2}}},
			{Ordinal: 1, Condition: schema.Condition{Source: "true"},
				Adjustments: []schema.Adjustment{{TargetNodeID: "a", Op: schema.AdjustAdd, Amount: 1}}},
		},
	}

	adjs, warns := Evaluate(context.Background(), newConds(t), tree, steelScope(1))
	assert.Empty(t, warns)
	require.Len(t, adjs, 1)
	assert.Equal(t, 1.0, adjs[0].Amount)
}

func TestEvaluate_NoMatchMeansNoAdjustments(t *testing.T) {
	tree := &schema.IfTree{
		ID: "t-none",
		Branches: []schema.Branch{
			{Ordinal: 0, Condition: schema.Condition{Source: `facts["material"] == "gold"`},
				Adjustments: []schema.Adjustment{{TargetNodeID: "a", Op: schema.AdjustAdd, Amount: 10}}},
		},
	}

	adjs, warns := Evaluate(context.Background(), newConds(t), tree, steelScope(1))
	assert.Empty(t, warns)
	assert.Empty(t, adjs)
}

func TestEvaluate_BrokenConditionDegradesWithWarning(t *testing.T) {
	tree := &schema.IfTree{
		ID: "t-broken",
		Branches: []schema.Branch{
			{Ordinal: 0, Condition: schema.Condition{Source: `facts["absent"] == true`},
				Adjustments: []schema.Adjustment{{TargetNodeID: "a", Op: schema.AdjustAdd, Amount: 10}}},
			{Ordinal: 1, Condition: schema.Condition{Source: `facts["material"] == "steel"`},
				Adjustments: []schema.Adjustment{{TargetNodeID: "a", Op: schema.AdjustAdd, Amount: 20}}},
		},
	}

	adjs, warns := Evaluate(context.Background(), newConds(t), tree, steelScope(1))
	require.Len(t, warns, 1)
	assert.Contains(t, warns[0].Source, "t-broken")
	require.Len(t, adjs, 1)
	assert.Equal(t, 20.0, adjs[0].Amount)
}

func TestEvaluateAll_TreesInOrdinalOrder(t *testing.T) {
	trees := []schema.IfTree{
		{ID: "t-b", Ordinal: 2, Branches: []schema.Branch{
			{Condition: schema.Condition{Source: "true"},
				Adjustments: []schema.Adjustment{{TargetNodeID: "a", Op: schema.AdjustAdd, Amount: 2}}},
		}},
		{ID: "t-a", Ordinal: 1, Branches: []schema.Branch{
			{Condition: schema.Condition{Source: "true"},
				Adjustments: []schema.Adjustment{{TargetNodeID: "a", Op: schema.AdjustAdd, Amount: 1}}},
		}},
	}

	adjs, warns := EvaluateAll(context.Background(), newConds(t), trees, steelScope(1))
	assert.Empty(t, warns)
	require.Len(t, adjs, 2)
	assert.Equal(t, 1.0, adjs[0].Amount)
	assert.Equal(t, 2.0, adjs[1].Amount)
}
