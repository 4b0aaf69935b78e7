package pricing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotekit/quotekit/internal/expressions"
	"github.com/quotekit/quotekit/pkg/schema"
)

func floatPtr(f float64) *float64 { return &f }

// fenceGraph: total = adjust(base + fee), where base is a literal and fee
// reads the resolved variable environment.
func fenceGraph() *schema.PricingGraph {
	return &schema.PricingGraph{
		ID:         "pg-fence",
		ProjectID:  "p-1",
		RootNodeID: "adj-total",
		Nodes: []schema.PricingNode{
			{NodeID: "base", Kind: schema.PricingLiteral, Label: "Base price", Literal: floatPtr(100)},
			{NodeID: "fee", Kind: schema.PricingVariable, Label: "Length fee", Variable: "lengthFee"},
			{NodeID: "subtotal", Kind: schema.PricingExpression, Source: "base + fee",
				Children: []string{"base", "fee"}},
			{NodeID: "adj-total", Kind: schema.PricingAdjustment, Label: "Total", Child: "subtotal"},
		},
	}
}

func TestEvaluate_ExpressionChildrenByID(t *testing.T) {
	// An expression identifier that is not a declared child is fatal.
	graph := fenceGraph()
	graph.Nodes[2].Children = []string{"base"}

	_, err := Evaluate(context.Background(), expressions.NewArithEngine(), graph,
		map[string]float64{"lengthFee": 20}, nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeUnknownVariable, schema.CodeOf(err))
}

func TestEvaluate_TotalAndBreakdown(t *testing.T) {
	report, err := Evaluate(context.Background(), expressions.NewArithEngine(), fenceGraph(),
		map[string]float64{"lengthFee": 20}, nil)
	require.NoError(t, err)
	assert.InDelta(t, 120.0, report.Total, 1e-9)

	// Lines come out in graph-definition order, one per labeled node.
	require.Len(t, report.Lines, 3)
	assert.Equal(t, "Base price", report.Lines[0].Label)
	assert.Equal(t, 100.0, report.Lines[0].Amount)
	assert.Equal(t, "Length fee", report.Lines[1].Label)
	assert.Equal(t, 20.0, report.Lines[1].Amount)
	assert.Equal(t, "Total", report.Lines[2].Label)
	assert.Equal(t, 120.0, report.Lines[2].Amount)
}

func TestEvaluate_AdjustmentPhaseOrder(t *testing.T) {
	graph := &schema.PricingGraph{
		ID:         "pg-adj",
		RootNodeID: "adj",
		Nodes: []schema.PricingNode{
			{NodeID: "base", Kind: schema.PricingLiteral, Literal: floatPtr(100)},
			{NodeID: "adj", Kind: schema.PricingAdjustment, Child: "base"},
		},
	}
	// Mixed ops apply by phase (override, add, multiply), so arrival order
	// is irrelevant: (100 + 10) * 1.5 = 165.
	arrivals := [][]schema.Adjustment{
		{
			{TargetNodeID: "adj", Op: schema.AdjustAdd, Amount: 10},
			{TargetNodeID: "adj", Op: schema.AdjustMultiply, Amount: 1.5},
		},
		{
			{TargetNodeID: "adj", Op: schema.AdjustMultiply, Amount: 1.5},
			{TargetNodeID: "adj", Op: schema.AdjustAdd, Amount: 10},
		},
	}

	for _, adjs := range arrivals {
		report, err := Evaluate(context.Background(), expressions.NewArithEngine(), graph, nil, adjs)
		require.NoError(t, err)
		assert.InDelta(t, 165.0, report.Total, 1e-9)
	}
}

func TestEvaluate_OverrideReplacesBase(t *testing.T) {
	graph := &schema.PricingGraph{
		ID:         "pg-override",
		RootNodeID: "adj",
		Nodes: []schema.PricingNode{
			{NodeID: "base", Kind: schema.PricingLiteral, Literal: floatPtr(100)},
			{NodeID: "adj", Kind: schema.PricingAdjustment, Child: "base"},
		},
	}
	adjs := []schema.Adjustment{
		{TargetNodeID: "adj", Op: schema.AdjustOverride, Amount: 40},
		{TargetNodeID: "adj", Op: schema.AdjustAdd, Amount: 5},
	}

	report, err := Evaluate(context.Background(), expressions.NewArithEngine(), graph, nil, adjs)
	require.NoError(t, err)
	assert.InDelta(t, 45.0, report.Total, 1e-9)
}

func TestEvaluate_UnknownVariableIsFatal(t *testing.T) {
	graph := &schema.PricingGraph{
		ID:         "pg-missing",
		RootNodeID: "v",
		Nodes: []schema.PricingNode{
			{NodeID: "v", Kind: schema.PricingVariable, Variable: "nope"},
		},
	}

	_, err := Evaluate(context.Background(), expressions.NewArithEngine(), graph, map[string]float64{}, nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeUnknownVariable, schema.CodeOf(err))
}

func TestEvaluate_CycleDetected(t *testing.T) {
	graph := &schema.PricingGraph{
		ID:         "pg-cycle",
		RootNodeID: "a",
		Nodes: []schema.PricingNode{
			{NodeID: "a", Kind: schema.PricingAdjustment, Child: "b"},
			{NodeID: "b", Kind: schema.PricingAdjustment, Child: "a"},
		},
	}

	_, err := Evaluate(context.Background(), expressions.NewArithEngine(), graph, nil, nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeCycleDetected, schema.CodeOf(err))
}
