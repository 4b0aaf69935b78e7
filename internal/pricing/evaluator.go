// Package pricing evaluates the pricing DAG into an estimate report.
// Unlike if-tree conditions, an evaluation error here is fatal to the
// caller: a price must never be silently wrong.
package pricing

import (
	"context"
	"time"

	"github.com/quotekit/quotekit/internal/expressions"
	"github.com/quotekit/quotekit/pkg/schema"
)

// Evaluate computes the pricing graph's root value and breakdown.
//
// Nodes are evaluated by memoized topological recursion: a literal node
// returns its constant, a variable node reads the resolved environment, an
// adjustment node applies the adjustments tagged with its ID to its base
// child, and an expression node evaluates its arithmetic source with child
// node outputs as the environment.
//
// Breakdown lines are emitted in graph-definition order, never evaluation
// order, so reports are stable across recomputation even when memoization
// order changes.
func Evaluate(ctx context.Context, arith *expressions.ArithEngine, graph *schema.PricingGraph, env map[string]float64, adjustments []schema.Adjustment) (*schema.EstimateReport, error) {
	ev := &evaluator{
		arith:    arith,
		graph:    graph,
		env:      env,
		nodes:    make(map[string]*schema.PricingNode, len(graph.Nodes)),
		memo:     make(map[string]float64, len(graph.Nodes)),
		visiting: make(map[string]bool),
		tagged:   make(map[string][]schema.Adjustment),
	}
	for i := range graph.Nodes {
		ev.nodes[graph.Nodes[i].NodeID] = &graph.Nodes[i]
	}
	for _, adj := range adjustments {
		ev.tagged[adj.TargetNodeID] = append(ev.tagged[adj.TargetNodeID], adj)
	}

	total, err := ev.eval(ctx, graph.RootNodeID)
	if err != nil {
		return nil, err
	}

	report := &schema.EstimateReport{
		Total:      total,
		ComputedAt: time.Now().UTC(),
	}
	for i := range graph.Nodes {
		node := &graph.Nodes[i]
		if node.Label == "" {
			continue
		}
		amount, err := ev.eval(ctx, node.NodeID)
		if err != nil {
			return nil, err
		}
		report.Lines = append(report.Lines, schema.BreakdownLine{
			Label:        node.Label,
			Amount:       amount,
			SourceNodeID: node.NodeID,
		})
	}
	return report, nil
}

type evaluator struct {
	arith    *expressions.ArithEngine
	graph    *schema.PricingGraph
	env      map[string]float64
	nodes    map[string]*schema.PricingNode
	memo     map[string]float64
	visiting map[string]bool
	tagged   map[string][]schema.Adjustment
}

func (ev *evaluator) eval(ctx context.Context, nodeID string) (float64, error) {
	if v, ok := ev.memo[nodeID]; ok {
		return v, nil
	}
	node, ok := ev.nodes[nodeID]
	if !ok {
		return 0, schema.NewErrorf(schema.ErrCodeConfig,
			"pricing node %q does not exist in graph %s", nodeID, ev.graph.ID)
	}
	if ev.visiting[nodeID] {
		return 0, schema.NewErrorf(schema.ErrCodeCycleDetected,
			"pricing graph cycle through node %q", nodeID)
	}
	ev.visiting[nodeID] = true
	defer delete(ev.visiting, nodeID)

	v, err := ev.evalNode(ctx, node)
	if err != nil {
		return 0, err
	}
	ev.memo[nodeID] = v
	return v, nil
}

func (ev *evaluator) evalNode(ctx context.Context, node *schema.PricingNode) (float64, error) {
	switch node.Kind {
	case schema.PricingLiteral:
		if node.Literal == nil {
			return 0, schema.NewErrorf(schema.ErrCodeConfig,
				"literal pricing node %q has no value", node.NodeID)
		}
		return *node.Literal, nil

	case schema.PricingVariable:
		v, ok := ev.env[node.Variable]
		if !ok {
			return 0, schema.NewErrorf(schema.ErrCodeUnknownVariable,
				"unknown variable %q", node.Variable).WithNode(node.NodeID)
		}
		return v, nil

	case schema.PricingAdjustment:
		base, err := ev.eval(ctx, node.Child)
		if err != nil {
			return 0, err
		}
		return applyAdjustments(base, ev.tagged[node.NodeID]), nil

	case schema.PricingExpression:
		expr, err := ev.arith.Parse(node.Source)
		if err != nil {
			return 0, err
		}
		return expr.EvalFunc(func(name string) (float64, error) {
			if !containsString(node.Children, name) {
				return 0, schema.NewErrorf(schema.ErrCodeUnknownVariable,
					"expression node %q references %q, which is not a child", node.NodeID, name)
			}
			return ev.eval(ctx, name)
		})

	default:
		return 0, schema.NewErrorf(schema.ErrCodeConfig,
			"pricing node %q has unknown kind %q", node.NodeID, node.Kind)
	}
}

// applyAdjustments folds the tagged adjustments into the base value in a
// fixed phase order (overrides first, then additive, then multiplicative)
// so the outcome does not depend on the order adjustments arrived in and
// each report line stays explainable.
func applyAdjustments(base float64, adjs []schema.Adjustment) float64 {
	v := base
	for _, a := range adjs {
		if a.Op == schema.AdjustOverride {
			v = a.Amount
		}
	}
	for _, a := range adjs {
		if a.Op == schema.AdjustAdd {
			v += a.Amount
		}
	}
	for _, a := range adjs {
		if a.Op == schema.AdjustMultiply {
			v *= a.Amount
		}
	}
	return v
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
