// Package iftree evaluates ordered conditional rule trees into pricing
// adjustments. A tree is a decision list, not a rule set: branches are
// mutually exclusive and the first match wins.
package iftree

import (
	"context"
	"fmt"
	"sort"

	"github.com/quotekit/quotekit/internal/expressions"
	"github.com/quotekit/quotekit/pkg/schema"
)

// Evaluate walks the tree's branches in ascending ordinal order and returns
// the adjustments of the first branch whose condition holds. If no branch
// matches, the tree contributes nothing (the implicit default branch).
//
// A branch condition that fails to evaluate (unknown variable, bad
// expression) degrades to false and evaluation continues; the failure is
// returned as a warning so a malformed tree dents the report instead of
// blocking the estimate.
func Evaluate(ctx context.Context, conds *expressions.Conditions, tree *schema.IfTree, scope map[string]any) ([]schema.Adjustment, []schema.Warning) {
	branches := make([]schema.Branch, len(tree.Branches))
	copy(branches, tree.Branches)
	sort.SliceStable(branches, func(i, j int) bool {
		return branches[i].Ordinal < branches[j].Ordinal
	})

	var warnings []schema.Warning
	for _, branch := range branches {
		matched, err := conds.EvalBool(ctx, branch.Condition, scope)
		if err != nil {
			warnings = append(warnings, schema.Warning{
				Code:    schema.CodeOf(err),
				Source:  fmt.Sprintf("tree %s branch %d", tree.ID, branch.Ordinal),
				Message: err.Error(),
			})
			continue
		}
		if matched {
			return branch.Adjustments, warnings
		}
	}
	return nil, warnings
}

// EvaluateAll evaluates every tree in ascending ordinal order and collects
// the winning branch adjustments of each. Tree order makes the combined
// adjustment sequence deterministic regardless of storage order.
func EvaluateAll(ctx context.Context, conds *expressions.Conditions, trees []schema.IfTree, scope map[string]any) ([]schema.Adjustment, []schema.Warning) {
	sorted := make([]schema.IfTree, len(trees))
	copy(sorted, trees)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Ordinal < sorted[j].Ordinal
	})

	var adjustments []schema.Adjustment
	var warnings []schema.Warning
	for i := range sorted {
		adj, warns := Evaluate(ctx, conds, &sorted[i], scope)
		adjustments = append(adjustments, adj...)
		warnings = append(warnings, warns...)
	}
	return adjustments, warnings
}
