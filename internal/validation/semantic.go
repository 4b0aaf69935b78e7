package validation

import (
	"fmt"

	"github.com/quotekit/quotekit/internal/expressions"
	"github.com/quotekit/quotekit/pkg/schema"
)

// validateDecisionSemantic checks cross-references inside a decision graph:
// duplicate node IDs, terminal nodes with outgoing edges, question nodes
// without an input kind, more than one unconditional fallback per source,
// edges naming unknown nodes, enum bindings naming unknown facts, and
// conditions that do not compile.
func validateDecisionSemantic(def *schema.DecisionGraph, factDefs []*schema.FactDefinition, conds *expressions.Conditions) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	nodes := make(map[string]*schema.GraphNode, len(def.Nodes))
	for i := range def.Nodes {
		n := &def.Nodes[i]
		if _, dup := nodes[n.NodeID]; dup {
			result.AddError(fmt.Sprintf("nodes[%s]", n.NodeID),
				schema.ErrCodeConfig, fmt.Sprintf("duplicate node id %q", n.NodeID))
			continue
		}
		nodes[n.NodeID] = n
		if n.Type == schema.NodeTypeQuestion && n.Config.Input == "" {
			result.AddError(fmt.Sprintf("nodes[%s].config.input", n.NodeID),
				schema.ErrCodeValidation, fmt.Sprintf("question node %q declares no input kind", n.NodeID))
		}
	}

	factNames := make(map[string]bool, len(factDefs))
	for _, f := range factDefs {
		factNames[f.Name] = true
	}
	for i := range def.Nodes {
		n := &def.Nodes[i]
		if n.Config.EnumFact == "" {
			continue
		}
		if len(factDefs) > 0 && !factNames[n.Config.EnumFact] {
			result.AddError(fmt.Sprintf("nodes[%s].config.enum_fact", n.NodeID),
				schema.ErrCodeNotFound, fmt.Sprintf("node %q references unknown fact %q", n.NodeID, n.Config.EnumFact))
		}
	}

	fallbacks := make(map[string]int, len(def.Nodes))
	for i, e := range def.Edges {
		path := fmt.Sprintf("edges[%d]", i)
		if _, ok := nodes[e.FromNodeID]; !ok {
			result.AddError(path, schema.ErrCodeNotFound,
				fmt.Sprintf("edge source %q does not exist", e.FromNodeID))
		} else if nodes[e.FromNodeID].Type == schema.NodeTypeTerminal {
			result.AddError(path, schema.ErrCodeConfig,
				fmt.Sprintf("terminal node %q has an outgoing edge", e.FromNodeID))
		}
		if _, ok := nodes[e.ToNodeID]; !ok {
			result.AddError(path, schema.ErrCodeNotFound,
				fmt.Sprintf("edge target %q does not exist", e.ToNodeID))
		}

		if e.Condition == nil {
			fallbacks[e.FromNodeID]++
			continue
		}
		if err := conds.Check(*e.Condition); err != nil {
			result.AddError(path+".condition", schema.ErrCodeConfig,
				fmt.Sprintf("condition does not compile: %v", err))
		}
	}
	for from, count := range fallbacks {
		if count > 1 {
			result.AddError(fmt.Sprintf("nodes[%s]", from), schema.ErrCodeConfig,
				fmt.Sprintf("node %q has %d unconditional edges, want at most 1", from, count))
		}
	}

	return result
}

// validatePricingSemantic checks per-kind field requirements, references
// between pricing nodes, expression identifier closure, and the if-trees
// feeding the graph.
func validatePricingSemantic(pg *schema.PricingGraph, conds *expressions.Conditions, arith *expressions.ArithEngine) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	nodes := make(map[string]*schema.PricingNode, len(pg.Nodes))
	for i := range pg.Nodes {
		n := &pg.Nodes[i]
		if _, dup := nodes[n.NodeID]; dup {
			result.AddError(fmt.Sprintf("nodes[%s]", n.NodeID),
				schema.ErrCodeConfig, fmt.Sprintf("duplicate node id %q", n.NodeID))
			continue
		}
		nodes[n.NodeID] = n
	}

	if _, ok := nodes[pg.RootNodeID]; !ok {
		result.AddError("root_node_id", schema.ErrCodeNotFound,
			fmt.Sprintf("root node %q does not exist", pg.RootNodeID))
	}

	for i := range pg.Nodes {
		n := &pg.Nodes[i]
		path := fmt.Sprintf("nodes[%s]", n.NodeID)
		switch n.Kind {
		case schema.PricingLiteral:
			if n.Literal == nil {
				result.AddError(path, schema.ErrCodeValidation,
					fmt.Sprintf("literal node %q has no literal value", n.NodeID))
			}
		case schema.PricingVariable:
			if n.Variable == "" {
				result.AddError(path, schema.ErrCodeValidation,
					fmt.Sprintf("variable node %q names no variable", n.NodeID))
			}
		case schema.PricingAdjustment:
			if n.Child == "" {
				result.AddError(path, schema.ErrCodeValidation,
					fmt.Sprintf("adjustment node %q has no child", n.NodeID))
			} else if _, ok := nodes[n.Child]; !ok {
				result.AddError(path+".child", schema.ErrCodeNotFound,
					fmt.Sprintf("adjustment node %q references unknown child %q", n.NodeID, n.Child))
			}
		case schema.PricingExpression:
			validateExpressionNode(result, path, n, nodes, arith)
		}
	}

	treeIDs := make(map[string]bool, len(pg.Trees))
	for ti, tree := range pg.Trees {
		treePath := fmt.Sprintf("trees[%d]", ti)
		if treeIDs[tree.ID] {
			result.AddError(treePath, schema.ErrCodeConfig,
				fmt.Sprintf("duplicate tree id %q", tree.ID))
		}
		treeIDs[tree.ID] = true

		for bi, branch := range tree.Branches {
			branchPath := fmt.Sprintf("%s.branches[%d]", treePath, bi)
			if err := conds.Check(branch.Condition); err != nil {
				result.AddError(branchPath+".condition", schema.ErrCodeConfig,
					fmt.Sprintf("condition does not compile: %v", err))
			}
			for ai, adj := range branch.Adjustments {
				adjPath := fmt.Sprintf("%s.adjustments[%d]", branchPath, ai)
				target, ok := nodes[adj.TargetNodeID]
				if !ok {
					result.AddError(adjPath, schema.ErrCodeNotFound,
						fmt.Sprintf("adjustment targets unknown node %q", adj.TargetNodeID))
					continue
				}
				if target.Kind != schema.PricingAdjustment {
					result.AddError(adjPath, schema.ErrCodeConfig,
						fmt.Sprintf("adjustment targets node %q of kind %s, want adjustment", adj.TargetNodeID, target.Kind))
				}
			}
		}
	}

	return result
}

// validateExpressionNode checks that an expression node's source parses,
// its children exist, and every identifier it uses is a declared child.
func validateExpressionNode(result *schema.ValidationResult, path string, n *schema.PricingNode, nodes map[string]*schema.PricingNode, arith *expressions.ArithEngine) {
	if n.Source == "" {
		result.AddError(path, schema.ErrCodeValidation,
			fmt.Sprintf("expression node %q has no source", n.NodeID))
		return
	}

	children := make(map[string]bool, len(n.Children))
	for _, child := range n.Children {
		children[child] = true
		if _, ok := nodes[child]; !ok {
			result.AddError(path+".children", schema.ErrCodeNotFound,
				fmt.Sprintf("expression node %q references unknown child %q", n.NodeID, child))
		}
	}

	prog, err := arith.Parse(n.Source)
	if err != nil {
		result.AddError(path+".source", schema.ErrCodeConfig,
			fmt.Sprintf("expression does not parse: %v", err))
		return
	}
	for _, ident := range prog.Identifiers() {
		if !children[ident] {
			result.AddError(path+".source", schema.ErrCodeUnknownVariable,
				fmt.Sprintf("expression node %q uses identifier %q not listed in children", n.NodeID, ident))
		}
	}
}
