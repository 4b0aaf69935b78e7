package engine

import (
	"context"
	"sort"

	"github.com/quotekit/quotekit/internal/expressions"
	"github.com/quotekit/quotekit/pkg/schema"
)

// Graph is the in-memory traversal form of a decision graph: node lookup,
// per-source edges sorted by ordinal, and the entry node. Built once per
// published version and cached; it is read-only afterwards.
type Graph struct {
	def   *schema.DecisionGraph
	nodes map[string]*schema.GraphNode
	edges map[string][]schema.GraphEdge
	entry string
}

// BuildGraph indexes a decision graph for traversal. The entry node is the
// single node with no inbound edges; published graphs are validated to
// have exactly one.
func BuildGraph(def *schema.DecisionGraph) (*Graph, error) {
	g := &Graph{
		def:   def,
		nodes: make(map[string]*schema.GraphNode, len(def.Nodes)),
		edges: make(map[string][]schema.GraphEdge, len(def.Nodes)),
	}

	for i := range def.Nodes {
		n := &def.Nodes[i]
		if _, dup := g.nodes[n.NodeID]; dup {
			return nil, schema.NewErrorf(schema.ErrCodeConfig,
				"duplicate node id %q in graph %s", n.NodeID, def.ID)
		}
		g.nodes[n.NodeID] = n
	}

	inbound := make(map[string]int, len(def.Nodes))
	for _, e := range def.Edges {
		if _, ok := g.nodes[e.FromNodeID]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeConfig,
				"edge references unknown node %q", e.FromNodeID)
		}
		if _, ok := g.nodes[e.ToNodeID]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeConfig,
				"edge references unknown node %q", e.ToNodeID)
		}
		g.edges[e.FromNodeID] = append(g.edges[e.FromNodeID], e)
		inbound[e.ToNodeID]++
	}
	for from := range g.edges {
		out := g.edges[from]
		sort.SliceStable(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	}

	var entries []string
	for i := range def.Nodes {
		if inbound[def.Nodes[i].NodeID] == 0 {
			entries = append(entries, def.Nodes[i].NodeID)
		}
	}
	if len(entries) != 1 {
		return nil, schema.NewErrorf(schema.ErrCodeConfig,
			"graph %s has %d entry nodes, want exactly 1", def.ID, len(entries))
	}
	g.entry = entries[0]

	return g, nil
}

// Entry returns the graph's entry node ID.
func (g *Graph) Entry() string { return g.entry }

// Node returns a node by ID.
func (g *Graph) Node(id string) (*schema.GraphNode, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// ComputePage collects the maximal run of consecutive nodes reachable from
// start by unconditional edges. Collection stops at a node whose outgoing
// edges are conditional (an answer is needed to pick a branch) and before
// a terminal node. Starting at a terminal yields a terminal page.
func (g *Graph) ComputePage(start string) (*schema.Page, error) {
	cur, ok := g.nodes[start]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeConfig,
			"page start node %q does not exist", start)
	}
	if cur.Type == schema.NodeTypeTerminal {
		return &schema.Page{Nodes: []schema.GraphNode{*cur}, Terminal: true}, nil
	}

	page := &schema.Page{}
	seen := make(map[string]bool)
	for {
		if seen[cur.NodeID] {
			return nil, schema.NewErrorf(schema.ErrCodeCycleDetected,
				"unconditional edge cycle through node %q", cur.NodeID)
		}
		seen[cur.NodeID] = true
		page.Nodes = append(page.Nodes, *cur)

		out := g.edges[cur.NodeID]
		if len(out) != 1 || out[0].Condition != nil {
			return page, nil
		}
		next, ok := g.nodes[out[0].ToNodeID]
		if !ok || next.Type == schema.NodeTypeTerminal {
			return page, nil
		}
		cur = next
	}
}

// SelectEdge picks the outgoing edge of a node once its page is answered.
// Conditional edges are tried in ascending ordinal order and the first
// whose condition evaluates true wins, a deterministic tie-break rather
// than an accident of map iteration. The unconditional edge is
// the fallback. A condition that fails to evaluate is treated as false for
// that edge; the failure is reported back as a warning.
func (g *Graph) SelectEdge(ctx context.Context, conds *expressions.Conditions, from string, scope map[string]any) (string, []schema.Warning, error) {
	out := g.edges[from]
	if len(out) == 0 {
		return "", nil, schema.NewErrorf(schema.ErrCodeConfig,
			"node %q has no outgoing edges", from).WithNode(from)
	}

	var warnings []schema.Warning
	fallback := ""
	for _, e := range out {
		if e.Condition == nil {
			if fallback == "" {
				fallback = e.ToNodeID
			}
			continue
		}
		matched, err := conds.EvalBool(ctx, *e.Condition, scope)
		if err != nil {
			warnings = append(warnings, schema.Warning{
				Code:    schema.CodeOf(err),
				Source:  "edge " + from + " -> " + e.ToNodeID,
				Message: err.Error(),
			})
			continue
		}
		if matched {
			return e.ToNodeID, warnings, nil
		}
	}

	if fallback == "" {
		return "", warnings, schema.NewErrorf(schema.ErrCodeConfig,
			"no edge matched from node %q and no unconditional fallback exists", from).
			WithNode(from)
	}
	return fallback, warnings, nil
}
