package validation

import (
	"fmt"
	"sort"

	"github.com/quotekit/quotekit/pkg/schema"
)

// validateDecisionTopology performs graph analysis on a decision graph:
// exactly one entry node, no cycle through unconditional edges, and
// reachability of every node from the entry. A cycle through conditional
// edges is tolerated with a warning since a false condition can break it
// at runtime, but an unconditional cycle can never terminate.
func validateDecisionTopology(def *schema.DecisionGraph) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	nodeIDs := make(map[string]bool, len(def.Nodes))
	for _, n := range def.Nodes {
		nodeIDs[n.NodeID] = true
	}

	out := make(map[string][]string, len(def.Nodes))
	unconditional := make(map[string][]string, len(def.Nodes))
	inbound := make(map[string]int, len(def.Nodes))
	for _, e := range def.Edges {
		if !nodeIDs[e.FromNodeID] || !nodeIDs[e.ToNodeID] {
			continue // invalid refs already caught by semantic
		}
		out[e.FromNodeID] = append(out[e.FromNodeID], e.ToNodeID)
		inbound[e.ToNodeID]++
		if e.Condition == nil {
			unconditional[e.FromNodeID] = append(unconditional[e.FromNodeID], e.ToNodeID)
		}
	}

	var entries []string
	for _, n := range def.Nodes {
		if inbound[n.NodeID] == 0 {
			entries = append(entries, n.NodeID)
		}
	}
	sort.Strings(entries)
	if len(entries) != 1 {
		result.AddError("nodes", schema.ErrCodeConfig,
			fmt.Sprintf("graph has %d entry nodes, want exactly 1", len(entries)))
		return result // no single entry makes reachability analysis meaningless
	}

	if hasCycle(nodeIDs, unconditional) {
		result.AddError("edges", schema.ErrCodeCycleDetected,
			"graph contains a cycle of unconditional edges")
		return result
	}
	if hasCycle(nodeIDs, out) {
		result.AddWarning("edges", schema.ErrCodeCycleDetected,
			"graph contains a cycle through conditional edges")
	}

	reachable := bfs(entries[0], out)
	for _, n := range def.Nodes {
		if !reachable[n.NodeID] {
			result.AddWarning(fmt.Sprintf("nodes[%s]", n.NodeID),
				schema.ErrCodeValidation,
				fmt.Sprintf("node %q is unreachable from the entry node", n.NodeID))
		}
	}

	return result
}

// validatePricingTopology checks that the pricing graph is acyclic and that
// every node is reachable from the root. Edges run from adjustment nodes to
// their child and from expression nodes to their children.
func validatePricingTopology(pg *schema.PricingGraph) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	nodeIDs := make(map[string]bool, len(pg.Nodes))
	for _, n := range pg.Nodes {
		nodeIDs[n.NodeID] = true
	}

	out := make(map[string][]string, len(pg.Nodes))
	for _, n := range pg.Nodes {
		if n.Child != "" && nodeIDs[n.Child] {
			out[n.NodeID] = append(out[n.NodeID], n.Child)
		}
		for _, child := range n.Children {
			if nodeIDs[child] {
				out[n.NodeID] = append(out[n.NodeID], child)
			}
		}
	}

	if hasCycle(nodeIDs, out) {
		result.AddError("nodes", schema.ErrCodeCycleDetected,
			"pricing graph contains a cycle")
		return result
	}

	if nodeIDs[pg.RootNodeID] {
		reachable := bfs(pg.RootNodeID, out)
		for _, n := range pg.Nodes {
			if !reachable[n.NodeID] {
				result.AddWarning(fmt.Sprintf("nodes[%s]", n.NodeID),
					schema.ErrCodeValidation,
					fmt.Sprintf("node %q is unreachable from the root node", n.NodeID))
			}
		}
	}

	return result
}

// hasCycle runs Kahn's algorithm over the adjacency lists and reports
// whether a cycle prevents a full topological order.
func hasCycle(nodeIDs map[string]bool, out map[string][]string) bool {
	inDegree := make(map[string]int, len(nodeIDs))
	for id := range nodeIDs {
		inDegree[id] = 0
	}
	for _, targets := range out {
		for _, to := range targets {
			inDegree[to]++
		}
	}

	queue := make([]string, 0, len(nodeIDs))
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	visited := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited++
		for _, to := range out[node] {
			inDegree[to]--
			if inDegree[to] == 0 {
				queue = append(queue, to)
			}
		}
	}
	return visited != len(nodeIDs)
}

// bfs returns the set of nodes reachable from start through out-edges.
func bfs(start string, out map[string][]string) map[string]bool {
	reachable := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, to := range out[node] {
			if !reachable[to] {
				reachable[to] = true
				queue = append(queue, to)
			}
		}
	}
	return reachable
}
