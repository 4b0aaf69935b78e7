package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotekit/quotekit/internal/expressions"
	"github.com/quotekit/quotekit/pkg/schema"
)

func question(id string, ordinal int) schema.GraphNode {
	return schema.GraphNode{
		NodeID:  id,
		Type:    schema.NodeTypeQuestion,
		Ordinal: ordinal,
		Config:  schema.NodeConfig{Prompt: id, Input: schema.InputNumber},
	}
}

func terminal(id string) schema.GraphNode {
	return schema.GraphNode{NodeID: id, Type: schema.NodeTypeTerminal}
}

func edge(from, to string, ordinal int) schema.GraphEdge {
	return schema.GraphEdge{FromNodeID: from, ToNodeID: to, Ordinal: ordinal}
}

func condEdge(from, to string, ordinal int, src string) schema.GraphEdge {
	return schema.GraphEdge{
		FromNodeID: from, ToNodeID: to, Ordinal: ordinal,
		Condition: &schema.Condition{Source: src},
	}
}

func newTestConds(t *testing.T) *expressions.Conditions {
	t.Helper()
	c, err := expressions.NewConditions()
	require.NoError(t, err)
	return c
}

// --- BuildGraph ---

func TestBuildGraph_SingleEntry(t *testing.T) {
	g, err := BuildGraph(&schema.DecisionGraph{
		ID:    "g",
		Nodes: []schema.GraphNode{question("a", 0), question("b", 1), terminal("end")},
		Edges: []schema.GraphEdge{edge("a", "b", 0), edge("b", "end", 0)},
	})
	require.NoError(t, err)
	assert.Equal(t, "a", g.Entry())
}

func TestBuildGraph_Errors(t *testing.T) {
	t.Run("duplicate node", func(t *testing.T) {
		_, err := BuildGraph(&schema.DecisionGraph{
			ID:    "g",
			Nodes: []schema.GraphNode{question("a", 0), question("a", 1)},
		})
		require.Error(t, err)
		assert.Equal(t, schema.ErrCodeConfig, schema.CodeOf(err))
	})

	t.Run("unknown edge endpoint", func(t *testing.T) {
		_, err := BuildGraph(&schema.DecisionGraph{
			ID:    "g",
			Nodes: []schema.GraphNode{question("a", 0)},
			Edges: []schema.GraphEdge{edge("a", "ghost", 0)},
		})
		require.Error(t, err)
	})

	t.Run("two entries", func(t *testing.T) {
		_, err := BuildGraph(&schema.DecisionGraph{
			ID:    "g",
			Nodes: []schema.GraphNode{question("a", 0), question("b", 1), terminal("end")},
			Edges: []schema.GraphEdge{edge("a", "end", 0), edge("b", "end", 0)},
		})
		require.Error(t, err)
		assert.Equal(t, schema.ErrCodeConfig, schema.CodeOf(err))
	})
}

// --- ComputePage ---

func TestComputePage_CollectsUnconditionalRun(t *testing.T) {
	g, err := BuildGraph(&schema.DecisionGraph{
		ID: "g",
		Nodes: []schema.GraphNode{
			question("a", 0), question("b", 1), question("c", 2), terminal("end"),
		},
		Edges: []schema.GraphEdge{
			edge("a", "b", 0),
			edge("b", "c", 0),
			condEdge("c", "end", 0, "true"),
			edge("c", "end", 1),
		},
	})
	require.NoError(t, err)

	page, err := g.ComputePage("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, page.NodeIDs())
	assert.False(t, page.Terminal)
}

func TestComputePage_StopsBeforeTerminal(t *testing.T) {
	g, err := BuildGraph(&schema.DecisionGraph{
		ID:    "g",
		Nodes: []schema.GraphNode{question("a", 0), terminal("end")},
		Edges: []schema.GraphEdge{edge("a", "end", 0)},
	})
	require.NoError(t, err)

	page, err := g.ComputePage("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, page.NodeIDs())
	assert.False(t, page.Terminal)
}

func TestComputePage_TerminalStart(t *testing.T) {
	g, err := BuildGraph(&schema.DecisionGraph{
		ID:    "g",
		Nodes: []schema.GraphNode{question("a", 0), terminal("end")},
		Edges: []schema.GraphEdge{edge("a", "end", 0)},
	})
	require.NoError(t, err)

	page, err := g.ComputePage("end")
	require.NoError(t, err)
	assert.True(t, page.Terminal)
	assert.Equal(t, []string{"end"}, page.NodeIDs())
}

// --- SelectEdge ---

func TestSelectEdge_LowestOrdinalWins(t *testing.T) {
	g, err := BuildGraph(&schema.DecisionGraph{
		ID: "g",
		Nodes: []schema.GraphNode{
			question("a", 0), question("b", 1), question("c", 2), terminal("end"),
		},
		Edges: []schema.GraphEdge{
			condEdge("a", "c", 1, `facts["n"] > 0.0`),
			condEdge("a", "b", 0, `facts["n"] > 0.0`),
			edge("b", "end", 0),
			edge("c", "end", 0),
		},
	})
	require.NoError(t, err)

	scope := map[string]any{"facts": map[string]any{"n": 5.0}}
	to, warns, err := g.SelectEdge(context.Background(), newTestConds(t), "a", scope)
	require.NoError(t, err)
	assert.Empty(t, warns)
	// Both conditions hold; the lower ordinal is the deterministic winner.
	assert.Equal(t, "b", to)
}

func TestSelectEdge_UnconditionalFallback(t *testing.T) {
	g, err := BuildGraph(&schema.DecisionGraph{
		ID: "g",
		Nodes: []schema.GraphNode{
			question("a", 0), question("b", 1), question("c", 2), terminal("end"),
		},
		Edges: []schema.GraphEdge{
			condEdge("a", "b", 0, `facts["n"] > 100.0`),
			edge("a", "c", 1),
			edge("b", "end", 0),
			edge("c", "end", 0),
		},
	})
	require.NoError(t, err)

	scope := map[string]any{"facts": map[string]any{"n": 5.0}}
	to, warns, err := g.SelectEdge(context.Background(), newTestConds(t), "a", scope)
	require.NoError(t, err)
	assert.Empty(t, warns)
	assert.Equal(t, "c", to)
}

func TestSelectEdge_EvalFailureDegradesToFallback(t *testing.T) {
	g, err := BuildGraph(&schema.DecisionGraph{
		ID: "g",
		Nodes: []schema.GraphNode{
			question("a", 0), question("b", 1), question("c", 2), terminal("end"),
		},
		Edges: []schema.GraphEdge{
			condEdge("a", "b", 0, `facts["missing"] == true`),
			edge("a", "c", 1),
			edge("b", "end", 0),
			edge("c", "end", 0),
		},
	})
	require.NoError(t, err)

	scope := map[string]any{"facts": map[string]any{}}
	to, warns, err := g.SelectEdge(context.Background(), newTestConds(t), "a", scope)
	require.NoError(t, err)
	require.Len(t, warns, 1)
	assert.Equal(t, "c", to)
}

func TestSelectEdge_NoMatchNoFallback(t *testing.T) {
	g, err := BuildGraph(&schema.DecisionGraph{
		ID: "g",
		Nodes: []schema.GraphNode{
			question("a", 0), question("b", 1), terminal("end"),
		},
		Edges: []schema.GraphEdge{
			condEdge("a", "b", 0, `facts["n"] > 100.0`),
			edge("b", "end", 0),
		},
	})
	require.NoError(t, err)

	scope := map[string]any{"facts": map[string]any{"n": 1.0}}
	_, _, err = g.SelectEdge(context.Background(), newTestConds(t), "a", scope)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeConfig, schema.CodeOf(err))
}
