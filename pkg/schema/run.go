package schema

import "time"

// RunStatus enumerates the lifecycle states of an estimation run.
type RunStatus string

const (
	RunStatusActive    RunStatus = "active"
	RunStatusCompleted RunStatus = "completed"
	RunStatusAbandoned RunStatus = "abandoned"
)

// Page is a maximal run of consecutive nodes reachable by unconditional
// edges, shown to the user in one step. Terminal marks the end of the
// questionnaire.
type Page struct {
	Nodes    []GraphNode `json:"nodes"`
	Terminal bool        `json:"terminal"`
}

// NodeIDs returns the node IDs of the page in display order.
func (p *Page) NodeIDs() []string {
	ids := make([]string, len(p.Nodes))
	for i, n := range p.Nodes {
		ids[i] = n.NodeID
	}
	return ids
}

// Contains reports whether the page holds the given node.
func (p *Page) Contains(nodeID string) bool {
	for _, n := range p.Nodes {
		if n.NodeID == nodeID {
			return true
		}
	}
	return false
}

// FactValue is a typed fact derived from the answer ledger.
type FactValue struct {
	Type   FactType `json:"type"`
	Bool   bool     `json:"bool,omitempty"`
	Number float64  `json:"number,omitempty"`
	Str    string   `json:"str,omitempty"`
	Enum   string   `json:"enum,omitempty"`
	Weight float64  `json:"weight,omitempty"` // numeric coercion of an enum value
}

// Native returns the fact as a plain Go value for expression environments.
func (f FactValue) Native() any {
	switch f.Type {
	case FactBoolean:
		return f.Bool
	case FactNumber:
		return f.Number
	case FactEnum:
		return f.Enum
	default:
		return f.Str
	}
}

// Warning is a non-fatal evaluation problem attached to a report, e.g. an
// if-tree branch condition that failed to evaluate and was treated as false.
type Warning struct {
	Code    string `json:"code"`
	Source  string `json:"source,omitempty"`
	Message string `json:"message"`
}

// BreakdownLine is one human-readable row of an estimate report.
type BreakdownLine struct {
	Label        string  `json:"label"`
	Amount       float64 `json:"amount"`
	SourceNodeID string  `json:"source_node_id"`
}

// EstimateReport is the derived output of pricing evaluation. It is
// recomputed on demand and never a source of truth.
type EstimateReport struct {
	RunID      string          `json:"run_id"`
	Total      float64         `json:"total"`
	Lines      []BreakdownLine `json:"lines"`
	Warnings   []Warning       `json:"warnings,omitempty"`
	ComputedAt time.Time       `json:"computed_at"`
}
