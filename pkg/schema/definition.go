package schema

// DecisionGraph is the versioned questionnaire definition: an ordered set of
// nodes joined by (optionally conditional) edges. Published versions are
// immutable and shared read-only across every run that references them.
type DecisionGraph struct {
	ID        string      `json:"id"`
	ProjectID string      `json:"project_id"`
	Version   int         `json:"version"`
	Published bool        `json:"published"`
	Nodes     []GraphNode `json:"nodes"`
	Edges     []GraphEdge `json:"edges"`
}

// NodeType enumerates the kinds of decision graph nodes.
type NodeType string

const (
	NodeTypeQuestion NodeType = "question"
	NodeTypeTerminal NodeType = "terminal"
)

// InputKind enumerates the answer value shapes a question node accepts.
type InputKind string

const (
	InputNumber    InputKind = "number"
	InputBoolean   InputKind = "boolean"
	InputEnum      InputKind = "enum"
	InputText      InputKind = "text"
	InputComposite InputKind = "composite"
)

// GraphNode is one node of a decision graph. NodeID is stable across graph
// versions; Config is snapshotted when the graph is published.
type GraphNode struct {
	NodeID  string     `json:"node_id"`
	Type    NodeType   `json:"type"`
	Ordinal int        `json:"ordinal"`
	Config  NodeConfig `json:"config"`
}

// NodeConfig is the strongly-typed question configuration. Loosely-typed
// authoring payloads are converted into this form once, at load time.
type NodeConfig struct {
	Prompt   string    `json:"prompt"`
	Input    InputKind `json:"input,omitempty"`
	Rule     string    `json:"rule,omitempty"`      // optional validation note, informational
	EnumFact string    `json:"enum_fact,omitempty"` // fact supplying the option set
}

// GraphEdge connects two nodes. A nil Condition marks the unconditional
// fallback edge; at most one such edge may leave a node.
type GraphEdge struct {
	FromNodeID string     `json:"from_node_id"`
	ToNodeID   string     `json:"to_node_id"`
	Ordinal    int        `json:"ordinal"`
	Condition  *Condition `json:"condition,omitempty"`
}

// Condition is a boolean expression over facts, variables, and answers.
type Condition struct {
	Language string `json:"language,omitempty"` // cel (default) or expr
	Source   string `json:"source"`
}

// FactType enumerates fact value types.
type FactType string

const (
	FactBoolean FactType = "boolean"
	FactNumber  FactType = "number"
	FactEnum    FactType = "enum"
	FactString  FactType = "string"
)

// FactDefinition declares a typed fact derived from answers. A fact bound to
// a node projects that node's latest answer; Path optionally narrows a
// composite answer with a jq expression.
type FactDefinition struct {
	Name      string       `json:"name"`
	ProjectID string       `json:"project_id"`
	Type      FactType     `json:"type"`
	NodeID    string       `json:"node_id,omitempty"`
	Path      string       `json:"path,omitempty"`
	Options   []EnumOption `json:"options,omitempty"`
}

// EnumOption is one allowed value of an enum fact. Weight is the numeric
// coercion value; when absent the ordinal is used instead.
type EnumOption struct {
	Value   string   `json:"value"`
	Label   string   `json:"label,omitempty"`
	Ordinal int      `json:"ordinal"`
	Weight  *float64 `json:"weight,omitempty"`
}

// VariableKind enumerates how a variable resolves.
type VariableKind string

const (
	VariableLiteral    VariableKind = "literal"
	VariableFact       VariableKind = "fact"
	VariableExpression VariableKind = "expression"
)

// Variable is a named, project-scoped value consumed by conditions and
// pricing expressions. Expression variables may reference other variables;
// cycles are a configuration error.
type Variable struct {
	Name      string       `json:"name"`
	ProjectID string       `json:"project_id"`
	Kind      VariableKind `json:"kind"`
	Literal   *float64     `json:"literal,omitempty"`
	Fact      string       `json:"fact,omitempty"`
	Source    string       `json:"source,omitempty"`
}

// AdjustmentOp enumerates pricing adjustment operations.
type AdjustmentOp string

const (
	AdjustAdd      AdjustmentOp = "add"
	AdjustMultiply AdjustmentOp = "multiply"
	AdjustOverride AdjustmentOp = "override"
)

// Adjustment is a pricing modification targeting an adjustment node of the
// pricing graph, produced by a matching if-tree branch.
type Adjustment struct {
	TargetNodeID string       `json:"target_node_id"`
	Op           AdjustmentOp `json:"op"`
	Amount       float64      `json:"amount"`
	Label        string       `json:"label,omitempty"`
}

// IfTree is an ordered decision list: branches are tried in ascending
// ordinal order and the first branch whose condition holds wins.
type IfTree struct {
	ID       string   `json:"id"`
	Name     string   `json:"name,omitempty"`
	Ordinal  int      `json:"ordinal"`
	Branches []Branch `json:"branches"`
}

// Branch is one conditional arm of an if-tree.
type Branch struct {
	Ordinal     int          `json:"ordinal"`
	Condition   Condition    `json:"condition"`
	Adjustments []Adjustment `json:"adjustments"`
}

// PricingNodeKind enumerates the kinds of pricing graph nodes.
type PricingNodeKind string

const (
	PricingLiteral    PricingNodeKind = "literal"
	PricingVariable   PricingNodeKind = "variable"
	PricingAdjustment PricingNodeKind = "adjustment"
	PricingExpression PricingNodeKind = "expression"
)

// PricingNode is one node of the pricing DAG.
//
// literal:    Literal holds the constant.
// variable:   Variable names a resolved environment value.
// adjustment: Child names the base node; adjustments tagged with this
//             node's ID are applied to the base (override, then add, then
//             multiply).
// expression: Source is an arithmetic expression whose identifiers are the
//             IDs listed in Children.
type PricingNode struct {
	NodeID   string          `json:"node_id"`
	Kind     PricingNodeKind `json:"kind"`
	Label    string          `json:"label,omitempty"`
	Literal  *float64        `json:"literal,omitempty"`
	Variable string          `json:"variable,omitempty"`
	Child    string          `json:"child,omitempty"`
	Source   string          `json:"source,omitempty"`
	Children []string        `json:"children,omitempty"`
}

// PricingGraph is the versioned pricing DAG plus the if-trees that feed it.
// RootNodeID designates the node whose value becomes the estimate total.
type PricingGraph struct {
	ID         string        `json:"id"`
	ProjectID  string        `json:"project_id"`
	Version    int           `json:"version"`
	Published  bool          `json:"published"`
	RootNodeID string        `json:"root_node_id"`
	Nodes      []PricingNode `json:"nodes"`
	Trees      []IfTree      `json:"trees,omitempty"`
}
