package store

import (
	"encoding/json"
	"time"

	"github.com/quotekit/quotekit/pkg/schema"
)

// Run is the persisted representation of an estimation run. Runs are never
// physically deleted, only status-transitioned.
type Run struct {
	ID            string           `json:"id"`
	ProjectID     string           `json:"project_id"`
	GraphID       string           `json:"graph_version_id"`
	PricingID     string           `json:"pricing_graph_version_id"`
	Status        schema.RunStatus `json:"status"`
	CurrentNodeID string           `json:"current_node_id"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
}

// Answer is one row of the append-only answer ledger. A later answer for
// the same node in a higher batch supersedes the earlier one logically;
// the row itself is retained for replay and audit.
type Answer struct {
	ID         int64           `json:"id"`
	RunID      string          `json:"run_id"`
	NodeID     string          `json:"node_id"`
	BatchID    string          `json:"batch_id"`
	BatchSeq   int64           `json:"batch_seq"`
	Value      json.RawMessage `json:"value"`
	Superseded bool            `json:"superseded"`
	CreatedAt  time.Time       `json:"created_at"`
}

// RunUpdate specifies mutable fields of a run.
type RunUpdate struct {
	Status        *schema.RunStatus `json:"status,omitempty"`
	CurrentNodeID *string           `json:"current_node_id,omitempty"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	ProjectID string            `json:"project_id,omitempty"`
	Status    *schema.RunStatus `json:"status,omitempty"`
	IdleSince *time.Time        `json:"idle_since,omitempty"` // updated_at older than this
	Limit     int               `json:"limit,omitempty"`
	Offset    int               `json:"offset,omitempty"`
}
