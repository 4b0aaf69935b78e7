package store

import (
	"context"

	"github.com/quotekit/quotekit/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Definitions (immutable once published)
	PutDecisionGraph(ctx context.Context, g *schema.DecisionGraph) error
	GetDecisionGraph(ctx context.Context, id string) (*schema.DecisionGraph, error)
	PutPricingGraph(ctx context.Context, g *schema.PricingGraph) error
	GetPricingGraph(ctx context.Context, id string) (*schema.PricingGraph, error)
	PutFacts(ctx context.Context, projectID string, defs []*schema.FactDefinition) error
	ListFacts(ctx context.Context, projectID string) ([]*schema.FactDefinition, error)
	PutVariables(ctx context.Context, projectID string, vars []*schema.Variable) error
	ListVariables(ctx context.Context, projectID string) ([]*schema.Variable, error)

	// Runs
	CreateRun(ctx context.Context, r *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRun(ctx context.Context, id string, update RunUpdate) error
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)

	// Answer ledger (append-only)
	AppendBatch(ctx context.Context, runID, batchID string, answers []*Answer) (applied bool, err error)
	GetAnswers(ctx context.Context, runID string, includeSuperseded bool) ([]*Answer, error)
	SupersedeBatch(ctx context.Context, runID string, batchSeq int64) error

	// Reports (derived, recomputed on demand)
	PutReport(ctx context.Context, runID string, report *schema.EstimateReport) error
	GetReport(ctx context.Context, runID string) (*schema.EstimateReport, error)
	DeleteReport(ctx context.Context, runID string) error

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}
