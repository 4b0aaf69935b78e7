package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quotekit/quotekit/internal/expressions"
	"github.com/quotekit/quotekit/internal/facts"
	"github.com/quotekit/quotekit/internal/iftree"
	"github.com/quotekit/quotekit/internal/logging"
	"github.com/quotekit/quotekit/internal/pricing"
	"github.com/quotekit/quotekit/internal/store"
	"github.com/quotekit/quotekit/pkg/schema"
)

// RunState is the engine's answer to "where is the user": the run's
// status, current node, and the page the renderer should show next.
type RunState struct {
	RunID         string           `json:"run_id"`
	ProjectID     string           `json:"project_id"`
	Status        schema.RunStatus `json:"status"`
	CurrentNodeID string           `json:"current_node_id"`
	Page          *schema.Page     `json:"page"`
}

// Estimator owns estimation runs: it starts them, applies answer batches,
// replays the ledger for back-navigation and resumption, and computes
// estimates. Operations on one run are serialized through a run-scoped
// mutex; answer/goBack both read-then-write the ledger and a race would
// corrupt the derived current position.
type Estimator struct {
	store    store.Store
	conds    *expressions.Conditions
	arith    *expressions.ArithEngine
	resolver *facts.Resolver
	logger   *slog.Logger

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	// Published definitions are immutable, so traversal indexes and
	// pricing graphs are cached indefinitely by version ID.
	defMu    sync.RWMutex
	graphs   map[string]*Graph
	pricings map[string]*schema.PricingGraph
}

// NewEstimator creates an Estimator.
func NewEstimator(s store.Store, conds *expressions.Conditions, arith *expressions.ArithEngine, resolver *facts.Resolver, logger *slog.Logger) *Estimator {
	return &Estimator{
		store:    s,
		conds:    conds,
		arith:    arith,
		resolver: resolver,
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
		graphs:   make(map[string]*Graph),
		pricings: make(map[string]*schema.PricingGraph),
	}
}

// lockRun acquires the run-scoped mutex and returns its unlock func.
func (e *Estimator) lockRun(runID string) func() {
	e.lockMu.Lock()
	mu, ok := e.locks[runID]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[runID] = mu
	}
	e.lockMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// graph returns the cached traversal index for a published decision graph.
func (e *Estimator) graph(ctx context.Context, id string) (*Graph, error) {
	e.defMu.RLock()
	g, ok := e.graphs[id]
	e.defMu.RUnlock()
	if ok {
		return g, nil
	}

	def, err := e.store.GetDecisionGraph(ctx, id)
	if err != nil {
		return nil, err
	}
	if !def.Published {
		return nil, schema.NewErrorf(schema.ErrCodeConfig,
			"decision graph %q is not published", id)
	}
	g, err = BuildGraph(def)
	if err != nil {
		return nil, err
	}

	e.defMu.Lock()
	e.graphs[id] = g
	e.defMu.Unlock()
	return g, nil
}

// pricingGraph returns the cached published pricing graph.
func (e *Estimator) pricingGraph(ctx context.Context, id string) (*schema.PricingGraph, error) {
	e.defMu.RLock()
	pg, ok := e.pricings[id]
	e.defMu.RUnlock()
	if ok {
		return pg, nil
	}

	pg, err := e.store.GetPricingGraph(ctx, id)
	if err != nil {
		return nil, err
	}
	if !pg.Published {
		return nil, schema.NewErrorf(schema.ErrCodeConfig,
			"pricing graph %q is not published", id)
	}

	e.defMu.Lock()
	e.pricings[id] = pg
	e.defMu.Unlock()
	return pg, nil
}

// Start creates a run against published graph versions and returns the
// first page.
func (e *Estimator) Start(ctx context.Context, projectID, graphID, pricingID string) (*RunState, error) {
	g, err := e.graph(ctx, graphID)
	if err != nil {
		return nil, err
	}
	if _, err := e.pricingGraph(ctx, pricingID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	run := &store.Run{
		ID:            uuid.New().String(),
		ProjectID:     projectID,
		GraphID:       graphID,
		PricingID:     pricingID,
		Status:        schema.RunStatusActive,
		CurrentNodeID: g.Entry(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	page, err := g.ComputePage(run.CurrentNodeID)
	if err != nil {
		return nil, err
	}

	ctx = logging.WithRunID(ctx, run.ID)
	e.logger.InfoContext(ctx, "run started",
		slog.String("graph_id", graphID),
		slog.String("pricing_id", pricingID))

	return &RunState{
		RunID:         run.ID,
		ProjectID:     projectID,
		Status:        run.Status,
		CurrentNodeID: run.CurrentNodeID,
		Page:          page,
	}, nil
}

// GetState returns the page at the run's current position.
func (e *Estimator) GetState(ctx context.Context, runID string) (*RunState, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	g, err := e.graph(ctx, run.GraphID)
	if err != nil {
		return nil, err
	}
	page, err := g.ComputePage(run.CurrentNodeID)
	if err != nil {
		return nil, err
	}
	return &RunState{
		RunID:         run.ID,
		ProjectID:     run.ProjectID,
		Status:        run.Status,
		CurrentNodeID: run.CurrentNodeID,
		Page:          page,
	}, nil
}

// ListRuns lists a project's runs, newest first.
func (e *Estimator) ListRuns(ctx context.Context, projectID string) ([]*store.Run, error) {
	return e.store.ListRuns(ctx, store.RunFilter{ProjectID: projectID})
}

// Answer validates and appends a batch of answers, advances the run, and
// returns the next page. The batch is atomic and idempotent per batch ID:
// resubmitting a live batch returns the current state without touching the
// ledger.
func (e *Estimator) Answer(ctx context.Context, runID, batchID string, values map[string]any) (*RunState, error) {
	unlock := e.lockRun(runID)
	defer unlock()
	ctx = logging.WithRunID(ctx, runID)

	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	switch run.Status {
	case schema.RunStatusCompleted:
		return nil, schema.NewErrorf(schema.ErrCodeState, "run %q is already completed", runID)
	case schema.RunStatusAbandoned:
		return nil, schema.NewErrorf(schema.ErrCodeState, "run %q is abandoned", runID)
	}
	if batchID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "batch id is required")
	}

	g, err := e.graph(ctx, run.GraphID)
	if err != nil {
		return nil, err
	}
	page, err := g.ComputePage(run.CurrentNodeID)
	if err != nil {
		return nil, err
	}

	answers, err := e.validateBatch(g, page, values)
	if err != nil {
		return nil, err
	}

	// Resolve facts over the candidate ledger before committing anything:
	// an enum value outside the option set or a failing fact projection
	// must reject the batch, not leave it live while Answer errors.
	scope, _, _, err := e.scopeWith(ctx, run, answers)
	if err != nil {
		return nil, err
	}

	applied, err := e.store.AppendBatch(ctx, runID, batchID, answers)
	if err != nil {
		return nil, err
	}
	if !applied {
		// Duplicate batch: the ledger already holds it, just report state.
		e.logger.InfoContext(ctx, "duplicate answer batch ignored", slog.String("batch_id", batchID))
		return e.GetState(ctx, runID)
	}

	last := page.Nodes[len(page.Nodes)-1]
	next, warnings, err := g.SelectEdge(ctx, e.conds, last.NodeID, scope)
	if err != nil {
		return nil, err
	}
	e.logWarnings(ctx, warnings)

	return e.advance(ctx, run, g, next)
}

// advance moves the run to the next node, completing it on a terminal.
func (e *Estimator) advance(ctx context.Context, run *store.Run, g *Graph, next string) (*RunState, error) {
	node, ok := g.Node(next)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "edge target %q does not exist", next)
	}

	status := schema.RunStatusActive
	update := store.RunUpdate{CurrentNodeID: &next}
	if node.Type == schema.NodeTypeTerminal {
		status = schema.RunStatusCompleted
		now := time.Now().UTC()
		update.CompletedAt = &now
	}
	if err := Transition(run.ID, run.Status, status); err != nil {
		return nil, err
	}
	update.Status = &status

	if err := e.store.UpdateRun(ctx, run.ID, update); err != nil {
		return nil, err
	}
	// The ledger changed; any cached report is stale.
	if err := e.store.DeleteReport(ctx, run.ID); err != nil {
		return nil, err
	}

	page, err := g.ComputePage(next)
	if err != nil {
		return nil, err
	}
	return &RunState{
		RunID:         run.ID,
		ProjectID:     run.ProjectID,
		Status:        status,
		CurrentNodeID: next,
		Page:          page,
	}, nil
}

// GoBack supersedes the most recent answer batch and re-derives the run's
// position by replaying the remaining ledger from the entry node. Replay,
// not pointer decrement: conditional edges may depend on facts a later
// answer changed, so position must stay a pure function of the ledger.
func (e *Estimator) GoBack(ctx context.Context, runID string) (*RunState, error) {
	unlock := e.lockRun(runID)
	defer unlock()
	ctx = logging.WithRunID(ctx, runID)

	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status == schema.RunStatusAbandoned {
		return nil, schema.NewErrorf(schema.ErrCodeState, "run %q is abandoned", runID)
	}

	live, err := e.store.GetAnswers(ctx, runID, false)
	if err != nil {
		return nil, err
	}
	if len(live) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeState, "run %q has no answers to undo", runID)
	}

	lastSeq := live[len(live)-1].BatchSeq
	if err := e.store.SupersedeBatch(ctx, runID, lastSeq); err != nil {
		return nil, err
	}
	if err := e.store.DeleteReport(ctx, runID); err != nil {
		return nil, err
	}

	return e.rederive(ctx, run)
}

// Resume reloads a run and derives its page from the live ledger. This is
// the same replay used by goBack, so exactly one code path decides where
// the user is.
func (e *Estimator) Resume(ctx context.Context, runID string) (*RunState, error) {
	unlock := e.lockRun(runID)
	defer unlock()
	ctx = logging.WithRunID(ctx, runID)

	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status == schema.RunStatusAbandoned {
		return nil, schema.NewErrorf(schema.ErrCodeState, "run %q is abandoned", runID)
	}
	return e.rederive(ctx, run)
}

// rederive replays the live ledger and persists the derived position if it
// drifted from the stored one.
func (e *Estimator) rederive(ctx context.Context, run *store.Run) (*RunState, error) {
	g, err := e.graph(ctx, run.GraphID)
	if err != nil {
		return nil, err
	}
	current, status, page, err := e.replay(ctx, run, g)
	if err != nil {
		return nil, err
	}

	if current != run.CurrentNodeID || status != run.Status {
		if err := Transition(run.ID, run.Status, status); err != nil {
			return nil, err
		}
		update := store.RunUpdate{CurrentNodeID: &current, Status: &status}
		if err := e.store.UpdateRun(ctx, run.ID, update); err != nil {
			return nil, err
		}
	}

	return &RunState{
		RunID:         run.ID,
		ProjectID:     run.ProjectID,
		Status:        status,
		CurrentNodeID: current,
		Page:          page,
	}, nil
}

// replay folds the live ledger from the entry node: compute a page, and if
// every question on it is answered, select the outgoing edge and continue.
// The position it derives is a pure function of the ledger.
func (e *Estimator) replay(ctx context.Context, run *store.Run, g *Graph) (string, schema.RunStatus, *schema.Page, error) {
	scope, _, _, err := e.buildScope(ctx, run)
	if err != nil {
		return "", "", nil, err
	}
	answered, _ := scope["answers"].(map[string]any)

	current := g.Entry()
	for hops := 0; hops <= len(g.nodes); hops++ {
		page, err := g.ComputePage(current)
		if err != nil {
			return "", "", nil, err
		}
		if page.Terminal {
			return current, schema.RunStatusCompleted, page, nil
		}

		complete := true
		for _, n := range page.Nodes {
			if _, ok := answered[n.NodeID]; !ok {
				complete = false
				break
			}
		}
		if !complete {
			return current, schema.RunStatusActive, page, nil
		}

		last := page.Nodes[len(page.Nodes)-1]
		next, warnings, err := g.SelectEdge(ctx, e.conds, last.NodeID, scope)
		if err != nil {
			return "", "", nil, err
		}
		e.logWarnings(ctx, warnings)
		current = next
	}
	return "", "", nil, schema.NewErrorf(schema.ErrCodeCycleDetected,
		"replay exceeded %d hops in graph %s", len(g.nodes), g.def.ID)
}

// Calculate resolves facts and variables, evaluates the if-trees, prices
// the run, and persists the resulting report. Unlike branch conditions, an
// evaluation error here is fatal; a price must not be silently wrong.
func (e *Estimator) Calculate(ctx context.Context, runID string) (*schema.EstimateReport, error) {
	unlock := e.lockRun(runID)
	defer unlock()
	ctx = logging.WithRunID(ctx, runID)

	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status == schema.RunStatusAbandoned {
		return nil, schema.NewErrorf(schema.ErrCodeState, "run %q is abandoned", runID)
	}

	scope, factVals, varVals, err := e.buildScope(ctx, run)
	if err != nil {
		return nil, err
	}

	pg, err := e.pricingGraph(ctx, run.PricingID)
	if err != nil {
		return nil, err
	}

	adjustments, warnings := iftree.EvaluateAll(ctx, e.conds, pg.Trees, scope)
	e.logWarnings(ctx, warnings)

	report, err := pricing.Evaluate(ctx, e.arith, pg, facts.NumericEnv(factVals, varVals), adjustments)
	if err != nil {
		return nil, err
	}
	report.RunID = runID
	report.Warnings = warnings

	if err := e.store.PutReport(ctx, runID, report); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "estimate calculated",
		slog.Float64("total", report.Total),
		slog.Int("lines", len(report.Lines)),
		slog.Int("warnings", len(report.Warnings)))
	return report, nil
}

// Report returns the latest stored report, computing one if the ledger
// changed since the last calculation.
func (e *Estimator) Report(ctx context.Context, runID string) (*schema.EstimateReport, error) {
	report, err := e.store.GetReport(ctx, runID)
	if err == nil {
		return report, nil
	}
	if schema.CodeOf(err) != schema.ErrCodeNotFound {
		return nil, err
	}
	return e.Calculate(ctx, runID)
}

// Breakdown returns the report's line items.
func (e *Estimator) Breakdown(ctx context.Context, runID string) ([]schema.BreakdownLine, error) {
	report, err := e.Report(ctx, runID)
	if err != nil {
		return nil, err
	}
	return report.Lines, nil
}

// --- Internals ---

// validateBatch checks that the batch exactly covers the current page and
// that every value matches its node's input kind. The run is untouched if
// any check fails.
func (e *Estimator) validateBatch(g *Graph, page *schema.Page, values map[string]any) ([]*store.Answer, error) {
	for nodeID := range values {
		if !page.Contains(nodeID) {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"node %q is not on the current page", nodeID).WithNode(nodeID)
		}
	}

	answers := make([]*store.Answer, 0, len(values))
	for _, n := range page.Nodes {
		v, ok := values[n.NodeID]
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"missing answer for node %q", n.NodeID).WithNode(n.NodeID)
		}
		if err := checkAnswerKind(&n, v); err != nil {
			return nil, err
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"answer for node %q is not serializable", n.NodeID).WithNode(n.NodeID).WithCause(err)
		}
		answers = append(answers, &store.Answer{NodeID: n.NodeID, Value: raw})
	}
	return answers, nil
}

func checkAnswerKind(n *schema.GraphNode, v any) error {
	kind := n.Config.Input
	switch kind {
	case schema.InputNumber:
		if _, err := expressions.ToNumber(n.NodeID, v); err != nil {
			return badAnswer(n, v, kind)
		}
	case schema.InputBoolean:
		if _, ok := v.(bool); !ok {
			return badAnswer(n, v, kind)
		}
	case schema.InputEnum, schema.InputText:
		if _, ok := v.(string); !ok {
			return badAnswer(n, v, kind)
		}
	case schema.InputComposite:
		if _, ok := v.(map[string]any); !ok {
			return badAnswer(n, v, kind)
		}
	}
	return nil
}

func badAnswer(n *schema.GraphNode, v any, kind schema.InputKind) error {
	return schema.NewErrorf(schema.ErrCodeValidation,
		"answer for node %q is %T, want %s", n.NodeID, v, kind).WithNode(n.NodeID)
}

// buildScope loads the project definitions, folds the live ledger into
// latest-answer values, and resolves facts and variables.
func (e *Estimator) buildScope(ctx context.Context, run *store.Run) (map[string]any, map[string]schema.FactValue, map[string]any, error) {
	return e.scopeWith(ctx, run, nil)
}

// scopeWith resolves the scope over the live ledger plus a not-yet-committed
// batch. Answer validates a candidate batch through it so fact resolution
// failures surface before the ledger is touched.
func (e *Estimator) scopeWith(ctx context.Context, run *store.Run, pending []*store.Answer) (map[string]any, map[string]schema.FactValue, map[string]any, error) {
	live, err := e.store.GetAnswers(ctx, run.ID, false)
	if err != nil {
		return nil, nil, nil, err
	}
	latest := latestValues(append(live, pending...))

	factDefs, err := e.store.ListFacts(ctx, run.ProjectID)
	if err != nil {
		return nil, nil, nil, err
	}
	varDefs, err := e.store.ListVariables(ctx, run.ProjectID)
	if err != nil {
		return nil, nil, nil, err
	}

	factVals, err := e.resolver.Facts(ctx, factDefs, latest)
	if err != nil {
		return nil, nil, nil, err
	}
	varVals, err := e.resolver.Variables(ctx, varDefs, factVals)
	if err != nil {
		return nil, nil, nil, err
	}

	return facts.ConditionScope(factVals, varVals, latest), factVals, varVals, nil
}

// latestValues folds the live ledger into the newest decoded value per
// node. Answers arrive ordered by batch sequence, so later entries win.
func latestValues(answers []*store.Answer) map[string]any {
	latest := make(map[string]any)
	for _, a := range answers {
		var v any
		if err := json.Unmarshal(a.Value, &v); err != nil {
			continue
		}
		latest[a.NodeID] = v
	}
	return latest
}

func (e *Estimator) logWarnings(ctx context.Context, warnings []schema.Warning) {
	for _, w := range warnings {
		e.logger.WarnContext(ctx, "condition degraded to false",
			slog.String("code", w.Code),
			slog.String("source", w.Source),
			slog.String("detail", w.Message))
	}
}
