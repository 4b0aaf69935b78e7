package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/quotekit/quotekit/pkg/schema"
)

// handleStart begins an estimation run and returns its first page.
func (s *QuoteKitServer) handleStart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, err := req.RequireString("project_id")
	if err != nil {
		return mcp.NewToolResultError("project_id is required"), nil
	}
	graphID, err := req.RequireString("graph_id")
	if err != nil {
		return mcp.NewToolResultError("graph_id is required"), nil
	}
	pricingID, err := req.RequireString("pricing_id")
	if err != nil {
		return mcp.NewToolResultError("pricing_id is required"), nil
	}

	state, startErr := s.estimator.Start(ctx, projectID, graphID, pricingID)
	if startErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to start run: %v", startErr)), nil
	}
	return marshalResult(state)
}

// handleState returns the run's current page and status.
func (s *QuoteKitServer) handleState(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	state, stateErr := s.estimator.GetState(ctx, runID)
	if stateErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("state query failed: %v", stateErr)), nil
	}
	return marshalResult(state)
}

// handleAnswer submits a page of answers as one atomic batch.
func (s *QuoteKitServer) handleAnswer(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	answers := mcp.ParseStringMap(req, "answers", nil)
	if len(answers) == 0 {
		return mcp.NewToolResultError("answers is required"), nil
	}
	batchID := req.GetString("batch_id", "")
	if batchID == "" {
		batchID = uuid.New().String()
	}

	state, answerErr := s.estimator.Answer(ctx, runID, batchID, answers)
	if answerErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("answer failed: %v", answerErr)), nil
	}
	return marshalResult(map[string]any{
		"batch_id": batchID,
		"state":    state,
	})
}

// handleBack undoes the most recent answer batch.
func (s *QuoteKitServer) handleBack(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	state, backErr := s.estimator.GoBack(ctx, runID)
	if backErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("back failed: %v", backErr)), nil
	}
	return marshalResult(state)
}

// handleResume re-derives a run's position from its ledger.
func (s *QuoteKitServer) handleResume(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	state, resumeErr := s.estimator.Resume(ctx, runID)
	if resumeErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("resume failed: %v", resumeErr)), nil
	}
	return marshalResult(state)
}

// handleRuns lists a project's runs.
func (s *QuoteKitServer) handleRuns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, err := req.RequireString("project_id")
	if err != nil {
		return mcp.NewToolResultError("project_id is required"), nil
	}

	runs, listErr := s.estimator.ListRuns(ctx, projectID)
	if listErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list runs: %v", listErr)), nil
	}
	return marshalResult(map[string]any{
		"count": len(runs),
		"runs":  runs,
	})
}

// handleCalculate computes and persists the run's estimate report.
func (s *QuoteKitServer) handleCalculate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	report, calcErr := s.estimator.Calculate(ctx, runID)
	if calcErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("calculation failed: %v", calcErr)), nil
	}
	return marshalResult(report)
}

// handleReport returns the latest estimate report.
func (s *QuoteKitServer) handleReport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	report, reportErr := s.estimator.Report(ctx, runID)
	if reportErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("report failed: %v", reportErr)), nil
	}
	return marshalResult(report)
}

// handleBreakdown returns the estimate's labeled line items.
func (s *QuoteKitServer) handleBreakdown(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	lines, bdErr := s.estimator.Breakdown(ctx, runID)
	if bdErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("breakdown failed: %v", bdErr)), nil
	}
	return marshalResult(map[string]any{
		"run_id": runID,
		"lines":  lines,
	})
}

// handleValidate runs the publish pipeline without persisting anything.
func (s *QuoteKitServer) handleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind, err := req.RequireString("kind")
	if err != nil {
		return mcp.NewToolResultError("kind is required"), nil
	}
	raw := mcp.ParseStringMap(req, "definition", nil)
	if raw == nil {
		return mcp.NewToolResultError("definition is required"), nil
	}

	result, valErr := s.validateDefinition(ctx, kind, raw, nil)
	if valErr != nil {
		return mcp.NewToolResultError(valErr.Error()), nil
	}
	return marshalResult(map[string]any{
		"valid":    result.Valid(),
		"errors":   result.Errors,
		"warnings": result.Warnings,
	})
}

// handlePublish validates a definition and stores it as a published,
// immutable version. Validation errors block the publish.
func (s *QuoteKitServer) handlePublish(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind, err := req.RequireString("kind")
	if err != nil {
		return mcp.NewToolResultError("kind is required"), nil
	}
	raw := mcp.ParseStringMap(req, "definition", nil)
	if raw == nil {
		return mcp.NewToolResultError("definition is required"), nil
	}

	switch kind {
	case "decision":
		var def schema.DecisionGraph
		if err := remarshal(raw, &def); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", err)), nil
		}
		result, valErr := s.validateDefinition(ctx, kind, raw, &def)
		if valErr != nil {
			return mcp.NewToolResultError(valErr.Error()), nil
		}
		if !result.Valid() {
			return marshalResult(map[string]any{
				"published": false,
				"errors":    result.Errors,
				"warnings":  result.Warnings,
			})
		}
		def.Published = true
		if err := s.store.PutDecisionGraph(ctx, &def); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to store definition: %v", err)), nil
		}
		return marshalResult(map[string]any{
			"published": true,
			"id":        def.ID,
			"version":   def.Version,
			"warnings":  result.Warnings,
		})

	case "pricing":
		var pg schema.PricingGraph
		if err := remarshal(raw, &pg); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", err)), nil
		}
		result := s.validator.ValidatePricingGraph(&pg)
		if !result.Valid() {
			return marshalResult(map[string]any{
				"published": false,
				"errors":    result.Errors,
				"warnings":  result.Warnings,
			})
		}
		pg.Published = true
		if err := s.store.PutPricingGraph(ctx, &pg); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to store definition: %v", err)), nil
		}
		return marshalResult(map[string]any{
			"published": true,
			"id":        pg.ID,
			"version":   pg.Version,
			"warnings":  result.Warnings,
		})

	case "facts":
		var p factCatalog
		if err := remarshal(raw, &p); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", err)), nil
		}
		if p.ProjectID == "" {
			return mcp.NewToolResultError("definition.project_id is required"), nil
		}
		result := s.validator.ValidateFacts(p.Facts)
		if !result.Valid() {
			return marshalResult(map[string]any{
				"published": false,
				"errors":    result.Errors,
				"warnings":  result.Warnings,
			})
		}
		for _, f := range p.Facts {
			f.ProjectID = p.ProjectID
		}
		if err := s.store.PutFacts(ctx, p.ProjectID, p.Facts); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to store facts: %v", err)), nil
		}
		return marshalResult(map[string]any{
			"published":  true,
			"project_id": p.ProjectID,
			"count":      len(p.Facts),
			"warnings":   result.Warnings,
		})

	case "variables":
		var p variableCatalog
		if err := remarshal(raw, &p); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", err)), nil
		}
		if p.ProjectID == "" {
			return mcp.NewToolResultError("definition.project_id is required"), nil
		}
		factDefs, err := s.store.ListFacts(ctx, p.ProjectID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to load facts: %v", err)), nil
		}
		result := s.validator.ValidateVariables(p.Variables, factDefs)
		if !result.Valid() {
			return marshalResult(map[string]any{
				"published": false,
				"errors":    result.Errors,
				"warnings":  result.Warnings,
			})
		}
		for _, v := range p.Variables {
			v.ProjectID = p.ProjectID
		}
		if err := s.store.PutVariables(ctx, p.ProjectID, p.Variables); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to store variables: %v", err)), nil
		}
		return marshalResult(map[string]any{
			"published":  true,
			"project_id": p.ProjectID,
			"count":      len(p.Variables),
			"warnings":   result.Warnings,
		})

	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown definition kind: %s", kind)), nil
	}
}

// factCatalog and variableCatalog are the definition payloads for the
// facts and variables kinds: a project ID plus the full replacement set.
type factCatalog struct {
	ProjectID string                   `json:"project_id"`
	Facts     []*schema.FactDefinition `json:"facts"`
}

type variableCatalog struct {
	ProjectID string             `json:"project_id"`
	Variables []*schema.Variable `json:"variables"`
}

// validateDefinition dispatches validation by kind. For decision graphs the
// project's facts are loaded so enum bindings can be cross-checked.
func (s *QuoteKitServer) validateDefinition(ctx context.Context, kind string, raw map[string]any, parsed *schema.DecisionGraph) (*schema.ValidationResult, error) {
	switch kind {
	case "decision":
		def := parsed
		if def == nil {
			def = &schema.DecisionGraph{}
			if err := remarshal(raw, def); err != nil {
				return nil, fmt.Errorf("invalid definition: %w", err)
			}
		}
		factDefs, err := s.store.ListFacts(ctx, def.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to load facts: %w", err)
		}
		return s.validator.ValidateDecisionGraph(def, factDefs), nil

	case "pricing":
		var pg schema.PricingGraph
		if err := remarshal(raw, &pg); err != nil {
			return nil, fmt.Errorf("invalid definition: %w", err)
		}
		return s.validator.ValidatePricingGraph(&pg), nil

	case "facts":
		var p factCatalog
		if err := remarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("invalid definition: %w", err)
		}
		return s.validator.ValidateFacts(p.Facts), nil

	case "variables":
		var p variableCatalog
		if err := remarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("invalid definition: %w", err)
		}
		factDefs, err := s.store.ListFacts(ctx, p.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to load facts: %w", err)
		}
		return s.validator.ValidateVariables(p.Variables, factDefs), nil

	default:
		return nil, fmt.Errorf("unknown definition kind: %s", kind)
	}
}

// remarshal converts a loosely-typed tool payload into a typed definition.
func remarshal(raw map[string]any, out any) error {
	b, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
