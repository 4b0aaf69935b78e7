package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/quotekit/quotekit/internal/engine"
	"github.com/quotekit/quotekit/internal/store"
	"github.com/quotekit/quotekit/internal/validation"
)

// QuoteKitServerDeps holds the dependencies for creating a QuoteKitServer.
type QuoteKitServerDeps struct {
	Estimator *engine.Estimator
	Validator *validation.DefinitionValidator
	Store     store.Store
	Logger    *slog.Logger
}

// QuoteKitServer wraps an MCP server with estimation tool handlers.
type QuoteKitServer struct {
	estimator *engine.Estimator
	validator *validation.DefinitionValidator
	store     store.Store
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewQuoteKitServer creates a new QuoteKitServer with all tools registered.
func NewQuoteKitServer(deps QuoteKitServerDeps) *QuoteKitServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &QuoteKitServer{
		estimator: deps.Estimator,
		validator: deps.Validator,
		store:     deps.Store,
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"quotekit",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("QuoteKit is a price estimation engine driven by decision graph questionnaires. Use estimate.start to begin a run, estimate.answer to submit a page of answers, estimate.back to undo the last batch, estimate.resume to pick up an interrupted run, estimate.calculate for a priced report, and definition.validate / definition.publish to manage graph, fact, and variable definitions."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *QuoteKitServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *QuoteKitServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *QuoteKitServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: startTool(), Handler: s.handleStart},
		{Tool: stateTool(), Handler: s.handleState},
		{Tool: answerTool(), Handler: s.handleAnswer},
		{Tool: backTool(), Handler: s.handleBack},
		{Tool: resumeTool(), Handler: s.handleResume},
		{Tool: runsTool(), Handler: s.handleRuns},
		{Tool: calculateTool(), Handler: s.handleCalculate},
		{Tool: reportTool(), Handler: s.handleReport},
		{Tool: breakdownTool(), Handler: s.handleBreakdown},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: publishTool(), Handler: s.handlePublish},
	}
}

// --- Tool definitions ---

func startTool() mcp.Tool {
	return mcp.NewTool("estimate.start",
		mcp.WithDescription("Start an estimation run against published graph versions"),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project owning the definitions")),
		mcp.WithString("graph_id", mcp.Required(), mcp.Description("ID of the published decision graph version")),
		mcp.WithString("pricing_id", mcp.Required(), mcp.Description("ID of the published pricing graph version")),
	)
}

func stateTool() mcp.Tool {
	return mcp.NewTool("estimate.state",
		mcp.WithDescription("Get the current page and status of a run"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to query")),
	)
}

func answerTool() mcp.Tool {
	return mcp.NewTool("estimate.answer",
		mcp.WithDescription("Submit one page of answers as an atomic batch and advance the run"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the target run")),
		mcp.WithObject("answers", mcp.Required(), mcp.Description("Map of node ID to answer value, covering every question on the current page")),
		mcp.WithString("batch_id", mcp.Description("Idempotency key for the batch (default: a fresh UUID)")),
	)
}

func backTool() mcp.Tool {
	return mcp.NewTool("estimate.back",
		mcp.WithDescription("Undo the most recent answer batch and return the re-derived page"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the target run")),
	)
}

func resumeTool() mcp.Tool {
	return mcp.NewTool("estimate.resume",
		mcp.WithDescription("Resume an interrupted run from its answer ledger"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to resume")),
	)
}

func runsTool() mcp.Tool {
	return mcp.NewTool("estimate.runs",
		mcp.WithDescription("List a project's estimation runs, newest first"),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project to list runs for")),
	)
}

func calculateTool() mcp.Tool {
	return mcp.NewTool("estimate.calculate",
		mcp.WithDescription("Compute the priced estimate report for a run"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to price")),
	)
}

func reportTool() mcp.Tool {
	return mcp.NewTool("estimate.report",
		mcp.WithDescription("Get the latest estimate report, computing it if stale"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run")),
	)
}

func breakdownTool() mcp.Tool {
	return mcp.NewTool("estimate.breakdown",
		mcp.WithDescription("Get the labeled line items of the estimate"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("definition.validate",
		mcp.WithDescription("Validate a definition without publishing it"),
		mcp.WithString("kind", mcp.Required(),
			mcp.Enum("decision", "pricing", "facts", "variables"),
			mcp.Description("Kind of definition to validate"),
		),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Definition payload")),
	)
}

func publishTool() mcp.Tool {
	return mcp.NewTool("definition.publish",
		mcp.WithDescription("Validate a definition and publish it as an immutable version"),
		mcp.WithString("kind", mcp.Required(),
			mcp.Enum("decision", "pricing", "facts", "variables"),
			mcp.Description("Kind of definition to publish"),
		),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Definition payload")),
	)
}
