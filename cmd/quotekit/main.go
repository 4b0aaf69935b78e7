package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/quotekit/quotekit/internal/engine"
	"github.com/quotekit/quotekit/internal/expressions"
	"github.com/quotekit/quotekit/internal/facts"
	"github.com/quotekit/quotekit/internal/janitor"
	"github.com/quotekit/quotekit/internal/logging"
	"github.com/quotekit/quotekit/internal/store"
	"github.com/quotekit/quotekit/internal/validation"
	"github.com/quotekit/quotekit/pkg/mcp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "quotekit: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	conds, err := expressions.NewConditions()
	if err != nil {
		return fmt.Errorf("build condition engines: %w", err)
	}
	arith := expressions.NewArithEngine()
	resolver := facts.NewResolver(expressions.NewGoJQEngine(), arith)

	validator, err := validation.NewDefinitionValidator(conds, arith)
	if err != nil {
		return fmt.Errorf("build validator: %w", err)
	}

	estimator := engine.NewEstimator(st, conds, arith, resolver, logger)

	if !cfg.JanitorOff {
		jan, err := janitor.NewJanitor(st, cfg.JanitorCron, cfg.runTTL(), logger)
		if err != nil {
			return fmt.Errorf("build janitor: %w", err)
		}
		if err := jan.Start(ctx); err != nil {
			return fmt.Errorf("start janitor: %w", err)
		}
		defer jan.Stop()
	}

	srv := mcp.NewQuoteKitServer(mcp.QuoteKitServerDeps{
		Estimator: estimator,
		Validator: validator,
		Store:     st,
		Logger:    logger,
	})

	logger.Info("quotekit serving on stdio", slog.String("db", cfg.DBPath))
	return srv.Serve(ctx)
}

// newLogger builds the process logger: text to stderr (stdout belongs to
// the stdio transport) with correlation IDs injected from context.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}
