package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RunID(ctx))
	assert.Empty(t, NodeID(ctx))
	assert.Empty(t, ProjectID(ctx))

	ctx = WithRunID(ctx, "r-1")
	ctx = WithNodeID(ctx, "q-1")
	ctx = WithProjectID(ctx, "p-1")

	assert.Equal(t, "r-1", RunID(ctx))
	assert.Equal(t, "q-1", NodeID(ctx))
	assert.Equal(t, "p-1", ProjectID(ctx))
}

func TestCorrelationHandler_InjectsIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewTextHandler(&buf, nil)))

	ctx := WithRunID(context.Background(), "r-1")
	ctx = WithNodeID(ctx, "q-2")
	logger.InfoContext(ctx, "answer recorded")

	out := buf.String()
	assert.Contains(t, out, "run_id=r-1")
	assert.Contains(t, out, "node_id=q-2")
	assert.NotContains(t, out, "project_id")
}

func TestCorrelationHandler_PlainContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewTextHandler(&buf, nil)))

	logger.InfoContext(context.Background(), "startup")

	out := buf.String()
	assert.Contains(t, out, "startup")
	assert.NotContains(t, out, "run_id")
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	ctx := WithProjectID(context.Background(), "p-9")
	LogWith(ctx, logger).Info("publishing")

	assert.Contains(t, buf.String(), "project_id=p-9")
}
