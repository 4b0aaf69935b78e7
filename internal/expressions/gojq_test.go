package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotekit/quotekit/pkg/schema"
)

func TestGoJQ_ProjectField(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Project(context.Background(), ".width", map[string]any{
		"width":  12,
		"height": 30,
	})
	require.NoError(t, err)
	assert.Equal(t, 12.0, out)
}

func TestGoJQ_NestedPath(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Project(context.Background(), ".dimensions.depth", map[string]any{
		"dimensions": map[string]any{"depth": 2.5},
	})
	require.NoError(t, err)
	assert.Equal(t, 2.5, out)
}

func TestGoJQ_MissingFieldYieldsNil(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Project(context.Background(), ".missing", map[string]any{"width": 1})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestGoJQ_ParseError(t *testing.T) {
	e := NewGoJQEngine()

	_, err := e.Project(context.Background(), ".[invalid", map[string]any{})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestGoJQ_EnvIsSandboxed(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Project(context.Background(), `$ENV | length`, map[string]any{})
	require.NoError(t, err)
	assert.EqualValues(t, 0, out)
}
