package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotekit/quotekit/pkg/schema"
)

func TestNewArithEngine(t *testing.T) {
	e := NewArithEngine()
	assert.NotNil(t, e)
	assert.Equal(t, "arith", e.Name())
}

// --- Interface compliance ---

func TestArithEngine_ImplementsEngine(t *testing.T) {
	var _ Engine = (*ArithEngine)(nil)
}

// --- Precedence and associativity ---

func TestArith_Precedence(t *testing.T) {
	cases := []struct {
		src  string
		want float64
	}{
		{"2 + 3 * 4", 14},
		{"(2 + 3) * 4", 20},
		{"10 - 4 - 3", 3},
		{"100 / 10 / 2", 5},
		{"2 * 3 + 4 * 5", 26},
		{"2 ^ 3 ^ 2", 512}, // right-associative: 2^(3^2)
		{"(2 ^ 3) ^ 2", 64},
		{"-2 ^ 2", -4}, // unary minus applies to the whole power
		{"2 ^ -1", 0.5},
		{"-3 + 5", 2},
		{"- -4", 4},
		{"1.5 * 2", 3},
	}

	for _, tc := range cases {
		t.Run(tc.src, func(t *testing.T) {
			expr, err := ParseArith(tc.src)
			require.NoError(t, err)
			got, err := expr.Eval(nil)
			require.NoError(t, err)
			assert.InDelta(t, tc.want, got, 1e-9)
		})
	}
}

func TestArith_Identifiers(t *testing.T) {
	expr, err := ParseArith("base + rate * hours + base")
	require.NoError(t, err)
	assert.Equal(t, []string{"base", "rate", "hours"}, expr.Identifiers())

	got, err := expr.Eval(map[string]float64{"base": 100, "rate": 50, "hours": 3})
	require.NoError(t, err)
	assert.InDelta(t, 350.0, got, 1e-9)
}

// --- Error cases ---

func TestArith_DivisionByZero(t *testing.T) {
	expr, err := ParseArith("1 / 0")
	require.NoError(t, err)

	_, err = expr.Eval(nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeDivisionByZero, schema.CodeOf(err))
}

func TestArith_DivisionByZeroVariable(t *testing.T) {
	expr, err := ParseArith("total / count")
	require.NoError(t, err)

	_, err = expr.Eval(map[string]float64{"total": 10, "count": 0})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeDivisionByZero, schema.CodeOf(err))
}

func TestArith_UnknownVariable(t *testing.T) {
	expr, err := ParseArith("base * missing")
	require.NoError(t, err)

	_, err = expr.Eval(map[string]float64{"base": 1})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeUnknownVariable, schema.CodeOf(err))
}

func TestArith_ParseErrors(t *testing.T) {
	cases := []string{
		"",
		"2 +",
		"(1 + 2",
		"1 2",
		"1..5",
		"a $ b",
		"* 3",
	}
	for _, src := range cases {
		t.Run(src, func(t *testing.T) {
			_, err := ParseArith(src)
			assert.Error(t, err)
		})
	}
}

// --- Determinism ---

func TestArith_Deterministic(t *testing.T) {
	expr, err := ParseArith("(base + extra) * rate ^ 2 - base / 4")
	require.NoError(t, err)
	env := map[string]float64{"base": 100, "extra": 20, "rate": 1.1}

	first, err := expr.Eval(env)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		got, err := expr.Eval(env)
		require.NoError(t, err)
		assert.Equal(t, first, got)
	}
}

// --- Engine behaviour ---

func TestArithEngine_Evaluate(t *testing.T) {
	e := NewArithEngine()

	out, err := e.Evaluate(context.Background(), "n * 2 + flag", map[string]any{
		"n":    21,
		"flag": true,
	})
	require.NoError(t, err)
	assert.InDelta(t, 43.0, out.(float64), 1e-9)
}

func TestArithEngine_RejectsNonNumeric(t *testing.T) {
	e := NewArithEngine()

	_, err := e.Evaluate(context.Background(), "n + 1", map[string]any{"n": "ten"})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeEval, schema.CodeOf(err))
}

func TestArithEngine_CachesParsedPrograms(t *testing.T) {
	e := NewArithEngine()

	first, err := e.Parse("a + b")
	require.NoError(t, err)
	second, err := e.Parse("a + b")
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestArithEngine_ConcurrentEvaluate(t *testing.T) {
	e := NewArithEngine()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := e.Evaluate(context.Background(), "x * x", map[string]any{"x": 3})
			assert.NoError(t, err)
			assert.InDelta(t, 9.0, out.(float64), 1e-9)
		}()
	}
	wg.Wait()
}

func TestToNumber(t *testing.T) {
	got, err := ToNumber("v", int64(7))
	require.NoError(t, err)
	assert.Equal(t, 7.0, got)

	got, err = ToNumber("v", false)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got)

	_, err = ToNumber("v", []string{"nope"})
	assert.Error(t, err)
}
