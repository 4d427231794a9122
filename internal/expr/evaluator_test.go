package expr

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate_Basic(t *testing.T) {
	e := New()

	v, err := e.Evaluate("1 + 2", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), toInt(t, v))

	v, err = e.Evaluate("user.name", map[string]any{"user": map[string]any{"name": "ada"}})
	require.NoError(t, err)
	assert.Equal(t, "ada", v)
}

func TestEvaluate_UndefinedPropagatesWithoutThrowing(t *testing.T) {
	e := New()
	v, err := e.Evaluate("user.missing", map[string]any{"user": map[string]any{}})
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestEvaluate_PipeSugar(t *testing.T) {
	e := New()
	v, err := e.Evaluate(`"hello" | upperCase()`, nil)
	require.NoError(t, err)
	assert.Equal(t, "HELLO", v)
}

func TestInterpolate_ConcatenatesAndForcesString(t *testing.T) {
	e := New()
	out, err := e.Interpolate("score: ${1 + 2}!", nil)
	require.NoError(t, err)
	assert.Equal(t, "score: 3!", out)
}

func TestEvaluateTemplate_PreservesTypeForSingleExpr(t *testing.T) {
	e := New()
	v, err := e.EvaluateTemplate("${1 + 2}", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), toInt(t, v))

	s, err := e.EvaluateTemplate("value: ${1 + 2}", nil)
	require.NoError(t, err)
	assert.Equal(t, "value: 3", s)
}

func TestEvaluate_LengthLimit(t *testing.T) {
	e := New()
	e.MaxLength = 10
	_, err := e.Evaluate(strings.Repeat("a", 20), nil)
	require.Error(t, err)
	var exprErr *Error
	require.ErrorAs(t, err, &exprErr)
	assert.Equal(t, KindLimit, exprErr.Kind)
}

func TestEvaluate_DepthLimit(t *testing.T) {
	e := New()
	e.MaxDepth = 2
	_, err := e.Evaluate("[[[1]]]", nil)
	require.Error(t, err)
	var exprErr *Error
	require.ErrorAs(t, err, &exprErr)
	assert.Equal(t, KindLimit, exprErr.Kind)
}

func TestEvaluate_ParseError(t *testing.T) {
	e := New()
	_, err := e.Evaluate("1 +", nil)
	require.Error(t, err)
	var exprErr *Error
	require.ErrorAs(t, err, &exprErr)
	assert.Equal(t, KindParse, exprErr.Kind)
}

func toInt(t *testing.T, v any) int64 {
	t.Helper()
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		t.Fatalf("expected numeric value, got %T (%v)", v, v)
		return 0
	}
}
