package action_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowbotic/runtime/internal/action"
	"github.com/flowbotic/runtime/internal/errs"
	"github.com/flowbotic/runtime/internal/expr"
	"github.com/flowbotic/runtime/internal/spec"
)

func newTestExecutor() (*action.Executor, *action.Registry) {
	reg := action.NewRegistry()
	reg.Register("set_scratch", func(_ context.Context, _ *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
		v, _ := act.Get("value")
		ac.Set(act.GetString("name"), v)
		return action.Result{Signal: action.SignalNone}, nil
	})
	reg.Register("fail", func(_ context.Context, _ *action.Executor, _ *action.Context, _ spec.Action) (action.Result, error) {
		return action.Result{}, errors.New("boom")
	})
	reg.Register("abort", func(_ context.Context, _ *action.Executor, _ *action.Context, _ spec.Action) (action.Result, error) {
		return action.Result{Signal: action.SignalAbort, Reason: "stop"}, nil
	})

	h := errs.NewHandler(errs.SeverityDebug, errs.BehaviorSilent, nil)
	ex := action.NewExecutor(reg, expr.New(), h)
	return ex, reg
}

func actionWith(name string, fields map[string]any) spec.Action {
	return spec.Action{Name: name, Fields: fields}
}

func TestExecutor_RunSequence_SetVisibleToLaterActions(t *testing.T) {
	ex, _ := newTestExecutor()
	ac := action.NewContext(nil)

	actions := []spec.Action{
		actionWith("set_scratch", map[string]any{"name": "x", "value": float64(1)}),
	}
	_, err := ex.RunSequence(context.Background(), ac, actions)
	require.NoError(t, err)

	v, ok := ac.Get("x")
	require.True(t, ok)
	assert.Equal(t, float64(1), v)
}

func TestExecutor_RunSequence_StopsOnAbort(t *testing.T) {
	ex, _ := newTestExecutor()
	ac := action.NewContext(nil)

	actions := []spec.Action{
		actionWith("abort", nil),
		actionWith("set_scratch", map[string]any{"name": "never", "value": true}),
	}
	res, err := ex.RunSequence(context.Background(), ac, actions)
	require.NoError(t, err)
	assert.Equal(t, action.SignalAbort, res.Signal)

	_, ok := ac.Get("never")
	assert.False(t, ok, "actions after Abort must not run")
}

func TestExecutor_RunSequence_PropagatesErrorWithoutErrorHandler(t *testing.T) {
	ex, _ := newTestExecutor()
	ac := action.NewContext(nil)

	_, err := ex.RunSequence(context.Background(), ac, []spec.Action{actionWith("fail", nil)})
	assert.Error(t, err)
}

func TestExecutor_When_SkipsFalsyCondition(t *testing.T) {
	ex, _ := newTestExecutor()
	ac := action.NewContext(map[string]any{"flag": false})

	act := actionWith("set_scratch", map[string]any{"name": "x", "value": true})
	act.When = "flag"

	_, err := ex.RunOne(context.Background(), ac, act)
	require.NoError(t, err)

	_, ok := ac.Get("x")
	assert.False(t, ok)
}

func TestExecutor_UnknownAction_ValidationError(t *testing.T) {
	ex, _ := newTestExecutor()
	ac := action.NewContext(nil)

	_, err := ex.RunOne(context.Background(), ac, actionWith("does_not_exist", nil))
	require.Error(t, err)
	var ve *errs.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestExecutor_RunParallel_MergesBranchWritesAndAggregatesErrors(t *testing.T) {
	ex, _ := newTestExecutor()
	ac := action.NewContext(nil)

	branches := [][]spec.Action{
		{actionWith("set_scratch", map[string]any{"name": "a", "value": float64(1)})},
		{actionWith("fail", nil)},
		{actionWith("set_scratch", map[string]any{"name": "b", "value": float64(2)})},
	}

	_, err := ex.RunParallel(context.Background(), ac, branches)
	assert.Error(t, err)

	va, _ := ac.Get("a")
	vb, _ := ac.Get("b")
	assert.Equal(t, float64(1), va)
	assert.Equal(t, float64(2), vb)
}

func TestContext_ChildDoesNotLeakToParentUntilMerged(t *testing.T) {
	parent := action.NewContext(nil)
	child := parent.Child()
	child.Set("leak", true)

	_, ok := parent.Get("leak")
	assert.False(t, ok)

	parent.Merge(child)
	v, ok := parent.Get("leak")
	require.True(t, ok)
	assert.Equal(t, true, v)
}
