package flow_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowbotic/runtime/internal/action"
	"github.com/flowbotic/runtime/internal/errs"
	"github.com/flowbotic/runtime/internal/expr"
	"github.com/flowbotic/runtime/internal/flow"
	"github.com/flowbotic/runtime/internal/spec"
)

func newTestRuntime() (*action.Executor, *flow.Registry) {
	reg := action.NewRegistry()
	ex := action.NewExecutor(reg, expr.New(), errs.NewHandler(errs.SeverityDebug, errs.BehaviorSilent, nil))
	flows := flow.NewRegistry()
	flow.NewInvoker(flows, ex, 0)
	return ex, flows
}

func setScratch(name string, value any) spec.Action {
	return spec.Action{Name: "_set_for_test_", Fields: map[string]any{"name": name, "value": value}}
}

func init() {
	action.RegisterActionType("_set_for_test_", func(_ context.Context, _ *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
		ac.Set(act.GetString("name"), act.Fields["value"])
		return action.Result{Signal: action.SignalNone}, nil
	})
}

func TestFlowIf_RunsThenBranchWhenTruthy(t *testing.T) {
	ex, _ := newTestRuntime()
	ac := action.NewContext(nil)

	act := spec.Action{
		Name: "flow_if",
		Fields: map[string]any{
			"cond": true,
			"then": []spec.Action{setScratch("x", float64(1))},
			"else": []spec.Action{setScratch("x", float64(2))},
		},
	}
	_, err := ex.RunOne(context.Background(), ac, act)
	require.NoError(t, err)

	v, _ := ac.Get("x")
	assert.Equal(t, float64(1), v)
}

func TestFlowIf_RunsElseBranchWhenFalsy(t *testing.T) {
	ex, _ := newTestRuntime()
	ac := action.NewContext(nil)

	act := spec.Action{
		Name: "flow_if",
		Fields: map[string]any{
			"cond": false,
			"then": []spec.Action{setScratch("x", float64(1))},
			"else": []spec.Action{setScratch("x", float64(2))},
		},
	}
	_, err := ex.RunOne(context.Background(), ac, act)
	require.NoError(t, err)

	v, _ := ac.Get("x")
	assert.Equal(t, float64(2), v)
}

func TestFlowSwitch_MatchesCaseOrFallsBackToDefault(t *testing.T) {
	ex, _ := newTestRuntime()
	ac := action.NewContext(nil)

	act := spec.Action{
		Name: "flow_switch",
		Fields: map[string]any{
			"value": "b",
			"cases": map[string][]spec.Action{
				"a": {setScratch("hit", "a")},
				"b": {setScratch("hit", "b")},
			},
			"default": []spec.Action{setScratch("hit", "default")},
		},
	}
	_, err := ex.RunOne(context.Background(), ac, act)
	require.NoError(t, err)

	v, _ := ac.Get("hit")
	assert.Equal(t, "b", v)
}

func TestFlowSwitch_UnmatchedUsesDefault(t *testing.T) {
	ex, _ := newTestRuntime()
	ac := action.NewContext(nil)

	act := spec.Action{
		Name: "flow_switch",
		Fields: map[string]any{
			"value": "z",
			"cases": map[string][]spec.Action{
				"a": {setScratch("hit", "a")},
			},
			"default": []spec.Action{setScratch("hit", "default")},
		},
	}
	_, err := ex.RunOne(context.Background(), ac, act)
	require.NoError(t, err)

	v, _ := ac.Get("hit")
	assert.Equal(t, "default", v)
}

func TestFlowWhile_LoopsUntilConditionFalse(t *testing.T) {
	ex, _ := newTestRuntime()
	ac := action.NewContext(map[string]any{"n": float64(0)})

	incrementN := spec.Action{Name: "_incr_n_"}
	action.RegisterActionType("_incr_n_", func(_ context.Context, _ *action.Executor, ac *action.Context, _ spec.Action) (action.Result, error) {
		n, _ := ac.Get("n")
		ac.Set("n", n.(float64)+1)
		return action.Result{Signal: action.SignalNone}, nil
	})

	act := spec.Action{
		Name: "flow_while",
		Fields: map[string]any{
			"cond": "n < 3",
			"do":   []spec.Action{incrementN},
		},
	}
	_, err := ex.RunOne(context.Background(), ac, act)
	require.NoError(t, err)

	v, _ := ac.Get("n")
	assert.Equal(t, float64(3), v)
}

func TestFlowWhile_ExceedsMaxIterationsFailsWithLoopBound(t *testing.T) {
	ex, _ := newTestRuntime()
	ac := action.NewContext(nil)

	act := spec.Action{
		Name: "flow_while",
		Fields: map[string]any{
			"cond":           true,
			"do":             []spec.Action{},
			"max_iterations": float64(5),
		},
	}
	_, err := ex.RunOne(context.Background(), ac, act)
	require.Error(t, err)
	var re *errs.RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "loop_bound", re.Kind)
}

func TestRepeat_BindsIndexPerIteration(t *testing.T) {
	ex, _ := newTestRuntime()
	ac := action.NewContext(nil)

	var seen []float64
	action.RegisterActionType("_capture_index_", func(_ context.Context, _ *action.Executor, ac *action.Context, _ spec.Action) (action.Result, error) {
		idx, _ := ac.Get("index")
		seen = append(seen, idx.(float64))
		return action.Result{Signal: action.SignalNone}, nil
	})

	act := spec.Action{
		Name: "repeat",
		Fields: map[string]any{
			"times": float64(3),
			"do":    []spec.Action{{Name: "_capture_index_"}},
		},
	}
	_, err := ex.RunOne(context.Background(), ac, act)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2}, seen)
}

func TestParallel_RunsEachActionAsOwnBranch(t *testing.T) {
	ex, _ := newTestRuntime()
	ac := action.NewContext(nil)

	act := spec.Action{
		Name: "parallel",
		Fields: map[string]any{
			"actions": []spec.Action{
				setScratch("a", float64(1)),
				setScratch("b", float64(2)),
			},
		},
	}
	_, err := ex.RunOne(context.Background(), ac, act)
	require.NoError(t, err)

	va, _ := ac.Get("a")
	vb, _ := ac.Get("b")
	assert.Equal(t, float64(1), va)
	assert.Equal(t, float64(2), vb)
}

func TestBatch_ProcessesAllItemsConcurrentlyAndDiscardsPerIterationState(t *testing.T) {
	ex, _ := newTestRuntime()
	ac := action.NewContext(nil)

	act := spec.Action{
		Name: "batch",
		Fields: map[string]any{
			"items":       []any{float64(1), float64(2), float64(3)},
			"concurrency": float64(2),
			"each":        []spec.Action{setScratch("leaked", true)},
		},
	}
	_, err := ex.RunOne(context.Background(), ac, act)
	require.NoError(t, err)

	_, ok := ac.Get("leaked")
	assert.False(t, ok, "batch per-item writes must not leak to the outer context")
}

func TestBatch_PartialFailureReported(t *testing.T) {
	ex, _ := newTestRuntime()
	ac := action.NewContext(nil)

	action.RegisterActionType("_fail_on_two_", func(_ context.Context, _ *action.Executor, ac *action.Context, _ spec.Action) (action.Result, error) {
		item, _ := ac.Get("item")
		if item.(float64) == 2 {
			return action.Result{}, errs.NewRuntimeError("boom", "item 2 failed")
		}
		return action.Result{Signal: action.SignalNone}, nil
	})

	act := spec.Action{
		Name: "batch",
		Fields: map[string]any{
			"items": []any{float64(1), float64(2), float64(3)},
			"each":  []spec.Action{{Name: "_fail_on_two_"}},
		},
	}
	_, err := ex.RunOne(context.Background(), ac, act)
	require.Error(t, err)
}

func TestTry_CatchRunsOnErrorAndFinallyAlwaysRuns(t *testing.T) {
	ex, _ := newTestRuntime()
	ac := action.NewContext(nil)

	action.RegisterActionType("_always_fail_", func(_ context.Context, _ *action.Executor, _ *action.Context, _ spec.Action) (action.Result, error) {
		return action.Result{}, errs.NewRuntimeError("boom", "nope")
	})

	act := spec.Action{
		Name: "try",
		Fields: map[string]any{
			"do":      []spec.Action{{Name: "_always_fail_"}},
			"catch":   []spec.Action{setScratch("caught", true)},
			"finally": []spec.Action{setScratch("finally_ran", true)},
		},
	}
	_, err := ex.RunOne(context.Background(), ac, act)
	require.NoError(t, err)

	caught, _ := ac.Get("caught")
	finallyRan, _ := ac.Get("finally_ran")
	assert.Equal(t, true, caught)
	assert.Equal(t, true, finallyRan)
}

func TestTry_NoErrorSkipsCatchButRunsFinally(t *testing.T) {
	ex, _ := newTestRuntime()
	ac := action.NewContext(nil)

	act := spec.Action{
		Name: "try",
		Fields: map[string]any{
			"do":      []spec.Action{setScratch("ok", true)},
			"catch":   []spec.Action{setScratch("caught", true)},
			"finally": []spec.Action{setScratch("finally_ran", true)},
		},
	}
	_, err := ex.RunOne(context.Background(), ac, act)
	require.NoError(t, err)

	_, caught := ac.Get("caught")
	finallyRan, _ := ac.Get("finally_ran")
	assert.False(t, caught)
	assert.Equal(t, true, finallyRan)
}

func TestCallFlow_BindsParamsAndCapturesReturnValue(t *testing.T) {
	ex, flows := newTestRuntime()
	ac := action.NewContext(nil)

	flows.Register(spec.Flow{
		Name: "double",
		Parameters: []spec.FlowParameter{
			{Name: "n", Required: true},
		},
		Actions: []spec.Action{
			{Name: "return", Fields: map[string]any{"value": float64(0)}},
		},
	})

	// return{} evaluates its "value" field through evalField; since n isn't
	// itself an expression string here, exercise via a dedicated handler
	// that reads n and returns n*2 to keep the test self-contained.
	action.RegisterActionType("_double_and_return_", func(_ context.Context, _ *action.Executor, ac *action.Context, _ spec.Action) (action.Result, error) {
		n, _ := ac.Get("n")
		return action.Result{Signal: action.SignalReturn, Value: n.(float64) * 2}, nil
	})
	flows.Register(spec.Flow{
		Name: "double",
		Parameters: []spec.FlowParameter{
			{Name: "n", Required: true},
		},
		Actions: []spec.Action{{Name: "_double_and_return_"}},
	})

	act := spec.Action{
		Name: "call_flow",
		Fields: map[string]any{
			"flow": "double",
			"args": map[string]any{"n": float64(21)},
			"as":   "result",
		},
	}
	_, err := ex.RunOne(context.Background(), ac, act)
	require.NoError(t, err)

	v, ok := ac.Get("result")
	require.True(t, ok)
	assert.Equal(t, float64(42), v)
}

func TestCallFlow_MissingRequiredParamFails(t *testing.T) {
	ex, flows := newTestRuntime()
	ac := action.NewContext(nil)

	flows.Register(spec.Flow{
		Name:       "needs_param",
		Parameters: []spec.FlowParameter{{Name: "n", Required: true}},
		Actions:    []spec.Action{},
	})

	act := spec.Action{
		Name:   "call_flow",
		Fields: map[string]any{"flow": "needs_param", "args": map[string]any{}},
	}
	_, err := ex.RunOne(context.Background(), ac, act)
	require.Error(t, err)
	var ve *errs.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestCallFlow_ExceedsMaxDepthFails(t *testing.T) {
	ex, flows := newTestRuntime()
	ac := action.NewContext(nil)

	flows.Register(spec.Flow{
		Name: "recurse",
		Actions: []spec.Action{
			{Name: "call_flow", Fields: map[string]any{"flow": "recurse", "args": map[string]any{}}},
		},
	})

	act := spec.Action{Name: "call_flow", Fields: map[string]any{"flow": "recurse", "args": map[string]any{}}}
	_, err := ex.RunOne(context.Background(), ac, act)
	require.Error(t, err)
	var re *errs.RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "call_depth", re.Kind)
}

func TestAbort_ProducesAbortSignalWithReason(t *testing.T) {
	ex, _ := newTestRuntime()
	ac := action.NewContext(nil)

	act := spec.Action{Name: "abort", Fields: map[string]any{"reason": "bad input"}}
	res, err := ex.RunOne(context.Background(), ac, act)
	require.NoError(t, err)
	assert.Equal(t, action.SignalAbort, res.Signal)
	assert.Equal(t, "bad input", res.Reason)
}

func TestReturn_ProducesReturnSignalWithValue(t *testing.T) {
	ex, _ := newTestRuntime()
	ac := action.NewContext(nil)

	act := spec.Action{Name: "return", Fields: map[string]any{"value": float64(7)}}
	res, err := ex.RunOne(context.Background(), ac, act)
	require.NoError(t, err)
	assert.Equal(t, action.SignalReturn, res.Signal)
	assert.Equal(t, float64(7), res.Value)
}
