package flow

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/flowbotic/runtime/internal/action"
	"github.com/flowbotic/runtime/internal/errs"
	"github.com/flowbotic/runtime/internal/spec"
)

func init() {
	action.RegisterActionType("flow_if", handleFlowIf)
	action.RegisterActionType("flow_switch", handleFlowSwitch)
	action.RegisterActionType("flow_while", handleFlowWhile)
	action.RegisterActionType("repeat", handleRepeat)
	action.RegisterActionType("parallel", handleParallel)
	action.RegisterActionType("batch", handleBatch)
	action.RegisterActionType("try", handleTry)
	action.RegisterActionType("call_flow", handleCallFlow)
	action.RegisterActionType("abort", handleAbort)
	action.RegisterActionType("return", handleReturn)
}

// evalField evaluates a field value as a template if it's a string (so
// literal strings and "${expr}"/"prefix ${expr} suffix" forms both work),
// otherwise returns it unchanged — control actions' config fields are
// expression-typed per §3.
func evalField(ex *action.Executor, ac *action.Context, v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	return ex.Evaluator.EvaluateTemplate(s, ac.Snapshot())
}

// evalCond evaluates a flow_if/flow_while condition: a string without any
// ${...} occurrence is a whole expression (e.g. "n < 3"); anything else
// goes through evalField.
func evalCond(ex *action.Executor, ac *action.Context, v any) (any, error) {
	s, ok := v.(string)
	if !ok || strings.Contains(s, "${") {
		return evalField(ex, ac, v)
	}
	return ex.Evaluator.Evaluate(s, ac.Snapshot())
}

func handleFlowIf(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	condRaw, _ := act.Get("cond")
	cond, err := evalCond(ex, ac, condRaw)
	if err != nil {
		return action.Result{}, err
	}

	if action.Truthy(cond) {
		return ex.RunSequence(ctx, ac, act.GetActions("then"))
	}
	if elseActions := act.GetActions("else"); elseActions != nil {
		return ex.RunSequence(ctx, ac, elseActions)
	}
	return action.Result{Signal: action.SignalNone}, nil
}

func handleFlowSwitch(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	valueRaw, _ := act.Get("value")
	value, err := evalField(ex, ac, valueRaw)
	if err != nil {
		return action.Result{}, err
	}
	key := fmt.Sprintf("%v", value)

	cases, _ := act.Get("cases")
	casesMap, ok := cases.(map[string][]spec.Action)
	if ok {
		if actions, found := casesMap[key]; found {
			return ex.RunSequence(ctx, ac, actions)
		}
	}
	if defaultActions := act.GetActions("default"); defaultActions != nil {
		return ex.RunSequence(ctx, ac, defaultActions)
	}
	return action.Result{Signal: action.SignalNone}, nil
}

func handleFlowWhile(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	maxIterations := DefaultMaxIterations
	if raw, ok := act.Get("max_iterations"); ok {
		if n, ok := toInt(raw); ok {
			maxIterations = n
		}
	}

	condRaw, _ := act.Get("cond")
	doActions := act.GetActions("do")

	for i := 0; i < maxIterations; i++ {
		cond, err := evalCond(ex, ac, condRaw)
		if err != nil {
			return action.Result{}, err
		}
		if !action.Truthy(cond) {
			return action.Result{Signal: action.SignalNone}, nil
		}

		res, err := ex.RunSequence(ctx, ac, doActions)
		if err != nil {
			return action.Result{}, err
		}
		if res.Signal == action.SignalBreak {
			return action.Result{Signal: action.SignalNone}, nil
		}
		if res.Signal == action.SignalAbort || res.Signal == action.SignalReturn {
			return res, nil
		}
	}

	return action.Result{}, errs.NewRuntimeError("loop_bound", "flow_while exceeded max_iterations (%d)", maxIterations)
}

func handleRepeat(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	timesRaw, _ := act.Get("times")
	timesVal, err := evalField(ex, ac, timesRaw)
	if err != nil {
		return action.Result{}, err
	}
	times, ok := toInt(timesVal)
	if !ok {
		return action.Result{}, errs.NewRuntimeError("type", "repeat.times did not evaluate to a number")
	}

	doActions := act.GetActions("do")
	for i := 0; i < times; i++ {
		ac.Set("index", float64(i))
		res, err := ex.RunSequence(ctx, ac, doActions)
		if err != nil {
			return action.Result{}, err
		}
		if res.Signal == action.SignalBreak {
			break
		}
		if res.Signal == action.SignalAbort || res.Signal == action.SignalReturn {
			return res, nil
		}
	}
	return action.Result{Signal: action.SignalNone}, nil
}

func handleParallel(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	actions := act.GetActions("actions")
	branches := make([][]spec.Action, len(actions))
	for i, a := range actions {
		branches[i] = []spec.Action{a}
	}
	return ex.RunParallel(ctx, ac, branches)
}

func handleBatch(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	itemsRaw, _ := act.Get("items")
	itemsVal, err := evalField(ex, ac, itemsRaw)
	if err != nil {
		return action.Result{}, err
	}
	items, ok := itemsVal.([]any)
	if !ok {
		return action.Result{}, errs.NewRuntimeError("type", "batch.items did not evaluate to an array")
	}

	concurrency := ex.DefaultBatchConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	if raw, ok := act.Get("concurrency"); ok {
		if n, ok := toInt(raw); ok && n > 0 {
			concurrency = n
		}
	}
	each := act.GetActions("each")

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	errsPerItem := make([]error, len(items))

	for i, item := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, item any) {
			defer wg.Done()
			defer func() { <-sem }()

			child := ac.Child()
			child.Set("item", item)
			child.Set("index", float64(i))
			_, err := ex.RunSequence(ctx, child, each)
			errsPerItem[i] = err
			// batch's per-iteration writes are scoped and discarded (§4.4).
		}(i, item)
	}
	wg.Wait()

	var failed []error
	for _, e := range errsPerItem {
		if e != nil {
			failed = append(failed, e)
		}
	}
	if len(failed) > 0 {
		return action.Result{}, errs.NewRuntimeError("batch_partial_failure", "%d of %d items failed", len(failed), len(items))
	}
	return action.Result{Signal: action.SignalNone}, nil
}

func handleTry(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	doActions := act.GetActions("do")
	catchActions := act.GetActions("catch")
	finallyActions := act.GetActions("finally")

	res, err := ex.RunSequence(ctx, ac, doActions)

	if err != nil && catchActions != nil {
		ac.Set("error", err.Error())
		res, err = ex.RunSequence(ctx, ac, catchActions)
	}

	if finallyActions != nil {
		finalRes, finalErr := ex.RunSequence(ctx, ac, finallyActions)
		if finalErr != nil {
			return action.Result{}, finalErr
		}
		if finalRes.Signal != action.SignalNone {
			// finally's own control signal does not override the outer
			// one unless finally itself raises a new one (§4.5).
			return finalRes, nil
		}
	}

	return res, err
}

func handleCallFlow(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	flowName := act.GetString("flow")
	argsRaw, _ := act.Get("args")
	argsMap, _ := argsRaw.(map[string]any)

	evaluated := make(map[string]any, len(argsMap))
	for k, v := range argsMap {
		ev, err := evalField(ex, ac, v)
		if err != nil {
			return action.Result{}, err
		}
		evaluated[k] = ev
	}

	if ex.FlowInvoker == nil {
		return action.Result{}, errs.NewRuntimeError("unknown_flow", "no flow invoker configured")
	}
	value, err := ex.FlowInvoker.InvokeFlow(ctx, ac, flowName, evaluated)
	if err != nil {
		return action.Result{}, err
	}

	if as := act.GetString("as"); as != "" {
		ac.Set(as, value)
	}
	return action.Result{Signal: action.SignalNone, Data: value}, nil
}

func handleAbort(_ context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	reasonRaw, _ := act.Get("reason")
	reason, err := evalField(ex, ac, reasonRaw)
	if err != nil {
		return action.Result{}, err
	}
	return action.Result{Signal: action.SignalAbort, Reason: reason}, nil
}

func handleReturn(_ context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	valueRaw, _ := act.Get("value")
	value, err := evalField(ex, ac, valueRaw)
	if err != nil {
		return action.Result{}, err
	}
	return action.Result{Signal: action.SignalReturn, Value: value}, nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
