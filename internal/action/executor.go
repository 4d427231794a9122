package action

import (
	"context"
	"errors"
	"sync"

	"github.com/flowbotic/runtime/internal/errs"
	"github.com/flowbotic/runtime/internal/expr"
	"github.com/flowbotic/runtime/internal/spec"
)

// FlowInvoker looks up and runs a named flow — implemented by the flow
// package (C5). It is injected into Executor rather than imported directly,
// since the flow package itself depends on action (it registers call_flow
// and friends against the Registry) and a direct action → flow import
// would cycle.
type FlowInvoker interface {
	InvokeFlow(ctx context.Context, parent *Context, flowName string, args map[string]any) (any, error)
}

// Executor runs actions, sequences, and parallel branches against a
// Registry, threading an evaluation Context and enforcing the per-action
// error policy (§4.4).
type Executor struct {
	Registry   *Registry
	Evaluator  *expr.Evaluator
	ErrHandler *errs.Handler

	// FlowInvoker resolves error_handler references. Set after flow.New
	// constructs its invoker (the two packages wire up post-construction
	// to break the import cycle described above).
	FlowInvoker FlowInvoker

	// DefaultBatchConcurrency is the worker pool size batch{} actions use
	// when they don't set their own "concurrency" field. Zero or less
	// makes batch{} fall back to a single worker.
	DefaultBatchConcurrency int
}

// NewExecutor constructs an Executor. FlowInvoker may be nil until the
// flow package registers itself; actions with error_handler fail open
// (error propagates normally) until then.
func NewExecutor(registry *Registry, evaluator *expr.Evaluator, errHandler *errs.Handler) *Executor {
	return &Executor{Registry: registry, Evaluator: evaluator, ErrHandler: errHandler}
}

// RunOne dispatches a single action: evaluates `when`, looks up the
// handler, runs it, and applies the error_handler policy.
func (ex *Executor) RunOne(ctx context.Context, ac *Context, act spec.Action) (Result, error) {
	if act.When != "" {
		val, err := ex.Evaluator.Evaluate(act.When, ac.Snapshot())
		if err != nil {
			return Result{}, err
		}
		if !Truthy(val) {
			return Result{Signal: SignalNone}, nil
		}
	}

	handler, ok := ex.Registry.Get(act.Name)
	if !ok {
		return Result{}, errs.NewValidationError("unknown action %q", act.Name)
	}

	res, err := handler(ctx, ex, ac, act)
	if err == nil {
		return res, nil
	}

	if act.ErrorHandler != "" && ex.FlowInvoker != nil {
		_, invokeErr := ex.FlowInvoker.InvokeFlow(ctx, ac, act.ErrorHandler, map[string]any{
			"error":       err.Error(),
			"action_name": act.Name,
		})
		if invokeErr != nil && ex.ErrHandler != nil {
			ex.ErrHandler.Handle(ctx, invokeErr, errs.CategoryAction, errs.SeverityError)
		}
		return Result{Signal: SignalNone}, nil
	}

	return Result{}, err
}

// RunSequence runs actions in program order, short-circuiting on Abort,
// Return, Break, Continue, or an unhandled error (§4.4 "Sequence").
func (ex *Executor) RunSequence(ctx context.Context, ac *Context, actions []spec.Action) (Result, error) {
	for _, act := range actions {
		res, err := ex.RunOne(ctx, ac, act)
		if err != nil {
			return Result{}, err
		}
		if res.Signal != SignalNone {
			return res, nil
		}
	}
	return Result{Signal: SignalNone}, nil
}

// RunParallel dispatches each branch independently, awaits all, and
// aggregates errors (all reported, none masked). Each branch gets a
// forked child context; on completion every branch's writes are merged
// back to the parent, in branch-index order — the spec makes no ordering
// guarantee between branches, so this is a deterministic but otherwise
// arbitrary tie-break (§4.4 "Parallel").
func (ex *Executor) RunParallel(ctx context.Context, ac *Context, branches [][]spec.Action) (Result, error) {
	type outcome struct {
		res   Result
		err   error
		child *Context
	}
	outcomes := make([]outcome, len(branches))

	var wg sync.WaitGroup
	for i, branch := range branches {
		wg.Add(1)
		go func(i int, branch []spec.Action) {
			defer wg.Done()
			child := ac.Child()
			res, err := ex.RunSequence(ctx, child, branch)
			outcomes[i] = outcome{res: res, err: err, child: child}
		}(i, branch)
	}
	wg.Wait()

	var errList []error
	for _, o := range outcomes {
		ac.Merge(o.child)
		if o.err != nil {
			errList = append(errList, o.err)
		}
	}
	if len(errList) > 0 {
		return Result{}, errors.Join(errList...)
	}
	return Result{Signal: SignalNone}, nil
}
