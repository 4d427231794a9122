// Package flow implements the structured control actions (component C5):
// flow_if, flow_switch, flow_while, repeat, parallel, batch, try, call_flow,
// abort, and return, layered over the action package's registry and
// executor (C4). Grounded on the teacher's engine.go topological/fan-out
// execution style, adapted from a graph walk to the spec's tree-walking
// action-list model.
package flow

import (
	"context"
	"sync"

	"github.com/flowbotic/runtime/internal/action"
	"github.com/flowbotic/runtime/internal/errs"
	"github.com/flowbotic/runtime/internal/spec"
)

// DefaultMaxCallDepth bounds call_flow recursion (§9 "Cycle hazards").
const DefaultMaxCallDepth = 64

// DefaultMaxIterations bounds flow_while when the spec doesn't set one
// (§4.5).
const DefaultMaxIterations = 1000

// Registry holds every named flow known to the runtime.
type Registry struct {
	mu    sync.RWMutex
	flows map[string]spec.Flow
}

// NewRegistry constructs an empty flow Registry.
func NewRegistry() *Registry {
	return &Registry{flows: make(map[string]spec.Flow)}
}

// Register adds or replaces a flow definition.
func (r *Registry) Register(f spec.Flow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flows[f.Name] = f
}

// Get looks up a flow by name.
func (r *Registry) Get(name string) (spec.Flow, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.flows[name]
	return f, ok
}

type depthKey struct{}

func depthFromContext(ctx context.Context) int {
	if v, ok := ctx.Value(depthKey{}).(int); ok {
		return v
	}
	return 0
}

func withDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, depthKey{}, depth)
}

// Invoker implements action.FlowInvoker against a Registry, and is also
// the home of call_flow's own handler logic.
type Invoker struct {
	Flows    *Registry
	Executor *action.Executor
	MaxDepth int
}

// NewInvoker constructs an Invoker. maxDepth <= 0 uses DefaultMaxCallDepth.
func NewInvoker(flows *Registry, executor *action.Executor, maxDepth int) *Invoker {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxCallDepth
	}
	inv := &Invoker{Flows: flows, Executor: executor, MaxDepth: maxDepth}
	executor.FlowInvoker = inv
	return inv
}

// InvokeFlow looks up flowName, binds args to its declared parameters, runs
// its actions with a fresh scratch seeded from args, and returns its
// return{} value, if any (§4.5 call_flow).
func (inv *Invoker) InvokeFlow(ctx context.Context, _ *action.Context, flowName string, args map[string]any) (any, error) {
	depth := depthFromContext(ctx)
	if depth >= inv.MaxDepth {
		return nil, errs.NewRuntimeError("call_depth", "call_flow exceeded max depth %d", inv.MaxDepth)
	}

	f, ok := inv.Flows.Get(flowName)
	if !ok {
		return nil, errs.NewRuntimeError("unknown_flow", "flow %q is not registered", flowName)
	}

	scratch := make(map[string]any, len(f.Parameters))
	for _, p := range f.Parameters {
		v, present := args[p.Name]
		if !present {
			if p.Required {
				return nil, errs.NewValidationError("flow %q missing required parameter %q", flowName, p.Name)
			}
			v = p.Default
		}
		scratch[p.Name] = v
	}

	childCtx := action.NewContext(scratch)
	ctx = withDepth(ctx, depth+1)

	res, err := inv.Executor.RunSequence(ctx, childCtx, f.Actions)
	if err != nil {
		return nil, err
	}
	if res.Signal == action.SignalReturn {
		return res.Value, nil
	}
	return nil, nil
}
