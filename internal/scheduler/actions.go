package scheduler

import (
	"context"

	str2duration "github.com/xhit/go-str2duration/v2"

	"github.com/flowbotic/runtime/internal/action"
	"github.com/flowbotic/runtime/internal/errs"
	"github.com/flowbotic/runtime/internal/spec"
)

// RegisterActions installs create_timer and cancel_timer against reg,
// closing over this Scheduler instance. Actions can't reach a Scheduler
// through the package-level action catalog (that catalog is
// instance-agnostic by design, §9), so the scheduler wires its own
// handlers into a caller-supplied Registry the same way flow.NewInvoker
// wires itself into an Executor.
func (s *Scheduler) RegisterActions(reg *action.Registry) {
	reg.Register("create_timer", s.handleCreateTimer)
	reg.Register("cancel_timer", s.handleCancelTimer)
}

func (s *Scheduler) handleCreateTimer(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	id := act.GetString("id")
	if id == "" {
		return action.Result{}, errs.NewValidationError("create_timer requires an id")
	}

	durationRaw, _ := act.Get("duration")
	durationStr, ok := durationRaw.(string)
	if ok {
		if evaluated, err := ex.Evaluator.EvaluateTemplate(durationStr, ac.Snapshot()); err == nil {
			if s, isStr := evaluated.(string); isStr {
				durationStr = s
			}
		}
	}
	d, err := str2duration.ParseDuration(durationStr)
	if err != nil {
		return action.Result{}, errs.NewValidationError("create_timer: invalid duration %q: %v", durationStr, err)
	}

	eventName := act.GetString("event")
	data, _ := act.Get("data")
	dataMap, _ := data.(map[string]any)

	s.CreateTimer(id, d, eventName, dataMap)
	return action.Result{Signal: action.SignalNone}, nil
}

func (s *Scheduler) handleCancelTimer(_ context.Context, _ *action.Executor, _ *action.Context, act spec.Action) (action.Result, error) {
	id := act.GetString("id")
	s.CancelTimer(id)
	return action.Result{Signal: action.SignalNone}, nil
}
