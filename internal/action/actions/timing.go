package actions

import (
	"context"
	"time"

	str2duration "github.com/xhit/go-str2duration/v2"

	"github.com/flowbotic/runtime/internal/action"
	"github.com/flowbotic/runtime/internal/errs"
	"github.com/flowbotic/runtime/internal/spec"
)

// wait has no runtime-instance dependency beyond the evaluator already
// threaded through every handler, so it registers into the builtin
// catalog like the flow package's control actions instead of going
// through Bindings.
func init() {
	action.RegisterActionType("wait", handleWait)
}

func handleWait(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	durationRaw, ok := act.Get("duration")
	if !ok {
		return action.Result{}, errs.NewValidationError("wait: duration is required")
	}
	val, err := evalField(ex, ac, durationRaw)
	if err != nil {
		return action.Result{}, err
	}

	s, ok := val.(string)
	if !ok {
		return action.Result{}, errs.NewValidationError("wait: duration must be a duration literal string")
	}
	d, err := str2duration.ParseDuration(s)
	if err != nil {
		return action.Result{}, errs.NewValidationError("wait: invalid duration %q: %v", s, err)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return action.Result{}, ctx.Err()
	case <-timer.C:
		return action.Result{Signal: action.SignalNone}, nil
	}
}
