// Package event implements the event router (component C6): handler
// registration against event names, the emit dispatch algorithm with
// when/once/debounce/throttle gating, and fan-out into the action executor
// (C4). Grounded on the teacher's event-driven node dispatch in
// internal/service/workflow, generalized from "graph node fires on trigger"
// to "named handler list fires on emit".
package event

import (
	"context"
	"fmt"
	"sync"
	"time"

	str2duration "github.com/xhit/go-str2duration/v2"

	"github.com/flowbotic/runtime/internal/action"
	"github.com/flowbotic/runtime/internal/errs"
	"github.com/flowbotic/runtime/internal/expr"
	"github.com/flowbotic/runtime/internal/spec"
)

// DefaultMaxHandlersPerEvent is the cap on how many handlers may register
// against a single event name (§4.6).
const DefaultMaxHandlersPerEvent = 100

// handlerEntry tracks one registered handler's runtime state.
type handlerEntry struct {
	id               string
	spec             spec.EventSpec
	active           bool
	mu               sync.Mutex
	throttleLastFire time.Time
	debounceTimer    *time.Timer
}

// Router holds event-name -> ordered handler lists and dispatches emits
// into the action executor.
type Router struct {
	mu       sync.Mutex
	handlers map[string][]*handlerEntry

	maxPerEvent int

	executor   *action.Executor
	evaluator  *expr.Evaluator
	errHandler *errs.Handler

	nextID int
}

// NewRouter constructs a Router. maxPerEvent <= 0 uses DefaultMaxHandlersPerEvent.
func NewRouter(executor *action.Executor, evaluator *expr.Evaluator, errHandler *errs.Handler, maxPerEvent int) *Router {
	if maxPerEvent <= 0 {
		maxPerEvent = DefaultMaxHandlersPerEvent
	}
	return &Router{
		handlers:    make(map[string][]*handlerEntry),
		maxPerEvent: maxPerEvent,
		executor:    executor,
		evaluator:   evaluator,
		errHandler:  errHandler,
	}
}

// Register adds a handler for es.Event, returning its id and an error if
// the per-event cap is exceeded.
func (r *Router) Register(es spec.EventSpec) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing := r.handlers[es.Event]
	if len(existing) >= r.maxPerEvent {
		return "", errs.NewValidationError("event %q already has the maximum of %d handlers", es.Event, r.maxPerEvent)
	}

	r.nextID++
	entry := &handlerEntry{
		id:     idFor(es.Event, r.nextID),
		spec:   es,
		active: true,
	}
	r.handlers[es.Event] = append(existing, entry)
	return entry.id, nil
}

func idFor(event string, n int) string {
	return fmt.Sprintf("%s#%d", event, n)
}

// Emit dispatches event against every registered handler, in registration
// order, applying the when/once/throttle/debounce gates (§4.6). Dispatch of
// each surviving handler's action list runs synchronously except for
// debounced handlers, whose dispatch is deferred to a timer goroutine. Its
// signature satisfies errs.Emitter, so a Router can be handed directly to
// errs.NewHandler to let runtime:error re-enter the router as a normal
// event.
func (r *Router) Emit(ctx context.Context, event string, evalCtx map[string]any) {
	r.mu.Lock()
	entries := append([]*handlerEntry(nil), r.handlers[event]...)
	r.mu.Unlock()

	for _, entry := range entries {
		r.dispatchOne(ctx, entry, evalCtx)
	}
}

func (r *Router) dispatchOne(ctx context.Context, entry *handlerEntry, evalCtx map[string]any) {
	entry.mu.Lock()

	if !entry.active {
		entry.mu.Unlock()
		return
	}

	if entry.spec.When != "" {
		val, err := r.evaluator.Evaluate(entry.spec.When, evalCtx)
		if err != nil {
			entry.mu.Unlock()
			if r.errHandler != nil {
				r.errHandler.Handle(ctx, err, errs.CategoryEvent, errs.SeverityError)
			}
			return
		}
		if !action.Truthy(val) {
			entry.mu.Unlock()
			return
		}
	}

	if entry.spec.Once {
		entry.active = false
	}

	switch {
	case entry.spec.Throttle != "":
		d, err := str2duration.ParseDuration(entry.spec.Throttle)
		if err != nil {
			entry.mu.Unlock()
			if r.errHandler != nil {
				r.errHandler.Handle(ctx, err, errs.CategoryEvent, errs.SeverityError)
			}
			return
		}
		now := time.Now()
		if !entry.throttleLastFire.IsZero() && entry.throttleLastFire.Add(d).After(now) {
			entry.mu.Unlock()
			return
		}
		entry.throttleLastFire = now
		entry.mu.Unlock()
		r.dispatchActions(ctx, entry.spec.Actions, evalCtx)

	case entry.spec.Debounce != "":
		d, err := str2duration.ParseDuration(entry.spec.Debounce)
		if err != nil {
			entry.mu.Unlock()
			if r.errHandler != nil {
				r.errHandler.Handle(ctx, err, errs.CategoryEvent, errs.SeverityError)
			}
			return
		}
		if entry.debounceTimer != nil {
			entry.debounceTimer.Stop()
		}
		capturedCtx := evalCtx
		entry.debounceTimer = time.AfterFunc(d, func() {
			r.dispatchActions(context.Background(), entry.spec.Actions, capturedCtx)
		})
		entry.mu.Unlock()

	default:
		entry.mu.Unlock()
		r.dispatchActions(ctx, entry.spec.Actions, evalCtx)
	}
}

func (r *Router) dispatchActions(ctx context.Context, actions []spec.Action, evalCtx map[string]any) {
	ac := action.NewContext(evalCtx)
	_, err := r.executor.RunSequence(ctx, ac, actions)
	if err != nil && r.errHandler != nil {
		r.errHandler.Handle(ctx, err, errs.CategoryEvent, errs.SeverityError)
	}
}

// Clear drops all handler state and cancels pending debounce timers (§4.6
// "Cancellation").
func (r *Router) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entries := range r.handlers {
		for _, e := range entries {
			e.mu.Lock()
			if e.debounceTimer != nil {
				e.debounceTimer.Stop()
			}
			e.mu.Unlock()
		}
	}
	r.handlers = make(map[string][]*handlerEntry)
}
