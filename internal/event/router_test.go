package event_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowbotic/runtime/internal/action"
	"github.com/flowbotic/runtime/internal/errs"
	"github.com/flowbotic/runtime/internal/event"
	"github.com/flowbotic/runtime/internal/expr"
	"github.com/flowbotic/runtime/internal/spec"
)

func newTestRouter() (*event.Router, *int32) {
	reg := action.NewRegistry()
	var fireCount int32
	reg.Register("_count_fire_", func(_ context.Context, _ *action.Executor, _ *action.Context, _ spec.Action) (action.Result, error) {
		atomic.AddInt32(&fireCount, 1)
		return action.Result{Signal: action.SignalNone}, nil
	})
	ex := action.NewExecutor(reg, expr.New(), errs.NewHandler(errs.SeverityDebug, errs.BehaviorSilent, nil))
	r := event.NewRouter(ex, expr.New(), nil, 0)
	return r, &fireCount
}

func TestRouter_DispatchesToRegisteredHandler(t *testing.T) {
	r, fireCount := newTestRouter()
	_, err := r.Register(spec.EventSpec{
		Event:   "message",
		Actions: []spec.Action{{Name: "_count_fire_"}},
	})
	require.NoError(t, err)

	r.Emit(context.Background(), "message", nil)
	assert.EqualValues(t, 1, atomic.LoadInt32(fireCount))
}

func TestRouter_SkipsWhenFalsy(t *testing.T) {
	r, fireCount := newTestRouter()
	_, err := r.Register(spec.EventSpec{
		Event:   "message",
		When:    "false",
		Actions: []spec.Action{{Name: "_count_fire_"}},
	})
	require.NoError(t, err)

	r.Emit(context.Background(), "message", nil)
	assert.EqualValues(t, 0, atomic.LoadInt32(fireCount))
}

func TestRouter_OnceFiresAtMostOnceAcrossMultipleEmits(t *testing.T) {
	r, fireCount := newTestRouter()
	_, err := r.Register(spec.EventSpec{
		Event:   "message",
		Once:    true,
		Actions: []spec.Action{{Name: "_count_fire_"}},
	})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		r.Emit(context.Background(), "message", nil)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(fireCount))
}

func TestRouter_ThrottleDropsRapidReemits(t *testing.T) {
	r, fireCount := newTestRouter()
	_, err := r.Register(spec.EventSpec{
		Event:    "message",
		Throttle: "1h",
		Actions:  []spec.Action{{Name: "_count_fire_"}},
	})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		r.Emit(context.Background(), "message", nil)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(fireCount), "only the first emit within the throttle window should dispatch")
}

func TestRouter_DebounceCollapsesBurstIntoOneFire(t *testing.T) {
	r, fireCount := newTestRouter()
	_, err := r.Register(spec.EventSpec{
		Event:    "message",
		Debounce: "50ms",
		Actions:  []spec.Action{{Name: "_count_fire_"}},
	})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		r.Emit(context.Background(), "message", nil)
	}
	assert.EqualValues(t, 0, atomic.LoadInt32(fireCount), "debounced handler must not fire synchronously")

	time.Sleep(150 * time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(fireCount), "debounced burst collapses into a single fire")
}

func TestRouter_HandlersRunInRegistrationOrder(t *testing.T) {
	reg := action.NewRegistry()
	var mu sync.Mutex
	var order []string
	reg.Register("_mark_a_", func(_ context.Context, _ *action.Executor, _ *action.Context, _ spec.Action) (action.Result, error) {
		mu.Lock()
		order = append(order, "a")
		mu.Unlock()
		return action.Result{Signal: action.SignalNone}, nil
	})
	reg.Register("_mark_b_", func(_ context.Context, _ *action.Executor, _ *action.Context, _ spec.Action) (action.Result, error) {
		mu.Lock()
		order = append(order, "b")
		mu.Unlock()
		return action.Result{Signal: action.SignalNone}, nil
	})

	ex := action.NewExecutor(reg, expr.New(), errs.NewHandler(errs.SeverityDebug, errs.BehaviorSilent, nil))
	r := event.NewRouter(ex, expr.New(), nil, 0)

	_, err := r.Register(spec.EventSpec{Event: "e", Actions: []spec.Action{{Name: "_mark_a_"}}})
	require.NoError(t, err)
	_, err = r.Register(spec.EventSpec{Event: "e", Actions: []spec.Action{{Name: "_mark_b_"}}})
	require.NoError(t, err)

	r.Emit(context.Background(), "e", nil)
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestRouter_RejectsRegistrationPastCap(t *testing.T) {
	reg := action.NewRegistry()
	ex := action.NewExecutor(reg, expr.New(), errs.NewHandler(errs.SeverityDebug, errs.BehaviorSilent, nil))
	r := event.NewRouter(ex, expr.New(), nil, 1)

	_, err := r.Register(spec.EventSpec{Event: "e"})
	require.NoError(t, err)
	_, err = r.Register(spec.EventSpec{Event: "e"})
	require.Error(t, err)
}

func TestRouter_ClearCancelsPendingDebounceAndDropsHandlers(t *testing.T) {
	r, fireCount := newTestRouter()
	_, err := r.Register(spec.EventSpec{
		Event:    "message",
		Debounce: "20ms",
		Actions:  []spec.Action{{Name: "_count_fire_"}},
	})
	require.NoError(t, err)

	r.Emit(context.Background(), "message", nil)
	r.Clear()

	time.Sleep(60 * time.Millisecond)
	assert.EqualValues(t, 0, atomic.LoadInt32(fireCount), "cleared debounce timer must not fire")

	r.Emit(context.Background(), "message", nil)
	assert.EqualValues(t, 0, atomic.LoadInt32(fireCount), "cleared router has no handlers left")
}
