package scheduler_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowbotic/runtime/internal/action"
	"github.com/flowbotic/runtime/internal/errs"
	"github.com/flowbotic/runtime/internal/event"
	"github.com/flowbotic/runtime/internal/expr"
	"github.com/flowbotic/runtime/internal/scheduler"
	"github.com/flowbotic/runtime/internal/spec"
)

type harness struct {
	registry  *action.Registry
	executor  *action.Executor
	router    *event.Router
	scheduler *scheduler.Scheduler
	fireCount *int32
}

func newHarness() *harness {
	reg := action.NewRegistry()
	var fireCount int32
	reg.Register("_count_fire_", func(_ context.Context, _ *action.Executor, _ *action.Context, _ spec.Action) (action.Result, error) {
		atomic.AddInt32(&fireCount, 1)
		return action.Result{Signal: action.SignalNone}, nil
	})
	ex := action.NewExecutor(reg, expr.New(), errs.NewHandler(errs.SeverityDebug, errs.BehaviorSilent, nil))
	router := event.NewRouter(ex, expr.New(), nil, 0)
	s := scheduler.New(router, nil)
	s.RegisterActions(reg)

	return &harness{registry: reg, executor: ex, router: router, scheduler: s, fireCount: &fireCount}
}

func TestScheduler_CreateTimerFiresEventAfterDuration(t *testing.T) {
	h := newHarness()
	_, err := h.router.Register(spec.EventSpec{Event: "timer_fired", Actions: []spec.Action{{Name: "_count_fire_"}}})
	require.NoError(t, err)

	h.scheduler.CreateTimer("t1", 30*time.Millisecond, "timer_fired", map[string]any{"note": "hi"})

	assert.EqualValues(t, 0, atomic.LoadInt32(h.fireCount))
	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(h.fireCount))
}

func TestScheduler_CancelTimerPreventsFiring(t *testing.T) {
	h := newHarness()
	_, err := h.router.Register(spec.EventSpec{Event: "timer_fired", Actions: []spec.Action{{Name: "_count_fire_"}}})
	require.NoError(t, err)

	h.scheduler.CreateTimer("t1", 30*time.Millisecond, "timer_fired", nil)
	require.True(t, h.scheduler.CancelTimer("t1"))

	time.Sleep(80 * time.Millisecond)
	assert.EqualValues(t, 0, atomic.LoadInt32(h.fireCount))
}

func TestScheduler_CancelTimerUnknownIDReturnsFalse(t *testing.T) {
	h := newHarness()
	assert.False(t, h.scheduler.CancelTimer("nope"))
}

func TestScheduler_ReplacingATimerIDCancelsThePrevious(t *testing.T) {
	h := newHarness()
	_, err := h.router.Register(spec.EventSpec{Event: "timer_fired", Actions: []spec.Action{{Name: "_count_fire_"}}})
	require.NoError(t, err)

	h.scheduler.CreateTimer("t1", 30*time.Millisecond, "timer_fired", nil)
	h.scheduler.CreateTimer("t1", 30*time.Millisecond, "timer_fired", nil)

	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(h.fireCount), "re-registering an id must cancel the prior timer, not stack two fires")
}

func TestScheduler_CreateTimerAction_RegistersAndFires(t *testing.T) {
	h := newHarness()
	_, err := h.router.Register(spec.EventSpec{Event: "my_timer", Actions: []spec.Action{{Name: "_count_fire_"}}})
	require.NoError(t, err)

	ac := action.NewContext(nil)
	act := spec.Action{
		Name: "create_timer",
		Fields: map[string]any{
			"id":       "a",
			"duration": "30ms",
			"event":    "my_timer",
		},
	}
	_, err = h.executor.RunOne(context.Background(), ac, act)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(h.fireCount))
}

func TestScheduler_CancelTimerAction(t *testing.T) {
	h := newHarness()
	_, err := h.router.Register(spec.EventSpec{Event: "my_timer", Actions: []spec.Action{{Name: "_count_fire_"}}})
	require.NoError(t, err)

	ac := action.NewContext(nil)
	createAct := spec.Action{
		Name:   "create_timer",
		Fields: map[string]any{"id": "a", "duration": "30ms", "event": "my_timer"},
	}
	_, err = h.executor.RunOne(context.Background(), ac, createAct)
	require.NoError(t, err)

	cancelAct := spec.Action{Name: "cancel_timer", Fields: map[string]any{"id": "a"}}
	_, err = h.executor.RunOne(context.Background(), ac, cancelAct)
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)
	assert.EqualValues(t, 0, atomic.LoadInt32(h.fireCount))
}

func TestScheduler_StartAndStopWithRegisteredJob(t *testing.T) {
	h := newHarness()
	h.scheduler.RegisterJob(spec.SchedulerJob{
		Name:    "nightly",
		Cron:    "0 0 * * *",
		Enabled: true,
		Actions: []spec.Action{{Name: "_count_fire_"}},
	})

	require.NoError(t, h.scheduler.Start(context.Background()))
	require.NoError(t, h.scheduler.Reload())
	h.scheduler.Stop()
	h.scheduler.Stop() // Stop must be safe to call more than once
}

func TestScheduler_DisabledJobIsNotScheduled(t *testing.T) {
	h := newHarness()
	h.scheduler.RegisterJob(spec.SchedulerJob{
		Name:    "disabled_job",
		Cron:    "0 0 * * *",
		Enabled: false,
		Actions: []spec.Action{{Name: "_count_fire_"}},
	})

	require.NoError(t, h.scheduler.Start(context.Background()))
	defer h.scheduler.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 0, atomic.LoadInt32(h.fireCount))
}
