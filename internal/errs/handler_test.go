package errs_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowbotic/runtime/internal/errs"
)

type fakeEmitter struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeEmitter) Emit(_ context.Context, event string, _ map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func TestHandler_SeverityFilter(t *testing.T) {
	h := errs.NewHandler(errs.SeverityWarn, errs.BehaviorSilent, nil)

	var seen []errs.Severity
	h.OnCategory(errs.CategoryAction, func(_ error, _ errs.Category, sev errs.Severity) {
		seen = append(seen, sev)
	})

	h.Handle(context.Background(), errors.New("boom"), errs.CategoryAction, errs.SeverityInfo)
	h.Handle(context.Background(), errors.New("boom"), errs.CategoryAction, errs.SeverityError)

	require.Len(t, seen, 1)
	assert.Equal(t, errs.SeverityError, seen[0])
}

func TestHandler_CategoryFilter(t *testing.T) {
	h := errs.NewHandler(errs.SeverityDebug, errs.BehaviorSilent, nil)
	h.SetCategoryFilter(errs.CategoryPipe)

	var calls int
	h.OnCategory(errs.CategoryPipe, func(_ error, _ errs.Category, _ errs.Severity) { calls++ })
	h.OnCategory(errs.CategoryAction, func(_ error, _ errs.Category, _ errs.Severity) { calls++ })

	h.Handle(context.Background(), errors.New("x"), errs.CategoryAction, errs.SeverityError)
	h.Handle(context.Background(), errors.New("x"), errs.CategoryPipe, errs.SeverityError)

	assert.Equal(t, 1, calls)
}

func TestHandler_CallbackPanicDoesNotPropagate(t *testing.T) {
	h := errs.NewHandler(errs.SeverityDebug, errs.BehaviorSilent, nil)
	h.OnCategory(errs.CategoryAction, func(_ error, _ errs.Category, _ errs.Severity) {
		panic("callback exploded")
	})

	assert.NotPanics(t, func() {
		h.Handle(context.Background(), errors.New("x"), errs.CategoryAction, errs.SeverityError)
	})
}

func TestHandler_EmitEvents(t *testing.T) {
	emitter := &fakeEmitter{}
	h := errs.NewHandler(errs.SeverityDebug, errs.BehaviorSilent, emitter)
	h.SetEmitEvents(true)

	h.Handle(context.Background(), errors.New("x"), errs.CategoryDatabase, errs.SeverityError)

	require.Len(t, emitter.events, 1)
	assert.Equal(t, "runtime:error", emitter.events[0])
}

func TestHandler_ThrowBehaviorPanics(t *testing.T) {
	h := errs.NewHandler(errs.SeverityDebug, errs.BehaviorThrow, nil)
	assert.Panics(t, func() {
		h.Handle(context.Background(), errors.New("fatal condition"), errs.CategoryUnknown, errs.SeverityFatal)
	})
}

func TestHandler_Wrap(t *testing.T) {
	h := errs.NewHandler(errs.SeverityDebug, errs.BehaviorSilent, nil)
	var handled bool
	h.OnError(func(_ error, _ errs.Category, _ errs.Severity) { handled = true })

	err := h.Wrap(context.Background(), errs.CategoryAction, errs.SeverityError, func() error {
		return errors.New("inner failure")
	})
	require.Error(t, err)
	assert.True(t, handled)
}
