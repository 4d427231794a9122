package errs

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// Emitter is the minimal event-emission contract the handler needs to
// support emitEvents without importing the event router package (which
// would create an import cycle: event -> errs -> event).
type Emitter interface {
	Emit(ctx context.Context, event string, data map[string]any)
}

// DefaultBehavior selects what Handle does after running callbacks.
type DefaultBehavior string

const (
	BehaviorLog    DefaultBehavior = "log"
	BehaviorThrow  DefaultBehavior = "throw"
	BehaviorSilent DefaultBehavior = "silent"
)

// Callback is a per-category error callback. Its own errors/panics are
// logged and never propagated (§4.10).
type Callback func(err error, category Category, severity Severity)

// Handler routes errors reported via Handle to severity/category-filtered
// sinks. One Handler is constructed per runtime and threaded explicitly
// through every component — no package-level singleton.
type Handler struct {
	mu sync.Mutex

	minSeverity   Severity
	categoryFilter map[Category]bool // nil = no filter (all categories pass)
	callbacks      map[Category][]Callback
	onError        Callback

	emitEvents bool
	emitter    Emitter

	behavior DefaultBehavior
}

// NewHandler constructs a Handler with the given minimum severity and
// default behavior. Pass a nil emitter if emitEvents will never be enabled.
func NewHandler(minSeverity Severity, behavior DefaultBehavior, emitter Emitter) *Handler {
	return &Handler{
		minSeverity: minSeverity,
		callbacks:   make(map[Category][]Callback),
		emitter:     emitter,
		behavior:    behavior,
	}
}

// OnCategory registers a callback invoked for errors in category, in
// registration order.
func (h *Handler) OnCategory(category Category, cb Callback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.callbacks[category] = append(h.callbacks[category], cb)
}

// OnError sets the single global callback invoked after per-category ones.
func (h *Handler) OnError(cb Callback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onError = cb
}

// SetCategoryFilter restricts Handle to only the given categories. Passing
// nil clears the filter (all categories pass).
func (h *Handler) SetCategoryFilter(categories ...Category) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if categories == nil {
		h.categoryFilter = nil
		return
	}
	filter := make(map[Category]bool, len(categories))
	for _, c := range categories {
		filter[c] = true
	}
	h.categoryFilter = filter
}

// SetEmitEvents enables or disables the runtime:error event emission.
func (h *Handler) SetEmitEvents(enabled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.emitEvents = enabled
}

// SetEmitter attaches the emitter used for runtime:error events, for
// wiring that constructs the Handler before the thing it emits through
// exists yet (the event Router depends on a Handler in the other
// direction).
func (h *Handler) SetEmitter(emitter Emitter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.emitter = emitter
}

// Handle routes err through the configured sinks per spec.md §4.10.
func (h *Handler) Handle(ctx context.Context, err error, category Category, severity Severity) {
	if err == nil {
		return
	}

	h.mu.Lock()
	if severity < h.minSeverity {
		h.mu.Unlock()
		return
	}
	if h.categoryFilter != nil && !h.categoryFilter[category] {
		h.mu.Unlock()
		return
	}
	callbacks := append([]Callback(nil), h.callbacks[category]...)
	onError := h.onError
	emitEvents := h.emitEvents
	emitter := h.emitter
	behavior := h.behavior
	h.mu.Unlock()

	for _, cb := range callbacks {
		h.safeCall(cb, err, category, severity)
	}
	if onError != nil {
		h.safeCall(onError, err, category, severity)
	}

	if emitEvents && emitter != nil {
		emitter.Emit(ctx, "runtime:error", map[string]any{
			"error":    err.Error(),
			"category": string(category),
			"severity": severity.String(),
		})
	}

	switch behavior {
	case BehaviorLog:
		h.logDefault(err, category, severity)
	case BehaviorThrow:
		panic(fmt.Sprintf("[%s/%s] %v", category, severity, err))
	case BehaviorSilent:
		// no-op
	default:
		h.logDefault(err, category, severity)
	}
}

func (h *Handler) safeCall(cb Callback, err error, category Category, severity Severity) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "error handler callback panicked: %v\n", r)
		}
	}()
	cb(err, category, severity)
}

func (h *Handler) logDefault(err error, category Category, severity Severity) {
	verb := "error"
	switch severity {
	case SeverityDebug:
		verb = "debug"
	case SeverityInfo:
		verb = "info"
	case SeverityWarn:
		verb = "warn"
	case SeverityFatal:
		verb = "fatal"
	}
	fmt.Fprintf(os.Stderr, "[%s] (%s) %v\n", verb, category, err)
}

// Wrap calls fn immediately and, if it returns a non-nil error, routes that
// error through Handle with category and severity before returning it
// unchanged. It does not build a wrapped function for later calls, and the
// error still reaches the caller after Handle has seen it.
func (h *Handler) Wrap(ctx context.Context, category Category, severity Severity, fn func() error) error {
	err := fn()
	if err != nil {
		h.Handle(ctx, err, category, severity)
	}
	return err
}
