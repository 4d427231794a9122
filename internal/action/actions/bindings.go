// Package actions implements the bulk of the action catalog (component
// C4's handler table): message I/O, moderation, channel/role lifecycle,
// DM, state mutation, pipe send/request, voice/queue, emit, canvas
// render, metrics, and logging actions. Unlike the flow package's control
// actions (which need no runtime-instance state and register themselves
// via a bare init()), these actions close over runtime-specific
// collaborators — a platform.Client, a state.Manager, a metrics.Collector,
// named pipes — so they're registered through a Bindings value's
// RegisterActions method instead of the package-level catalog, the same
// instance-injection shape component C7's Scheduler.RegisterActions uses.
package actions

import (
	"github.com/flowbotic/runtime/internal/action"
	"github.com/flowbotic/runtime/internal/canvas"
	"github.com/flowbotic/runtime/internal/event"
	"github.com/flowbotic/runtime/internal/metrics"
	"github.com/flowbotic/runtime/internal/pipe"
	"github.com/flowbotic/runtime/internal/platform"
	"github.com/flowbotic/runtime/internal/spec"
	"github.com/flowbotic/runtime/internal/state"
)

// Bindings holds every runtime collaborator the non-control action
// handlers need. A nil field means that action group fails closed with a
// RuntimeError rather than panicking (a bot spec that declares pipes
// without wiring a platform client, say, shouldn't crash the runtime on
// an unrelated send_message call).
type Bindings struct {
	Platform platform.Client
	State    *state.Manager
	Metrics  *metrics.Collector
	Router   *event.Router
	Canvas   canvas.Renderer

	// Pipes maps a spec.Pipe's Name to its constructed Pipe, for
	// pipe_send/pipe_request to look up by name.
	Pipes map[string]*pipe.Pipe
}

// RegisterActions registers every action this package implements onto
// reg, closing over b.
func (b *Bindings) RegisterActions(reg *action.Registry) {
	b.registerMessageActions(reg)
	b.registerModerationActions(reg)
	b.registerChannelRoleActions(reg)
	b.registerStateActions(reg)
	b.registerPipeActions(reg)
	b.registerVoiceActions(reg)
	b.registerMiscActions(reg)
}

// evalField evaluates v as a template if it's a string, otherwise returns
// it unchanged — the same convention flow.evalField uses for control
// actions' expression-typed fields.
func evalField(ex *action.Executor, ac *action.Context, v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	return ex.Evaluator.EvaluateTemplate(s, ac.Snapshot())
}

// evalString is evalField restricted to string results, for fields that
// resolve to a string (ids, names, content): a nil or non-string result
// yields an empty string.
func evalString(ex *action.Executor, ac *action.Context, v any) (string, error) {
	val, err := evalField(ex, ac, v)
	if err != nil {
		return "", err
	}
	if val == nil {
		return "", nil
	}
	if s, ok := val.(string); ok {
		return s, nil
	}
	return "", nil
}

// stringFromContext resolves an id field that may appear either directly
// (e.g. "channelId") or nested under its entity object's "id" (e.g.
// "channel": {"id": ...}) — the evaluation context carries both forms
// per spec.md §3.
func stringFromContext(ac *action.Context, directKey, objectKey string) string {
	if v, ok := ac.Get(directKey); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if v, ok := ac.Get(objectKey); ok {
		if m, ok := v.(map[string]any); ok {
			if id, ok := m["id"].(string); ok {
				return id
			}
		}
	}
	return ""
}

func contextChannelID(ac *action.Context) string { return stringFromContext(ac, "channelId", "channel") }
func contextGuildID(ac *action.Context) string   { return stringFromContext(ac, "guildId", "guild") }
func contextUserID(ac *action.Context) string    { return stringFromContext(ac, "userId", "user") }

// fieldOrContext evaluates act's field, falling back to a context-derived
// id when the action doesn't set it explicitly (almost every message/
// moderation action targets "the current channel/guild/user" by default).
func fieldOrContext(ex *action.Executor, ac *action.Context, act spec.Action, field, fallback string) (string, error) {
	raw, ok := act.Get(field)
	if !ok || raw == nil {
		return fallback, nil
	}
	return evalString(ex, ac, raw)
}
