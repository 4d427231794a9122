package actions

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rakunlabs/logi"

	"github.com/flowbotic/runtime/internal/action"
	"github.com/flowbotic/runtime/internal/errs"
	"github.com/flowbotic/runtime/internal/render"
	"github.com/flowbotic/runtime/internal/spec"
)

func (b *Bindings) registerMiscActions(reg *action.Registry) {
	reg.Register("emit", b.handleEmit)
	reg.Register("canvas_render", b.handleCanvasRender)
	reg.Register("render_template", b.handleRenderTemplate)
	reg.Register("metric_increment", b.handleMetricIncrement)
	reg.Register("metric_gauge", b.handleMetricGauge)
	reg.Register("metric_observe", b.handleMetricObserve)
	reg.Register("log", b.handleLog)
}

func (b *Bindings) handleEmit(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	if b.Router == nil {
		return action.Result{}, errs.NewRuntimeError("event_router", "no event router configured")
	}
	name, err := evalString(ex, ac, act.GetString("event"))
	if err != nil {
		return action.Result{}, err
	}

	payload := ac.Snapshot()
	if dataRaw, ok := act.Get("data"); ok {
		data, err := evalField(ex, ac, dataRaw)
		if err != nil {
			return action.Result{}, err
		}
		if m, ok := data.(map[string]any); ok {
			for k, v := range m {
				payload[k] = v
			}
		}
	}

	b.Router.Emit(ctx, name, payload)
	return action.Result{Signal: action.SignalNone}, nil
}

func (b *Bindings) handleCanvasRender(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	if b.Canvas == nil {
		return action.Result{}, errs.NewRuntimeError("canvas", "no canvas renderer configured")
	}
	template, err := evalString(ex, ac, act.GetString("template"))
	if err != nil {
		return action.Result{}, err
	}

	params := map[string]any{}
	if paramsRaw, ok := act.Get("params"); ok {
		if m, ok := paramsRaw.(map[string]any); ok {
			for k, v := range m {
				val, err := evalField(ex, ac, v)
				if err != nil {
					return action.Result{}, err
				}
				params[k] = val
			}
		}
	}

	data, err := b.Canvas.Render(ctx, template, params)
	if err != nil {
		return action.Result{}, errs.NewExternalError(err)
	}

	if as := act.GetString("as"); as != "" {
		ac.Set(as, data)
	}
	return action.Result{Signal: action.SignalNone, Data: data}, nil
}

// handleRenderTemplate renders the "template" field as a Go text/template
// against the current evaluation context (optionally narrowed to the
// "data" field, if set), for flows that need loops/conditionals/helper
// functions beyond locale's {name} interpolation.
func (b *Bindings) handleRenderTemplate(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	tmpl, err := evalString(ex, ac, act.GetString("template"))
	if err != nil {
		return action.Result{}, err
	}

	data := any(ac.Snapshot())
	if dataRaw, ok := act.Get("data"); ok {
		val, err := evalField(ex, ac, dataRaw)
		if err != nil {
			return action.Result{}, err
		}
		data = val
	}

	out, err := render.ExecuteWithData(tmpl, data)
	if err != nil {
		return action.Result{}, errs.NewRuntimeError("template", "render: %v", err)
	}

	result := string(out)
	if as := act.GetString("as"); as != "" {
		ac.Set(as, result)
	}
	return action.Result{Signal: action.SignalNone, Data: result}, nil
}

func metricLabels(ex *action.Executor, ac *action.Context, act spec.Action) (prometheus.Labels, error) {
	labelsRaw, ok := act.Get("labels")
	if !ok {
		return nil, nil
	}
	m, _ := labelsRaw.(map[string]any)
	labels := make(prometheus.Labels, len(m))
	for k, v := range m {
		s, err := evalString(ex, ac, v)
		if err != nil {
			return nil, err
		}
		labels[k] = s
	}
	return labels, nil
}

func metricValue(ex *action.Executor, ac *action.Context, act spec.Action, field string, fallback float64) (float64, error) {
	raw, ok := act.Get(field)
	if !ok {
		return fallback, nil
	}
	val, err := evalField(ex, ac, raw)
	if err != nil {
		return 0, err
	}
	if f, ok := val.(float64); ok {
		return f, nil
	}
	return fallback, nil
}

func (b *Bindings) requireMetrics() error {
	if b.Metrics == nil {
		return errs.NewRuntimeError("metrics", "no metrics collector configured")
	}
	return nil
}

func (b *Bindings) handleMetricIncrement(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	if err := b.requireMetrics(); err != nil {
		return action.Result{}, err
	}
	name, err := evalString(ex, ac, act.GetString("name"))
	if err != nil {
		return action.Result{}, err
	}
	by, err := metricValue(ex, ac, act, "by", 1)
	if err != nil {
		return action.Result{}, err
	}
	labels, err := metricLabels(ex, ac, act)
	if err != nil {
		return action.Result{}, err
	}
	b.Metrics.Increment(name, by, labels)
	return action.Result{Signal: action.SignalNone}, nil
}

func (b *Bindings) handleMetricGauge(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	if err := b.requireMetrics(); err != nil {
		return action.Result{}, err
	}
	name, err := evalString(ex, ac, act.GetString("name"))
	if err != nil {
		return action.Result{}, err
	}
	value, err := metricValue(ex, ac, act, "value", 0)
	if err != nil {
		return action.Result{}, err
	}
	labels, err := metricLabels(ex, ac, act)
	if err != nil {
		return action.Result{}, err
	}
	b.Metrics.SetGauge(name, value, labels)
	return action.Result{Signal: action.SignalNone}, nil
}

func (b *Bindings) handleMetricObserve(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	if err := b.requireMetrics(); err != nil {
		return action.Result{}, err
	}
	name, err := evalString(ex, ac, act.GetString("name"))
	if err != nil {
		return action.Result{}, err
	}
	value, err := metricValue(ex, ac, act, "value", 0)
	if err != nil {
		return action.Result{}, err
	}
	b.Metrics.Observe(name, value)
	return action.Result{Signal: action.SignalNone}, nil
}

func (b *Bindings) handleLog(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	message, err := evalString(ex, ac, act.GetString("message"))
	if err != nil {
		return action.Result{}, err
	}
	level, err := evalString(ex, ac, act.GetString("level"))
	if err != nil {
		return action.Result{}, err
	}

	var kv []any
	if fieldsRaw, ok := act.Get("fields"); ok {
		if m, ok := fieldsRaw.(map[string]any); ok {
			for k, v := range m {
				val, err := evalField(ex, ac, v)
				if err != nil {
					return action.Result{}, err
				}
				kv = append(kv, k, val)
			}
		}
	}

	logger := logi.Ctx(ctx)
	switch level {
	case "debug":
		logger.Debug(message, kv...)
	case "warn":
		logger.Warn(message, kv...)
	case "error":
		logger.Error(message, kv...)
	default:
		logger.Info(message, kv...)
	}
	return action.Result{Signal: action.SignalNone}, nil
}
