package actions

import (
	"context"

	"github.com/flowbotic/runtime/internal/action"
	"github.com/flowbotic/runtime/internal/errs"
	"github.com/flowbotic/runtime/internal/spec"
	"github.com/flowbotic/runtime/internal/state"
	"github.com/flowbotic/runtime/internal/storage"
)

func (b *Bindings) registerStateActions(reg *action.Registry) {
	reg.Register("set", b.handleSet)
	reg.Register("delete", b.handleDeleteVar)
	reg.Register("increment", b.handleIncrement)
	reg.Register("decrement", b.handleDecrement)
	reg.Register("db_insert", b.handleDBInsert)
	reg.Register("db_update", b.handleDBUpdate)
	reg.Register("db_delete", b.handleDBDelete)
	reg.Register("db_query", b.handleDBQuery)
}

func (b *Bindings) requireState() error {
	if b.State == nil {
		return errs.NewRuntimeError("database", "no state manager configured")
	}
	return nil
}

func scopeContextFrom(ac *action.Context) state.ScopeContext {
	return state.ScopeContext{
		GuildID:   contextGuildID(ac),
		ChannelID: contextChannelID(ac),
		UserID:    contextUserID(ac),
	}
}

func actionScope(act spec.Action) state.Scope {
	s := act.GetString("scope")
	if s == "" {
		return state.ScopeGlobal
	}
	return state.Scope(s)
}

func (b *Bindings) handleSet(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	if err := b.requireState(); err != nil {
		return action.Result{}, err
	}
	name, err := evalString(ex, ac, act.GetString("name"))
	if err != nil {
		return action.Result{}, err
	}
	valueRaw, _ := act.Get("value")
	value, err := evalField(ex, ac, valueRaw)
	if err != nil {
		return action.Result{}, err
	}
	if err := b.State.Set(ctx, name, actionScope(act), scopeContextFrom(ac), value); err != nil {
		return action.Result{}, err
	}
	return action.Result{Signal: action.SignalNone}, nil
}

func (b *Bindings) handleDeleteVar(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	if err := b.requireState(); err != nil {
		return action.Result{}, err
	}
	name, err := evalString(ex, ac, act.GetString("name"))
	if err != nil {
		return action.Result{}, err
	}
	if err := b.State.Delete(ctx, name, actionScope(act), scopeContextFrom(ac)); err != nil {
		return action.Result{}, err
	}
	return action.Result{Signal: action.SignalNone}, nil
}

func (b *Bindings) handleIncrement(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	return b.arithmetic(ctx, ex, ac, act, b.State.Increment)
}

func (b *Bindings) handleDecrement(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	return b.arithmetic(ctx, ex, ac, act, b.State.Decrement)
}

func (b *Bindings) arithmetic(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action, fn func(context.Context, string, state.Scope, state.ScopeContext, float64) (float64, error)) (action.Result, error) {
	if err := b.requireState(); err != nil {
		return action.Result{}, err
	}
	name, err := evalString(ex, ac, act.GetString("name"))
	if err != nil {
		return action.Result{}, err
	}
	by := 1.0
	if byRaw, ok := act.Get("by"); ok {
		val, err := evalField(ex, ac, byRaw)
		if err != nil {
			return action.Result{}, err
		}
		if f, ok := val.(float64); ok {
			by = f
		}
	}
	newValue, err := fn(ctx, name, actionScope(act), scopeContextFrom(ac), by)
	if err != nil {
		return action.Result{}, err
	}
	return action.Result{Signal: action.SignalNone, Data: newValue}, nil
}

func (b *Bindings) handleDBInsert(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	if err := b.requireState(); err != nil {
		return action.Result{}, err
	}
	table, err := evalString(ex, ac, act.GetString("table"))
	if err != nil {
		return action.Result{}, err
	}
	row, err := evalRow(ex, ac, act)
	if err != nil {
		return action.Result{}, err
	}
	if err := b.State.Insert(ctx, table, row); err != nil {
		return action.Result{}, err
	}
	return action.Result{Signal: action.SignalNone}, nil
}

func (b *Bindings) handleDBUpdate(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	if err := b.requireState(); err != nil {
		return action.Result{}, err
	}
	table, err := evalString(ex, ac, act.GetString("table"))
	if err != nil {
		return action.Result{}, err
	}
	where, err := evalWhere(ex, ac, act)
	if err != nil {
		return action.Result{}, err
	}
	patch, err := evalRow(ex, ac, act)
	if err != nil {
		return action.Result{}, err
	}
	n, err := b.State.Update(ctx, table, where, patch)
	if err != nil {
		return action.Result{}, err
	}
	return action.Result{Signal: action.SignalNone, Data: float64(n)}, nil
}

func (b *Bindings) handleDBDelete(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	if err := b.requireState(); err != nil {
		return action.Result{}, err
	}
	table, err := evalString(ex, ac, act.GetString("table"))
	if err != nil {
		return action.Result{}, err
	}
	where, err := evalWhere(ex, ac, act)
	if err != nil {
		return action.Result{}, err
	}
	n, err := b.State.DeleteRows(ctx, table, where)
	if err != nil {
		return action.Result{}, err
	}
	return action.Result{Signal: action.SignalNone, Data: float64(n)}, nil
}

func (b *Bindings) handleDBQuery(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	if err := b.requireState(); err != nil {
		return action.Result{}, err
	}
	table, err := evalString(ex, ac, act.GetString("table"))
	if err != nil {
		return action.Result{}, err
	}
	where, err := evalWhere(ex, ac, act)
	if err != nil {
		return action.Result{}, err
	}

	opts := storage.QueryOptions{Where: where}
	if orderBy, err := evalString(ex, ac, act.GetString("order_by")); err == nil && orderBy != "" {
		if act.GetBool("descending") {
			orderBy += " DESC"
		} else {
			orderBy += " ASC"
		}
		opts.OrderBy = orderBy
	}
	if limitRaw, ok := act.Get("limit"); ok {
		val, err := evalField(ex, ac, limitRaw)
		if err != nil {
			return action.Result{}, err
		}
		if f, ok := val.(float64); ok {
			opts.Limit = int(f)
		}
	}

	rows, err := b.State.Query(ctx, table, opts)
	if err != nil {
		return action.Result{}, err
	}

	result := make([]map[string]any, len(rows))
	for i, row := range rows {
		result[i] = map[string]any(row)
	}

	if as := act.GetString("as"); as != "" {
		ac.Set(as, result)
	}
	return action.Result{Signal: action.SignalNone, Data: result}, nil
}

// evalRow evaluates the "fields" map action field into a storage.Row,
// each value passed through evalField so literal and templated values
// both work.
func evalRow(ex *action.Executor, ac *action.Context, act spec.Action) (storage.Row, error) {
	fieldsRaw, _ := act.Get("fields")
	fields, _ := fieldsRaw.(map[string]any)
	row := make(storage.Row, len(fields))
	for k, v := range fields {
		val, err := evalField(ex, ac, v)
		if err != nil {
			return nil, err
		}
		row[k] = val
	}
	return row, nil
}

// evalWhere evaluates the "where" map action field (column -> expected
// value) into a conjunction of equality storage.Conditions. A condition
// list form (column, op, value objects) is accepted for non-equality
// comparisons.
func evalWhere(ex *action.Executor, ac *action.Context, act spec.Action) (storage.Where, error) {
	whereRaw, ok := act.Get("where")
	if !ok {
		return nil, nil
	}

	if list, ok := whereRaw.([]any); ok {
		out := make(storage.Where, 0, len(list))
		for _, item := range list {
			cond, ok := item.(map[string]any)
			if !ok {
				continue
			}
			column, _ := cond["column"].(string)
			op, _ := cond["op"].(string)
			if op == "" {
				op = string(storage.OpEq)
			}
			val, err := evalField(ex, ac, cond["value"])
			if err != nil {
				return nil, err
			}
			out = append(out, storage.Condition{Column: column, Op: storage.Op(op), Value: val})
		}
		return out, nil
	}

	where, _ := whereRaw.(map[string]any)
	out := make(storage.Where, 0, len(where))
	for k, v := range where {
		val, err := evalField(ex, ac, v)
		if err != nil {
			return nil, err
		}
		out = append(out, storage.Condition{Column: k, Op: storage.OpEq, Value: val})
	}
	return out, nil
}
