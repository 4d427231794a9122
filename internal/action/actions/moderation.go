package actions

import (
	"context"

	str2duration "github.com/xhit/go-str2duration/v2"

	"github.com/flowbotic/runtime/internal/action"
	"github.com/flowbotic/runtime/internal/errs"
	"github.com/flowbotic/runtime/internal/spec"
)

func (b *Bindings) registerModerationActions(reg *action.Registry) {
	reg.Register("kick", b.handleKick)
	reg.Register("ban", b.handleBan)
	reg.Register("timeout", b.handleTimeout)
}

func (b *Bindings) handleKick(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	if err := b.requirePlatform(); err != nil {
		return action.Result{}, err
	}
	guildID, err := fieldOrContext(ex, ac, act, "guild_id", contextGuildID(ac))
	if err != nil {
		return action.Result{}, err
	}
	userID, err := fieldOrContext(ex, ac, act, "user_id", contextUserID(ac))
	if err != nil {
		return action.Result{}, err
	}
	reason, err := evalString(ex, ac, act.GetString("reason"))
	if err != nil {
		return action.Result{}, err
	}
	if err := b.Platform.Kick(ctx, guildID, userID, reason); err != nil {
		return action.Result{}, errs.NewExternalError(err)
	}
	return action.Result{Signal: action.SignalNone}, nil
}

func (b *Bindings) handleBan(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	if err := b.requirePlatform(); err != nil {
		return action.Result{}, err
	}
	guildID, err := fieldOrContext(ex, ac, act, "guild_id", contextGuildID(ac))
	if err != nil {
		return action.Result{}, err
	}
	userID, err := fieldOrContext(ex, ac, act, "user_id", contextUserID(ac))
	if err != nil {
		return action.Result{}, err
	}
	reason, err := evalString(ex, ac, act.GetString("reason"))
	if err != nil {
		return action.Result{}, err
	}
	if err := b.Platform.Ban(ctx, guildID, userID, reason); err != nil {
		return action.Result{}, errs.NewExternalError(err)
	}
	return action.Result{Signal: action.SignalNone}, nil
}

func (b *Bindings) handleTimeout(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	if err := b.requirePlatform(); err != nil {
		return action.Result{}, err
	}
	guildID, err := fieldOrContext(ex, ac, act, "guild_id", contextGuildID(ac))
	if err != nil {
		return action.Result{}, err
	}
	userID, err := fieldOrContext(ex, ac, act, "user_id", contextUserID(ac))
	if err != nil {
		return action.Result{}, err
	}
	reason, err := evalString(ex, ac, act.GetString("reason"))
	if err != nil {
		return action.Result{}, err
	}

	var durationMs int64
	if durationRaw, ok := act.Get("duration"); ok {
		val, err := evalField(ex, ac, durationRaw)
		if err != nil {
			return action.Result{}, err
		}
		if s, ok := val.(string); ok {
			d, err := str2duration.ParseDuration(s)
			if err != nil {
				return action.Result{}, errs.NewValidationError("timeout: invalid duration %q: %v", s, err)
			}
			durationMs = d.Milliseconds()
		} else if f, ok := val.(float64); ok {
			durationMs = int64(f)
		}
	}

	if err := b.Platform.Timeout(ctx, guildID, userID, durationMs, reason); err != nil {
		return action.Result{}, errs.NewExternalError(err)
	}
	return action.Result{Signal: action.SignalNone}, nil
}
