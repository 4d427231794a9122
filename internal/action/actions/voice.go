package actions

import (
	"context"

	"github.com/flowbotic/runtime/internal/action"
	"github.com/flowbotic/runtime/internal/errs"
	"github.com/flowbotic/runtime/internal/spec"
)

func (b *Bindings) registerVoiceActions(reg *action.Registry) {
	reg.Register("voice_connect", b.handleVoiceConnect)
	reg.Register("voice_play", b.handleVoicePlay)
	reg.Register("voice_queue", b.handleVoiceQueue)
	reg.Register("voice_leave", b.handleVoiceLeave)
}

func (b *Bindings) handleVoiceConnect(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	if err := b.requirePlatform(); err != nil {
		return action.Result{}, err
	}
	guildID, err := fieldOrContext(ex, ac, act, "guild_id", contextGuildID(ac))
	if err != nil {
		return action.Result{}, err
	}
	channelID, err := evalString(ex, ac, act.GetString("channel_id"))
	if err != nil {
		return action.Result{}, err
	}
	if err := b.Platform.VoiceConnect(ctx, guildID, channelID); err != nil {
		return action.Result{}, errs.NewExternalError(err)
	}
	return action.Result{Signal: action.SignalNone}, nil
}

func (b *Bindings) handleVoicePlay(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	if err := b.requirePlatform(); err != nil {
		return action.Result{}, err
	}
	guildID, err := fieldOrContext(ex, ac, act, "guild_id", contextGuildID(ac))
	if err != nil {
		return action.Result{}, err
	}
	source, err := evalString(ex, ac, act.GetString("source"))
	if err != nil {
		return action.Result{}, err
	}
	if err := b.Platform.VoicePlay(ctx, guildID, source); err != nil {
		return action.Result{}, errs.NewExternalError(err)
	}
	return action.Result{Signal: action.SignalNone}, nil
}

func (b *Bindings) handleVoiceQueue(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	if err := b.requirePlatform(); err != nil {
		return action.Result{}, err
	}
	guildID, err := fieldOrContext(ex, ac, act, "guild_id", contextGuildID(ac))
	if err != nil {
		return action.Result{}, err
	}
	source, err := evalString(ex, ac, act.GetString("source"))
	if err != nil {
		return action.Result{}, err
	}
	if err := b.Platform.VoiceQueue(ctx, guildID, source); err != nil {
		return action.Result{}, errs.NewExternalError(err)
	}
	return action.Result{Signal: action.SignalNone}, nil
}

func (b *Bindings) handleVoiceLeave(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	if err := b.requirePlatform(); err != nil {
		return action.Result{}, err
	}
	guildID, err := fieldOrContext(ex, ac, act, "guild_id", contextGuildID(ac))
	if err != nil {
		return action.Result{}, err
	}
	if err := b.Platform.VoiceLeave(ctx, guildID); err != nil {
		return action.Result{}, errs.NewExternalError(err)
	}
	return action.Result{Signal: action.SignalNone}, nil
}
