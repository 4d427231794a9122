package actions

import (
	"context"

	"github.com/flowbotic/runtime/internal/action"
	"github.com/flowbotic/runtime/internal/errs"
	"github.com/flowbotic/runtime/internal/platform"
	"github.com/flowbotic/runtime/internal/spec"
)

func (b *Bindings) registerChannelRoleActions(reg *action.Registry) {
	reg.Register("create_channel", b.handleCreateChannel)
	reg.Register("delete_channel", b.handleDeleteChannel)
	reg.Register("create_role", b.handleCreateRole)
	reg.Register("delete_role", b.handleDeleteRole)
	reg.Register("add_role", b.handleAddRole)
	reg.Register("remove_role", b.handleRemoveRole)
}

func (b *Bindings) handleCreateChannel(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	if err := b.requirePlatform(); err != nil {
		return action.Result{}, err
	}
	guildID, err := fieldOrContext(ex, ac, act, "guild_id", contextGuildID(ac))
	if err != nil {
		return action.Result{}, err
	}
	name, err := evalString(ex, ac, act.GetString("name"))
	if err != nil {
		return action.Result{}, err
	}
	kind, err := evalString(ex, ac, act.GetString("kind"))
	if err != nil {
		return action.Result{}, err
	}
	parentID, err := evalString(ex, ac, act.GetString("parent_id"))
	if err != nil {
		return action.Result{}, err
	}

	id, err := b.Platform.CreateChannel(ctx, guildID, platform.Channel{
		GuildID: guildID, Name: name, Kind: kind, ParentID: parentID,
	})
	if err != nil {
		return action.Result{}, errs.NewExternalError(err)
	}
	return action.Result{Signal: action.SignalNone, Data: id}, nil
}

func (b *Bindings) handleDeleteChannel(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	if err := b.requirePlatform(); err != nil {
		return action.Result{}, err
	}
	channelID, err := fieldOrContext(ex, ac, act, "channel_id", contextChannelID(ac))
	if err != nil {
		return action.Result{}, err
	}
	if err := b.Platform.DeleteChannel(ctx, channelID); err != nil {
		return action.Result{}, errs.NewExternalError(err)
	}
	return action.Result{Signal: action.SignalNone}, nil
}

func (b *Bindings) handleCreateRole(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	if err := b.requirePlatform(); err != nil {
		return action.Result{}, err
	}
	guildID, err := fieldOrContext(ex, ac, act, "guild_id", contextGuildID(ac))
	if err != nil {
		return action.Result{}, err
	}
	name, err := evalString(ex, ac, act.GetString("name"))
	if err != nil {
		return action.Result{}, err
	}

	role := platform.Role{Name: name, Mentionable: act.GetBool("mentionable")}
	if colorRaw, ok := act.Get("color"); ok {
		val, err := evalField(ex, ac, colorRaw)
		if err != nil {
			return action.Result{}, err
		}
		if f, ok := val.(float64); ok {
			role.Color = int(f)
		}
	}
	if permsRaw, ok := act.Get("permissions"); ok {
		if list, ok := permsRaw.([]any); ok {
			for _, p := range list {
				if s, ok := p.(string); ok {
					role.Permissions = append(role.Permissions, s)
				}
			}
		}
	}

	id, err := b.Platform.CreateRole(ctx, guildID, role)
	if err != nil {
		return action.Result{}, errs.NewExternalError(err)
	}
	return action.Result{Signal: action.SignalNone, Data: id}, nil
}

func (b *Bindings) handleDeleteRole(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	if err := b.requirePlatform(); err != nil {
		return action.Result{}, err
	}
	guildID, err := fieldOrContext(ex, ac, act, "guild_id", contextGuildID(ac))
	if err != nil {
		return action.Result{}, err
	}
	roleID, err := evalString(ex, ac, act.GetString("role_id"))
	if err != nil {
		return action.Result{}, err
	}
	if err := b.Platform.DeleteRole(ctx, guildID, roleID); err != nil {
		return action.Result{}, errs.NewExternalError(err)
	}
	return action.Result{Signal: action.SignalNone}, nil
}

func (b *Bindings) handleAddRole(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	if err := b.requirePlatform(); err != nil {
		return action.Result{}, err
	}
	return b.roleMembership(ctx, ex, ac, act, b.Platform.AddRole)
}

func (b *Bindings) handleRemoveRole(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	if err := b.requirePlatform(); err != nil {
		return action.Result{}, err
	}
	return b.roleMembership(ctx, ex, ac, act, b.Platform.RemoveRole)
}

func (b *Bindings) roleMembership(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action, fn func(context.Context, string, string, string) error) (action.Result, error) {
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
	roleID, err := evalString(ex, ac, act.GetString("role_id"))
	if err != nil {
		return action.Result{}, err
	}
	if err := fn(ctx, guildID, userID, roleID); err != nil {
		return action.Result{}, errs.NewExternalError(err)
	}
	return action.Result{Signal: action.SignalNone}, nil
}
