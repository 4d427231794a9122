package actions

import (
	"context"

	"github.com/flowbotic/runtime/internal/action"
	"github.com/flowbotic/runtime/internal/errs"
	"github.com/flowbotic/runtime/internal/platform"
	"github.com/flowbotic/runtime/internal/spec"
)

func (b *Bindings) registerMessageActions(reg *action.Registry) {
	reg.Register("reply", b.handleReply)
	reg.Register("send_message", b.handleSendMessage)
	reg.Register("edit_message", b.handleEditMessage)
	reg.Register("delete_message", b.handleDeleteMessage)
	reg.Register("bulk_delete", b.handleBulkDelete)
	reg.Register("add_reaction", b.handleAddReaction)
	reg.Register("remove_reaction", b.handleRemoveReaction)
	reg.Register("send_dm", b.handleSendDM)
}

func (b *Bindings) requirePlatform() error {
	if b.Platform == nil {
		return errs.NewRuntimeError("client", "no platform client configured")
	}
	return nil
}

// buildMessage evaluates the common message fields (content, embeds,
// reply_to) an action uses to construct a platform.Message.
func buildMessage(ex *action.Executor, ac *action.Context, act spec.Action) (platform.Message, error) {
	content, err := evalString(ex, ac, act.GetString("content"))
	if err != nil {
		return platform.Message{}, err
	}

	msg := platform.Message{Content: content}

	if replyRaw, ok := act.Get("reply_to"); ok {
		replyTo, err := evalString(ex, ac, replyRaw)
		if err != nil {
			return platform.Message{}, err
		}
		msg.ReplyToID = replyTo
	}

	if embedsRaw, ok := act.Get("embeds"); ok {
		if list, ok := embedsRaw.([]any); ok {
			for _, item := range list {
				em, ok := item.(map[string]any)
				if !ok {
					continue
				}
				embed, err := evalEmbed(ex, ac, em)
				if err != nil {
					return platform.Message{}, err
				}
				msg.Embeds = append(msg.Embeds, embed)
			}
		}
	}

	return msg, nil
}

func evalEmbed(ex *action.Executor, ac *action.Context, fields map[string]any) (platform.Embed, error) {
	var embed platform.Embed
	var err error
	if embed.Title, err = evalString(ex, ac, fields["title"]); err != nil {
		return embed, err
	}
	if embed.Description, err = evalString(ex, ac, fields["description"]); err != nil {
		return embed, err
	}
	if embed.ImageURL, err = evalString(ex, ac, fields["image_url"]); err != nil {
		return embed, err
	}
	if embed.ThumbURL, err = evalString(ex, ac, fields["thumb_url"]); err != nil {
		return embed, err
	}
	if embed.FooterText, err = evalString(ex, ac, fields["footer_text"]); err != nil {
		return embed, err
	}
	if colorRaw, ok := fields["color"]; ok {
		val, err := evalField(ex, ac, colorRaw)
		if err != nil {
			return embed, err
		}
		if f, ok := val.(float64); ok {
			embed.Color = int(f)
		}
	}
	return embed, nil
}

func (b *Bindings) handleReply(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	if err := b.requirePlatform(); err != nil {
		return action.Result{}, err
	}
	channelID, err := fieldOrContext(ex, ac, act, "channel_id", contextChannelID(ac))
	if err != nil {
		return action.Result{}, err
	}
	msg, err := buildMessage(ex, ac, act)
	if err != nil {
		return action.Result{}, err
	}
	if msg.ReplyToID == "" {
		msg.ReplyToID = stringFromContext(ac, "messageId", "message")
	}
	id, err := b.Platform.SendMessage(ctx, channelID, msg)
	if err != nil {
		return action.Result{}, errs.NewExternalError(err)
	}
	return action.Result{Signal: action.SignalNone, Data: id}, nil
}

func (b *Bindings) handleSendMessage(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	if err := b.requirePlatform(); err != nil {
		return action.Result{}, err
	}
	channelID, err := fieldOrContext(ex, ac, act, "channel_id", contextChannelID(ac))
	if err != nil {
		return action.Result{}, err
	}
	msg, err := buildMessage(ex, ac, act)
	if err != nil {
		return action.Result{}, err
	}
	id, err := b.Platform.SendMessage(ctx, channelID, msg)
	if err != nil {
		return action.Result{}, errs.NewExternalError(err)
	}
	return action.Result{Signal: action.SignalNone, Data: id}, nil
}

func (b *Bindings) handleEditMessage(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	if err := b.requirePlatform(); err != nil {
		return action.Result{}, err
	}
	channelID, err := fieldOrContext(ex, ac, act, "channel_id", contextChannelID(ac))
	if err != nil {
		return action.Result{}, err
	}
	messageID, err := evalString(ex, ac, act.GetString("message_id"))
	if err != nil {
		return action.Result{}, err
	}
	msg, err := buildMessage(ex, ac, act)
	if err != nil {
		return action.Result{}, err
	}
	if err := b.Platform.EditMessage(ctx, channelID, messageID, msg); err != nil {
		return action.Result{}, errs.NewExternalError(err)
	}
	return action.Result{Signal: action.SignalNone}, nil
}

func (b *Bindings) handleDeleteMessage(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	if err := b.requirePlatform(); err != nil {
		return action.Result{}, err
	}
	channelID, err := fieldOrContext(ex, ac, act, "channel_id", contextChannelID(ac))
	if err != nil {
		return action.Result{}, err
	}
	messageID, err := evalString(ex, ac, act.GetString("message_id"))
	if err != nil {
		return action.Result{}, err
	}
	if err := b.Platform.DeleteMessage(ctx, channelID, messageID); err != nil {
		return action.Result{}, errs.NewExternalError(err)
	}
	return action.Result{Signal: action.SignalNone}, nil
}

func (b *Bindings) handleBulkDelete(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	if err := b.requirePlatform(); err != nil {
		return action.Result{}, err
	}
	channelID, err := fieldOrContext(ex, ac, act, "channel_id", contextChannelID(ac))
	if err != nil {
		return action.Result{}, err
	}
	idsRaw, _ := act.Get("message_ids")
	list, _ := idsRaw.([]any)
	ids := make([]string, 0, len(list))
	for _, item := range list {
		s, err := evalString(ex, ac, item)
		if err != nil {
			return action.Result{}, err
		}
		ids = append(ids, s)
	}
	if err := b.Platform.BulkDeleteMessages(ctx, channelID, ids); err != nil {
		return action.Result{}, errs.NewExternalError(err)
	}
	return action.Result{Signal: action.SignalNone}, nil
}

func (b *Bindings) handleAddReaction(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	if err := b.requirePlatform(); err != nil {
		return action.Result{}, err
	}
	return b.reaction(ctx, ex, ac, act, b.Platform.AddReaction)
}

func (b *Bindings) handleRemoveReaction(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	if err := b.requirePlatform(); err != nil {
		return action.Result{}, err
	}
	return b.reaction(ctx, ex, ac, act, b.Platform.RemoveReaction)
}

func (b *Bindings) reaction(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action, fn func(context.Context, string, string, string) error) (action.Result, error) {
	if err := b.requirePlatform(); err != nil {
		return action.Result{}, err
	}
	channelID, err := fieldOrContext(ex, ac, act, "channel_id", contextChannelID(ac))
	if err != nil {
		return action.Result{}, err
	}
	messageID, err := evalString(ex, ac, act.GetString("message_id"))
	if err != nil {
		return action.Result{}, err
	}
	emoji, err := evalString(ex, ac, act.GetString("emoji"))
	if err != nil {
		return action.Result{}, err
	}
	if err := fn(ctx, channelID, messageID, emoji); err != nil {
		return action.Result{}, errs.NewExternalError(err)
	}
	return action.Result{Signal: action.SignalNone}, nil
}

func (b *Bindings) handleSendDM(ctx context.Context, ex *action.Executor, ac *action.Context, act spec.Action) (action.Result, error) {
	if err := b.requirePlatform(); err != nil {
		return action.Result{}, err
	}
	userID, err := fieldOrContext(ex, ac, act, "user_id", contextUserID(ac))
	if err != nil {
		return action.Result{}, err
	}
	msg, err := buildMessage(ex, ac, act)
	if err != nil {
		return action.Result{}, err
	}
	id, err := b.Platform.SendDM(ctx, userID, msg)
	if err != nil {
		return action.Result{}, errs.NewExternalError(err)
	}
	return action.Result{Signal: action.SignalNone, Data: id}, nil
}
