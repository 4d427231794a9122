// Package platform defines the abstract capability contract the runtime
// talks to instead of a concrete chat protocol. Translating a Client call
// into bytes on a gateway socket is deliberately out of scope for the
// core — actions and flows only ever see this interface.
//
// Grounded on the teacher's LLMProvider/LLMStreamProvider split in
// internal/service/at.go: a generic-capability interface the core
// depends on, with concrete adapters living outside the core and
// selected at wiring time.
package platform

import "context"

// Client is the abstract capability interface every concrete chat
// platform adapter implements. Actions in the catalog (reply,
// send_message, kick, ban, ...) are thin wrappers that evaluate their
// fields and call through to a Client obtained from the runtime.
type Client interface {
	// SendMessage posts msg to channelID and returns the platform's
	// assigned message id.
	SendMessage(ctx context.Context, channelID string, msg Message) (messageID string, err error)

	// EditMessage replaces msg's content/embeds in place.
	EditMessage(ctx context.Context, channelID, messageID string, msg Message) error

	// DeleteMessage removes a single message.
	DeleteMessage(ctx context.Context, channelID, messageID string) error

	// BulkDeleteMessages removes up to len(messageIDs) messages in one
	// platform call where supported; implementations may fall back to
	// sequential DeleteMessage calls.
	BulkDeleteMessages(ctx context.Context, channelID string, messageIDs []string) error

	// AddReaction and RemoveReaction toggle a single emoji reaction on a
	// message, on behalf of the bot's own identity.
	AddReaction(ctx context.Context, channelID, messageID, emoji string) error
	RemoveReaction(ctx context.Context, channelID, messageID, emoji string) error

	// SendDM opens (or reuses) a direct message channel with userID and
	// sends msg through it.
	SendDM(ctx context.Context, userID string, msg Message) (messageID string, err error)

	// Moderation actions. duration is zero for a permanent action.
	Kick(ctx context.Context, guildID, userID, reason string) error
	Ban(ctx context.Context, guildID, userID, reason string) error
	Timeout(ctx context.Context, guildID, userID string, duration int64, reason string) error

	// Role lifecycle and membership.
	CreateRole(ctx context.Context, guildID string, role Role) (roleID string, err error)
	DeleteRole(ctx context.Context, guildID, roleID string) error
	AddRole(ctx context.Context, guildID, userID, roleID string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID string) error

	// Channel lifecycle.
	CreateChannel(ctx context.Context, guildID string, channel Channel) (channelID string, err error)
	DeleteChannel(ctx context.Context, channelID string) error

	// Voice connects to a voice channel, queues playback of a source
	// (implementation-defined: URL, local path, or stream), and Leave
	// disconnects and clears the queue.
	VoiceConnect(ctx context.Context, guildID, channelID string) error
	VoicePlay(ctx context.Context, guildID, source string) error
	VoiceQueue(ctx context.Context, guildID, source string) error
	VoiceLeave(ctx context.Context, guildID string) error

	// Fetchers resolve platform entities by id. A nil result with a nil
	// error means "not found".
	FetchGuild(ctx context.Context, guildID string) (*Guild, error)
	FetchChannel(ctx context.Context, channelID string) (*Channel, error)
	FetchUser(ctx context.Context, userID string) (*User, error)
	FetchMember(ctx context.Context, guildID, userID string) (*Member, error)
}

// Message is a platform-agnostic outbound/inbound message payload.
type Message struct {
	Content     string
	Embeds      []Embed
	Components  []Component
	Attachments []Attachment

	// ReplyToID, if set, marks this message as a reply to another.
	ReplyToID string
}

// Embed is a rich-content block attached to a Message.
type Embed struct {
	Title       string
	Description string
	Color       int
	Fields      []EmbedField
	ImageURL    string
	ThumbURL    string
	FooterText  string
}

type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

// Component is an interactive element (button, select menu, ...)
// attached to a Message. Kind and Data are intentionally loose since the
// concrete component vocabulary belongs to the adapter/spec-document
// layer, not the core.
type Component struct {
	Kind string
	Data map[string]any
}

// Attachment is a file attached to an outbound message, or reported on
// an inbound one.
type Attachment struct {
	Filename string
	URL      string
	Data     []byte
}

// Role is a platform role's mutable properties.
type Role struct {
	Name        string
	Color       int
	Permissions []string
	Mentionable bool
}

// Channel is a platform channel's identity and mutable properties.
type Channel struct {
	ID       string
	GuildID  string
	Name     string
	Kind     string // "text", "voice", "category", ...
	ParentID string
}

// Guild is a platform guild/server's identity.
type Guild struct {
	ID          string
	Name        string
	OwnerID     string
	MemberCount int
}

// User is a platform user's identity, independent of any guild.
type User struct {
	ID       string
	Username string
	Bot      bool
}

// Member is a User's guild-scoped membership (roles, nickname, ...).
type Member struct {
	User     User
	GuildID  string
	Nickname string
	Roles    []string
}
