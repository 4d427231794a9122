// Package state implements the scoped variable and table manager (component
// C3): scope resolution, default materialization, a write-through LRU cache
// with per-entry TTL, and atomic arithmetic on numeric variables serialized
// per (scope-key, name).
package state

import (
	"fmt"

	"github.com/flowbotic/runtime/internal/errs"
)

// Scope is the partitioning key space for a variable (§3 GLOSSARY).
type Scope string

const (
	ScopeGlobal  Scope = "global"
	ScopeGuild   Scope = "guild"
	ScopeChannel Scope = "channel"
	ScopeUser    Scope = "user"
	ScopeMember  Scope = "member"
)

// ScopeContext carries the trigger-derived identifiers a scope resolution
// may need. Fields are optional; which ones are required depends on Scope
// (§3 invariant 1).
type ScopeContext struct {
	GuildID   string
	ChannelID string
	UserID    string
}

// Key builds the canonical storage key "var/<scope>/<scope-params>/<name>"
// (§3). A guild-scoped key fails unless GuildID is present; member-scoped
// requires both GuildID and UserID. These are programming errors, never
// silently coerced (§3 invariant 1).
func Key(scope Scope, name string, ctx ScopeContext) (string, error) {
	switch scope {
	case ScopeGlobal:
		return fmt.Sprintf("var/global/%s", name), nil
	case ScopeGuild:
		if ctx.GuildID == "" {
			return "", errs.NewRuntimeError("scope_violation", "guild-scoped variable %q requires guildId in context", name)
		}
		return fmt.Sprintf("var/guild/%s/%s", ctx.GuildID, name), nil
	case ScopeChannel:
		if ctx.ChannelID == "" {
			return "", errs.NewRuntimeError("scope_violation", "channel-scoped variable %q requires channelId in context", name)
		}
		return fmt.Sprintf("var/channel/%s/%s", ctx.ChannelID, name), nil
	case ScopeUser:
		if ctx.UserID == "" {
			return "", errs.NewRuntimeError("scope_violation", "user-scoped variable %q requires userId in context", name)
		}
		return fmt.Sprintf("var/user/%s/%s", ctx.UserID, name), nil
	case ScopeMember:
		if ctx.GuildID == "" || ctx.UserID == "" {
			return "", errs.NewRuntimeError("scope_violation", "member-scoped variable %q requires guildId and userId in context", name)
		}
		return fmt.Sprintf("var/member/%s/%s/%s", ctx.GuildID, ctx.UserID, name), nil
	default:
		return "", errs.NewValidationError("unknown scope %q", scope)
	}
}
