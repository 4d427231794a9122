// Package action implements the action registry and executor (component
// C4): a name→handler table, One/Sequence/Parallel execution modes, and the
// per-action error policy. Control-flow actions (flow_if, flow_while, …)
// are registered against this same table by the sibling flow package
// (component C5), following the teacher's node/registry pattern in
// internal/service/workflow/node.go (RegisterNodeType + init()), adapted to
// an instance-per-runtime Registry rather than a bare global map — per
// spec.md §9's "prefer explicit injection" design note.
package action

import "sync"

// Context is the evaluation context threaded through an action list: the
// read surface expressions see (trigger-derived keys) plus scratch written
// by set/as/call_flow (§3 GLOSSARY). It is copy-on-write per action list:
// Child returns an independent context seeded from the current snapshot,
// so a parallel/batch branch's writes don't leak to siblings until merged
// back explicitly.
type Context struct {
	mu   sync.RWMutex
	vars map[string]any
}

// NewContext builds a root Context from trigger-derived keys (guild,
// channel, user, member, message, interaction, args, event, …).
func NewContext(base map[string]any) *Context {
	vars := make(map[string]any, len(base))
	for k, v := range base {
		vars[k] = v
	}
	return &Context{vars: vars}
}

// Get reads a name from the context.
func (c *Context) Get(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.vars[name]
	return v, ok
}

// Set writes name into this context. Visible to later actions in the same
// sequence; not visible to sibling sequences unless merged.
func (c *Context) Set(name string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vars[name] = value
}

// Snapshot returns a shallow copy of the current variable set, suitable as
// an expression evaluation context.
func (c *Context) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.vars))
	for k, v := range c.vars {
		out[k] = v
	}
	return out
}

// Child forks a copy-on-write context seeded from the current snapshot.
// Because the fork happens at the moment of the call rather than through a
// live read-through chain, a running parent write made after Child returns
// is not visible to the child — a documented simplification of "share
// read-through to the parent" (§4.4) acceptable for the same reason the
// cache's insertion-order eviction only approximates true LRU (§4.3).
func (c *Context) Child() *Context {
	return NewContext(c.Snapshot())
}

// Merge copies every entry from other into c — used when a parallel
// branch or flow call completes and its writes should become visible to
// the parent (§4.4). batch's per-iteration child is simply discarded
// instead of merged.
func (c *Context) Merge(other *Context) {
	other.mu.RLock()
	entries := make(map[string]any, len(other.vars))
	for k, v := range other.vars {
		entries[k] = v
	}
	other.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range entries {
		c.vars[k] = v
	}
}
