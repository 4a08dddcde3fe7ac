// Package plugin runs ordered interception chains around a dispatch: one
// hook rewrites the outbound payload, the other rewrites canonical SSE
// lines on the way back.
package plugin

import (
	"github.com/llmux/llmux/relay/meta"
	"github.com/llmux/llmux/relay/model"
)

// Context threads per-request state between a plugin's request and stream
// hooks. Plugins must never store request state globally.
type Context struct {
	values map[string]any
}

func NewContext() *Context {
	return &Context{values: map[string]any{}}
}

func (c *Context) Get(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

func (c *Context) Set(key string, v any) {
	c.values[key] = v
}

// Plugin is one interception pair. Either hook may be a no-op.
type Plugin interface {
	Name() string

	// InterceptRequest rewrites the canonical request before conversion
	// and dispatch.
	InterceptRequest(pctx *Context, m *meta.Meta, req *model.GeneralOpenAIRequest)

	// InterceptStream rewrites one canonical SSE data line into zero or
	// more replacement lines. The terminal "[DONE]" line flows through
	// here too so plugins can flush buffered output ahead of it.
	InterceptStream(pctx *Context, line string) []string
}

var registry = map[string]Plugin{}

// Register adds a plugin to the catalogue providers can enable.
func Register(p Plugin) {
	registry[p.Name()] = p
}

// Chain is the ordered set of plugins enabled for one dispatch, sharing one
// Context.
type Chain struct {
	plugins []Plugin
	pctx    *Context
}

// NewChain resolves the enabled plugin names, keeping their declared order
// and skipping unknown names.
func NewChain(enabled []string) *Chain {
	ch := &Chain{pctx: NewContext()}
	for _, name := range enabled {
		if p, ok := registry[name]; ok {
			ch.plugins = append(ch.plugins, p)
		}
	}
	return ch
}

// Empty reports whether no plugin is active, letting callers skip the
// stream rewrite entirely.
func (ch *Chain) Empty() bool {
	return ch == nil || len(ch.plugins) == 0
}

// ApplyRequest runs the request hooks in order.
func (ch *Chain) ApplyRequest(m *meta.Meta, req *model.GeneralOpenAIRequest) {
	if ch == nil {
		return
	}
	for _, p := range ch.plugins {
		p.InterceptRequest(ch.pctx, m, req)
	}
}

// ApplyStream feeds one line through every stream hook, fanning out when a
// plugin splits it.
func (ch *Chain) ApplyStream(line string) []string {
	if ch == nil || len(ch.plugins) == 0 {
		return []string{line}
	}
	lines := []string{line}
	for _, p := range ch.plugins {
		var next []string
		for _, l := range lines {
			next = append(next, p.InterceptStream(ch.pctx, l)...)
		}
		lines = next
	}
	return lines
}
