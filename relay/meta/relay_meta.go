// Package meta carries the per-attempt relay state between the dispatcher,
// the engine adaptors, and the streaming wrapper.
package meta

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/llmux/llmux/common/ctxkey"
	"github.com/llmux/llmux/relay/channel"
)

// Meta describes one dispatch attempt against one provider. A fresh Meta is
// built per attempt so renames and key choices never leak between retries.
type Meta struct {
	Mode    int
	Dialect string

	Snapshot *channel.Snapshot
	Provider *channel.Provider

	ChannelType int
	APIType     int
	BaseURL     string

	// APIKey is the upstream credential picked from the provider's pool.
	APIKey string

	// InboundKey identifies the caller.
	InboundKey      *channel.APIKey
	InboundKeyIndex int

	// OriginModelName is the alias the client asked for; ActualModelName is
	// what the upstream sees after the model dict resolves it.
	OriginModelName string
	ActualModelName string

	IsStream  bool
	RequestID string
	ClientIP  string
	StartTime time.Time

	Timeout           time.Duration
	KeepaliveInterval time.Duration

	// PromptTokens is the local estimate used when upstream omits usage.
	PromptTokens int

	// AttemptNumber counts dispatches for this inbound request, 1-based.
	AttemptNumber int

	// Passthrough marks attempts that forward inbound bytes untouched.
	Passthrough bool

	// EnabledPlugins gates the interception chains for this provider.
	EnabledPlugins []string
}

// Set stores m on the gin context for downstream handlers.
func (m *Meta) Set(c *gin.Context) {
	c.Set(ctxkey.RelayMeta, m)
}

// GetByContext returns the attempt metadata stored on the context, nil when
// dispatch has not started.
func GetByContext(c *gin.Context) *Meta {
	if v, ok := c.Get(ctxkey.RelayMeta); ok {
		if m, ok := v.(*Meta); ok {
			return m
		}
	}
	return nil
}
