package adaptor

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/llmux/llmux/common/ctxkey"
	"github.com/llmux/llmux/relay/dialect"
)

// StreamRendererFromContext returns the renderer for the request's inbound
// dialect, creating it on first use. Renderers are stateful across chunks so
// all handlers for one request must share the same instance.
func StreamRendererFromContext(c *gin.Context) dialect.StreamRenderer {
	if v, ok := c.Get(ctxkey.StreamRenderer); ok {
		if r, ok := v.(dialect.StreamRenderer); ok {
			return r
		}
	}
	r := dialect.FromContext(c).NewStreamRenderer()
	c.Set(ctxkey.StreamRenderer, r)
	return r
}

// MarkFirstResponse records when the first upstream byte arrived and flags
// the stream as started so the retry loop stops rerouting.
func MarkFirstResponse(c *gin.Context) {
	if _, ok := c.Get(ctxkey.FirstResponseTime); !ok {
		c.Set(ctxkey.FirstResponseTime, time.Now())
	}
	c.Set(ctxkey.StreamStarted, true)
}
