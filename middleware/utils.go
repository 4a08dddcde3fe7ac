// Package middleware authenticates inbound requests, enforces rate limits,
// and pins each request to a configuration snapshot before dispatch.
package middleware

import (
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/llmux/llmux/common/helper"
	"github.com/llmux/llmux/common/random"
	"github.com/llmux/llmux/common/tracing"
	"github.com/llmux/llmux/relay/dialect"
	"github.com/llmux/llmux/relay/model"
)

// abortWithError rejects the request in the caller's dialect envelope.
func abortWithError(c *gin.Context, statusCode int, message, typ string) {
	gmw.GetLogger(c).Warn("request rejected",
		zap.Int("status_code", statusCode),
		zap.String("reason", message))
	d := dialect.FromContext(c)
	d.RenderError(c, statusCode, &model.Error{
		Message: helper.MessageWithRequestId(message, c.GetString(helper.RequestIdKey)),
		Type:    typ,
	})
	c.Abort()
}

// RequestId tags every request with an identifier carried through logs,
// stats rows, and the response headers. Reuses the OpenTelemetry trace id
// when tracing is on so stats rows correlate with spans.
func RequestId() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(helper.RequestIdKey)
		if id == "" {
			id = tracing.GetTraceIDFromContext(c.Request.Context())
		}
		if id == "" {
			id = random.GetUUID()
		}
		c.Set(helper.RequestIdKey, id)
		c.Header(helper.RequestIdKey, id)
		c.Next()
	}
}
