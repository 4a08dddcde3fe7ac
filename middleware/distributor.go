package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/llmux/llmux/common"
	"github.com/llmux/llmux/common/ctxkey"
	"github.com/llmux/llmux/relay/dialect"
)

// Distribute parses the inbound body into the canonical request shape and
// records the requested model alias. Runs after TokenAuth.
func Distribute() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := common.GetRequestBody(c)
		if err != nil {
			abortWithError(c, http.StatusBadRequest, "failed to read request body", "invalid_request_error")
			return
		}

		d := dialect.FromContext(c)
		req, err := d.ParseRequest(c, body)
		if err != nil {
			abortWithError(c, http.StatusBadRequest, err.Error(), "invalid_request_error")
			return
		}
		if req.Model == "" {
			abortWithError(c, http.StatusBadRequest, "model is required", "invalid_request_error")
			return
		}

		c.Set(ctxkey.CanonicalRequest, req)
		c.Set(ctxkey.RequestModel, req.Model)
		c.Next()
	}
}
