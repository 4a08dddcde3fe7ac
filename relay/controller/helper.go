// Package controller executes one dispatch attempt: canonical conversion
// through an engine adaptor, or byte-level passthrough when the inbound
// dialect matches the provider's native protocol. The outer retry loop in
// the top-level controller package drives it once per attempt.
package controller

import (
	"github.com/gin-gonic/gin"

	"github.com/llmux/llmux/common/ctxkey"
	"github.com/llmux/llmux/relay/model"
)

func openAIError(message, typ string, statusCode int) *model.ErrorWithStatusCode {
	return &model.ErrorWithStatusCode{
		Error: model.Error{
			Message: message,
			Type:    typ,
		},
		StatusCode: statusCode,
	}
}

// canonicalRequest returns the parsed inbound request pinned on the
// context by the distributor.
func canonicalRequest(c *gin.Context) *model.GeneralOpenAIRequest {
	if v, ok := c.Get(ctxkey.CanonicalRequest); ok {
		if req, ok := v.(*model.GeneralOpenAIRequest); ok {
			return req
		}
	}
	return nil
}

// UsageFromContext returns the accounting published by the attempt that
// answered the client, nil when nothing completed.
func UsageFromContext(c *gin.Context) *model.Usage {
	if v, ok := c.Get(ctxkey.RelayUsage); ok {
		if u, ok := v.(*model.Usage); ok {
			return u
		}
	}
	return nil
}
