// Package adaptor defines the contract every outbound engine implements.
// One adaptor turns a canonical request into provider wire bytes, runs the
// HTTP exchange, and converts the provider's response or SSE stream back to
// the canonical shape.
package adaptor

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/llmux/llmux/relay/meta"
	"github.com/llmux/llmux/relay/model"
)

// Adaptor is the per-engine request/response converter.
type Adaptor interface {
	// Init lets the adaptor cache per-attempt derivations from meta.
	Init(meta *meta.Meta)

	// GetRequestURL builds the upstream URL for this attempt.
	GetRequestURL(meta *meta.Meta) (string, error)

	// SetupRequestHeader sets auth and content headers on the upstream
	// request. In passthrough mode this is the only adaptor hook that runs
	// before dispatch.
	SetupRequestHeader(c *gin.Context, req *http.Request, meta *meta.Meta) error

	// ConvertRequest translates the canonical request into the engine's
	// native payload.
	ConvertRequest(c *gin.Context, relayMode int, request *model.GeneralOpenAIRequest) (any, error)

	// DoRequest performs the HTTP exchange through the shared client pool.
	DoRequest(c *gin.Context, meta *meta.Meta, requestBody io.Reader) (*http.Response, error)

	// DoResponse parses the upstream response (stream or not), writes the
	// client-facing bytes, and reports usage.
	DoResponse(c *gin.Context, resp *http.Response, meta *meta.Meta) (usage *model.Usage, err *model.ErrorWithStatusCode)

	// GetModelList returns the model ids this engine serves by default.
	GetModelList() []string

	// GetChannelName names the engine in logs and stats.
	GetChannelName() string
}
