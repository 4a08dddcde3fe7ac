// Package aws serves Anthropic models through AWS Bedrock. Payloads are the
// Messages API shape with the Bedrock anthropic_version, carried over the
// AWS SDK instead of plain HTTP.
package aws

import (
	"io"
	"net/http"

	"github.com/Laisky/errors/v2"
	"github.com/gin-gonic/gin"

	"github.com/llmux/llmux/common/ctxkey"
	"github.com/llmux/llmux/relay/adaptor/anthropic"
	"github.com/llmux/llmux/relay/meta"
	"github.com/llmux/llmux/relay/model"
)

const anthropicBedrockVersion = "bedrock-2023-05-31"

type Adaptor struct{}

func (a *Adaptor) Init(meta *meta.Meta) {}

// GetRequestURL is unused; the SDK derives the endpoint from the region.
func (a *Adaptor) GetRequestURL(meta *meta.Meta) (string, error) {
	return "", nil
}

// SetupRequestHeader is unused; the SDK signs requests itself.
func (a *Adaptor) SetupRequestHeader(c *gin.Context, req *http.Request, meta *meta.Meta) error {
	return nil
}

// bedrockClaudeRequest is the Messages payload in Bedrock form: model and
// stream live outside the body.
type bedrockClaudeRequest struct {
	*model.ClaudeRequest
	Model            string `json:"model,omitempty"`
	Stream           bool   `json:"stream,omitempty"`
	AnthropicVersion string `json:"anthropic_version"`
}

func (a *Adaptor) ConvertRequest(c *gin.Context, relayMode int, request *model.GeneralOpenAIRequest) (any, error) {
	if request == nil {
		return nil, errors.New("request is nil")
	}
	claudeReq := anthropic.ConvertRequest(request)
	claudeReq.Model = ""
	claudeReq.Stream = false
	converted := &bedrockClaudeRequest{
		ClaudeRequest:    claudeReq,
		AnthropicVersion: anthropicBedrockVersion,
	}
	c.Set(ctxkey.ConvertedRequest, converted)
	return converted, nil
}

// DoRequest is a no-op; DoResponse invokes the SDK with the converted
// payload stored on the context.
func (a *Adaptor) DoRequest(c *gin.Context, meta *meta.Meta, requestBody io.Reader) (*http.Response, error) {
	return nil, nil
}

func (a *Adaptor) DoResponse(c *gin.Context, resp *http.Response, meta *meta.Meta) (*model.Usage, *model.ErrorWithStatusCode) {
	if meta.IsStream {
		return StreamHandler(c, meta)
	}
	return Handler(c, meta)
}

func (a *Adaptor) GetModelList() []string {
	models := make([]string, 0, len(bedrockModelIDs))
	for name := range bedrockModelIDs {
		models = append(models, name)
	}
	return models
}

func (a *Adaptor) GetChannelName() string {
	return "aws"
}
