// Package anthropic speaks the Anthropic Messages API as an outbound
// engine. The same wire structs back the inbound Claude dialect, so a
// Claude-to-Claude request can skip conversion entirely via passthrough.
package anthropic

import (
	"io"
	"net/http"

	"github.com/Laisky/errors/v2"
	"github.com/gin-gonic/gin"

	"github.com/llmux/llmux/relay/adaptor"
	"github.com/llmux/llmux/relay/meta"
	"github.com/llmux/llmux/relay/model"
)

const anthropicVersion = "2023-06-01"

// defaultMaxTokens applies when the caller omits max_tokens, which the
// Messages API requires.
const defaultMaxTokens = 4096

type Adaptor struct{}

func (a *Adaptor) Init(meta *meta.Meta) {}

func (a *Adaptor) GetRequestURL(meta *meta.Meta) (string, error) {
	return meta.BaseURL + "/v1/messages", nil
}

func (a *Adaptor) SetupRequestHeader(c *gin.Context, req *http.Request, meta *meta.Meta) error {
	adaptor.SetupCommonRequestHeader(c, req, meta)
	req.Header.Set("x-api-key", meta.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	if v := c.Request.Header.Get("anthropic-beta"); v != "" {
		req.Header.Set("anthropic-beta", v)
	}
	return nil
}

func (a *Adaptor) ConvertRequest(c *gin.Context, relayMode int, request *model.GeneralOpenAIRequest) (any, error) {
	if request == nil {
		return nil, errors.New("request is nil")
	}
	return ConvertRequest(request), nil
}

func (a *Adaptor) DoRequest(c *gin.Context, meta *meta.Meta, requestBody io.Reader) (*http.Response, error) {
	return adaptor.DoRequestHelper(a, c, meta, requestBody)
}

func (a *Adaptor) DoResponse(c *gin.Context, resp *http.Response, meta *meta.Meta) (*model.Usage, *model.ErrorWithStatusCode) {
	if meta.IsStream {
		return StreamHandler(c, resp, meta)
	}
	return Handler(c, resp, meta)
}

func (a *Adaptor) GetModelList() []string {
	return ModelList
}

func (a *Adaptor) GetChannelName() string {
	return "anthropic"
}
