// Package gemini speaks the Google generateContent API as an outbound
// engine, including the thinking-budget model suffix, the safety-threshold
// matrix, and the JSON-Schema subset Gemini accepts for tools.
package gemini

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/gin-gonic/gin"

	"github.com/llmux/llmux/relay/adaptor"
	"github.com/llmux/llmux/relay/meta"
	"github.com/llmux/llmux/relay/model"
)

type Adaptor struct{}

func (a *Adaptor) Init(meta *meta.Meta) {}

func (a *Adaptor) GetRequestURL(meta *meta.Meta) (string, error) {
	action := "generateContent"
	if meta.IsStream {
		action = "streamGenerateContent"
	}
	url := fmt.Sprintf("%s/models/%s:%s", versionedBaseURL(meta.BaseURL), meta.ActualModelName, action)
	if meta.IsStream {
		url += "?alt=sse"
	}
	return url, nil
}

// versionedBaseURL appends the API version unless the configured base URL
// already pins one.
func versionedBaseURL(baseURL string) string {
	trimmed := strings.TrimSuffix(baseURL, "/")
	if strings.HasSuffix(trimmed, "/v1beta") || strings.HasSuffix(trimmed, "/v1") {
		return trimmed
	}
	return trimmed + "/v1beta"
}

func (a *Adaptor) SetupRequestHeader(c *gin.Context, req *http.Request, meta *meta.Meta) error {
	adaptor.SetupCommonRequestHeader(c, req, meta)
	req.Header.Set("x-goog-api-key", meta.APIKey)
	return nil
}

func (a *Adaptor) ConvertRequest(c *gin.Context, relayMode int, request *model.GeneralOpenAIRequest) (any, error) {
	if request == nil {
		return nil, errors.New("request is nil")
	}
	m := meta.GetByContext(c)
	if m == nil {
		return nil, errors.New("relay meta missing")
	}
	return ConvertRequest(request, m), nil
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
	return "gemini"
}
