// Package vertexai serves Gemini and Claude models through Google Cloud's
// Vertex AI surface: regional endpoints, service-account authentication, and
// publisher-specific URL shapes. Payload conversion and stream parsing are
// delegated to the gemini and anthropic adaptors.
package vertexai

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/gin-gonic/gin"

	"github.com/llmux/llmux/relay/adaptor"
	"github.com/llmux/llmux/relay/adaptor/anthropic"
	"github.com/llmux/llmux/relay/adaptor/gemini"
	"github.com/llmux/llmux/relay/meta"
	"github.com/llmux/llmux/relay/model"
)

const anthropicVertexVersion = "vertex-2023-10-16"

type Adaptor struct{}

func isClaudeModel(actualModel string) bool {
	return strings.Contains(actualModel, "claude")
}

func (a *Adaptor) Init(meta *meta.Meta) {}

func (a *Adaptor) GetRequestURL(meta *meta.Meta) (string, error) {
	if meta.Provider == nil || meta.Provider.ProjectID == "" {
		return "", errors.New("vertex provider needs a project_id")
	}
	region := regionFor(meta.ActualModelName)

	publisher := "google"
	action := "generateContent"
	if meta.IsStream {
		action = "streamGenerateContent"
	}
	if isClaudeModel(meta.ActualModelName) {
		publisher = "anthropic"
		action = "rawPredict"
		if meta.IsStream {
			action = "streamRawPredict"
		}
	}

	host := fmt.Sprintf("https://%s-aiplatform.googleapis.com", region)
	if region == "global" {
		host = "https://aiplatform.googleapis.com"
	}
	url := fmt.Sprintf("%s/v1/projects/%s/locations/%s/publishers/%s/models/%s:%s",
		host, meta.Provider.ProjectID, region, publisher, meta.ActualModelName, action)
	if publisher == "google" && meta.IsStream {
		url += "?alt=sse"
	}
	return url, nil
}

func (a *Adaptor) SetupRequestHeader(c *gin.Context, req *http.Request, meta *meta.Meta) error {
	adaptor.SetupCommonRequestHeader(c, req, meta)
	if meta.Provider == nil || meta.Provider.ClientEmail == "" || meta.Provider.PrivateKey == "" {
		return errors.New("vertex provider needs client_email and private_key")
	}
	token, err := GetAccessToken(c.Request.Context(), meta.Provider.ClientEmail, meta.Provider.PrivateKey)
	if err != nil {
		return errors.Wrap(err, "get vertex access token")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// vertexClaudeRequest is the Messages payload in Vertex form: the model id
// lives in the URL and anthropic_version replaces it.
type vertexClaudeRequest struct {
	*model.ClaudeRequest
	Model            string `json:"model,omitempty"`
	AnthropicVersion string `json:"anthropic_version"`
}

func (a *Adaptor) ConvertRequest(c *gin.Context, relayMode int, request *model.GeneralOpenAIRequest) (any, error) {
	if request == nil {
		return nil, errors.New("request is nil")
	}
	m := meta.GetByContext(c)
	if m == nil {
		return nil, errors.New("relay meta missing")
	}
	if isClaudeModel(m.ActualModelName) {
		claudeReq := anthropic.ConvertRequest(request)
		claudeReq.Model = ""
		return &vertexClaudeRequest{
			ClaudeRequest:    claudeReq,
			AnthropicVersion: anthropicVertexVersion,
		}, nil
	}
	return gemini.ConvertRequest(request, m), nil
}

func (a *Adaptor) DoRequest(c *gin.Context, meta *meta.Meta, requestBody io.Reader) (*http.Response, error) {
	return adaptor.DoRequestHelper(a, c, meta, requestBody)
}

func (a *Adaptor) DoResponse(c *gin.Context, resp *http.Response, meta *meta.Meta) (*model.Usage, *model.ErrorWithStatusCode) {
	if isClaudeModel(meta.ActualModelName) {
		if meta.IsStream {
			return anthropic.StreamHandler(c, resp, meta)
		}
		return anthropic.Handler(c, resp, meta)
	}
	if meta.IsStream {
		return gemini.StreamHandler(c, resp, meta)
	}
	return gemini.Handler(c, resp, meta)
}

func (a *Adaptor) GetModelList() []string {
	return ModelList
}

func (a *Adaptor) GetChannelName() string {
	return "vertexai"
}
