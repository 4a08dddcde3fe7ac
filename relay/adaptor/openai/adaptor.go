package openai

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/gin-gonic/gin"

	"github.com/llmux/llmux/relay/adaptor"
	"github.com/llmux/llmux/relay/channeltype"
	"github.com/llmux/llmux/relay/meta"
	"github.com/llmux/llmux/relay/model"
	"github.com/llmux/llmux/relay/relaymode"
)

// azureDefaultAPIVersion is used when the provider's base URL does not pin
// one with an api-version query parameter.
const azureDefaultAPIVersion = "2024-10-21"

// Adaptor serves the OpenAI wire protocol family: api.openai.com, Azure
// deployments, the Responses API surface, OpenRouter, and generic
// OpenAI-compatible vendors.
type Adaptor struct {
	ChannelType int
}

func (a *Adaptor) Init(meta *meta.Meta) {
	a.ChannelType = meta.ChannelType
}

func (a *Adaptor) GetRequestURL(meta *meta.Meta) (string, error) {
	switch meta.ChannelType {
	case channeltype.Azure:
		if strings.TrimSpace(meta.ActualModelName) == "" {
			return "", errors.New("azure request needs a deployment name")
		}
		base, version := splitAzureBaseURL(meta.BaseURL)
		task := azureTask(meta.Mode)
		return fmt.Sprintf("%s/openai/deployments/%s/%s?api-version=%s",
			base, url.PathEscape(meta.ActualModelName), task, version), nil
	case channeltype.OpenAIResponse:
		return GetFullRequestURL(meta.BaseURL, "/v1/responses", meta.ChannelType), nil
	default:
		return GetFullRequestURL(meta.BaseURL, endpointPath(meta.Mode), meta.ChannelType), nil
	}
}

func endpointPath(mode int) string {
	switch mode {
	case relaymode.Embeddings:
		return "/v1/embeddings"
	case relaymode.Moderations:
		return "/v1/moderations"
	case relaymode.ImagesGenerations:
		return "/v1/images/generations"
	case relaymode.AudioSpeech:
		return "/v1/audio/speech"
	case relaymode.AudioTranscription:
		return "/v1/audio/transcriptions"
	case relaymode.ResponseAPI:
		return "/v1/responses"
	default:
		return "/v1/chat/completions"
	}
}

func azureTask(mode int) string {
	return strings.TrimPrefix(endpointPath(mode), "/v1/")
}

// splitAzureBaseURL separates an api-version pinned on the configured base
// URL from the resource address.
func splitAzureBaseURL(baseURL string) (base string, version string) {
	base = baseURL
	version = azureDefaultAPIVersion
	if idx := strings.Index(baseURL, "?"); idx >= 0 {
		base = baseURL[:idx]
		if values, err := url.ParseQuery(baseURL[idx+1:]); err == nil {
			if v := values.Get("api-version"); v != "" {
				version = v
			}
		}
	}
	return strings.TrimSuffix(base, "/"), version
}

func (a *Adaptor) SetupRequestHeader(c *gin.Context, req *http.Request, meta *meta.Meta) error {
	adaptor.SetupCommonRequestHeader(c, req, meta)
	if meta.ChannelType == channeltype.Azure {
		req.Header.Set("api-key", meta.APIKey)
		return nil
	}
	req.Header.Set("Authorization", "Bearer "+meta.APIKey)
	if meta.ChannelType == channeltype.OpenRouter {
		req.Header.Set("HTTP-Referer", "https://github.com/llmux/llmux")
		req.Header.Set("X-Title", "llmux")
	}
	return nil
}

func (a *Adaptor) ConvertRequest(c *gin.Context, relayMode int, request *model.GeneralOpenAIRequest) (any, error) {
	if request == nil {
		return nil, errors.New("request is nil")
	}
	if relayMode == relaymode.ResponseAPI || a.ChannelType == channeltype.OpenAIResponse {
		return ConvertToResponsesRequest(request), nil
	}

	if request.Stream {
		// Usage only arrives on streams that opt in.
		request.StreamOptions = &model.StreamOptions{IncludeUsage: true}
	}
	if isReasoningModel(request.Model) {
		applyReasoningConstraints(request)
	}
	return request, nil
}

// isReasoningModel reports whether the model only accepts the o-series
// parameter surface.
func isReasoningModel(modelName string) bool {
	name := strings.ToLower(modelName)
	return strings.HasPrefix(name, "o1") ||
		strings.HasPrefix(name, "o3") ||
		strings.HasPrefix(name, "o4") ||
		strings.HasPrefix(name, "gpt-5")
}

// applyReasoningConstraints rewrites parameters the o-series endpoints
// reject: max_tokens becomes max_completion_tokens and the sampling knobs
// are dropped.
func applyReasoningConstraints(request *model.GeneralOpenAIRequest) {
	if request.MaxTokens > 0 && request.MaxCompletionTokens == nil {
		v := request.MaxTokens
		request.MaxCompletionTokens = &v
	}
	request.MaxTokens = 0
	request.Temperature = nil
	request.TopP = nil
	request.PresencePenalty = nil
	request.FrequencyPenalty = nil
	request.Logprobs = nil
	request.TopLogprobs = nil
}

func (a *Adaptor) DoRequest(c *gin.Context, meta *meta.Meta, requestBody io.Reader) (*http.Response, error) {
	return adaptor.DoRequestHelper(a, c, meta, requestBody)
}

func (a *Adaptor) DoResponse(c *gin.Context, resp *http.Response, meta *meta.Meta) (usage *model.Usage, err *model.ErrorWithStatusCode) {
	if meta.Mode == relaymode.ResponseAPI || a.ChannelType == channeltype.OpenAIResponse {
		if meta.IsStream {
			return ResponsesStreamHandler(c, resp, meta)
		}
		return ResponsesHandler(c, resp, meta)
	}
	if meta.IsStream {
		return StreamHandler(c, resp, meta)
	}
	switch meta.Mode {
	case relaymode.Embeddings:
		return EmbeddingHandler(c, resp, meta)
	default:
		return Handler(c, resp, meta)
	}
}

func (a *Adaptor) GetModelList() []string {
	return ModelList
}

func (a *Adaptor) GetChannelName() string {
	switch a.ChannelType {
	case channeltype.Azure:
		return "azure"
	case channeltype.OpenRouter:
		return "openrouter"
	case channeltype.OpenAIResponse:
		return "openai-response"
	case channeltype.OpenAICompatible:
		return "openai-compatible"
	default:
		return "openai"
	}
}
