package controller

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"
	"github.com/jinzhu/copier"

	"github.com/llmux/llmux/common/ctxkey"
	"github.com/llmux/llmux/relay"
	"github.com/llmux/llmux/relay/adaptor"
	"github.com/llmux/llmux/relay/adaptor/openai"
	"github.com/llmux/llmux/relay/dialect"
	"github.com/llmux/llmux/relay/meta"
	"github.com/llmux/llmux/relay/model"
	"github.com/llmux/llmux/relay/plugin"
)

// RelayTextHelper runs one dispatch attempt for the meta pinned on the
// context. The retry loop owns provider selection, cooldowns, and stats.
func RelayTextHelper(c *gin.Context) *model.ErrorWithStatusCode {
	m := meta.GetByContext(c)
	if m == nil {
		return openAIError("dispatch metadata missing", "internal_error", http.StatusInternalServerError)
	}
	if m.Passthrough {
		return RelayPassthroughHelper(c, m)
	}

	a := relay.GetAdaptor(m.APIType)
	if a == nil {
		return openAIError("unsupported engine for provider "+m.Provider.Name,
			"invalid_request_error", http.StatusNotImplemented)
	}
	a.Init(m)

	base := canonicalRequest(c)
	if base == nil {
		return openAIError("request body not parsed", "invalid_request_error", http.StatusBadRequest)
	}

	// Each attempt works on its own copy so renames and plugin rewrites
	// never leak into a retry against another provider.
	textRequest := &model.GeneralOpenAIRequest{}
	if err := copier.CopyWithOption(textRequest, base, copier.Option{DeepCopy: true}); err != nil {
		return openAIError("clone request: "+err.Error(), "internal_error", http.StatusInternalServerError)
	}
	textRequest.Model = m.ActualModelName

	chain := plugin.NewChain(m.EnabledPlugins)
	chain.ApplyRequest(m, textRequest)
	textRequest.Model = m.ActualModelName

	if m.Provider != nil {
		injectSystemPrompt(textRequest, m.Provider.SystemPrompt())
	}

	m.PromptTokens = openai.CountTokenMessages(textRequest.Messages, m.ActualModelName)

	convertedRequest, err := a.ConvertRequest(c, m.Mode, textRequest)
	if err != nil {
		return openAIError("convert request: "+err.Error(), "invalid_request_error", http.StatusBadRequest)
	}

	var requestBody io.Reader
	if _, sdkManaged := c.Get(ctxkey.ConvertedRequest); !sdkManaged {
		payload, err := json.Marshal(convertedRequest)
		if err != nil {
			return openAIError("marshal request: "+err.Error(), "internal_error", http.StatusInternalServerError)
		}
		c.Set(ctxkey.UpstreamRequestBody, payload)
		requestBody = bytes.NewReader(payload)
	}

	if m.IsStream && !chain.Empty() {
		installPluginRenderer(c, chain)
	}

	resp, err := a.DoRequest(c, m, requestBody)
	if err != nil {
		return &model.ErrorWithStatusCode{
			Error: model.Error{
				Message:  err.Error(),
				Type:     "upstream_error",
				RawError: err,
			},
			StatusCode: http.StatusServiceUnavailable,
		}
	}

	if resp != nil {
		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			return openai.RelayErrorHandler(c, resp)
		}
		if m.IsStream {
			if failure := WrapStreamResponse(c, resp, m); failure != nil {
				return failure
			}
		}
	}

	usage, respErr := a.DoResponse(c, resp, m)
	if respErr != nil {
		gmw.GetLogger(c).Warn("upstream response failed",
			zap.String("provider", m.Provider.Name),
			zap.String("model", m.ActualModelName),
			zap.Int("status", respErr.StatusCode))
		return respErr
	}
	if usage != nil {
		c.Set(ctxkey.RelayUsage, usage)
	}
	return nil
}

// injectSystemPrompt prepends the provider's configured system prompt to
// the canonical message list.
func injectSystemPrompt(req *model.GeneralOpenAIRequest, prompt string) {
	if prompt == "" {
		return
	}
	for i := range req.Messages {
		if req.Messages[i].Role == "system" {
			if text, ok := req.Messages[i].Content.(string); ok {
				req.Messages[i].Content = prompt + "\n" + text
				return
			}
		}
	}
	req.Messages = append([]model.Message{{Role: "system", Content: prompt}}, req.Messages...)
}

// pluginRenderer feeds every canonical chunk through the stream hooks
// before the dialect renderer frames it.
type pluginRenderer struct {
	inner dialect.StreamRenderer
	chain *plugin.Chain
}

func installPluginRenderer(c *gin.Context, chain *plugin.Chain) {
	inner := adaptor.StreamRendererFromContext(c)
	c.Set(ctxkey.StreamRenderer, &pluginRenderer{inner: inner, chain: chain})
}

func (r *pluginRenderer) Write(c *gin.Context, chunk *model.ChatCompletionsStreamResponse) error {
	payload, err := json.Marshal(chunk)
	if err != nil {
		return err
	}
	for _, line := range r.chain.ApplyStream("data: " + string(payload)) {
		out, ok := cutDataLine(line)
		if !ok {
			continue
		}
		if out == "[DONE]" {
			continue
		}
		rewritten := &model.ChatCompletionsStreamResponse{}
		if err := json.Unmarshal([]byte(out), rewritten); err != nil {
			continue
		}
		if err := r.inner.Write(c, rewritten); err != nil {
			return err
		}
	}
	return nil
}

func (r *pluginRenderer) Close(c *gin.Context) error {
	// Let plugins flush buffered output ahead of the terminal frame.
	for _, line := range r.chain.ApplyStream("data: [DONE]") {
		out, ok := cutDataLine(line)
		if !ok || out == "[DONE]" {
			continue
		}
		chunk := &model.ChatCompletionsStreamResponse{}
		if err := json.Unmarshal([]byte(out), chunk); err != nil {
			continue
		}
		if err := r.inner.Write(c, chunk); err != nil {
			return err
		}
	}
	return r.inner.Close(c)
}

func cutDataLine(line string) (string, bool) {
	const prefix = "data:"
	if len(line) < len(prefix) || line[:len(prefix)] != prefix {
		return "", false
	}
	out := line[len(prefix):]
	for len(out) > 0 && out[0] == ' ' {
		out = out[1:]
	}
	return out, true
}
