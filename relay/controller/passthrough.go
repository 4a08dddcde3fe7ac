package controller

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/llmux/llmux/common"
	"github.com/llmux/llmux/common/ctxkey"
	"github.com/llmux/llmux/relay"
	"github.com/llmux/llmux/relay/adaptor"
	"github.com/llmux/llmux/relay/dialect"
	"github.com/llmux/llmux/relay/meta"
	"github.com/llmux/llmux/relay/model"
	"github.com/llmux/llmux/relay/passthrough"
)

// RelayPassthroughHelper forwards the inbound bytes to a provider that
// speaks the caller's dialect natively. Only the model name, an optional
// system prompt, and configured parameter overrides are touched.
func RelayPassthroughHelper(c *gin.Context, m *meta.Meta) *model.ErrorWithStatusCode {
	d := dialect.FromContext(c)
	plan := passthrough.Evaluate(d, m.Provider, m.OriginModelName)
	if plan == nil {
		return openAIError("passthrough plan no longer applies", "internal_error", http.StatusInternalServerError)
	}

	body, err := common.GetRequestBody(c)
	if err != nil {
		return openAIError("read request body: "+err.Error(), "invalid_request_error", http.StatusBadRequest)
	}
	payload, err := plan.Apply(body)
	if err != nil {
		return openAIError("prepare passthrough body: "+err.Error(), "invalid_request_error", http.StatusBadRequest)
	}
	c.Set(ctxkey.UpstreamRequestBody, payload)

	a := relay.GetAdaptor(m.APIType)
	if a == nil {
		return openAIError("unsupported engine for provider "+m.Provider.Name,
			"invalid_request_error", http.StatusNotImplemented)
	}
	a.Init(m)

	fullURL, err := a.GetRequestURL(m)
	if err != nil {
		return openAIError("build upstream url: "+err.Error(), "internal_error", http.StatusInternalServerError)
	}
	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, fullURL, bytes.NewReader(payload))
	if err != nil {
		return openAIError("build upstream request: "+err.Error(), "internal_error", http.StatusInternalServerError)
	}
	// Inbound headers ride along minus hop-by-hop and credential ones;
	// the adaptor then stamps the upstream auth on top.
	for k, vs := range passthrough.FilterHeaders(c.Request.Header) {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if err := a.SetupRequestHeader(c, req, m); err != nil {
		return openAIError("setup upstream headers: "+err.Error(), "internal_error", http.StatusInternalServerError)
	}

	resp, err := adaptor.DoRequest(c, m, req)
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
	// The stream wrapper replaces resp.Body, so resolve it at exit.
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return passthroughUpstreamError(c, resp)
	}

	if m.IsStream || isEventStream(resp) {
		if failure := WrapStreamResponse(c, resp, m); failure != nil {
			return failure
		}
		return copyStreamToClient(c, resp)
	}
	return copyBodyToClient(c, resp)
}

func isEventStream(resp *http.Response) bool {
	return strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream")
}

func passthroughUpstreamError(c *gin.Context, resp *http.Response) *model.ErrorWithStatusCode {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 32*1024))
	gmw.GetLogger(c).Warn("passthrough upstream error",
		zap.Int("status", resp.StatusCode),
		zap.ByteString("body", raw))
	return &model.ErrorWithStatusCode{
		Error: model.Error{
			Message: string(raw),
			Type:    "upstream_error",
		},
		StatusCode: resp.StatusCode,
	}
}

// copyStreamToClient relays upstream SSE bytes verbatim, holding back
// partial trailing runes so the client never sees a split code point.
func copyStreamToClient(c *gin.Context, resp *http.Response) *model.ErrorWithStatusCode {
	common.SetEventStreamHeaders(c)
	adaptor.MarkFirstResponse(c)

	var sanitizer passthrough.UTF8Sanitizer
	buf := make([]byte, 4*1024)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if out := sanitizer.Push(buf[:n]); len(out) > 0 {
				if _, werr := c.Writer.Write(out); werr != nil {
					return nil
				}
				c.Writer.Flush()
			}
		}
		if err != nil {
			if tail := sanitizer.Flush(); len(tail) > 0 {
				_, _ = c.Writer.Write(tail)
				c.Writer.Flush()
			}
			if err == io.EOF {
				return nil
			}
			return &model.ErrorWithStatusCode{
				Error: model.Error{
					Message:  "upstream stream broke: " + err.Error(),
					Type:     "upstream_error",
					RawError: err,
				},
				StatusCode: http.StatusBadGateway,
			}
		}
	}
}

func copyBodyToClient(c *gin.Context, resp *http.Response) *model.ErrorWithStatusCode {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &model.ErrorWithStatusCode{
			Error: model.Error{
				Message:  "read upstream body: " + err.Error(),
				Type:     "upstream_error",
				RawError: err,
			},
			StatusCode: http.StatusBadGateway,
		}
	}
	adaptor.MarkFirstResponse(c)
	c.Set(ctxkey.ResponseCapture, truncateCapture(raw))
	parsePassthroughUsage(c, raw)

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(resp.StatusCode, contentType, raw)
	return nil
}

// parsePassthroughUsage lifts token accounting out of a non-streaming
// native response, whatever dialect shaped it.
func parsePassthroughUsage(c *gin.Context, raw []byte) {
	var probe struct {
		Usage *struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
			InputTokens      int `json:"input_tokens"`
			OutputTokens     int `json:"output_tokens"`
		} `json:"usage"`
		UsageMetadata *struct {
			PromptTokenCount     int `json:"promptTokenCount"`
			CandidatesTokenCount int `json:"candidatesTokenCount"`
			TotalTokenCount      int `json:"totalTokenCount"`
		} `json:"usageMetadata"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return
	}
	usage := &model.Usage{}
	switch {
	case probe.Usage != nil:
		usage.PromptTokens = maxInt(probe.Usage.PromptTokens, probe.Usage.InputTokens)
		usage.CompletionTokens = maxInt(probe.Usage.CompletionTokens, probe.Usage.OutputTokens)
		usage.TotalTokens = probe.Usage.TotalTokens
	case probe.UsageMetadata != nil:
		usage.PromptTokens = probe.UsageMetadata.PromptTokenCount
		usage.CompletionTokens = probe.UsageMetadata.CandidatesTokenCount
		usage.TotalTokens = probe.UsageMetadata.TotalTokenCount
	default:
		return
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	c.Set(ctxkey.RelayUsage, usage)
}

func truncateCapture(raw []byte) []byte {
	if len(raw) <= responseCaptureLimit {
		return raw
	}
	return raw[:responseCaptureLimit]
}
