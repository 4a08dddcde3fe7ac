package openai

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/llmux/llmux/common"
	"github.com/llmux/llmux/common/helper"
	"github.com/llmux/llmux/relay/adaptor"
	"github.com/llmux/llmux/relay/dialect"
	"github.com/llmux/llmux/relay/meta"
	"github.com/llmux/llmux/relay/model"
)

const dataPrefix = "data:"
const done = "[DONE]"

// slimTextResponse adds the error envelope some vendors return with a 200.
type slimTextResponse struct {
	model.TextResponse
	Error model.Error `json:"error"`
}

// StreamHandler relays an upstream chat-completions SSE stream. Chunks are
// parsed into the canonical shape and re-rendered through the inbound
// dialect, so an OpenAI upstream can answer a Claude or Gemini caller.
func StreamHandler(c *gin.Context, resp *http.Response, m *meta.Meta) (*model.Usage, *model.ErrorWithStatusCode) {
	lg := gmw.GetLogger(c)
	defer func() { _ = resp.Body.Close() }()

	renderer := adaptor.StreamRendererFromContext(c)
	scanner := helper.NewSSEScanner(resp.Body)

	var usage *model.Usage
	var responseText strings.Builder
	started := false

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
		if data == done {
			break
		}

		if !started {
			if werr := validateFirstChunk(c, m, data); werr != nil {
				return usage, werr
			}
			common.SetEventStreamHeaders(c)
			adaptor.MarkFirstResponse(c)
			started = true
		}

		var chunk model.ChatCompletionsStreamResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			lg.Warn("skip malformed stream chunk",
				zap.Error(err),
				zap.String("data", helper.TruncateString(data, 256)))
			continue
		}
		if chunk.Usage != nil && chunk.Usage.TotalTokens > 0 {
			usage = chunk.Usage
		}
		for _, choice := range chunk.Choices {
			responseText.WriteString(choice.Delta.StringContent())
			responseText.WriteString(choice.Delta.ReasoningContent)
		}
		if len(chunk.Choices) == 0 && chunk.Usage != nil {
			// Usage-only frame from stream_options; the dialect decides
			// whether its wire format carries it.
			continue
		}

		// Clients see the alias they asked for, not the upstream id.
		chunk.Model = m.OriginModelName
		if err := renderer.Write(c, &chunk); err != nil {
			lg.Warn("client stopped reading stream", zap.Error(err))
			break
		}
	}
	if err := scanner.Err(); err != nil && !started {
		return usage, ErrorWrapper(errors.Wrap(err, "read upstream stream"), "read_stream_failed", http.StatusBadGateway)
	}

	if usage == nil || usage.TotalTokens == 0 {
		completion := CountTokenText(responseText.String(), m.ActualModelName)
		usage = &model.Usage{
			PromptTokens:     m.PromptTokens,
			CompletionTokens: completion,
			TotalTokens:      m.PromptTokens + completion,
		}
	}
	if started {
		if finalUsage := usageChunk(m, usage); finalUsage != nil {
			_ = renderer.Write(c, finalUsage)
		}
		_ = renderer.Close(c)
	}
	return usage, nil
}

// usageChunk builds the trailing usage frame dialects that surface usage
// render at stream end.
func usageChunk(m *meta.Meta, usage *model.Usage) *model.ChatCompletionsStreamResponse {
	if usage == nil {
		return nil
	}
	return &model.ChatCompletionsStreamResponse{
		Id:      "chatcmpl-" + m.RequestID,
		Object:  "chat.completion.chunk",
		Created: m.StartTime.Unix(),
		Model:   m.OriginModelName,
		Choices: []model.ChatCompletionsStreamResponseChoice{},
		Usage:   usage,
	}
}

// validateFirstChunk fails the attempt before any client byte is written
// when the stream opens with an error payload or a configured trigger
// substring, keeping the request retryable on another key or provider.
func validateFirstChunk(c *gin.Context, m *meta.Meta, data string) *model.ErrorWithStatusCode {
	var probe struct {
		Error *model.Error `json:"error"`
	}
	if err := json.Unmarshal([]byte(data), &probe); err == nil && probe.Error != nil && probe.Error.Message != "" {
		return &model.ErrorWithStatusCode{
			StatusCode: http.StatusBadGateway,
			Error:      *probe.Error,
		}
	}
	if m.Snapshot != nil {
		lower := strings.ToLower(data)
		for _, trigger := range m.Snapshot.ErrorTriggers() {
			if trigger != "" && strings.Contains(lower, strings.ToLower(trigger)) {
				gmw.GetLogger(c).Warn("first stream chunk matched error trigger",
					zap.String("trigger", trigger))
				return ErrorWrapper(errors.Errorf("upstream stream opened with error trigger %q", trigger),
					"stream_error_trigger", http.StatusBadGateway)
			}
		}
	}
	return nil
}

// Handler relays a non-streaming chat completion.
func Handler(c *gin.Context, resp *http.Response, m *meta.Meta) (*model.Usage, *model.ErrorWithStatusCode) {
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, ErrorWrapper(errors.Wrap(err, "read upstream response"), "read_response_body_failed", http.StatusBadGateway)
	}

	var textResponse slimTextResponse
	if err := json.Unmarshal(body, &textResponse); err != nil {
		return nil, ErrorWrapper(errors.Wrap(err, "unmarshal upstream response"), "unmarshal_response_body_failed", http.StatusBadGateway)
	}
	if textResponse.Error.Message != "" || textResponse.Error.Type != "" {
		return nil, &model.ErrorWithStatusCode{
			StatusCode: resp.StatusCode,
			Error:      textResponse.Error,
		}
	}

	if textResponse.Usage.TotalTokens == 0 ||
		(textResponse.Usage.PromptTokens == 0 && textResponse.Usage.CompletionTokens == 0) {
		completion := 0
		for _, choice := range textResponse.Choices {
			completion += CountTokenText(choice.Message.StringContent(), m.ActualModelName)
		}
		textResponse.Usage = model.Usage{
			PromptTokens:     m.PromptTokens,
			CompletionTokens: completion,
			TotalTokens:      m.PromptTokens + completion,
		}
	}

	// Re-rendering from the canonical struct also drops the Azure
	// content_filter_results / prompt_filter_results annotations.
	textResponse.Model = m.OriginModelName
	adaptor.MarkFirstResponse(c)
	if err := dialect.FromContext(c).RenderResponse(c, &textResponse.TextResponse); err != nil {
		return &textResponse.Usage, ErrorWrapper(errors.Wrap(err, "render response"), "render_response_failed", http.StatusInternalServerError)
	}
	return &textResponse.Usage, nil
}

// EmbeddingHandler relays an embeddings response as-is, filling in usage
// when the vendor omits it.
func EmbeddingHandler(c *gin.Context, resp *http.Response, m *meta.Meta) (*model.Usage, *model.ErrorWithStatusCode) {
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, ErrorWrapper(errors.Wrap(err, "read upstream response"), "read_response_body_failed", http.StatusBadGateway)
	}

	var embeddingResponse model.EmbeddingResponse
	if err := json.Unmarshal(body, &embeddingResponse); err != nil {
		return nil, ErrorWrapper(errors.Wrap(err, "unmarshal upstream response"), "unmarshal_response_body_failed", http.StatusBadGateway)
	}
	if embeddingResponse.Usage.TotalTokens == 0 {
		embeddingResponse.Usage = model.Usage{
			PromptTokens: m.PromptTokens,
			TotalTokens:  m.PromptTokens,
		}
	}
	embeddingResponse.Model = m.OriginModelName
	c.JSON(resp.StatusCode, embeddingResponse)
	return &embeddingResponse.Usage, nil
}
