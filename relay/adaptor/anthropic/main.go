package anthropic

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
	"github.com/llmux/llmux/common/image"
	"github.com/llmux/llmux/relay/adaptor"
	"github.com/llmux/llmux/relay/adaptor/openai"
	"github.com/llmux/llmux/relay/dialect"
	"github.com/llmux/llmux/relay/meta"
	"github.com/llmux/llmux/relay/model"
)

// ConvertRequest maps the canonical chat request onto the Messages API.
// System messages hoist to the top-level system field, tool calls and tool
// results become their block forms.
func ConvertRequest(request *model.GeneralOpenAIRequest) *model.ClaudeRequest {
	out := &model.ClaudeRequest{
		Model:       request.Model,
		MaxTokens:   request.MaxTokens,
		Temperature: request.Temperature,
		TopP:        request.TopP,
		TopK:        request.TopK,
		Stream:      request.Stream,
		Thinking:    request.Thinking,
	}
	if out.MaxTokens == 0 {
		if request.MaxCompletionTokens != nil {
			out.MaxTokens = *request.MaxCompletionTokens
		} else {
			out.MaxTokens = defaultMaxTokens
		}
	}
	switch stop := request.Stop.(type) {
	case string:
		out.StopSequences = []string{stop}
	case []any:
		for _, s := range stop {
			if str, ok := s.(string); ok {
				out.StopSequences = append(out.StopSequences, str)
			}
		}
	}

	for _, tool := range request.Tools {
		if tool.Type != "" && tool.Type != "function" {
			continue
		}
		schema, _ := tool.Function.Parameters.(map[string]any)
		out.Tools = append(out.Tools, model.ClaudeTool{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			InputSchema: schema,
		})
	}
	out.ToolChoice = convertToolChoice(request.ToolChoice)

	var system []string
	for _, message := range request.Messages {
		switch message.Role {
		case "system", "developer":
			system = append(system, message.StringContent())
		case "tool":
			out.Messages = append(out.Messages, model.ClaudeMessage{
				Role: "user",
				Content: []model.ClaudeContent{{
					Type:      "tool_result",
					ToolUseId: message.ToolCallId,
					Content:   message.StringContent(),
				}},
			})
		case "assistant":
			out.Messages = append(out.Messages, convertAssistantMessage(message))
		default:
			out.Messages = append(out.Messages, convertUserMessage(message))
		}
	}
	if len(system) > 0 {
		out.System = strings.Join(system, "\n\n")
	}
	return out
}

func convertToolChoice(choice any) any {
	switch v := choice.(type) {
	case string:
		switch v {
		case "required":
			return map[string]any{"type": "any"}
		case "auto":
			return map[string]any{"type": "auto"}
		}
	case map[string]any:
		if fn, ok := v["function"].(map[string]any); ok {
			if name, ok := fn["name"].(string); ok {
				return map[string]any{"type": "tool", "name": name}
			}
		}
	}
	return nil
}

func convertAssistantMessage(message model.Message) model.ClaudeMessage {
	var blocks []model.ClaudeContent
	if message.ReasoningContent != "" {
		blocks = append(blocks, model.ClaudeContent{
			Type:     "thinking",
			Thinking: message.ReasoningContent,
		})
	}
	if text := message.StringContent(); text != "" {
		blocks = append(blocks, model.ClaudeContent{Type: "text", Text: text})
	}
	for _, call := range message.ToolCalls {
		var input any
		if args := call.Function.ArgumentsString(); args != "" {
			var parsed map[string]any
			if err := json.Unmarshal([]byte(args), &parsed); err == nil {
				input = parsed
			} else {
				input = map[string]any{}
			}
		} else {
			input = map[string]any{}
		}
		blocks = append(blocks, model.ClaudeContent{
			Type:  "tool_use",
			Id:    call.Id,
			Name:  call.Function.Name,
			Input: input,
		})
	}
	return model.ClaudeMessage{Role: "assistant", Content: blocks}
}

func convertUserMessage(message model.Message) model.ClaudeMessage {
	if message.IsStringContent() {
		return model.ClaudeMessage{Role: "user", Content: message.StringContent()}
	}
	var blocks []model.ClaudeContent
	for _, part := range message.ParseContent() {
		switch part.Type {
		case model.ContentTypeText:
			blocks = append(blocks, model.ClaudeContent{Type: "text", Text: part.Text})
		case model.ContentTypeImageURL:
			if part.ImageURL == nil {
				continue
			}
			blocks = append(blocks, model.ClaudeContent{
				Type:   "image",
				Source: convertImageSource(part.ImageURL.Url),
			})
		}
	}
	return model.ClaudeMessage{Role: "user", Content: blocks}
}

func convertImageSource(url string) *model.ClaudeImageSource {
	if !image.IsDataURL(url) {
		return &model.ClaudeImageSource{Type: "url", URL: url}
	}
	mediaType := "image/jpeg"
	data := url
	if idx := strings.Index(url, ";base64,"); idx >= 0 {
		mediaType = strings.TrimPrefix(url[:idx], "data:")
		data = url[idx+len(";base64,"):]
	}
	return &model.ClaudeImageSource{
		Type:      "base64",
		MediaType: mediaType,
		Data:      data,
	}
}

func convertStopReason(reason *string) string {
	if reason == nil {
		return model.FinishReasonStop
	}
	switch *reason {
	case "max_tokens":
		return model.FinishReasonLength
	case "tool_use":
		return model.FinishReasonToolCalls
	default:
		return model.FinishReasonStop
	}
}

// ConvertResponse maps a completed Messages payload to the canonical chat
// completion. The Bedrock adaptor reuses it for SDK responses.
func ConvertResponse(resp *model.ClaudeResponse, m *meta.Meta) *model.TextResponse {
	choice := model.TextResponseChoice{
		FinishReason: convertStopReason(resp.StopReason),
		Message:      model.Message{Role: "assistant"},
	}
	var content, reasoning strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			content.WriteString(block.Text)
		case "thinking":
			reasoning.WriteString(block.Thinking)
		case "tool_use":
			args, _ := json.Marshal(block.Input)
			choice.Message.ToolCalls = append(choice.Message.ToolCalls, model.Tool{
				Id:   block.Id,
				Type: "function",
				Function: model.Function{
					Name:      block.Name,
					Arguments: string(args),
				},
			})
		}
	}
	choice.Message.Content = content.String()
	choice.Message.ReasoningContent = reasoning.String()

	usage := model.Usage{
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
		TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}
	return &model.TextResponse{
		Id:      resp.Id,
		Object:  "chat.completion",
		Created: m.StartTime.Unix(),
		Model:   m.OriginModelName,
		Choices: []model.TextResponseChoice{choice},
		Usage:   usage,
	}
}

// Handler relays a non-streaming Messages call back in the caller's dialect.
func Handler(c *gin.Context, resp *http.Response, m *meta.Meta) (*model.Usage, *model.ErrorWithStatusCode) {
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, openai.ErrorWrapper(errors.Wrap(err, "read upstream response"), "read_response_body_failed", http.StatusBadGateway)
	}

	var claudeResp model.ClaudeResponse
	if err := json.Unmarshal(body, &claudeResp); err != nil {
		return nil, openai.ErrorWrapper(errors.Wrap(err, "unmarshal upstream response"), "unmarshal_response_body_failed", http.StatusBadGateway)
	}
	if claudeResp.Error != nil && claudeResp.Error.Message != "" {
		return nil, &model.ErrorWithStatusCode{
			StatusCode: resp.StatusCode,
			Error: model.Error{
				Message: claudeResp.Error.Message,
				Type:    claudeResp.Error.Type,
			},
		}
	}

	textResponse := ConvertResponse(&claudeResp, m)
	adaptor.MarkFirstResponse(c)
	if err := dialect.FromContext(c).RenderResponse(c, textResponse); err != nil {
		return &textResponse.Usage, openai.ErrorWrapper(errors.Wrap(err, "render response"), "render_response_failed", http.StatusInternalServerError)
	}
	return &textResponse.Usage, nil
}

// StreamDelta is one canonical chunk derived from a Messages stream event.
type StreamDelta struct {
	Message      model.Message
	FinishReason *string
}

// StreamState accumulates per-stream conversion state across Messages
// events. The Bedrock adaptor drives the same state machine over SDK
// event frames.
type StreamState struct {
	Usage model.Usage

	responseText strings.Builder
	// Claude block index -> canonical tool call index.
	toolIndexes map[int]int
}

func NewStreamState() *StreamState {
	return &StreamState{toolIndexes: map[int]int{}}
}

// ResponseText returns the accumulated text and thinking output, used for
// token counting when the upstream omits usage.
func (s *StreamState) ResponseText() string {
	return s.responseText.String()
}

// Process converts one stream event into zero or more canonical deltas.
// Error events must be handled by the caller before reaching here.
func (s *StreamState) Process(event *model.ClaudeStreamEvent) []StreamDelta {
	switch event.Type {
	case "message_start":
		if event.Message != nil {
			s.Usage.PromptTokens = event.Message.Usage.InputTokens
		}
	case "content_block_start":
		if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
			idx := len(s.toolIndexes)
			s.toolIndexes[event.Index] = idx
			return []StreamDelta{{Message: model.Message{
				Role: "assistant",
				ToolCalls: []model.Tool{{
					Id:       event.ContentBlock.Id,
					Type:     "function",
					Index:    &idx,
					Function: model.Function{Name: event.ContentBlock.Name},
				}},
			}}}
		}
	case "content_block_delta":
		if event.Delta == nil {
			break
		}
		switch event.Delta.Type {
		case "text_delta":
			s.responseText.WriteString(event.Delta.Text)
			return []StreamDelta{{Message: model.Message{Role: "assistant", Content: event.Delta.Text}}}
		case "thinking_delta":
			s.responseText.WriteString(event.Delta.Thinking)
			return []StreamDelta{{Message: model.Message{Role: "assistant", ReasoningContent: event.Delta.Thinking}}}
		case "input_json_delta":
			if idx, ok := s.toolIndexes[event.Index]; ok {
				i := idx
				return []StreamDelta{{Message: model.Message{
					Role: "assistant",
					ToolCalls: []model.Tool{{
						Type:     "function",
						Index:    &i,
						Function: model.Function{Arguments: event.Delta.PartialJson},
					}},
				}}}
			}
		}
	case "message_delta":
		var deltas []StreamDelta
		if event.Usage != nil {
			s.Usage.CompletionTokens = event.Usage.OutputTokens
		}
		if event.Delta != nil && event.Delta.StopReason != nil {
			finish := convertStopReason(event.Delta.StopReason)
			deltas = append(deltas, StreamDelta{FinishReason: &finish})
		}
		return deltas
	case "message_stop":
		// Terminal framing is emitted by the handler.
	}
	return nil
}

// StreamHandler converts the Messages event stream into canonical chat
// deltas rendered through the inbound dialect. Tool arguments stream as
// incremental input_json_delta fragments keyed by block index.
func StreamHandler(c *gin.Context, resp *http.Response, m *meta.Meta) (*model.Usage, *model.ErrorWithStatusCode) {
	lg := gmw.GetLogger(c)
	defer func() { _ = resp.Body.Close() }()

	renderer := adaptor.StreamRendererFromContext(c)
	scanner := helper.NewSSEScanner(resp.Body)

	state := NewStreamState()
	started := false

	emit := func(delta model.Message, finish *string) {
		chunk := &model.ChatCompletionsStreamResponse{
			Id:      "chatcmpl-" + m.RequestID,
			Object:  "chat.completion.chunk",
			Created: m.StartTime.Unix(),
			Model:   m.OriginModelName,
			Choices: []model.ChatCompletionsStreamResponseChoice{{
				Delta:        delta,
				FinishReason: finish,
			}},
		}
		if err := renderer.Write(c, chunk); err != nil {
			lg.Warn("client stopped reading stream", zap.Error(err))
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}

		var event model.ClaudeStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			lg.Warn("skip malformed stream event",
				zap.Error(err),
				zap.String("data", helper.TruncateString(data, 256)))
			continue
		}

		if event.Type == "error" || event.Error != nil {
			message := "anthropic stream error"
			errType := "upstream_error"
			if event.Error != nil {
				message = event.Error.Message
				errType = event.Error.Type
			}
			if !started {
				return &state.Usage, &model.ErrorWithStatusCode{
					StatusCode: http.StatusBadGateway,
					Error:      model.Error{Message: message, Type: errType},
				}
			}
			lg.Error("anthropic stream failed mid-flight", zap.String("message", message))
			break
		}

		if !started {
			common.SetEventStreamHeaders(c)
			adaptor.MarkFirstResponse(c)
			started = true
		}

		for _, delta := range state.Process(&event) {
			emit(delta.Message, delta.FinishReason)
		}
	}
	if err := scanner.Err(); err != nil && !started {
		return &state.Usage, openai.ErrorWrapper(errors.Wrap(err, "read upstream stream"), "read_stream_failed", http.StatusBadGateway)
	}

	usage := &state.Usage
	if usage.CompletionTokens == 0 {
		usage.CompletionTokens = openai.CountTokenText(state.ResponseText(), m.ActualModelName)
	}
	if usage.PromptTokens == 0 {
		usage.PromptTokens = m.PromptTokens
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens

	if started {
		final := &model.ChatCompletionsStreamResponse{
			Id:      "chatcmpl-" + m.RequestID,
			Object:  "chat.completion.chunk",
			Created: m.StartTime.Unix(),
			Model:   m.OriginModelName,
			Choices: []model.ChatCompletionsStreamResponseChoice{},
			Usage:   usage,
		}
		_ = renderer.Write(c, final)
		_ = renderer.Close(c)
	}
	return usage, nil
}
