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

// ResponsesRequest is the Responses API request shape. Tools are flat here,
// unlike the nested {type,function:{...}} of chat completions.
type ResponsesRequest struct {
	Model           string           `json:"model"`
	Input           []ResponsesInput `json:"input,omitempty"`
	Instructions    string           `json:"instructions,omitempty"`
	MaxOutputTokens int              `json:"max_output_tokens,omitempty"`
	Temperature     *float64         `json:"temperature,omitempty"`
	TopP            *float64         `json:"top_p,omitempty"`
	Stream          bool             `json:"stream,omitempty"`
	Tools           []ResponsesTool  `json:"tools,omitempty"`
	ToolChoice      any              `json:"tool_choice,omitempty"`
	Reasoning       *model.Reasoning `json:"reasoning,omitempty"`
	User            string           `json:"user,omitempty"`
}

// ResponsesInput is one input item: a message, a function call echo, or a
// function call output.
type ResponsesInput struct {
	Type    string `json:"type,omitempty"`
	Role    string `json:"role,omitempty"`
	Content any    `json:"content,omitempty"`
	// Function call echo / output fields.
	CallId    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Output    string `json:"output,omitempty"`
}

// ResponsesContentPart is one part of a message input item.
type ResponsesContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// ResponsesTool is a flat function tool declaration.
type ResponsesTool struct {
	Type        string `json:"type"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

// ResponsesResponse is the non-streaming Responses API payload.
type ResponsesResponse struct {
	Id     string               `json:"id"`
	Object string               `json:"object"`
	Model  string               `json:"model"`
	Status string               `json:"status"`
	Output []ResponsesOutput    `json:"output"`
	Usage  *ResponsesUsage      `json:"usage"`
	Error  *model.Error         `json:"error"`
}

// ResponsesOutput is one output item.
type ResponsesOutput struct {
	Type    string                  `json:"type"`
	Role    string                  `json:"role,omitempty"`
	Content []ResponsesOutputPart   `json:"content,omitempty"`
	Summary []ResponsesOutputPart   `json:"summary,omitempty"`
	// Function call fields.
	CallId    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// ResponsesOutputPart is one content part of an output item.
type ResponsesOutputPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ResponsesUsage counts tokens the Responses way.
type ResponsesUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

func (u *ResponsesUsage) toUsage() model.Usage {
	if u == nil {
		return model.Usage{}
	}
	return model.Usage{
		PromptTokens:     u.InputTokens,
		CompletionTokens: u.OutputTokens,
		TotalTokens:      u.TotalTokens,
	}
}

// ConvertToResponsesRequest maps the canonical chat request onto the
// Responses API surface. System messages become instructions, tool calls
// and tool results become their item forms.
func ConvertToResponsesRequest(request *model.GeneralOpenAIRequest) *ResponsesRequest {
	out := &ResponsesRequest{
		Model:       request.Model,
		Temperature: request.Temperature,
		TopP:        request.TopP,
		Stream:      request.Stream,
		ToolChoice:  convertResponsesToolChoice(request.ToolChoice),
		User:        request.User,
		Reasoning:   request.Reasoning,
	}
	if request.MaxCompletionTokens != nil {
		out.MaxOutputTokens = *request.MaxCompletionTokens
	} else {
		out.MaxOutputTokens = request.MaxTokens
	}
	if out.Reasoning == nil && request.ReasoningEffort != nil {
		out.Reasoning = &model.Reasoning{Effort: *request.ReasoningEffort}
	}

	var instructions []string
	for _, message := range request.Messages {
		switch message.Role {
		case "system", "developer":
			instructions = append(instructions, message.StringContent())
		case "tool":
			out.Input = append(out.Input, ResponsesInput{
				Type:   "function_call_output",
				CallId: message.ToolCallId,
				Output: message.StringContent(),
			})
		case "assistant":
			if len(message.ToolCalls) == 0 {
				out.Input = append(out.Input, responsesMessageInput(message))
				break
			}
			if text := message.StringContent(); text != "" {
				out.Input = append(out.Input, responsesMessageInput(message))
			}
			for _, call := range message.ToolCalls {
				out.Input = append(out.Input, ResponsesInput{
					Type:      "function_call",
					CallId:    call.Id,
					Name:      call.Function.Name,
					Arguments: call.Function.ArgumentsString(),
				})
			}
		default:
			out.Input = append(out.Input, responsesMessageInput(message))
		}
	}
	out.Instructions = strings.Join(instructions, "\n\n")

	for _, tool := range request.Tools {
		if tool.Type != "" && tool.Type != "function" {
			continue
		}
		out.Tools = append(out.Tools, ResponsesTool{
			Type:        "function",
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			Parameters:  tool.Function.Parameters,
		})
	}
	return out
}

func responsesMessageInput(message model.Message) ResponsesInput {
	partType := "input_text"
	if message.Role == "assistant" {
		partType = "output_text"
	}
	if message.IsStringContent() {
		return ResponsesInput{
			Type:    "message",
			Role:    message.Role,
			Content: []ResponsesContentPart{{Type: partType, Text: message.StringContent()}},
		}
	}
	var parts []ResponsesContentPart
	for _, part := range message.ParseContent() {
		switch part.Type {
		case model.ContentTypeText:
			parts = append(parts, ResponsesContentPart{Type: partType, Text: part.Text})
		case model.ContentTypeImageURL:
			if part.ImageURL != nil {
				parts = append(parts, ResponsesContentPart{Type: "input_image", ImageURL: part.ImageURL.Url})
			}
		}
	}
	return ResponsesInput{Type: "message", Role: message.Role, Content: parts}
}

func convertResponsesToolChoice(choice any) any {
	m, ok := choice.(map[string]any)
	if !ok {
		return choice
	}
	// {type:"function",function:{name}} flattens to {type:"function",name}.
	if fn, ok := m["function"].(map[string]any); ok {
		if name, ok := fn["name"].(string); ok {
			return map[string]any{"type": "function", "name": name}
		}
	}
	return choice
}

// convertResponsesResponse maps a completed Responses payload back to the
// canonical chat completion.
func convertResponsesResponse(resp *ResponsesResponse, m *meta.Meta) *model.TextResponse {
	choice := model.TextResponseChoice{
		FinishReason: model.FinishReasonStop,
		Message:      model.Message{Role: "assistant"},
	}
	var content, reasoning strings.Builder
	for _, item := range resp.Output {
		switch item.Type {
		case "message":
			for _, part := range item.Content {
				if part.Type == "output_text" {
					content.WriteString(part.Text)
				}
			}
		case "reasoning":
			for _, part := range item.Summary {
				reasoning.WriteString(part.Text)
			}
		case "function_call":
			choice.Message.ToolCalls = append(choice.Message.ToolCalls, model.Tool{
				Id:   item.CallId,
				Type: "function",
				Function: model.Function{
					Name:      item.Name,
					Arguments: item.Arguments,
				},
			})
		}
	}
	choice.Message.Content = content.String()
	choice.Message.ReasoningContent = reasoning.String()
	if len(choice.Message.ToolCalls) > 0 {
		choice.FinishReason = model.FinishReasonToolCalls
	}
	if resp.Status == "incomplete" {
		choice.FinishReason = model.FinishReasonLength
	}
	return &model.TextResponse{
		Id:      resp.Id,
		Object:  "chat.completion",
		Created: m.StartTime.Unix(),
		Model:   m.OriginModelName,
		Choices: []model.TextResponseChoice{choice},
		Usage:   resp.Usage.toUsage(),
	}
}

// ResponsesHandler relays a non-streaming Responses API call back in the
// caller's dialect.
func ResponsesHandler(c *gin.Context, resp *http.Response, m *meta.Meta) (*model.Usage, *model.ErrorWithStatusCode) {
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, ErrorWrapper(errors.Wrap(err, "read upstream response"), "read_response_body_failed", http.StatusBadGateway)
	}

	var responsesResp ResponsesResponse
	if err := json.Unmarshal(body, &responsesResp); err != nil {
		return nil, ErrorWrapper(errors.Wrap(err, "unmarshal upstream response"), "unmarshal_response_body_failed", http.StatusBadGateway)
	}
	if responsesResp.Error != nil && responsesResp.Error.Message != "" {
		return nil, &model.ErrorWithStatusCode{StatusCode: resp.StatusCode, Error: *responsesResp.Error}
	}

	textResponse := convertResponsesResponse(&responsesResp, m)
	if textResponse.Usage.TotalTokens == 0 {
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
	adaptor.MarkFirstResponse(c)
	if err := dialect.FromContext(c).RenderResponse(c, textResponse); err != nil {
		return &textResponse.Usage, ErrorWrapper(errors.Wrap(err, "render response"), "render_response_failed", http.StatusInternalServerError)
	}
	return &textResponse.Usage, nil
}

// responsesStreamEvent is the envelope shared by every Responses SSE event.
type responsesStreamEvent struct {
	Type     string             `json:"type"`
	Delta    string             `json:"delta,omitempty"`
	Item     *ResponsesOutput   `json:"item,omitempty"`
	Response *ResponsesResponse `json:"response,omitempty"`
}

// ResponsesStreamHandler converts the Responses event stream back into
// canonical chat deltas rendered through the inbound dialect.
func ResponsesStreamHandler(c *gin.Context, resp *http.Response, m *meta.Meta) (*model.Usage, *model.ErrorWithStatusCode) {
	lg := gmw.GetLogger(c)
	defer func() { _ = resp.Body.Close() }()

	renderer := adaptor.StreamRendererFromContext(c)
	scanner := helper.NewSSEScanner(resp.Body)

	var usage *model.Usage
	var responseText strings.Builder
	started := false
	toolIndex := -1

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
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
		if data == done {
			break
		}

		var event responsesStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			lg.Warn("skip malformed stream event",
				zap.Error(err),
				zap.String("data", helper.TruncateString(data, 256)))
			continue
		}

		if !started {
			if event.Type == "response.failed" || event.Type == "error" {
				if werr := validateFirstChunk(c, m, data); werr != nil {
					return usage, werr
				}
				return usage, ErrorWrapper(errors.Errorf("responses stream failed: %s",
					helper.TruncateString(data, 512)), "responses_stream_failed", http.StatusBadGateway)
			}
			common.SetEventStreamHeaders(c)
			adaptor.MarkFirstResponse(c)
			started = true
		}

		switch event.Type {
		case "response.output_text.delta":
			responseText.WriteString(event.Delta)
			emit(model.Message{Role: "assistant", Content: event.Delta}, nil)
		case "response.reasoning_summary_text.delta":
			responseText.WriteString(event.Delta)
			emit(model.Message{Role: "assistant", ReasoningContent: event.Delta}, nil)
		case "response.output_item.added":
			if event.Item != nil && event.Item.Type == "function_call" {
				toolIndex++
				idx := toolIndex
				emit(model.Message{
					Role: "assistant",
					ToolCalls: []model.Tool{{
						Id:    event.Item.CallId,
						Type:  "function",
						Index: &idx,
						Function: model.Function{
							Name: event.Item.Name,
						},
					}},
				}, nil)
			}
		case "response.function_call_arguments.delta":
			if toolIndex >= 0 {
				idx := toolIndex
				emit(model.Message{
					Role: "assistant",
					ToolCalls: []model.Tool{{
						Type:     "function",
						Index:    &idx,
						Function: model.Function{Arguments: event.Delta},
					}},
				}, nil)
			}
		case "response.completed":
			if event.Response != nil && event.Response.Usage != nil {
				u := event.Response.Usage.toUsage()
				usage = &u
			}
			finish := model.FinishReasonStop
			if toolIndex >= 0 {
				finish = model.FinishReasonToolCalls
			}
			emit(model.Message{}, &finish)
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
