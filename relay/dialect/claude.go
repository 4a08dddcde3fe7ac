package dialect

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/gin-gonic/gin"

	"github.com/llmux/llmux/common/random"
	"github.com/llmux/llmux/common/render"
	"github.com/llmux/llmux/relay/channeltype"
	"github.com/llmux/llmux/relay/model"
)

func init() {
	register(&claudeDialect{})
}

// claudeDialect accepts the Anthropic Messages API on /v1/messages.
type claudeDialect struct{}

func (d *claudeDialect) ID() string { return IDClaude }

func (d *claudeDialect) ExtractToken(c *gin.Context) string {
	if key := strings.TrimSpace(c.Request.Header.Get("x-api-key")); key != "" {
		return key
	}
	auth := c.Request.Header.Get("Authorization")
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
}

func (d *claudeDialect) MatchesEngine(channelType int) bool {
	return channelType == channeltype.Anthropic
}

func (d *claudeDialect) ParseRequest(c *gin.Context, body []byte) (*model.GeneralOpenAIRequest, error) {
	var claudeReq model.ClaudeRequest
	if err := json.Unmarshal(body, &claudeReq); err != nil {
		return nil, errors.Wrap(err, "unmarshal claude request")
	}
	if claudeReq.Model == "" {
		return nil, errors.New("model is required")
	}

	req := &model.GeneralOpenAIRequest{
		Model:       claudeReq.Model,
		MaxTokens:   claudeReq.MaxTokens,
		Stream:      claudeReq.Stream,
		Temperature: claudeReq.Temperature,
		TopP:        claudeReq.TopP,
		TopK:        claudeReq.TopK,
		Thinking:    claudeReq.Thinking,
	}
	if len(claudeReq.StopSequences) > 0 {
		req.Stop = claudeReq.StopSequences
	}

	if system := claudeSystemText(claudeReq.System); system != "" {
		req.Messages = append(req.Messages, model.Message{Role: "system", Content: system})
	}
	for _, msg := range claudeReq.Messages {
		converted, err := convertClaudeMessage(msg)
		if err != nil {
			return nil, err
		}
		req.Messages = append(req.Messages, converted...)
	}

	for _, tool := range claudeReq.Tools {
		req.Tools = append(req.Tools, model.Tool{
			Type: "function",
			Function: model.Function{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}
	req.ToolChoice = convertClaudeToolChoice(claudeReq.ToolChoice)
	return req, nil
}

// claudeSystemText flattens a system field that may be a string or a list of
// text blocks.
func claudeSystemText(system any) string {
	switch v := system.(type) {
	case string:
		return v
	case []any:
		var parts []string
		for _, item := range v {
			block, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := block["text"].(string); ok && text != "" {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}

// convertClaudeMessage maps one Claude turn to canonical messages. tool_use
// blocks become assistant tool_calls; tool_result blocks become tool-role
// messages; plain blocks keep their text and image parts.
func convertClaudeMessage(msg model.ClaudeMessage) ([]model.Message, error) {
	if text, ok := msg.Content.(string); ok {
		return []model.Message{{Role: msg.Role, Content: text}}, nil
	}

	blocks := msg.ParsedContent()
	if blocks == nil {
		return nil, errors.Errorf("unsupported content in %s message", msg.Role)
	}

	var out []model.Message
	var parts []model.MessageContent
	var toolCalls []model.Tool
	var reasoning string

	flushParts := func() {
		if len(parts) == 0 && len(toolCalls) == 0 && reasoning == "" {
			return
		}
		m := model.Message{Role: msg.Role, ReasoningContent: reasoning}
		if len(parts) == 1 && parts[0].Type == model.ContentTypeText {
			m.Content = parts[0].Text
		} else if len(parts) > 0 {
			m.Content = parts
		}
		m.ToolCalls = toolCalls
		out = append(out, m)
		parts, toolCalls, reasoning = nil, nil, ""
	}

	for _, block := range blocks {
		switch block.Type {
		case "text":
			parts = append(parts, model.MessageContent{Type: model.ContentTypeText, Text: block.Text})
		case "image":
			if block.Source == nil {
				continue
			}
			url := block.Source.URL
			if url == "" && block.Source.Data != "" {
				url = fmt.Sprintf("data:%s;base64,%s", block.Source.MediaType, block.Source.Data)
			}
			parts = append(parts, model.MessageContent{
				Type:     model.ContentTypeImageURL,
				ImageURL: &model.ImageURL{Url: url},
			})
		case "thinking":
			reasoning += block.Thinking
		case "tool_use":
			args, err := json.Marshal(block.Input)
			if err != nil {
				return nil, errors.Wrap(err, "marshal tool_use input")
			}
			toolCalls = append(toolCalls, model.Tool{
				Id:   block.Id,
				Type: "function",
				Function: model.Function{
					Name:      block.Name,
					Arguments: string(args),
				},
			})
		case "tool_result":
			flushParts()
			out = append(out, model.Message{
				Role:       "tool",
				ToolCallId: block.ToolUseId,
				Content:    claudeToolResultText(block.Content),
			})
		}
	}
	flushParts()
	return out, nil
}

func claudeToolResultText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		var parts []string
		for _, item := range v {
			block, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := block["text"].(string); ok {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, "\n")
	default:
		raw, err := json.Marshal(content)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}

func convertClaudeToolChoice(choice any) any {
	switch v := choice.(type) {
	case map[string]any:
		switch v["type"] {
		case "auto":
			return "auto"
		case "any":
			return "required"
		case "tool":
			name, _ := v["name"].(string)
			return map[string]any{
				"type":     "function",
				"function": map[string]any{"name": name},
			}
		}
	case string:
		switch v {
		case "auto":
			return "auto"
		case "any":
			return "required"
		}
	}
	return nil
}

func (d *claudeDialect) RenderResponse(c *gin.Context, resp *model.TextResponse) error {
	if len(resp.Choices) == 0 {
		return errors.New("no choices in response")
	}
	choice := resp.Choices[0]

	claudeResp := model.ClaudeResponse{
		Id:    resp.Id,
		Type:  "message",
		Role:  "assistant",
		Model: resp.Model,
		Usage: model.ClaudeUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	if choice.Message.ReasoningContent != "" {
		claudeResp.Content = append(claudeResp.Content, model.ClaudeContent{
			Type:     "thinking",
			Thinking: choice.Message.ReasoningContent,
		})
	}
	if text := choice.Message.StringContent(); text != "" {
		claudeResp.Content = append(claudeResp.Content, model.ClaudeContent{Type: "text", Text: text})
	}
	for _, call := range choice.Message.ToolCalls {
		var input any
		if args := call.Function.ArgumentsString(); args != "" {
			if err := json.Unmarshal([]byte(args), &input); err != nil {
				input = map[string]any{}
			}
		} else {
			input = map[string]any{}
		}
		claudeResp.Content = append(claudeResp.Content, model.ClaudeContent{
			Type:  "tool_use",
			Id:    call.Id,
			Name:  call.Function.Name,
			Input: input,
		})
	}
	stopReason := claudeStopReason(choice.FinishReason)
	claudeResp.StopReason = &stopReason

	c.JSON(http.StatusOK, claudeResp)
	return nil
}

func claudeStopReason(finishReason string) string {
	switch finishReason {
	case model.FinishReasonLength:
		return "max_tokens"
	case model.FinishReasonToolCalls:
		return "tool_use"
	default:
		return "end_turn"
	}
}

func (d *claudeDialect) NewStreamRenderer() StreamRenderer {
	return &claudeStreamRenderer{blockIndex: -1}
}

func (d *claudeDialect) RenderError(c *gin.Context, statusCode int, e *model.Error) {
	c.JSON(statusCode, gin.H{
		"type": "error",
		"error": gin.H{
			"type":    "api_error",
			"message": e.Message,
		},
	})
}

// claudeStreamRenderer replays canonical deltas as the Messages event
// machine: message_start, content_block_start/delta/stop per block, then
// message_delta and message_stop.
type claudeStreamRenderer struct {
	started      bool
	closed       bool
	blockIndex   int
	blockType    string // "", "thinking", "text", "tool_use"
	usage        model.ClaudeUsage
	finishReason string
	messageId    string
}

func (r *claudeStreamRenderer) Write(c *gin.Context, chunk *model.ChatCompletionsStreamResponse) error {
	if chunk == nil || len(chunk.Choices) == 0 {
		if chunk != nil && chunk.Usage != nil {
			r.trackUsage(chunk.Usage)
		}
		return nil
	}
	if !r.started {
		r.started = true
		r.messageId = chunk.Id
		if r.messageId == "" {
			r.messageId = "msg_" + random.GetRandomString(24)
		}
		startUsage := model.ClaudeUsage{}
		if chunk.Usage != nil {
			startUsage.InputTokens = chunk.Usage.PromptTokens
		}
		if err := render.EventData(c, "message_start", gin.H{
			"type": "message_start",
			"message": gin.H{
				"id":            r.messageId,
				"type":          "message",
				"role":          "assistant",
				"model":         chunk.Model,
				"content":       []any{},
				"stop_reason":   nil,
				"stop_sequence": nil,
				"usage":         startUsage,
			},
		}); err != nil {
			return err
		}
	}
	if chunk.Usage != nil {
		r.trackUsage(chunk.Usage)
	}

	choice := chunk.Choices[0]
	if choice.Delta.ReasoningContent != "" {
		if err := r.ensureBlock(c, "thinking", nil); err != nil {
			return err
		}
		if err := render.EventData(c, "content_block_delta", gin.H{
			"type":  "content_block_delta",
			"index": r.blockIndex,
			"delta": gin.H{"type": "thinking_delta", "thinking": choice.Delta.ReasoningContent},
		}); err != nil {
			return err
		}
	}
	if text := choice.Delta.StringContent(); text != "" {
		if err := r.ensureBlock(c, "text", nil); err != nil {
			return err
		}
		if err := render.EventData(c, "content_block_delta", gin.H{
			"type":  "content_block_delta",
			"index": r.blockIndex,
			"delta": gin.H{"type": "text_delta", "text": text},
		}); err != nil {
			return err
		}
	}
	for _, call := range choice.Delta.ToolCalls {
		if call.Function.Name != "" {
			if err := r.ensureBlock(c, "tool_use", &call); err != nil {
				return err
			}
		}
		if args := call.Function.ArgumentsString(); args != "" {
			if err := render.EventData(c, "content_block_delta", gin.H{
				"type":  "content_block_delta",
				"index": r.blockIndex,
				"delta": gin.H{"type": "input_json_delta", "partial_json": args},
			}); err != nil {
				return err
			}
		}
	}
	if choice.FinishReason != nil && *choice.FinishReason != "" {
		r.finishReason = *choice.FinishReason
	}
	return nil
}

// ensureBlock closes the open content block when its type changes and opens
// a new one. Tool blocks always reopen so parallel calls stay separate.
func (r *claudeStreamRenderer) ensureBlock(c *gin.Context, blockType string, call *model.Tool) error {
	if r.blockType == blockType && blockType != "tool_use" {
		return nil
	}
	if err := r.closeBlock(c); err != nil {
		return err
	}
	r.blockIndex++
	r.blockType = blockType

	block := gin.H{"type": blockType}
	switch blockType {
	case "text":
		block["text"] = ""
	case "thinking":
		block["thinking"] = ""
	case "tool_use":
		id := ""
		name := ""
		if call != nil {
			id = call.Id
			name = call.Function.Name
		}
		if id == "" {
			id = "toolu_" + random.GetRandomString(24)
		}
		block["id"] = id
		block["name"] = name
		block["input"] = map[string]any{}
	}
	return render.EventData(c, "content_block_start", gin.H{
		"type":          "content_block_start",
		"index":         r.blockIndex,
		"content_block": block,
	})
}

func (r *claudeStreamRenderer) closeBlock(c *gin.Context) error {
	if r.blockType == "" {
		return nil
	}
	err := render.EventData(c, "content_block_stop", gin.H{
		"type":  "content_block_stop",
		"index": r.blockIndex,
	})
	r.blockType = ""
	return err
}

func (r *claudeStreamRenderer) trackUsage(usage *model.Usage) {
	if usage.PromptTokens > 0 {
		r.usage.InputTokens = usage.PromptTokens
	}
	if usage.CompletionTokens > 0 {
		r.usage.OutputTokens = usage.CompletionTokens
	}
}

func (r *claudeStreamRenderer) Close(c *gin.Context) error {
	if r.closed {
		return nil
	}
	r.closed = true
	if !r.started {
		return nil
	}
	if err := r.closeBlock(c); err != nil {
		return err
	}
	stopReason := claudeStopReason(r.finishReason)
	if err := render.EventData(c, "message_delta", gin.H{
		"type": "message_delta",
		"delta": gin.H{
			"stop_reason":   stopReason,
			"stop_sequence": nil,
		},
		"usage": r.usage,
	}); err != nil {
		return err
	}
	return render.EventData(c, "message_stop", gin.H{"type": "message_stop"})
}
