package dialect

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/gin-gonic/gin"

	"github.com/llmux/llmux/common/render"
	"github.com/llmux/llmux/relay/channeltype"
	"github.com/llmux/llmux/relay/model"
	"github.com/llmux/llmux/relay/relaymode"
)

func init() {
	register(&geminiDialect{})
}

// geminiDialect accepts the generateContent surface under /v1beta/models and
// /v1/models. The model and the stream flag live in the URL, not the body.
type geminiDialect struct{}

func (d *geminiDialect) ID() string { return IDGemini }

func (d *geminiDialect) ExtractToken(c *gin.Context) string {
	if key := strings.TrimSpace(c.Request.Header.Get("x-goog-api-key")); key != "" {
		return key
	}
	if key := strings.TrimSpace(c.Query("key")); key != "" {
		return key
	}
	auth := c.Request.Header.Get("Authorization")
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
}

func (d *geminiDialect) MatchesEngine(channelType int) bool {
	return channelType == channeltype.Gemini
}

// ModelFromPath extracts the model alias from a generateContent path such as
// /v1beta/models/gemini-2.5-pro:streamGenerateContent.
func ModelFromPath(path string) string {
	idx := strings.Index(path, "/models/")
	if idx < 0 {
		return ""
	}
	rest := path[idx+len("/models/"):]
	if colon := strings.IndexByte(rest, ':'); colon >= 0 {
		rest = rest[:colon]
	}
	return rest
}

func (d *geminiDialect) ParseRequest(c *gin.Context, body []byte) (*model.GeneralOpenAIRequest, error) {
	var gemReq model.GeminiChatRequest
	if err := json.Unmarshal(body, &gemReq); err != nil {
		return nil, errors.Wrap(err, "unmarshal gemini request")
	}

	req := &model.GeneralOpenAIRequest{
		Model:  ModelFromPath(c.Request.URL.Path),
		Stream: relaymode.IsStreamPath(c.Request.URL.Path),
	}
	if req.Model == "" {
		return nil, errors.New("model is required in the request path")
	}

	if gemReq.SystemInstruction != nil {
		var parts []string
		for _, part := range gemReq.SystemInstruction.Parts {
			if part.Text != "" {
				parts = append(parts, part.Text)
			}
		}
		if len(parts) > 0 {
			req.Messages = append(req.Messages, model.Message{Role: "system", Content: strings.Join(parts, "\n")})
		}
	}

	for _, content := range gemReq.Contents {
		msgs, err := convertGeminiContent(content)
		if err != nil {
			return nil, err
		}
		req.Messages = append(req.Messages, msgs...)
	}

	if gc := gemReq.GenerationConfig; gc != nil {
		req.Temperature = gc.Temperature
		req.TopP = gc.TopP
		req.TopK = gc.TopK
		req.MaxTokens = gc.MaxOutputTokens
		if len(gc.StopSequences) > 0 {
			req.Stop = gc.StopSequences
		}
	}

	for _, tool := range gemReq.Tools {
		for _, decl := range tool.FunctionDeclarations {
			req.Tools = append(req.Tools, model.Tool{
				Type: "function",
				Function: model.Function{
					Name:        decl.Name,
					Description: decl.Description,
					Parameters:  decl.Parameters,
				},
			})
		}
	}
	if gemReq.ToolConfig != nil {
		switch gemReq.ToolConfig.FunctionCallingConfig.Mode {
		case "ANY":
			if names := gemReq.ToolConfig.FunctionCallingConfig.AllowedFunctionNames; len(names) == 1 {
				req.ToolChoice = map[string]any{
					"type":     "function",
					"function": map[string]any{"name": names[0]},
				}
			} else {
				req.ToolChoice = "required"
			}
		case "NONE":
			req.ToolChoice = "none"
		case "AUTO":
			req.ToolChoice = "auto"
		}
	}
	return req, nil
}

func convertGeminiContent(content model.GeminiContent) ([]model.Message, error) {
	role := content.Role
	switch role {
	case "model":
		role = "assistant"
	case "", "user":
		role = "user"
	}

	var out []model.Message
	var parts []model.MessageContent
	var toolCalls []model.Tool
	var reasoning string

	flush := func() {
		if len(parts) == 0 && len(toolCalls) == 0 && reasoning == "" {
			return
		}
		m := model.Message{Role: role, ReasoningContent: reasoning, ToolCalls: toolCalls}
		if len(parts) == 1 && parts[0].Type == model.ContentTypeText {
			m.Content = parts[0].Text
		} else if len(parts) > 0 {
			m.Content = parts
		}
		out = append(out, m)
		parts, toolCalls, reasoning = nil, nil, ""
	}

	for _, part := range content.Parts {
		switch {
		case part.FunctionResponse != nil:
			flush()
			result := part.FunctionResponse.Response["result"]
			text, ok := result.(string)
			if !ok {
				raw, err := json.Marshal(part.FunctionResponse.Response)
				if err != nil {
					return nil, errors.Wrap(err, "marshal functionResponse")
				}
				text = string(raw)
			}
			out = append(out, model.Message{
				Role:       "tool",
				ToolCallId: part.FunctionResponse.Name,
				Content:    text,
			})
		case part.FunctionCall != nil:
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				return nil, errors.Wrap(err, "marshal functionCall args")
			}
			toolCalls = append(toolCalls, model.Tool{
				Id:               part.FunctionCall.Name,
				Type:             "function",
				ThoughtSignature: part.ThoughtSignature,
				Function: model.Function{
					Name:      part.FunctionCall.Name,
					Arguments: string(args),
				},
			})
		case part.InlineData != nil:
			parts = append(parts, model.MessageContent{
				Type: model.ContentTypeImageURL,
				ImageURL: &model.ImageURL{
					Url: fmt.Sprintf("data:%s;base64,%s", part.InlineData.MimeType, part.InlineData.Data),
				},
			})
		case part.Thought:
			reasoning += part.Text
		case part.Text != "":
			parts = append(parts, model.MessageContent{Type: model.ContentTypeText, Text: part.Text})
		}
	}
	flush()
	return out, nil
}

func (d *geminiDialect) RenderResponse(c *gin.Context, resp *model.TextResponse) error {
	if len(resp.Choices) == 0 {
		return errors.New("no choices in response")
	}
	choice := resp.Choices[0]

	content := model.GeminiContent{Role: "model"}
	if choice.Message.ReasoningContent != "" {
		content.Parts = append(content.Parts, model.GeminiPart{Thought: true, Text: choice.Message.ReasoningContent})
	}
	if text := choice.Message.StringContent(); text != "" {
		content.Parts = append(content.Parts, model.GeminiPart{Text: text})
	}
	for _, call := range choice.Message.ToolCalls {
		var args map[string]any
		if raw := call.Function.ArgumentsString(); raw != "" {
			_ = json.Unmarshal([]byte(raw), &args)
		}
		content.Parts = append(content.Parts, model.GeminiPart{
			ThoughtSignature: call.ThoughtSignature,
			FunctionCall:     &model.GeminiFunctionCall{Name: call.Function.Name, Args: args},
		})
	}

	c.JSON(http.StatusOK, model.GeminiChatResponse{
		Candidates: []model.GeminiCandidate{{
			Content:      &content,
			FinishReason: geminiFinishReason(choice.FinishReason),
		}},
		UsageMetadata: &model.GeminiUsageMetadata{
			PromptTokenCount:     resp.Usage.PromptTokens,
			CandidatesTokenCount: resp.Usage.CompletionTokens,
			TotalTokenCount:      resp.Usage.TotalTokens,
		},
		ModelVersion: resp.Model,
	})
	return nil
}

func geminiFinishReason(finishReason string) string {
	switch finishReason {
	case model.FinishReasonLength:
		return "MAX_TOKENS"
	case model.FinishReasonFilter:
		return "SAFETY"
	default:
		return "STOP"
	}
}

func (d *geminiDialect) NewStreamRenderer() StreamRenderer {
	return &geminiStreamRenderer{}
}

func (d *geminiDialect) RenderError(c *gin.Context, statusCode int, e *model.Error) {
	c.JSON(statusCode, gin.H{
		"error": gin.H{
			"code":    statusCode,
			"message": e.Message,
			"status":  "FAILED_PRECONDITION",
		},
	})
}

// geminiStreamRenderer re-frames canonical deltas as generateContent chunks.
// Gemini has no terminal sentinel; the final chunk's finishReason ends the
// stream.
type geminiStreamRenderer struct {
	usage *model.GeminiUsageMetadata
}

func (r *geminiStreamRenderer) Write(c *gin.Context, chunk *model.ChatCompletionsStreamResponse) error {
	if chunk == nil {
		return nil
	}
	if chunk.Usage != nil {
		r.usage = &model.GeminiUsageMetadata{
			PromptTokenCount:     chunk.Usage.PromptTokens,
			CandidatesTokenCount: chunk.Usage.CompletionTokens,
			TotalTokenCount:      chunk.Usage.TotalTokens,
		}
	}
	if len(chunk.Choices) == 0 {
		return nil
	}
	choice := chunk.Choices[0]

	content := model.GeminiContent{Role: "model"}
	if choice.Delta.ReasoningContent != "" {
		content.Parts = append(content.Parts, model.GeminiPart{Thought: true, Text: choice.Delta.ReasoningContent})
	}
	if text := choice.Delta.StringContent(); text != "" {
		content.Parts = append(content.Parts, model.GeminiPart{Text: text})
	}
	for _, call := range choice.Delta.ToolCalls {
		var args map[string]any
		if raw := call.Function.ArgumentsString(); raw != "" {
			_ = json.Unmarshal([]byte(raw), &args)
		}
		content.Parts = append(content.Parts, model.GeminiPart{
			ThoughtSignature: call.ThoughtSignature,
			FunctionCall:     &model.GeminiFunctionCall{Name: call.Function.Name, Args: args},
		})
	}

	out := model.GeminiChatResponse{
		Candidates: []model.GeminiCandidate{{Content: &content}},
		ModelVersion: chunk.Model,
	}
	if choice.FinishReason != nil && *choice.FinishReason != "" {
		out.Candidates[0].FinishReason = geminiFinishReason(*choice.FinishReason)
		out.UsageMetadata = r.usage
	}
	if len(content.Parts) == 0 && out.Candidates[0].FinishReason == "" {
		return nil
	}
	return render.ObjectData(c, &out)
}

func (r *geminiStreamRenderer) Close(c *gin.Context) error {
	// No terminal framing; the finishReason chunk already closed the stream.
	return nil
}
