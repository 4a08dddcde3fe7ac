package gemini

import (
	"encoding/json"
	"fmt"
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
	"github.com/llmux/llmux/common/random"
	"github.com/llmux/llmux/relay/adaptor"
	"github.com/llmux/llmux/relay/adaptor/openai"
	"github.com/llmux/llmux/relay/dialect"
	"github.com/llmux/llmux/relay/meta"
	"github.com/llmux/llmux/relay/model"
)

// maxOutputTokensCap is the hard ceiling generateContent accepts.
const maxOutputTokensCap = 65536

// blockedPrefix is the stable prefix content-blocked failures surface with.
const blockedPrefix = "Gemini Blocked: "

// largeOutputModels default to the full output ceiling instead of 8192.
var largeOutputModels = []string{
	"gemini-2.5-pro",
	"gemini-2.0-pro",
	"gemini-2.0-flash-thinking",
	"gemini-2.5-flash",
}

func isLargeOutputModel(actualModel string) bool {
	for _, family := range largeOutputModels {
		if strings.Contains(actualModel, family) {
			return true
		}
	}
	return false
}

// safetySettings builds the harm-category matrix: OFF for the flagship
// families that allow it, BLOCK_NONE otherwise, with CIVIC_INTEGRITY always
// pinned to BLOCK_NONE.
func safetySettings(actualModel string) []model.GeminiSafetySetting {
	threshold := "BLOCK_NONE"
	if isLargeOutputModel(actualModel) || strings.HasSuffix(actualModel, "-image-generation") {
		threshold = "OFF"
	}
	return []model.GeminiSafetySetting{
		{Category: "HARM_CATEGORY_HARASSMENT", Threshold: threshold},
		{Category: "HARM_CATEGORY_HATE_SPEECH", Threshold: threshold},
		{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Threshold: threshold},
		{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: threshold},
		{Category: "HARM_CATEGORY_CIVIC_INTEGRITY", Threshold: "BLOCK_NONE"},
	}
}

// ConvertRequest maps the canonical chat request onto generateContent.
func ConvertRequest(request *model.GeneralOpenAIRequest, m *meta.Meta) *model.GeminiChatRequest {
	out := &model.GeminiChatRequest{
		SafetySettings: safetySettings(m.ActualModelName),
		GenerationConfig: &model.GeminiGenerationConfig{
			Temperature: request.Temperature,
			TopP:        request.TopP,
			TopK:        request.TopK,
		},
	}

	maxTokens := request.MaxTokens
	if request.MaxCompletionTokens != nil && maxTokens == 0 {
		maxTokens = *request.MaxCompletionTokens
	}
	if maxTokens > maxOutputTokensCap {
		maxTokens = maxOutputTokensCap
	}
	if maxTokens == 0 {
		if isLargeOutputModel(m.ActualModelName) {
			maxTokens = maxOutputTokensCap
		} else {
			maxTokens = 8192
		}
	}
	out.GenerationConfig.MaxOutputTokens = maxTokens

	switch stop := request.Stop.(type) {
	case string:
		out.GenerationConfig.StopSequences = []string{stop}
	case []any:
		for _, s := range stop {
			if str, ok := s.(string); ok {
				out.GenerationConfig.StopSequences = append(out.GenerationConfig.StopSequences, str)
			}
		}
	}

	if strings.Contains(m.ActualModelName, "-image") {
		out.GenerationConfig.ResponseModalities = []string{"Text", "Image"}
	}
	out.GenerationConfig.ThinkingConfig = thinkingConfig(m.OriginModelName, m.ActualModelName)

	var system []string
	// Tool call ids seen on assistant turns, so tool results can name the
	// function they answer.
	callNames := map[string]string{}
	for _, message := range request.Messages {
		switch message.Role {
		case "system", "developer":
			system = append(system, message.StringContent())
		case "assistant":
			out.Contents = append(out.Contents, convertAssistantContent(message, callNames))
		case "tool":
			name := callNames[message.ToolCallId]
			out.Contents = append(out.Contents, model.GeminiContent{
				Role: "function",
				Parts: []model.GeminiPart{{
					FunctionResponse: &model.GeminiFunctionResponse{
						Name: name,
						Response: map[string]any{
							"name":    name,
							"content": map[string]any{"result": message.StringContent()},
						},
					},
				}},
			})
		default:
			out.Contents = append(out.Contents, convertUserContent(message))
		}
	}
	if len(system) > 0 {
		out.SystemInstruction = &model.GeminiContent{
			Parts: []model.GeminiPart{{Text: strings.Join(system, "\n\n")}},
		}
	}
	if len(out.Contents) == 0 {
		out.Contents = []model.GeminiContent{{Role: "user", Parts: []model.GeminiPart{{Text: "No messages"}}}}
	}

	if supportsTools(m.ActualModelName) {
		for _, tool := range request.Tools {
			if tool.Type != "" && tool.Type != "function" {
				continue
			}
			decl := model.GeminiFunctionDeclaration{
				Name:        tool.Function.Name,
				Description: tool.Function.Description,
				Parameters:  SanitizeSchema(tool.Function.Parameters),
			}
			if len(out.Tools) == 0 {
				out.Tools = []model.GeminiTool{{}}
			}
			out.Tools[0].FunctionDeclarations = append(out.Tools[0].FunctionDeclarations, decl)
		}
		if len(out.Tools) > 0 {
			out.ToolConfig = convertToolConfig(request.ToolChoice)
		}
	}
	return out
}

// supportsTools reports whether the model accepts function declarations at
// all; the thinking and image variants reject them.
func supportsTools(actualModel string) bool {
	return !strings.Contains(actualModel, "gemini-2.0-flash-thinking") &&
		!strings.Contains(actualModel, "gemini-2.5-flash-image") &&
		!strings.Contains(actualModel, "-image-generation")
}

func convertToolConfig(toolChoice any) *model.GeminiToolConfig {
	config := &model.GeminiToolConfig{
		FunctionCallingConfig: model.GeminiFunctionCallingConfig{Mode: "AUTO"},
	}
	switch v := toolChoice.(type) {
	case string:
		switch v {
		case "required":
			config.FunctionCallingConfig.Mode = "ANY"
		case "none":
			config.FunctionCallingConfig.Mode = "NONE"
		}
	case map[string]any:
		if fn, ok := v["function"].(map[string]any); ok {
			if name, ok := fn["name"].(string); ok {
				config.FunctionCallingConfig.Mode = "ANY"
				config.FunctionCallingConfig.AllowedFunctionNames = []string{name}
			}
		}
	}
	return config
}

func convertAssistantContent(message model.Message, callNames map[string]string) model.GeminiContent {
	content := model.GeminiContent{Role: "model"}
	if text := message.StringContent(); text != "" {
		content.Parts = append(content.Parts, model.GeminiPart{Text: text})
	}
	// Gemini expects the turn's thought signature echoed on the first
	// function-call part.
	signature := ""
	for _, call := range message.ToolCalls {
		if call.ThoughtSignature != "" {
			signature = call.ThoughtSignature
			break
		}
	}
	for i, call := range message.ToolCalls {
		callNames[call.Id] = call.Function.Name
		args := map[string]any{}
		if raw := call.Function.ArgumentsString(); raw != "" {
			_ = json.Unmarshal([]byte(raw), &args)
		}
		part := model.GeminiPart{
			FunctionCall: &model.GeminiFunctionCall{
				Name: call.Function.Name,
				Args: args,
			},
		}
		if i == 0 {
			part.ThoughtSignature = signature
		}
		content.Parts = append(content.Parts, part)
	}
	if len(content.Parts) == 0 {
		content.Parts = []model.GeminiPart{{Text: ""}}
	}
	return content
}

// toolCallFromPart maps one functionCall part to a canonical tool call,
// keeping its thought signature.
func toolCallFromPart(part model.GeminiPart, index *int) model.Tool {
	args, _ := json.Marshal(part.FunctionCall.Args)
	return model.Tool{
		Id:               "call_" + random.GetRandomString(24),
		Type:             "function",
		Index:            index,
		ThoughtSignature: part.ThoughtSignature,
		Function: model.Function{
			Name:      part.FunctionCall.Name,
			Arguments: string(args),
		},
	}
}

func convertUserContent(message model.Message) model.GeminiContent {
	content := model.GeminiContent{Role: "user"}
	if message.IsStringContent() {
		content.Parts = []model.GeminiPart{{Text: message.StringContent()}}
		return content
	}
	for _, part := range message.ParseContent() {
		switch part.Type {
		case model.ContentTypeText:
			content.Parts = append(content.Parts, model.GeminiPart{Text: part.Text})
		case model.ContentTypeImageURL:
			if part.ImageURL == nil {
				continue
			}
			content.Parts = append(content.Parts, convertImagePart(part.ImageURL.Url))
		}
	}
	if len(content.Parts) == 0 {
		content.Parts = []model.GeminiPart{{Text: ""}}
	}
	return content
}

func convertImagePart(url string) model.GeminiPart {
	if !image.IsDataURL(url) {
		return model.GeminiPart{FileData: &model.GeminiFileData{FileUri: url}}
	}
	mimeType := "image/jpeg"
	data := url
	if idx := strings.Index(url, ";base64,"); idx >= 0 {
		mimeType = strings.TrimPrefix(url[:idx], "data:")
		data = url[idx+len(";base64,"):]
	}
	return model.GeminiPart{InlineData: &model.GeminiInlineData{
		MimeType: mimeType,
		Data:     data,
	}}
}

func convertFinishReason(reason string) string {
	switch reason {
	case "STOP":
		return model.FinishReasonStop
	case "MAX_TOKENS":
		return model.FinishReasonLength
	default:
		return model.FinishReasonFilter
	}
}

func usageFromMetadata(metadata *model.GeminiUsageMetadata, m *meta.Meta, responseText string) model.Usage {
	if metadata != nil && metadata.TotalTokenCount > 0 {
		return model.Usage{
			PromptTokens:     metadata.PromptTokenCount,
			CompletionTokens: metadata.CandidatesTokenCount + metadata.ThoughtsTokenCount,
			TotalTokens:      metadata.TotalTokenCount,
		}
	}
	completion := openai.CountTokenText(responseText, m.ActualModelName)
	return model.Usage{
		PromptTokens:     m.PromptTokens,
		CompletionTokens: completion,
		TotalTokens:      m.PromptTokens + completion,
	}
}

func blockedError(reason string, statusCode int) *model.ErrorWithStatusCode {
	return &model.ErrorWithStatusCode{
		StatusCode: statusCode,
		Error: model.Error{
			Message: blockedPrefix + reason,
			Type:    "gemini_blocked",
			Code:    "content_blocked",
		},
	}
}

// Handler relays a non-streaming generateContent call back in the caller's
// dialect.
func Handler(c *gin.Context, resp *http.Response, m *meta.Meta) (*model.Usage, *model.ErrorWithStatusCode) {
	lg := gmw.GetLogger(c)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, openai.ErrorWrapper(errors.Wrap(err, "read upstream response"), "read_response_body_failed", http.StatusBadGateway)
	}

	var geminiResp model.GeminiChatResponse
	if err := json.Unmarshal(body, &geminiResp); err != nil {
		return nil, openai.ErrorWrapper(errors.Wrap(err, "unmarshal upstream response"), "unmarshal_response_body_failed", http.StatusBadGateway)
	}
	if geminiResp.Error != nil && geminiResp.Error.Message != "" {
		return nil, &model.ErrorWithStatusCode{
			StatusCode: resp.StatusCode,
			Error: model.Error{
				Message: geminiResp.Error.Message,
				Type:    "upstream_error",
				Code:    geminiResp.Error.Status,
			},
		}
	}
	if geminiResp.PromptFeedback != nil && geminiResp.PromptFeedback.BlockReason != "" {
		return nil, blockedError(geminiResp.PromptFeedback.BlockReason, http.StatusForbidden)
	}
	if len(geminiResp.Candidates) == 0 {
		return nil, openai.ErrorWrapper(errors.New("no candidates returned"), "empty_response", http.StatusBadGateway)
	}

	candidate := geminiResp.Candidates[0]
	if candidate.Content != nil && candidate.Content.Role == "" {
		lg.Error("gemini candidate missing role, defaulting to assistant")
	}
	choice := model.TextResponseChoice{
		FinishReason: convertFinishReason(candidate.FinishReason),
		Message:      model.Message{Role: "assistant"},
	}
	var content, reasoning strings.Builder
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			switch {
			case part.FunctionCall != nil:
				choice.Message.ToolCalls = append(choice.Message.ToolCalls, toolCallFromPart(part, nil))
			case part.InlineData != nil:
				fmt.Fprintf(&content, "\n\n![image](data:%s;base64,%s)", part.InlineData.MimeType, part.InlineData.Data)
			case part.Thought:
				reasoning.WriteString(part.Text)
			default:
				content.WriteString(part.Text)
			}
		}
	}
	if len(choice.Message.ToolCalls) > 0 && choice.FinishReason == model.FinishReasonStop {
		choice.FinishReason = model.FinishReasonToolCalls
	}
	choice.Message.Content = content.String()
	choice.Message.ReasoningContent = reasoning.String()

	textResponse := &model.TextResponse{
		Id:      "chatcmpl-" + m.RequestID,
		Object:  "chat.completion",
		Created: m.StartTime.Unix(),
		Model:   m.OriginModelName,
		Choices: []model.TextResponseChoice{choice},
		Usage:   usageFromMetadata(geminiResp.UsageMetadata, m, content.String()+reasoning.String()),
	}
	adaptor.MarkFirstResponse(c)
	if err := dialect.FromContext(c).RenderResponse(c, textResponse); err != nil {
		return &textResponse.Usage, openai.ErrorWrapper(errors.Wrap(err, "render response"), "render_response_failed", http.StatusInternalServerError)
	}
	return &textResponse.Usage, nil
}

// StreamHandler converts a streamGenerateContent SSE stream into canonical
// chat deltas. Upstream chunks can arrive split mid-JSON, so non-data lines
// accrete into a pending buffer until they parse.
func StreamHandler(c *gin.Context, resp *http.Response, m *meta.Meta) (*model.Usage, *model.ErrorWithStatusCode) {
	lg := gmw.GetLogger(c)
	defer func() { _ = resp.Body.Close() }()

	renderer := adaptor.StreamRendererFromContext(c)
	scanner := helper.NewSSEScanner(resp.Body)

	var usageMeta *model.GeminiUsageMetadata
	var responseText strings.Builder
	var pending string
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
		if strings.HasPrefix(line, "data:") {
			pending = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		} else {
			// Array-framed responses split JSON across lines.
			pending += strings.TrimLeft(strings.TrimSpace(line), "[,")
		}
		if pending == "" || pending == "]" {
			pending = ""
			continue
		}

		var chunk model.GeminiChatResponse
		if err := json.Unmarshal([]byte(pending), &chunk); err != nil {
			continue
		}
		pending = ""

		if chunk.Error != nil && chunk.Error.Message != "" {
			if !started {
				return nil, &model.ErrorWithStatusCode{
					StatusCode: http.StatusBadGateway,
					Error: model.Error{
						Message: chunk.Error.Message,
						Type:    "upstream_error",
						Code:    chunk.Error.Status,
					},
				}
			}
			lg.Error("gemini stream failed mid-flight", zap.String("message", chunk.Error.Message))
			break
		}
		if chunk.PromptFeedback != nil && chunk.PromptFeedback.BlockReason != "" {
			werr := blockedError(chunk.PromptFeedback.BlockReason, http.StatusForbidden)
			if !started {
				return nil, werr
			}
			lg.Error("gemini stream blocked mid-flight", zap.String("reason", chunk.PromptFeedback.BlockReason))
			break
		}

		if !started {
			common.SetEventStreamHeaders(c)
			adaptor.MarkFirstResponse(c)
			started = true
		}
		if chunk.UsageMetadata != nil {
			usageMeta = chunk.UsageMetadata
		}
		if len(chunk.Candidates) == 0 {
			continue
		}

		candidate := chunk.Candidates[0]
		if candidate.Content != nil {
			if candidate.Content.Role == "" {
				lg.Error("gemini candidate missing role, defaulting to assistant")
			}
			for _, part := range candidate.Content.Parts {
				switch {
				case part.FunctionCall != nil:
					toolIndex++
					idx := toolIndex
					emit(model.Message{
						Role:      "assistant",
						ToolCalls: []model.Tool{toolCallFromPart(part, &idx)},
					}, nil)
				case part.InlineData != nil:
					text := fmt.Sprintf("\n\n![image](data:%s;base64,%s)", part.InlineData.MimeType, part.InlineData.Data)
					emit(model.Message{Role: "assistant", Content: text}, nil)
				case part.Thought:
					responseText.WriteString(part.Text)
					emit(model.Message{Role: "assistant", ReasoningContent: part.Text}, nil)
				default:
					responseText.WriteString(part.Text)
					emit(model.Message{Role: "assistant", Content: part.Text}, nil)
				}
			}
		}

		if candidate.FinishReason != "" {
			finish := convertFinishReason(candidate.FinishReason)
			if finish == model.FinishReasonFilter {
				lg.Error("gemini stream ended abnormally", zap.String("finish_reason", candidate.FinishReason))
			}
			if toolIndex >= 0 && finish == model.FinishReasonStop {
				finish = model.FinishReasonToolCalls
			}
			emit(model.Message{}, &finish)
		}
	}
	if err := scanner.Err(); err != nil && !started {
		return nil, openai.ErrorWrapper(errors.Wrap(err, "read upstream stream"), "read_stream_failed", http.StatusBadGateway)
	}

	usage := usageFromMetadata(usageMeta, m, responseText.String())
	if started {
		final := &model.ChatCompletionsStreamResponse{
			Id:      "chatcmpl-" + m.RequestID,
			Object:  "chat.completion.chunk",
			Created: m.StartTime.Unix(),
			Model:   m.OriginModelName,
			Choices: []model.ChatCompletionsStreamResponseChoice{},
			Usage:   &usage,
		}
		_ = renderer.Write(c, final)
		_ = renderer.Close(c)
	}
	return &usage, nil
}
