package aws

import (
	"encoding/json"
	"net/http"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/gin-gonic/gin"

	"github.com/llmux/llmux/common"
	"github.com/llmux/llmux/common/ctxkey"
	"github.com/llmux/llmux/relay/adaptor"
	"github.com/llmux/llmux/relay/adaptor/anthropic"
	"github.com/llmux/llmux/relay/adaptor/openai"
	"github.com/llmux/llmux/relay/dialect"
	"github.com/llmux/llmux/relay/meta"
	"github.com/llmux/llmux/relay/model"
)

func convertedRequest(c *gin.Context) (*bedrockClaudeRequest, *model.ErrorWithStatusCode) {
	v, ok := c.Get(ctxkey.ConvertedRequest)
	if !ok {
		return nil, openai.ErrorWrapper(errors.New("converted request missing from context"), "invalid_request", http.StatusInternalServerError)
	}
	req, ok := v.(*bedrockClaudeRequest)
	if !ok {
		return nil, openai.ErrorWrapper(errors.New("converted request has unexpected type"), "invalid_request", http.StatusInternalServerError)
	}
	return req, nil
}

// Handler invokes the model once and relays the completed response in the
// caller's dialect.
func Handler(c *gin.Context, m *meta.Meta) (*model.Usage, *model.ErrorWithStatusCode) {
	request, wrapped := convertedRequest(c)
	if wrapped != nil {
		return nil, wrapped
	}
	client, err := newClient(m)
	if err != nil {
		return nil, openai.ErrorWrapper(err, "invalid_channel_config", http.StatusInternalServerError)
	}

	body, err := json.Marshal(request)
	if err != nil {
		return nil, openai.ErrorWrapper(errors.Wrap(err, "marshal bedrock request"), "marshal_request_failed", http.StatusInternalServerError)
	}

	output, err := client.InvokeModel(c.Request.Context(), &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(bedrockModelID(m.ActualModelName)),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, openai.ErrorWrapper(errors.Wrap(err, "invoke bedrock model"), "bedrock_invoke_failed", http.StatusBadGateway)
	}

	var claudeResp model.ClaudeResponse
	if err := json.Unmarshal(output.Body, &claudeResp); err != nil {
		return nil, openai.ErrorWrapper(errors.Wrap(err, "unmarshal bedrock response"), "unmarshal_response_body_failed", http.StatusBadGateway)
	}
	if claudeResp.Error != nil && claudeResp.Error.Message != "" {
		return nil, &model.ErrorWithStatusCode{
			StatusCode: http.StatusBadGateway,
			Error: model.Error{
				Message: claudeResp.Error.Message,
				Type:    claudeResp.Error.Type,
			},
		}
	}

	textResponse := anthropic.ConvertResponse(&claudeResp, m)
	adaptor.MarkFirstResponse(c)
	if err := dialect.FromContext(c).RenderResponse(c, textResponse); err != nil {
		return &textResponse.Usage, openai.ErrorWrapper(errors.Wrap(err, "render response"), "render_response_failed", http.StatusInternalServerError)
	}
	return &textResponse.Usage, nil
}

// StreamHandler invokes the model with a response stream and replays the
// Messages event frames as canonical chat deltas.
func StreamHandler(c *gin.Context, m *meta.Meta) (*model.Usage, *model.ErrorWithStatusCode) {
	lg := gmw.GetLogger(c)

	request, wrapped := convertedRequest(c)
	if wrapped != nil {
		return nil, wrapped
	}
	client, err := newClient(m)
	if err != nil {
		return nil, openai.ErrorWrapper(err, "invalid_channel_config", http.StatusInternalServerError)
	}

	body, err := json.Marshal(request)
	if err != nil {
		return nil, openai.ErrorWrapper(errors.Wrap(err, "marshal bedrock request"), "marshal_request_failed", http.StatusInternalServerError)
	}

	output, err := client.InvokeModelWithResponseStream(c.Request.Context(), &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(bedrockModelID(m.ActualModelName)),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, openai.ErrorWrapper(errors.Wrap(err, "invoke bedrock model stream"), "bedrock_invoke_failed", http.StatusBadGateway)
	}
	stream := output.GetStream()
	defer func() { _ = stream.Close() }()

	renderer := adaptor.StreamRendererFromContext(c)
	state := anthropic.NewStreamState()
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

	for frame := range stream.Events() {
		chunk, ok := frame.(*types.ResponseStreamMemberChunk)
		if !ok || chunk.Value.Bytes == nil {
			continue
		}

		var event model.ClaudeStreamEvent
		if err := json.Unmarshal(chunk.Value.Bytes, &event); err != nil {
			lg.Warn("skip malformed stream event", zap.Error(err))
			continue
		}

		if event.Type == "error" || event.Error != nil {
			message := "bedrock stream error"
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
			lg.Error("bedrock stream failed mid-flight", zap.String("message", message))
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
	if err := stream.Err(); err != nil && !started {
		return &state.Usage, openai.ErrorWrapper(errors.Wrap(err, "read bedrock stream"), "read_stream_failed", http.StatusBadGateway)
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
