package openai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmux/llmux/relay/channeltype"
	"github.com/llmux/llmux/relay/meta"
	"github.com/llmux/llmux/relay/model"
	"github.com/llmux/llmux/relay/relaymode"
)

func TestGetRequestURL(t *testing.T) {
	a := &Adaptor{}

	tests := []struct {
		name string
		meta meta.Meta
		want string
	}{
		{
			name: "openai chat completions",
			meta: meta.Meta{
				ChannelType: channeltype.OpenAI,
				BaseURL:     "https://api.openai.com",
				Mode:        relaymode.ChatCompletions,
			},
			want: "https://api.openai.com/v1/chat/completions",
		},
		{
			name: "azure deployment url",
			meta: meta.Meta{
				ChannelType:     channeltype.Azure,
				BaseURL:         "https://res.openai.azure.com",
				ActualModelName: "gpt-4o",
				Mode:            relaymode.ChatCompletions,
			},
			want: "https://res.openai.azure.com/openai/deployments/gpt-4o/chat/completions?api-version=" + azureDefaultAPIVersion,
		},
		{
			name: "azure api version pinned on base url",
			meta: meta.Meta{
				ChannelType:     channeltype.Azure,
				BaseURL:         "https://res.openai.azure.com?api-version=2025-01-01-preview",
				ActualModelName: "gpt-4o",
				Mode:            relaymode.ChatCompletions,
			},
			want: "https://res.openai.azure.com/openai/deployments/gpt-4o/chat/completions?api-version=2025-01-01-preview",
		},
		{
			name: "compatible vendor with v1 in base url",
			meta: meta.Meta{
				ChannelType: channeltype.OpenAICompatible,
				BaseURL:     "https://api.deepseek.com/v1",
				Mode:        relaymode.ChatCompletions,
			},
			want: "https://api.deepseek.com/v1/chat/completions",
		},
		{
			name: "base url naming the full endpoint",
			meta: meta.Meta{
				ChannelType: channeltype.OpenAICompatible,
				BaseURL:     "https://gateway.example.com/llm/v1/chat/completions",
				Mode:        relaymode.ChatCompletions,
			},
			want: "https://gateway.example.com/llm/v1/chat/completions",
		},
		{
			name: "hash suffix pins the url verbatim",
			meta: meta.Meta{
				ChannelType: channeltype.OpenAICompatible,
				BaseURL:     "https://gateway.example.com/custom#",
				Mode:        relaymode.ChatCompletions,
			},
			want: "https://gateway.example.com/custom",
		},
		{
			name: "embeddings endpoint",
			meta: meta.Meta{
				ChannelType: channeltype.OpenAI,
				BaseURL:     "https://api.openai.com",
				Mode:        relaymode.Embeddings,
			},
			want: "https://api.openai.com/v1/embeddings",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.GetRequestURL(&tt.meta)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetRequestURLAzureRequiresDeployment(t *testing.T) {
	a := &Adaptor{}
	_, err := a.GetRequestURL(&meta.Meta{
		ChannelType: channeltype.Azure,
		BaseURL:     "https://res.openai.azure.com",
	})
	require.Error(t, err)
}

func TestApplyReasoningConstraints(t *testing.T) {
	temperature := 0.7
	request := &model.GeneralOpenAIRequest{
		Model:       "o3-mini",
		MaxTokens:   1024,
		Temperature: &temperature,
	}
	applyReasoningConstraints(request)

	assert.Zero(t, request.MaxTokens)
	require.NotNil(t, request.MaxCompletionTokens)
	assert.Equal(t, 1024, *request.MaxCompletionTokens)
	assert.Nil(t, request.Temperature)
}

func TestIsReasoningModel(t *testing.T) {
	assert.True(t, isReasoningModel("o1-preview"))
	assert.True(t, isReasoningModel("O3"))
	assert.True(t, isReasoningModel("gpt-5-mini"))
	assert.False(t, isReasoningModel("gpt-4o"))
}

func TestConvertRequestEnablesStreamUsage(t *testing.T) {
	a := &Adaptor{ChannelType: channeltype.OpenAI}
	request := &model.GeneralOpenAIRequest{
		Model:  "gpt-4o",
		Stream: true,
	}
	converted, err := a.ConvertRequest(nil, relaymode.ChatCompletions, request)
	require.NoError(t, err)

	got, ok := converted.(*model.GeneralOpenAIRequest)
	require.True(t, ok)
	require.NotNil(t, got.StreamOptions)
	assert.True(t, got.StreamOptions.IncludeUsage)
}

func TestConvertToResponsesRequest(t *testing.T) {
	maxTokens := 2048
	request := &model.GeneralOpenAIRequest{
		Model:               "gpt-5",
		MaxCompletionTokens: &maxTokens,
		Messages: []model.Message{
			{Role: "system", Content: "be terse"},
			{Role: "user", Content: "hi"},
			{Role: "assistant", ToolCalls: []model.Tool{{
				Id:   "call_1",
				Type: "function",
				Function: model.Function{
					Name:      "lookup",
					Arguments: `{"q":"x"}`,
				},
			}}},
			{Role: "tool", ToolCallId: "call_1", Content: "42"},
		},
		Tools: []model.Tool{{
			Type: "function",
			Function: model.Function{
				Name:        "lookup",
				Description: "look a thing up",
				Parameters:  map[string]any{"type": "object"},
			},
		}},
		ToolChoice: map[string]any{
			"type":     "function",
			"function": map[string]any{"name": "lookup"},
		},
	}

	out := ConvertToResponsesRequest(request)

	assert.Equal(t, "be terse", out.Instructions)
	assert.Equal(t, 2048, out.MaxOutputTokens)
	require.Len(t, out.Input, 3)
	assert.Equal(t, "message", out.Input[0].Type)
	assert.Equal(t, "function_call", out.Input[1].Type)
	assert.Equal(t, "call_1", out.Input[1].CallId)
	assert.Equal(t, "function_call_output", out.Input[2].Type)
	assert.Equal(t, "42", out.Input[2].Output)

	require.Len(t, out.Tools, 1)
	assert.Equal(t, "lookup", out.Tools[0].Name)

	choice, ok := out.ToolChoice.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "lookup", choice["name"])
}
