package plugin

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/llmux/llmux/relay/meta"
	"github.com/llmux/llmux/relay/model"
)

func dataLine(t *testing.T, content string) string {
	t.Helper()
	chunk := model.ChatCompletionsStreamResponse{
		Id:      "chatcmpl-1",
		Object:  "chat.completion.chunk",
		Created: 1700000000,
		Model:   "claude-3-5-sonnet-20241022",
		Choices: []model.ChatCompletionsStreamResponseChoice{{
			Delta: model.Message{Role: "assistant", Content: content},
		}},
	}
	payload, err := json.Marshal(&chunk)
	require.NoError(t, err)
	return "data: " + string(payload)
}

func collectDeltas(t *testing.T, lines []string) (reasoning, content string) {
	t.Helper()
	for _, line := range lines {
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			continue
		}
		var chunk model.ChatCompletionsStreamResponse
		require.NoError(t, json.Unmarshal([]byte(data), &chunk))
		for _, choice := range chunk.Choices {
			reasoning += choice.Delta.ReasoningContent
			if text, ok := choice.Delta.Content.(string); ok {
				content += text
			}
		}
	}
	return reasoning, content
}

func TestThinkingInterceptRequest(t *testing.T) {
	chain := NewChain([]string{ThinkingPluginName})
	m := &meta.Meta{ActualModelName: "claude-3-5-sonnet-20241022-thinking"}
	req := &model.GeneralOpenAIRequest{
		Model: "claude-3-5-sonnet-20241022-thinking",
		Messages: []model.Message{
			{Role: "user", Content: "prove it"},
		},
	}

	chain.ApplyRequest(m, req)

	require.Equal(t, "claude-3-5-sonnet-20241022", req.Model)
	require.Equal(t, "claude-3-5-sonnet-20241022", m.ActualModelName)
	require.NotNil(t, req.Thinking)
	require.Equal(t, defaultReasoningBudget, req.Thinking.BudgetTokens)
	require.GreaterOrEqual(t, req.MaxTokens, defaultReasoningBudget+completionHeadroomMin)

	last := req.Messages[len(req.Messages)-1]
	require.Equal(t, "assistant", last.Role)
	require.Equal(t, thinkingOpenTag, last.Content)
}

func TestThinkingIgnoresOtherModels(t *testing.T) {
	chain := NewChain([]string{ThinkingPluginName})
	req := &model.GeneralOpenAIRequest{Model: "gpt-4o", Messages: []model.Message{{Role: "user", Content: "hi"}}}
	chain.ApplyRequest(&meta.Meta{}, req)

	require.Equal(t, "gpt-4o", req.Model)
	require.Nil(t, req.Thinking)
	require.Len(t, req.Messages, 1)

	// Without an active rewrite the stream is untouched.
	line := dataLine(t, "plain text")
	require.Equal(t, []string{line}, chain.ApplyStream(line))
}

func TestThinkingStreamRewrite(t *testing.T) {
	chain := NewChain([]string{ThinkingPluginName})
	req := &model.GeneralOpenAIRequest{Model: "claude-3-5-sonnet-20241022-thinking"}
	chain.ApplyRequest(&meta.Meta{}, req)

	var all []string
	all = append(all, chain.ApplyStream(dataLine(t, "step one "))...)
	all = append(all, chain.ApplyStream(dataLine(t, "step two</thinking>the answer"))...)
	all = append(all, chain.ApplyStream(dataLine(t, " is 42"))...)
	all = append(all, chain.ApplyStream("data: [DONE]")...)

	reasoning, content := collectDeltas(t, all)
	require.Equal(t, "step one step two", reasoning)
	require.Equal(t, "the answer is 42", content)
	require.Equal(t, "data: [DONE]", all[len(all)-1])
}

func TestThinkingStreamTagStraddlesChunks(t *testing.T) {
	chain := NewChain([]string{ThinkingPluginName})
	req := &model.GeneralOpenAIRequest{Model: "claude-3-5-sonnet-20241022-thinking"}
	chain.ApplyRequest(&meta.Meta{}, req)

	var all []string
	all = append(all, chain.ApplyStream(dataLine(t, "deep thought</thi"))...)
	all = append(all, chain.ApplyStream(dataLine(t, "NKING>visible"))...)
	all = append(all, chain.ApplyStream("data: [DONE]")...)

	reasoning, content := collectDeltas(t, all)
	require.Equal(t, "deep thought", reasoning)
	require.Equal(t, "visible", content)
}

func TestThinkingStreamFlushBeforeDone(t *testing.T) {
	chain := NewChain([]string{ThinkingPluginName})
	req := &model.GeneralOpenAIRequest{Model: "claude-3-5-sonnet-20241022-thinking"}
	chain.ApplyRequest(&meta.Meta{}, req)

	// The tag never arrives: everything is reasoning, flushed before the
	// terminal sentinel.
	var all []string
	all = append(all, chain.ApplyStream(dataLine(t, "only thoughts"))...)
	all = append(all, chain.ApplyStream("data: [DONE]")...)

	reasoning, content := collectDeltas(t, all)
	require.Equal(t, "only thoughts", reasoning)
	require.Empty(t, content)
	require.Equal(t, "data: [DONE]", all[len(all)-1])
}

func TestChainUnknownPluginSkipped(t *testing.T) {
	chain := NewChain([]string{"no-such-plugin"})
	require.True(t, chain.Empty())

	line := fmt.Sprintf("data: %s", `{"id":"x"}`)
	require.Equal(t, []string{line}, chain.ApplyStream(line))
}
