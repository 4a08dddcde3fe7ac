package anthropic

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmux/llmux/relay/meta"
	"github.com/llmux/llmux/relay/model"
)

func TestConvertRequestHoistsSystemAndTools(t *testing.T) {
	request := &model.GeneralOpenAIRequest{
		Model:     "claude-3-5-sonnet-20241022",
		MaxTokens: 512,
		Messages: []model.Message{
			{Role: "system", Content: "be terse"},
			{Role: "user", Content: "hi"},
			{Role: "assistant", ToolCalls: []model.Tool{{
				Id:       "toolu_1",
				Type:     "function",
				Function: model.Function{Name: "lookup", Arguments: `{"q":"x"}`},
			}}},
			{Role: "tool", ToolCallId: "toolu_1", Content: "42"},
		},
		Tools: []model.Tool{{
			Type: "function",
			Function: model.Function{
				Name:        "lookup",
				Description: "look a thing up",
				Parameters:  map[string]any{"type": "object"},
			},
		}},
		ToolChoice: "required",
	}

	out := ConvertRequest(request)

	assert.Equal(t, "be terse", out.System)
	assert.Equal(t, 512, out.MaxTokens)
	require.Len(t, out.Messages, 3)

	assistant := out.Messages[1]
	blocks, ok := assistant.Content.([]model.ClaudeContent)
	require.True(t, ok)
	require.Len(t, blocks, 1)
	assert.Equal(t, "tool_use", blocks[0].Type)
	assert.Equal(t, "lookup", blocks[0].Name)

	result := out.Messages[2]
	blocks, ok = result.Content.([]model.ClaudeContent)
	require.True(t, ok)
	assert.Equal(t, "tool_result", blocks[0].Type)
	assert.Equal(t, "toolu_1", blocks[0].ToolUseId)

	require.Len(t, out.Tools, 1)
	assert.Equal(t, "lookup", out.Tools[0].Name)
	choice, ok := out.ToolChoice.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "any", choice["type"])
}

func TestConvertRequestDefaultsMaxTokens(t *testing.T) {
	out := ConvertRequest(&model.GeneralOpenAIRequest{
		Model:    "claude-3-5-haiku-20241022",
		Messages: []model.Message{{Role: "user", Content: "hi"}},
	})
	assert.Equal(t, defaultMaxTokens, out.MaxTokens)
}

func TestConvertImageSource(t *testing.T) {
	src := convertImageSource("data:image/png;base64,AAAA")
	assert.Equal(t, "base64", src.Type)
	assert.Equal(t, "image/png", src.MediaType)
	assert.Equal(t, "AAAA", src.Data)

	src = convertImageSource("https://example.com/cat.png")
	assert.Equal(t, "url", src.Type)
	assert.Equal(t, "https://example.com/cat.png", src.URL)
}

func newTestContext(t *testing.T) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	return c, w
}

func TestHandlerConvertsResponse(t *testing.T) {
	c, w := newTestContext(t)
	body := `{
		"id": "msg_1",
		"type": "message",
		"role": "assistant",
		"model": "claude-3-5-sonnet-20241022",
		"content": [
			{"type": "thinking", "thinking": "hmm"},
			{"type": "text", "text": "hello"}
		],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 10, "output_tokens": 3}
	}`
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
	m := &meta.Meta{
		OriginModelName: "my-claude",
		ActualModelName: "claude-3-5-sonnet-20241022",
		StartTime:       time.Now(),
	}

	usage, werr := Handler(c, resp, m)
	require.Nil(t, werr)
	require.NotNil(t, usage)
	assert.Equal(t, 10, usage.PromptTokens)
	assert.Equal(t, 3, usage.CompletionTokens)
	assert.Equal(t, 13, usage.TotalTokens)

	out := w.Body.String()
	assert.Contains(t, out, `"content":"hello"`)
	assert.Contains(t, out, `"reasoning_content":"hmm"`)
	assert.Contains(t, out, `"model":"my-claude"`)
	assert.Contains(t, out, `"finish_reason":"stop"`)
}

func TestStreamHandlerAssemblesToolCalls(t *testing.T) {
	c, w := newTestContext(t)
	events := []string{
		`data: {"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","content":[],"model":"claude-3-5-sonnet-20241022","usage":{"input_tokens":20,"output_tokens":0}}}`,
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_1","name":"lookup"}}`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"q\":"}}`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"\"x\"}"}}`,
		`data: {"type":"content_block_stop","index":0}`,
		`data: {"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":9}}`,
		`data: {"type":"message_stop"}`,
	}
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(strings.Join(events, "\n\n") + "\n\n")),
	}
	m := &meta.Meta{
		OriginModelName: "my-claude",
		ActualModelName: "claude-3-5-sonnet-20241022",
		IsStream:        true,
		RequestID:       "req1",
		StartTime:       time.Now(),
	}

	usage, werr := StreamHandler(c, resp, m)
	require.Nil(t, werr)
	require.NotNil(t, usage)
	assert.Equal(t, 20, usage.PromptTokens)
	assert.Equal(t, 9, usage.CompletionTokens)

	out := w.Body.String()
	assert.Contains(t, out, `"name":"lookup"`)
	assert.Contains(t, out, `"arguments":"{\"q\":`)
	assert.Contains(t, out, `"finish_reason":"tool_calls"`)
}

func TestStreamHandlerFailsFastOnErrorEvent(t *testing.T) {
	c, w := newTestContext(t)
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Body: io.NopCloser(strings.NewReader(
			"data: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}\n\n")),
	}
	m := &meta.Meta{
		OriginModelName: "my-claude",
		ActualModelName: "claude-3-5-sonnet-20241022",
		IsStream:        true,
		StartTime:       time.Now(),
	}

	_, werr := StreamHandler(c, resp, m)
	require.NotNil(t, werr)
	assert.Equal(t, "Overloaded", werr.Error.Message)
	assert.Empty(t, w.Body.String())
}
