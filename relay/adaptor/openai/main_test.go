package openai

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

	"github.com/llmux/llmux/relay/channeltype"
	"github.com/llmux/llmux/relay/meta"
)

func newStreamTestContext(t *testing.T) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	return c, w
}

func upstreamSSE(lines ...string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(strings.Join(lines, "\n\n") + "\n\n")),
	}
}

func TestStreamHandlerRelaysChunks(t *testing.T) {
	c, w := newStreamTestContext(t)
	resp := upstreamSSE(
		`data: {"id":"chatcmpl-1","object":"chat.completion.chunk","model":"gpt-4o-2024-08-06","choices":[{"index":0,"delta":{"role":"assistant","content":"hel"}}]}`,
		`data: {"id":"chatcmpl-1","object":"chat.completion.chunk","model":"gpt-4o-2024-08-06","choices":[{"index":0,"delta":{"content":"lo"},"finish_reason":"stop"}]}`,
		`data: {"id":"chatcmpl-1","object":"chat.completion.chunk","model":"gpt-4o-2024-08-06","choices":[],"usage":{"prompt_tokens":7,"completion_tokens":2,"total_tokens":9}}`,
		`data: [DONE]`,
	)
	m := &meta.Meta{
		ChannelType:     channeltype.OpenAI,
		OriginModelName: "my-gpt",
		ActualModelName: "gpt-4o",
		IsStream:        true,
		StartTime:       time.Now(),
	}

	usage, werr := StreamHandler(c, resp, m)
	require.Nil(t, werr)
	require.NotNil(t, usage)
	assert.Equal(t, 9, usage.TotalTokens)

	body := w.Body.String()
	assert.Contains(t, body, `"content":"hel"`)
	// Clients see the alias, never the upstream model id.
	assert.Contains(t, body, `"model":"my-gpt"`)
	assert.NotContains(t, body, "gpt-4o-2024-08-06")
	assert.Contains(t, body, "data: [DONE]")
}

func TestStreamHandlerFailsFastOnErrorFirstChunk(t *testing.T) {
	c, w := newStreamTestContext(t)
	resp := upstreamSSE(
		`data: {"error":{"message":"insufficient quota","type":"insufficient_quota"}}`,
	)
	m := &meta.Meta{
		OriginModelName: "my-gpt",
		ActualModelName: "gpt-4o",
		IsStream:        true,
		StartTime:       time.Now(),
	}

	_, werr := StreamHandler(c, resp, m)
	require.NotNil(t, werr)
	assert.Equal(t, "insufficient quota", werr.Error.Message)
	// Nothing was written, so the attempt stays retryable.
	assert.Empty(t, w.Body.String())
}

func TestStreamHandlerCountsTokensWhenUsageMissing(t *testing.T) {
	c, _ := newStreamTestContext(t)
	resp := upstreamSSE(
		`data: {"id":"chatcmpl-1","object":"chat.completion.chunk","model":"gpt-4o","choices":[{"index":0,"delta":{"content":"hello world"},"finish_reason":"stop"}]}`,
		`data: [DONE]`,
	)
	m := &meta.Meta{
		OriginModelName: "my-gpt",
		ActualModelName: "gpt-4o",
		IsStream:        true,
		PromptTokens:    12,
		StartTime:       time.Now(),
	}

	usage, werr := StreamHandler(c, resp, m)
	require.Nil(t, werr)
	require.NotNil(t, usage)
	assert.Equal(t, 12, usage.PromptTokens)
	assert.Positive(t, usage.CompletionTokens)
	assert.Equal(t, usage.PromptTokens+usage.CompletionTokens, usage.TotalTokens)
}

func TestHandlerStripsAzureFilterAnnotations(t *testing.T) {
	c, w := newStreamTestContext(t)
	body := `{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"model": "gpt-4o",
		"choices": [{
			"index": 0,
			"message": {"role": "assistant", "content": "hi"},
			"finish_reason": "stop",
			"content_filter_results": {"hate": {"filtered": false}}
		}],
		"prompt_filter_results": [{"prompt_index": 0}],
		"usage": {"prompt_tokens": 5, "completion_tokens": 1, "total_tokens": 6}
	}`
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
	m := &meta.Meta{
		OriginModelName: "my-azure-gpt",
		ActualModelName: "gpt-4o",
		StartTime:       time.Now(),
	}

	usage, werr := Handler(c, resp, m)
	require.Nil(t, werr)
	require.NotNil(t, usage)
	assert.Equal(t, 6, usage.TotalTokens)

	out := w.Body.String()
	assert.Contains(t, out, `"content":"hi"`)
	assert.Contains(t, out, `"model":"my-azure-gpt"`)
	assert.NotContains(t, out, "content_filter_results")
	assert.NotContains(t, out, "prompt_filter_results")
}

func TestHandlerSurfacesEmbeddedError(t *testing.T) {
	c, _ := newStreamTestContext(t)
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(`{"error":{"message":"model overloaded","type":"server_error"}}`)),
	}
	m := &meta.Meta{ActualModelName: "gpt-4o", StartTime: time.Now()}

	_, werr := Handler(c, resp, m)
	require.NotNil(t, werr)
	assert.Equal(t, "model overloaded", werr.Error.Message)
}

func TestResponsesStreamHandlerConvertsEvents(t *testing.T) {
	c, w := newStreamTestContext(t)
	resp := upstreamSSE(
		`data: {"type":"response.output_text.delta","delta":"par"}`,
		`data: {"type":"response.output_text.delta","delta":"is"}`,
		`data: {"type":"response.completed","response":{"id":"resp_1","status":"completed","output":[],"usage":{"input_tokens":4,"output_tokens":2,"total_tokens":6}}}`,
		`data: [DONE]`,
	)
	m := &meta.Meta{
		OriginModelName: "my-gpt5",
		ActualModelName: "gpt-5",
		IsStream:        true,
		RequestID:       "req1",
		StartTime:       time.Now(),
	}

	usage, werr := ResponsesStreamHandler(c, resp, m)
	require.Nil(t, werr)
	require.NotNil(t, usage)
	assert.Equal(t, 4, usage.PromptTokens)
	assert.Equal(t, 2, usage.CompletionTokens)

	out := w.Body.String()
	assert.Contains(t, out, `"content":"par"`)
	assert.Contains(t, out, `"content":"is"`)
	assert.Contains(t, out, `"finish_reason":"stop"`)
}
