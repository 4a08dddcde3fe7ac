package controller

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmux/llmux/common/ctxkey"
	"github.com/llmux/llmux/relay/model"
)

func TestReadFirstEvent(t *testing.T) {
	br := bufio.NewReader(strings.NewReader(
		"data: {\"id\":\"1\"}\n\ndata: {\"id\":\"2\"}\n\n"))
	first, err := readFirstEvent(br)
	require.NoError(t, err)
	assert.Equal(t, "data: {\"id\":\"1\"}\n\n", string(first))

	rest, err := io.ReadAll(br)
	require.NoError(t, err)
	assert.Equal(t, "data: {\"id\":\"2\"}\n\n", string(rest))
}

func TestReadFirstEventReturnsPartialOnEOF(t *testing.T) {
	br := bufio.NewReader(strings.NewReader(`{"error":{"message":"boom"}}`))
	first, err := readFirstEvent(br)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, `{"error":{"message":"boom"}}`, string(first))
}

func TestValidateFirstChunk(t *testing.T) {
	tests := []struct {
		name       string
		first      string
		triggers   []string
		wantStatus int
	}{
		{"healthy delta passes", `data: {"choices":[{"delta":{"content":"hi"}}]}` + "\n\n", nil, 0},
		{"empty stream fails", "", nil, http.StatusBadGateway},
		{"error trigger matches", `data: {"choices":[]}`, []string{"quota exceeded"}, 0},
		{"error trigger fires", `data: {"message":"quota exceeded"}`, []string{"quota exceeded"}, http.StatusBadGateway},
		{"error envelope in disguise", `data: {"error":{"message":"invalid model","type":"invalid_request_error"}}`, nil, http.StatusBadGateway},
		{"vendor base_resp failure", `{"base_resp":{"status_code":1002,"status_msg":"rate limited"}}`, nil, http.StatusBadGateway},
		{"gemini prompt block", `data: {"promptFeedback":{"blockReason":"SAFETY"}}`, nil, http.StatusForbidden},
		{"prohibited content finish", `data: {"choices":[{"delta":{},"finish_reason":"PROHIBITED_CONTENT"}]}`, nil, http.StatusForbidden},
		{"empty stop chunk fails", `data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`, nil, http.StatusBadGateway},
		{"stop with content passes", `data: {"choices":[{"delta":{"content":"done"},"finish_reason":"stop"}]}`, nil, 0},
		{"non-json passthrough", "event: ping\n\n", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			failure := validateFirstChunk([]byte(tt.first), tt.triggers)
			if tt.wantStatus == 0 {
				assert.Nil(t, failure)
				return
			}
			require.NotNil(t, failure)
			assert.Equal(t, tt.wantStatus, failure.StatusCode)
		})
	}
}

func newStreamContext(t *testing.T) *gin.Context {
	t.Helper()
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	return c
}

func TestStreamBodyTeesUsage(t *testing.T) {
	c := newStreamContext(t)
	payload := strings.Join([]string{
		`data: {"choices":[{"delta":{"content":"hel"}}]}`,
		"",
		`data: {"choices":[{"delta":{"content":"lo"}}],"usage":{"prompt_tokens":12,"completion_tokens":5}}`,
		"",
		"data: [DONE]",
		"",
		"",
	}, "\n")

	w := &streamBody{
		c:            c,
		upstream:     io.NopCloser(strings.NewReader("")),
		reader:       strings.NewReader(payload),
		keepaliveOff: make(chan struct{}),
	}

	// Small reads force partial lines across Read boundaries.
	got, err := io.ReadAll(readerWithSmallChunks{w})
	require.NoError(t, err)
	assert.Equal(t, payload, string(got))
	require.NoError(t, w.Close())

	v, ok := c.Get(ctxkey.RelayUsage)
	require.True(t, ok)
	usage, ok := v.(*model.Usage)
	require.True(t, ok)
	assert.Equal(t, 12, usage.PromptTokens)
	assert.Equal(t, 5, usage.CompletionTokens)
	assert.Equal(t, 17, usage.TotalTokens, "total derived when upstream omits it")

	captured, ok := c.Get(ctxkey.ResponseCapture)
	require.True(t, ok)
	assert.Equal(t, payload, string(captured.([]byte)))

	_, ok = c.Get(ctxkey.ContentStartTime)
	assert.True(t, ok, "content deltas mark first-content time")
}

func TestStreamBodyClaudeUsageShape(t *testing.T) {
	c := newStreamContext(t)
	payload := strings.Join([]string{
		`data: {"message":{"usage":{"input_tokens":30}}}`,
		`data: {"usage":{"output_tokens":9}}`,
		"",
	}, "\n")
	w := &streamBody{
		c:            c,
		upstream:     io.NopCloser(strings.NewReader("")),
		reader:       strings.NewReader(payload),
		keepaliveOff: make(chan struct{}),
	}
	_, err := io.ReadAll(w)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	v, ok := c.Get(ctxkey.RelayUsage)
	require.True(t, ok)
	usage := v.(*model.Usage)
	assert.Equal(t, 30, usage.PromptTokens)
	assert.Equal(t, 9, usage.CompletionTokens)
	assert.Equal(t, 39, usage.TotalTokens)
}

func TestStreamBodyCapsCapture(t *testing.T) {
	c := newStreamContext(t)
	big := bytes.Repeat([]byte("x"), responseCaptureLimit+4096)
	w := &streamBody{
		c:            c,
		upstream:     io.NopCloser(strings.NewReader("")),
		reader:       bytes.NewReader(big),
		keepaliveOff: make(chan struct{}),
	}
	_, err := io.ReadAll(w)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	captured, ok := c.Get(ctxkey.ResponseCapture)
	require.True(t, ok)
	assert.Len(t, captured.([]byte), responseCaptureLimit)
}

func TestWrapStreamResponseRejectsErrorOpening(t *testing.T) {
	c := newStreamContext(t)
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(`{"error":{"message":"model overloaded","type":"server_error"}}`)),
	}
	failure := WrapStreamResponse(c, resp, nil)
	require.NotNil(t, failure)
	assert.Equal(t, http.StatusBadGateway, failure.StatusCode)
	assert.Equal(t, "model overloaded", failure.Error.Message)
}

func TestWrapStreamResponseKeepsHealthyStream(t *testing.T) {
	c := newStreamContext(t)
	body := "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\ndata: [DONE]\n\n"
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
	failure := WrapStreamResponse(c, resp, nil)
	require.Nil(t, failure)

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, body, string(got))
	require.NoError(t, resp.Body.Close())
}

// readerWithSmallChunks caps every Read at three bytes to exercise the
// line reassembly between reads.
type readerWithSmallChunks struct {
	r io.Reader
}

func (s readerWithSmallChunks) Read(p []byte) (int, error) {
	if len(p) > 3 {
		p = p[:3]
	}
	return s.r.Read(p)
}
