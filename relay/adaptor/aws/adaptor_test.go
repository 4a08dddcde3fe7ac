package aws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/llmux/llmux/common/ctxkey"
	"github.com/llmux/llmux/relay/channel"
	"github.com/llmux/llmux/relay/meta"
	"github.com/llmux/llmux/relay/model"
)

func newTestContext(t *testing.T) *gin.Context {
	t.Helper()
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	req, err := http.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	require.NoError(t, err)
	c.Request = req
	return c
}

func TestConvertRequestBedrockShape(t *testing.T) {
	c := newTestContext(t)
	a := &Adaptor{}

	converted, err := a.ConvertRequest(c, 0, &model.GeneralOpenAIRequest{
		Model:  "claude-3-5-sonnet-20241022",
		Stream: true,
		Messages: []model.Message{
			{Role: "user", Content: "hello"},
		},
	})
	require.NoError(t, err)

	data, err := json.Marshal(converted)
	require.NoError(t, err)
	require.Contains(t, string(data), `"anthropic_version":"bedrock-2023-05-31"`)
	// Bedrock carries model and stream outside the body.
	require.NotContains(t, string(data), `"model"`)
	require.NotContains(t, string(data), `"stream"`)

	stored, ok := c.Get(ctxkey.ConvertedRequest)
	require.True(t, ok)
	require.Same(t, converted, stored)
}

func TestBedrockModelID(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"claude-3-5-sonnet-20241022", "anthropic.claude-3-5-sonnet-20241022-v2:0"},
		{"claude-sonnet-4-20250514", "us.anthropic.claude-sonnet-4-20250514-v1:0"},
		{"anthropic.claude-3-haiku-20240307-v1:0", "anthropic.claude-3-haiku-20240307-v1:0"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, bedrockModelID(tt.name))
	}
}

func TestNewClientValidation(t *testing.T) {
	_, err := newClient(&meta.Meta{})
	require.Error(t, err)

	_, err = newClient(&meta.Meta{Provider: &channel.Provider{AWSAccessKey: "ak"}})
	require.Error(t, err)

	client, err := newClient(&meta.Meta{Provider: &channel.Provider{
		AWSAccessKey: "ak",
		AWSSecretKey: "sk",
	}})
	require.NoError(t, err)
	require.NotNil(t, client)
}
