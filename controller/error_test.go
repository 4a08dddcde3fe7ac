package controller

import (
	"context"
	"net/http"
	"testing"

	"github.com/Laisky/errors/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmux/llmux/relay/channel"
	"github.com/llmux/llmux/relay/model"
)

func attemptError(status int, message string, raw error) *model.ErrorWithStatusCode {
	return &model.ErrorWithStatusCode{
		Error: model.Error{
			Message:  message,
			Type:     "api_error",
			RawError: raw,
		},
		StatusCode: status,
	}
}

func TestClassifyAttemptError(t *testing.T) {
	tests := []struct {
		name string
		err  *model.ErrorWithStatusCode
		want int
	}{
		{"nil means success", nil, http.StatusOK},
		{
			"deadline exceeded wrapped error",
			attemptError(0, "attempt failed", errors.Wrap(context.DeadlineExceeded, "post")),
			http.StatusGatewayTimeout,
		},
		{
			"client timeout in message",
			attemptError(0, "Post \"https://x\": Client.Timeout exceeded while awaiting headers", nil),
			http.StatusGatewayTimeout,
		},
		{
			"connection refused",
			attemptError(0, "dial tcp 10.0.0.1:443: connect: connection refused", nil),
			http.StatusServiceUnavailable,
		},
		{
			"broken transport",
			attemptError(0, "unexpected EOF while reading body", nil),
			http.StatusBadGateway,
		},
		{
			"length exceeded marker",
			attemptError(http.StatusBadRequest, "prompt exceeds the maximum number of tokens allowed", nil),
			http.StatusRequestEntityTooLarge,
		},
		{
			"invalid upstream key",
			attemptError(http.StatusBadRequest, "API key not valid. Please pass a valid API key.", nil),
			http.StatusUnauthorized,
		},
		{
			"region block",
			attemptError(http.StatusBadRequest, "User location is not supported for the API use.", nil),
			http.StatusForbidden,
		},
		{
			"nginx 413 html page",
			attemptError(http.StatusOK, "<html><center>413 Request Entity Too Large</center></html>", nil),
			http.StatusTooManyRequests,
		},
		{
			"proxy 400 html page",
			attemptError(http.StatusOK, "<html><center>400 Bad Request</center></html>", nil),
			http.StatusBadGateway,
		},
		{
			"upstream 429 passes through",
			attemptError(http.StatusTooManyRequests, "rate limit reached for gpt-4o", nil),
			http.StatusTooManyRequests,
		},
		{
			"upstream 503 with transport error is opaque",
			attemptError(http.StatusServiceUnavailable, "read tcp: i/o failure", errors.New("read tcp")),
			http.StatusInternalServerError,
		},
		{
			"upstream 503 without transport error passes through",
			attemptError(http.StatusServiceUnavailable, "The engine is currently overloaded", nil),
			http.StatusServiceUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyAttemptError(tt.err))
		})
	}
}

func TestNoChannelErrorIsNotFound(t *testing.T) {
	bizErr := noChannelError("gpt-ghost")
	assert.Equal(t, http.StatusNotFound, bizErr.StatusCode)
	assert.Equal(t, "model_not_found", bizErr.Error.Code)
	assert.Equal(t, "no matching model found: gpt-ghost", bizErr.Error.Message)
}

func TestTerminalErrorAggregatesLastFailure(t *testing.T) {
	enveloped := attemptError(http.StatusBadGateway,
		`{"error":{"message":"boom p","type":"server_error"}}`, nil)
	out := terminalError("m", enveloped)
	assert.Equal(t, "All m error: boom p", out.Message)
	assert.Equal(t, "api_error", out.Type)

	plain := attemptError(http.StatusServiceUnavailable, "connection refused", nil)
	assert.Equal(t, "All m error: connection refused", terminalError("m", plain).Message)
}

func TestIsCooldownExempt(t *testing.T) {
	assert.True(t, isCooldownExempt("upstream: The model is overloaded, retry later"))
	assert.True(t, isCooldownExempt("TLS handshake timeout"))
	assert.True(t, isCooldownExempt("Invalid JSON payload received. Unknown name \"foo\""))
	assert.False(t, isCooldownExempt("insufficient_quota: billing hard limit reached"))
	assert.False(t, isCooldownExempt(""))
}

func TestIsClientCancellation(t *testing.T) {
	live := context.Background()
	assert.False(t, isClientCancellation(live, attemptError(0, "x", context.Canceled)))

	gone, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, isClientCancellation(gone, attemptError(0, "x", context.Canceled)))
	assert.True(t, isClientCancellation(gone, nil))

	timed, cancelTimed := context.WithTimeout(context.Background(), 0)
	defer cancelTimed()
	<-timed.Done()
	// Deadline expiry is the gateway's timeout, not the caller leaving.
	assert.False(t, isClientCancellation(timed, attemptError(0, "x", context.DeadlineExceeded)))
}

func TestRetryBudgetClampedByKeyPreference(t *testing.T) {
	cfg, err := channel.ParseConfig([]byte(`
providers:
  - provider: openai-main
    engine: openai
    base_url: https://api.openai.com/v1
    api:
      - sk-a
      - sk-b
      - sk-c
    model:
      - gpt-4o
api_keys:
  - api: sk-user
    model:
      - all
  - api: sk-capped
    model:
      - all
    preferences:
      max_retry_count: 2
`))
	require.NoError(t, err)
	snap, err := channel.BuildSnapshot(cfg)
	require.NoError(t, err)
	matching := snap.Config.Providers

	// Three upstream keys give a raw budget of six; the default clamp of
	// ten leaves it alone.
	assert.Equal(t, 6, retryBudget(snap, cfg.APIKeys[0], matching))
	assert.Equal(t, 2, retryBudget(snap, cfg.APIKeys[1], matching))
}
