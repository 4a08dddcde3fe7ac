package common

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gmw "github.com/Laisky/gin-middlewares/v7"
	glog "github.com/Laisky/go-utils/v6/log"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestLogClientRequestPayloadOnceAndReusable(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	payload := `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`
	c.Request = httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(payload))
	c.Request.Header.Set("Content-Type", "application/json")
	gmw.SetLogger(c, glog.Shared.Named("test"))

	LogClientRequestPayload(c, 16)

	_, logged := c.Get("client_payload_logged")
	require.True(t, logged, "payload should be marked as logged")

	// Second call is a no-op.
	LogClientRequestPayload(c, 16)

	// Body stays readable for the handlers that follow.
	body, err := io.ReadAll(c.Request.Body)
	require.NoError(t, err)
	require.Equal(t, payload, string(body))
}
