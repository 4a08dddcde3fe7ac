package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/llmux/llmux/relay/channel"
)

func testEngine(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg, err := channel.ParseConfig([]byte(`
providers:
  - provider: openai-main
    engine: openai
    base_url: https://api.openai.com/v1
    api: sk-upstream
    model:
      - gpt-4o
api_keys:
  - api: sk-admin
    role: admin
    model:
      - all
  - api: sk-user
    model:
      - gpt-4o
`))
	require.NoError(t, err)
	snap, err := channel.BuildSnapshot(cfg)
	require.NoError(t, err)
	prev := channel.Current()
	channel.Replace(snap)
	t.Cleanup(func() { channel.Replace(prev) })

	engine := gin.New()
	require.NoError(t, SetRouter(engine))
	return engine
}

func TestModelsEndpointListsAliases(t *testing.T) {
	engine := testEngine(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Authorization", "Bearer sk-user")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Object string `json:"object"`
		Data   []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "list", resp.Object)
	require.Len(t, resp.Data, 1)
	require.Equal(t, "gpt-4o", resp.Data[0].ID)
}

func TestRelayRejectsMissingKey(t *testing.T) {
	engine := testEngine(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`))
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	engine := testEngine(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/api_config", nil)
	req.Header.Set("Authorization", "Bearer sk-user")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/api_config", nil)
	req.Header.Set("Authorization", "Bearer sk-admin")
	req.Header.Set("Accept-Encoding", "identity")
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "openai-main")
}

func TestGeminiSurfaceRoutesByPathModel(t *testing.T) {
	engine := testEngine(t)

	req := httptest.NewRequest(http.MethodPost, "/v1beta/models/gpt-4o:generateContent", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	// No x-goog-api-key: rejected before any parsing.
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
