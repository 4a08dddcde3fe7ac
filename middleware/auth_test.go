package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/llmux/llmux/common/ctxkey"
	"github.com/llmux/llmux/common/helper"
	"github.com/llmux/llmux/relay/channel"
	"github.com/llmux/llmux/relay/dialect"
)

func testSnapshot(t *testing.T, keys ...*channel.APIKey) *channel.Snapshot {
	t.Helper()
	cfg := &channel.Config{APIKeys: keys}
	snap, err := channel.BuildSnapshot(cfg)
	require.NoError(t, err)
	prev := channel.Current()
	channel.Replace(snap)
	t.Cleanup(func() { channel.Replace(prev) })
	return snap
}

func newAuthContext(t *testing.T, header http.Header) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	c.Request = req
	return c, w
}

func TestRequestIdGeneratesAndEchoes(t *testing.T) {
	c, w := newAuthContext(t, nil)
	RequestId()(c)

	id := c.GetString(helper.RequestIdKey)
	require.NotEmpty(t, id)
	require.Equal(t, id, w.Header().Get(helper.RequestIdKey))
}

func TestRequestIdKeepsClientProvidedId(t *testing.T) {
	c, _ := newAuthContext(t, http.Header{helper.RequestIdKey: []string{"req-123"}})
	RequestId()(c)
	require.Equal(t, "req-123", c.GetString(helper.RequestIdKey))
}

func TestTokenAuthResolvesKey(t *testing.T) {
	testSnapshot(t,
		&channel.APIKey{Key: "sk-admin", Role: "admin"},
		&channel.APIKey{Key: "sk-user", Role: "alice"},
	)

	c, w := newAuthContext(t, http.Header{"Authorization": []string{"Bearer sk-user"}})
	TokenAuth(dialect.IDOpenAI)(c)

	require.False(t, c.IsAborted())
	require.Equal(t, http.StatusOK, w.Code)
	key := c.MustGet(ctxkey.APIKey).(*channel.APIKey)
	require.Equal(t, "alice", key.Role)
	require.Equal(t, 1, c.GetInt(ctxkey.APIKeyIndex))
}

func TestTokenAuthRejectsUnknownKey(t *testing.T) {
	testSnapshot(t, &channel.APIKey{Key: "sk-admin", Role: "admin"})

	c, w := newAuthContext(t, http.Header{"Authorization": []string{"Bearer sk-nope"}})
	TokenAuth(dialect.IDOpenAI)(c)

	require.True(t, c.IsAborted())
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTokenAuthRejectsMissingToken(t *testing.T) {
	testSnapshot(t, &channel.APIKey{Key: "sk-admin", Role: "admin"})

	c, w := newAuthContext(t, nil)
	TokenAuth(dialect.IDOpenAI)(c)

	require.True(t, c.IsAborted())
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTokenAuthReadsClaudeHeader(t *testing.T) {
	testSnapshot(t, &channel.APIKey{Key: "sk-claude", Role: "bob"})

	c, _ := newAuthContext(t, http.Header{"X-Api-Key": []string{"sk-claude"}})
	TokenAuth(dialect.IDClaude)(c)

	require.False(t, c.IsAborted())
	require.Equal(t, dialect.IDClaude, c.GetString(ctxkey.Dialect))
}

func TestAdminAuthRequiresAdminRole(t *testing.T) {
	testSnapshot(t,
		&channel.APIKey{Key: "sk-admin", Role: "admin"},
		&channel.APIKey{Key: "sk-user", Role: "alice"},
	)

	c, w := newAuthContext(t, http.Header{"Authorization": []string{"Bearer sk-user"}})
	AdminAuth(dialect.IDOpenAI)(c)
	require.True(t, c.IsAborted())
	require.Equal(t, http.StatusForbidden, w.Code)

	c, w = newAuthContext(t, http.Header{"Authorization": []string{"Bearer sk-admin"}})
	AdminAuth(dialect.IDOpenAI)(c)
	require.False(t, c.IsAborted())
	require.Equal(t, http.StatusOK, w.Code)
}

func TestCreditGateAdmitsFreeKeys(t *testing.T) {
	testSnapshot(t, &channel.APIKey{Key: "sk-free"})

	c, _ := newAuthContext(t, http.Header{"Authorization": []string{"Bearer sk-free"}})
	TokenAuth(dialect.IDOpenAI)(c)
	require.False(t, c.IsAborted())
}
