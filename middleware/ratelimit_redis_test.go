package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"github.com/llmux/llmux/common/redis"
	"github.com/llmux/llmux/relay/keypool"
)

func withMiniRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr := miniredis.RunT(t)
	prev := redis.RDB
	redis.RDB = goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = redis.RDB.Close()
		redis.RDB = prev
	})
	return mr
}

func redisTestContext(t *testing.T) *gin.Context {
	t.Helper()
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	return c
}

func TestRedisAllowSharesBudgetAcrossWindows(t *testing.T) {
	withMiniRedis(t)
	c := redisTestContext(t)
	limits := []keypool.Limit{{Count: 2, Window: time.Minute}}

	now := time.Now()
	require.True(t, redisAllow(c, "shared", limits, now))
	require.True(t, redisAllow(c, "shared", limits, now.Add(time.Millisecond)))
	require.False(t, redisAllow(c, "shared", limits, now.Add(2*time.Millisecond)))

	// Another identifier keeps its own sorted set.
	require.True(t, redisAllow(c, "other", limits, now))
}

func TestRedisAllowExpiresOldEntries(t *testing.T) {
	mr := withMiniRedis(t)
	c := redisTestContext(t)
	limits := []keypool.Limit{{Count: 1, Window: time.Minute}}

	now := time.Now()
	require.True(t, redisAllow(c, "exp", limits, now))
	require.False(t, redisAllow(c, "exp", limits, now.Add(time.Second)))

	mr.FastForward(2 * time.Minute)
	require.True(t, redisAllow(c, "exp", limits, now.Add(2*time.Minute)))
}

func TestRedisAllowFallsBackWhenRedisDies(t *testing.T) {
	mr := withMiniRedis(t)
	c := redisTestContext(t)
	limits := []keypool.Limit{{Count: 1, Window: time.Minute}}

	mr.Close()
	// The local window takes over, still enforcing the budget.
	now := time.Now()
	require.True(t, redisAllow(c, "fallback-key", limits, now))
	require.False(t, redisAllow(c, "fallback-key", limits, now.Add(time.Second)))
}
