package middleware

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/llmux/llmux/common/ctxkey"
	"github.com/llmux/llmux/relay/channel"
	"github.com/llmux/llmux/relay/keypool"
)

func TestSlidingWindowEnforcesEveryLimit(t *testing.T) {
	w := &slidingWindow{hits: make(map[string][]time.Time)}
	limits := []keypool.Limit{
		{Count: 2, Window: time.Minute},
		{Count: 3, Window: time.Hour},
	}

	now := time.Now()
	require.True(t, w.allow("k", limits, now))
	require.True(t, w.allow("k", limits, now))
	require.False(t, w.allow("k", limits, now), "minute window exhausted")

	later := now.Add(2 * time.Minute)
	require.True(t, w.allow("k", limits, later))
	require.False(t, w.allow("k", limits, later), "hour window exhausted")
}

func TestSlidingWindowIsolatesIdentifiers(t *testing.T) {
	w := &slidingWindow{hits: make(map[string][]time.Time)}
	limits := []keypool.Limit{{Count: 1, Window: time.Minute}}

	now := time.Now()
	require.True(t, w.allow("a", limits, now))
	require.True(t, w.allow("b", limits, now))
	require.False(t, w.allow("a", limits, now))
}

func TestRateLimitScopesByRequestedModel(t *testing.T) {
	testSnapshot(t, &channel.APIKey{
		Key: "sk-scoped",
		Preferences: &channel.KeyPreferences{
			RateLimit: map[string]any{
				"gpt-4":   "1/min",
				"default": "100/min",
			},
		},
	})

	limited := RateLimit()
	for i := 0; i < 2; i++ {
		c, w := newAuthContext(t, http.Header{"Authorization": []string{"Bearer sk-scoped"}})
		TokenAuth("openai")(c)
		require.False(t, c.IsAborted())
		c.Set(ctxkey.RequestModel, "gpt-4")
		limited(c)
		if i == 0 {
			require.Equal(t, http.StatusOK, w.Code)
		} else {
			require.Equal(t, http.StatusTooManyRequests, w.Code)
		}
	}

	// A different scope keeps its own budget.
	c, w := newAuthContext(t, http.Header{"Authorization": []string{"Bearer sk-scoped"}})
	TokenAuth("openai")(c)
	c.Set(ctxkey.RequestModel, "gpt-4o-mini")
	limited(c)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitFallsBackToGlobalPreference(t *testing.T) {
	cfg := &channel.Config{
		APIKeys:     []*channel.APIKey{{Key: "sk-global"}},
		Preferences: &channel.GlobalPreferences{RateLimit: "1/min"},
	}
	snap, err := channel.BuildSnapshot(cfg)
	require.NoError(t, err)
	prev := channel.Current()
	channel.Replace(snap)
	t.Cleanup(func() { channel.Replace(prev) })

	limited := RateLimit()
	c, w := newAuthContext(t, http.Header{"Authorization": []string{"Bearer sk-global"}})
	TokenAuth("openai")(c)
	c.Set(ctxkey.RequestModel, "gpt-4o")
	limited(c)
	require.Equal(t, http.StatusOK, w.Code)

	c, w = newAuthContext(t, http.Header{"Authorization": []string{"Bearer sk-global"}})
	TokenAuth("openai")(c)
	c.Set(ctxkey.RequestModel, "gpt-4o")
	limited(c)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestRateLimitNoopWithoutPreference(t *testing.T) {
	testSnapshot(t, &channel.APIKey{Key: "sk-plain"})

	c, w := newAuthContext(t, http.Header{"Authorization": []string{"Bearer sk-plain"}})
	TokenAuth("openai")(c)
	c.Set(ctxkey.RequestModel, "gpt-4o")
	RateLimit()(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.False(t, c.IsAborted())
}
