package passthrough

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/llmux/llmux/relay/channel"
	"github.com/llmux/llmux/relay/channeltype"
	"github.com/llmux/llmux/relay/dialect"
)

func openaiProvider(t *testing.T, prefs *channel.ProviderPreferences) *channel.Provider {
	t.Helper()
	p := &channel.Provider{
		Name:        "upstream",
		BaseURL:     "https://api.openai.com",
		Type:        channeltype.OpenAI,
		ModelDict:   map[string]string{"my-gpt": "gpt-4o", "gpt-4o": "gpt-4o"},
		Preferences: prefs,
	}
	return p
}

func TestEvaluateEngineMatch(t *testing.T) {
	p := openaiProvider(t, nil)

	plan := Evaluate(dialect.Get(dialect.IDOpenAI), p, "my-gpt")
	require.NotNil(t, plan)
	require.Equal(t, "gpt-4o", plan.Upstream)

	// Claude dialect cannot passthrough to an OpenAI engine.
	require.Nil(t, Evaluate(dialect.Get(dialect.IDClaude), p, "my-gpt"))

	// Unknown alias never matches.
	require.Nil(t, Evaluate(dialect.Get(dialect.IDOpenAI), p, "other"))
}

func TestApplyModelRename(t *testing.T) {
	p := openaiProvider(t, nil)
	plan := Evaluate(dialect.Get(dialect.IDOpenAI), p, "my-gpt")

	out, err := plan.Apply([]byte(`{"model":"my-gpt","messages":[{"role":"user","content":"hi"}]}`))
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(out, &doc))
	require.Equal(t, "gpt-4o", doc["model"])
}

func TestApplySystemPromptOpenAI(t *testing.T) {
	p := openaiProvider(t, &channel.ProviderPreferences{SystemPrompt: "be terse"})
	plan := Evaluate(dialect.Get(dialect.IDOpenAI), p, "gpt-4o")

	// No system message: one is inserted in front.
	out, err := plan.Apply([]byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`))
	require.NoError(t, err)
	var doc struct {
		Messages []map[string]any `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(out, &doc))
	require.Len(t, doc.Messages, 2)
	require.Equal(t, "system", doc.Messages[0]["role"])
	require.Equal(t, "be terse", doc.Messages[0]["content"])

	// Existing system message gets the prompt prepended.
	out, err = plan.Apply([]byte(`{"model":"gpt-4o","messages":[{"role":"system","content":"old"},{"role":"user","content":"hi"}]}`))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(out, &doc))
	require.Len(t, doc.Messages, 2)
	require.Equal(t, "be terse\nold", doc.Messages[0]["content"])
}

func TestApplySystemPromptClaude(t *testing.T) {
	p := &channel.Provider{
		Name:        "claude-up",
		Type:        channeltype.Anthropic,
		ModelDict:   map[string]string{"claude-3-5-sonnet-20241022": "claude-3-5-sonnet-20241022"},
		Preferences: &channel.ProviderPreferences{SystemPrompt: "be terse"},
	}
	plan := Evaluate(dialect.Get(dialect.IDClaude), p, "claude-3-5-sonnet-20241022")
	require.NotNil(t, plan)

	out, err := plan.Apply([]byte(`{"model":"claude-3-5-sonnet-20241022","system":"old","messages":[]}`))
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(out, &doc))
	require.Equal(t, "be terse\nold", doc["system"])

	out, err = plan.Apply([]byte(`{"model":"claude-3-5-sonnet-20241022","messages":[]}`))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(out, &doc))
	require.Equal(t, "be terse", doc["system"])
}

func TestApplySystemPromptGemini(t *testing.T) {
	p := &channel.Provider{
		Name:        "gem-up",
		Type:        channeltype.Gemini,
		ModelDict:   map[string]string{"gemini-2.5-flash": "gemini-2.5-flash"},
		Preferences: &channel.ProviderPreferences{SystemPrompt: "be terse"},
	}
	plan := Evaluate(dialect.Get(dialect.IDGemini), p, "gemini-2.5-flash")
	require.NotNil(t, plan)

	out, err := plan.Apply([]byte(`{"contents":[],"systemInstruction":{"parts":[{"text":"old"}]}}`))
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(out, &doc))
	instruction := doc["systemInstruction"].(map[string]any)
	parts := instruction["parts"].([]any)
	require.Equal(t, "be terse\nold", parts[0].(map[string]any)["text"])

	// No model key is injected for gemini; the rename lives in the URL.
	_, hasModel := doc["model"]
	require.False(t, hasModel)
}

func TestApplyParameterOverrides(t *testing.T) {
	p := openaiProvider(t, &channel.ProviderPreferences{
		PostBodyParameterOverrides: map[string]map[string]any{
			"all":    {"temperature": 0.2, "max_tokens": 100},
			"gpt-4o": {"temperature": 0.9},
		},
	})
	plan := Evaluate(dialect.Get(dialect.IDOpenAI), p, "gpt-4o")

	out, err := plan.Apply([]byte(`{"model":"gpt-4o","temperature":0.5,"messages":[]}`))
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(out, &doc))

	// The all scope fills only absent keys; the exact scope always wins.
	require.InDelta(t, 0.9, doc["temperature"].(float64), 1e-9)
	require.InDelta(t, 100, doc["max_tokens"].(float64), 1e-9)
}

func TestFilterHeaders(t *testing.T) {
	src := http.Header{}
	src.Set("Authorization", "Bearer sk-inbound")
	src.Set("X-Api-Key", "sk-inbound")
	src.Set("Content-Length", "42")
	src.Set("Accept-Encoding", "gzip")
	src.Set("X-Custom", "keep")
	src.Set("Content-Type", "application/json")

	dst := FilterHeaders(src)
	require.Empty(t, dst.Get("Authorization"))
	require.Empty(t, dst.Get("X-Api-Key"))
	require.Empty(t, dst.Get("Content-Length"))
	require.Empty(t, dst.Get("Accept-Encoding"))
	require.Equal(t, "keep", dst.Get("X-Custom"))
	require.Equal(t, "application/json", dst.Get("Content-Type"))
}

func TestUTF8SanitizerSplitRune(t *testing.T) {
	s := &UTF8Sanitizer{}

	// U+4F60 (3 bytes) split across two chunks survives intact.
	raw := []byte("hi 你")
	first := s.Push(raw[:4])
	second := s.Push(raw[4:])
	require.Equal(t, "hi 你", string(first)+string(second))
	require.Empty(t, s.Flush())

	// A truncated rune at end of stream flushes as replacement.
	s.Push([]byte{0xE4, 0xBD})
	require.Equal(t, "�", string(s.Flush()))

	// Invalid bytes mid-stream are replaced, valid text kept.
	out := s.Push([]byte{'a', 0xFF, 'b'})
	require.Equal(t, "a�b", string(out))
}
