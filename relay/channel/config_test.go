package channel

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmux/llmux/relay/channeltype"
)

const sampleConfig = `
providers:
  - provider: openai-main
    engine: openai
    base_url: https://api.openai.com/
    api:
      - sk-live-1
      - "!sk-dead-2"
    model:
      - gpt-4o
      - gpt-4o-mini: mini
    preferences:
      api_key_schedule_algorithm: round_robin
      api_key_cooldown_period: 60
  - provider: gem
    engine: gemini
    api: AIza-key
    model:
      - gemini-2.5-pro
    groups:
      - paid
  - provider: prefixed
    engine: openai
    base_url: https://vendor.example.com/v1
    api: sk-v
    model_prefix: vendor/
    model:
      - deepseek-chat

api_keys:
  - api: sk-user-1
    model:
      - openai-main/gpt-4o
      - gem/*
  - api: sk-admin
    role: admin
    group: paid
    preferences:
      SCHEDULING_ALGORITHM: weighted
    model:
      - openai-main/gpt-4o: 3
      - gem/*: 1

preferences:
  cooldown_period: 120
  error_triggers:
    - quota exceeded
`

func TestParseConfigNormalization(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleConfig))
	require.NoError(t, err)
	require.Len(t, cfg.Providers, 3)

	p := cfg.Providers[0]
	assert.Equal(t, channeltype.OpenAI, p.Type)
	assert.Equal(t, "https://api.openai.com", p.BaseURL, "trailing slash stripped")
	assert.Equal(t, []string{"sk-live-1", "sk-dead-2"}, p.Keys)
	assert.Equal(t, []bool{false, true}, p.DisabledKeys, "! prefix marks disabled")
	assert.Equal(t, map[string]string{"gpt-4o": "gpt-4o", "mini": "gpt-4o-mini"}, p.ModelDict)
	assert.Equal(t, []string{DefaultGroup}, p.Groups)
	assert.True(t, p.IsEnabled())

	gem := cfg.Providers[1]
	assert.Equal(t, channeltype.Gemini, gem.Type)
	assert.Equal(t, "https://generativelanguage.googleapis.com", gem.BaseURL)
	assert.Equal(t, []string{"paid"}, gem.Groups)

	prefixed := cfg.Providers[2]
	upstream, ok := prefixed.UpstreamModel("vendor/deepseek-chat")
	require.True(t, ok)
	assert.Equal(t, "deepseek-chat", upstream)
	_, ok = prefixed.UpstreamModel("deepseek-chat")
	assert.False(t, ok, "matching requires the configured prefix")
}

func TestParseConfigKeyWeights(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleConfig))
	require.NoError(t, err)

	admin := cfg.APIKeys[1]
	assert.True(t, admin.IsAdmin())
	assert.Equal(t, "weighted", admin.SchedulingAlgorithm())
	assert.Equal(t, 3, admin.Weights["openai-main/gpt-4o"])
	assert.Equal(t, 1, admin.Weights["gem/gemini-2.5-pro"], "provider/* weight expands per alias")
	assert.Equal(t, []string{"paid"}, admin.Groups)

	user := cfg.APIKeys[0]
	assert.Equal(t, "fixed_priority", user.SchedulingAlgorithm())
	assert.True(t, user.AutoRetry())
	assert.Equal(t, []string{DefaultGroup}, user.Groups)
}

func TestParseConfigRejectsDuplicateProvider(t *testing.T) {
	_, err := ParseConfig([]byte(`
providers:
  - provider: dup
    engine: openai
  - provider: dup
    engine: openai
api_keys:
  - api: sk-x
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate provider")
}

func TestBuildSnapshotLookups(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleConfig))
	require.NoError(t, err)
	snap, err := BuildSnapshot(cfg)
	require.NoError(t, err)

	key, idx, ok := snap.LookupKey("sk-user-1")
	require.True(t, ok)
	assert.Equal(t, 0, idx)
	assert.Equal(t, "sk-user-1", key.Key)

	_, _, ok = snap.LookupKey("sk-unknown")
	assert.False(t, ok)

	pool := snap.KeyPools["openai-main"]
	require.NotNil(t, pool)
	assert.Equal(t, 2, pool.Len())
	// Only the live key rotates; the disabled one never comes back.
	for i := 0; i < 3; i++ {
		got, err := pool.Next("gpt-4o")
		require.NoError(t, err)
		assert.Equal(t, "sk-live-1", got)
	}

	assert.Equal(t, 120, int(snap.CooldownPeriod().Seconds()))
	assert.Equal(t, []string{"quota exceeded"}, snap.ErrorTriggers())
}

func TestSaveRoundTrip(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleConfig))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "api.yaml")
	require.NoError(t, cfg.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"!sk-dead-2"`, "disabled marker survives save")
	assert.NotContains(t, string(data), "_model_dict", "runtime keys are stripped")

	reloaded, err := ParseConfig(data)
	require.NoError(t, err)
	require.Len(t, reloaded.Providers, 3)
	assert.Equal(t, cfg.Providers[0].Keys, reloaded.Providers[0].Keys)
	assert.Equal(t, cfg.Providers[0].DisabledKeys, reloaded.Providers[0].DisabledKeys)
	assert.Equal(t, cfg.Providers[0].ModelDict, reloaded.Providers[0].ModelDict)
}

func TestModelTimeoutResolution(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
providers:
  - provider: p1
    engine: openai
    api: sk-a
    model:
      - gpt-4o
    preferences:
      model_timeout:
        gpt-4o: 30
        gpt: 60
        default: 90
api_keys:
  - api: sk-user
preferences:
  model_timeout:
    default: 300
`))
	require.NoError(t, err)
	snap, err := BuildSnapshot(cfg)
	require.NoError(t, err)
	p := cfg.Providers[0]

	assert.Equal(t, 30, int(snap.ModelTimeout(p, "gpt-4o").Seconds()), "exact match wins")
	assert.Equal(t, 60, int(snap.ModelTimeout(p, "gpt-4.1").Seconds()), "longest prefix")
	assert.Equal(t, 90, int(snap.ModelTimeout(p, "o3").Seconds()), "provider default")
	assert.Equal(t, 300, int(snap.ModelTimeout(nil, "o3").Seconds()), "global default")
}
