package routing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/llmux/llmux/monitor"
	"github.com/llmux/llmux/relay/channel"
)

func buildSnapshot(t *testing.T, yamlDoc string) *channel.Snapshot {
	t.Helper()
	cfg, err := channel.ParseConfig([]byte(yamlDoc))
	require.NoError(t, err)
	snap, err := channel.BuildSnapshot(cfg)
	require.NoError(t, err)
	return snap
}

func providerNames(providers []*channel.Provider) []string {
	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, p.Name)
	}
	return names
}

func TestSelectEligibility(t *testing.T) {
	snap := buildSnapshot(t, `
providers:
  - provider: alpha
    base_url: https://api.openai.com
    api: key-a
    model:
      - gpt-4o
  - provider: beta
    base_url: https://api.openai.com
    api: key-b
    model:
      - gpt-4o
      - gpt-4o-mini
  - provider: disabled
    base_url: https://api.openai.com
    api: key-c
    enabled: false
    model:
      - gpt-4o
  - provider: othergroup
    base_url: https://api.openai.com
    api: key-d
    group: internal
    model:
      - gpt-4o
api_keys:
  - api: sk-user
    model:
      - all
`)

	got := Select(snap, "gpt-4o", 0)
	require.Equal(t, []string{"alpha", "beta"}, providerNames(got))

	got = Select(snap, "gpt-4o-mini", 0)
	require.Equal(t, []string{"beta"}, providerNames(got))

	require.Empty(t, Select(snap, "unknown-model", 0))
}

func TestSelectKeyModelPatterns(t *testing.T) {
	snap := buildSnapshot(t, `
providers:
  - provider: alpha
    base_url: https://api.openai.com
    api: key-a
    model:
      - gpt-4o
      - gpt-4o-mini
  - provider: beta
    base_url: https://api.openai.com
    api: key-b
    model:
      - gpt-4o
api_keys:
  - api: sk-scoped
    model:
      - alpha/*
  - api: sk-exact
    model:
      - beta/gpt-4o
  - api: sk-alias
    model:
      - gpt-4o-mini
`)

	require.Equal(t, []string{"alpha"}, providerNames(Select(snap, "gpt-4o", 0)))
	require.Equal(t, []string{"beta"}, providerNames(Select(snap, "gpt-4o", 1)))
	require.Equal(t, []string{"alpha"}, providerNames(Select(snap, "gpt-4o-mini", 2)))
	require.Empty(t, Select(snap, "gpt-4o", 2))
}

func TestSelectHonorsBlacklist(t *testing.T) {
	snap := buildSnapshot(t, `
providers:
  - provider: alpha
    base_url: https://api.openai.com
    api: key-a
    model:
      - blacklist-model
  - provider: beta
    base_url: https://api.openai.com
    api: key-b
    model:
      - blacklist-model
api_keys:
  - api: sk-user
    model:
      - all
`)

	monitor.Channels.Exclude("alpha", "blacklist-model", time.Minute)
	defer monitor.Channels.Release("alpha", "blacklist-model")

	require.Equal(t, []string{"beta"}, providerNames(Select(snap, "blacklist-model", 0)))
}

func TestSelectRoundRobinRotates(t *testing.T) {
	snap := buildSnapshot(t, `
providers:
  - provider: alpha
    base_url: https://api.openai.com
    api: key-a
    model:
      - rr-model
  - provider: beta
    base_url: https://api.openai.com
    api: key-b
    model:
      - rr-model
api_keys:
  - api: sk-user
    model:
      - all
    preferences:
      SCHEDULING_ALGORITHM: round_robin
`)

	first := providerNames(Select(snap, "rr-model", 0))
	second := providerNames(Select(snap, "rr-model", 0))
	third := providerNames(Select(snap, "rr-model", 0))

	require.ElementsMatch(t, []string{"alpha", "beta"}, first)
	require.NotEqual(t, first, second)
	require.Equal(t, first, third)
}

func TestSelectWeightedKeepsAllProviders(t *testing.T) {
	snap := buildSnapshot(t, `
providers:
  - provider: alpha
    base_url: https://api.openai.com
    api: key-a
    model:
      - w-model
  - provider: beta
    base_url: https://api.openai.com
    api: key-b
    model:
      - w-model
  - provider: gamma
    base_url: https://api.openai.com
    api: key-c
    model:
      - w-model
api_keys:
  - api: sk-user
    model:
      - alpha/w-model: 10
      - beta/w-model: 1
      - gamma/w-model: 1
    preferences:
      SCHEDULING_ALGORITHM: weighted
`)

	for range 10 {
		got := providerNames(Select(snap, "w-model", 0))
		require.ElementsMatch(t, []string{"alpha", "beta", "gamma"}, got)
	}
}

func TestSelectExpandsLocalAggregator(t *testing.T) {
	snap := buildSnapshot(t, `
providers:
  - provider: upstream-a
    base_url: https://api.openai.com
    api: key-a
    model:
      - agg-model
  - provider: sk-inner
    base_url: http://localhost:8000
    api: sk-inner
    model:
      - agg-model
api_keys:
  - api: sk-outer
    model:
      - all
  - api: sk-inner
    model:
      - upstream-a/agg-model
`)

	got := providerNames(Select(snap, "agg-model", 0))
	// The aggregator expands into upstream-a, which also matches directly.
	require.Equal(t, []string{"upstream-a", "upstream-a"}, got)
}
