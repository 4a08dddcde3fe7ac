package pricing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	prices := map[string]string{
		"gpt-4o":      "2.5,10",
		"gpt-4o-mini": "0.15,0.6",
		"claude":      "3,15",
		"default":     "1,2",
	}

	tests := []struct {
		model          string
		wantPrompt     float64
		wantCompletion float64
	}{
		{"gpt-4o", 2.5, 10},
		{"gpt-4o-mini", 0.15, 0.6},
		// Longest prefix wins over shorter ones.
		{"gpt-4o-mini-2024-07-18", 0.15, 0.6},
		{"gpt-4o-2024-11-20", 2.5, 10},
		{"claude-3-5-sonnet-20241022", 3, 15},
		// Falls back to the default entry.
		{"mistral-large", 1, 2},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			got := Resolve(prices, tt.model)
			require.InDelta(t, tt.wantPrompt, got.Prompt, 1e-9)
			require.InDelta(t, tt.wantCompletion, got.Completion, 1e-9)
		})
	}
}

func TestResolveBuiltinDefault(t *testing.T) {
	got := Resolve(nil, "anything")
	require.InDelta(t, 0.3, got.Prompt, 1e-9)
	require.InDelta(t, 1.0, got.Completion, 1e-9)

	// Malformed entries fall through rather than poisoning the lookup.
	got = Resolve(map[string]string{"gpt": "not-a-price"}, "gpt-4o")
	require.InDelta(t, 0.3, got.Prompt, 1e-9)
}

func TestCost(t *testing.T) {
	p := Price{Prompt: 2.5, Completion: 10}
	require.InDelta(t, (1000*2.5+500*10)/1e6, Cost(p, 1000, 500), 1e-12)
	require.Zero(t, Cost(p, 0, 0))
}
