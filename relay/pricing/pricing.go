// Package pricing resolves the per-million-token prices snapshotted into
// every request record.
package pricing

import (
	"strconv"
	"strings"
)

// DefaultPrice applies when no configured entry matches.
const DefaultPrice = "0.3,1"

// defaultScope is the catch-all key in the configured price map.
const defaultScope = "default"

// Price is a prompt/completion price pair, in currency units per million
// tokens.
type Price struct {
	Prompt     float64
	Completion float64
}

// Resolve picks the price for a model: exact key, then longest prefix, then
// the "default" entry, then DefaultPrice. Prices are snapshotted into stat
// rows at write time, so later config changes never rewrite history.
func Resolve(prices map[string]string, model string) Price {
	if spec, ok := prices[model]; ok {
		if p, ok := parse(spec); ok {
			return p
		}
	}

	best := ""
	for scope := range prices {
		if scope == defaultScope {
			continue
		}
		if strings.HasPrefix(model, scope) && len(scope) > len(best) {
			best = scope
		}
	}
	if best != "" {
		if p, ok := parse(prices[best]); ok {
			return p
		}
	}

	if spec, ok := prices[defaultScope]; ok {
		if p, ok := parse(spec); ok {
			return p
		}
	}

	p, _ := parse(DefaultPrice)
	return p
}

// Cost converts a usage pair into currency units with row-local prices.
func Cost(p Price, promptTokens, completionTokens int) float64 {
	return (float64(promptTokens)*p.Prompt + float64(completionTokens)*p.Completion) / 1e6
}

// parse reads a "prompt,completion" spec.
func parse(spec string) (Price, bool) {
	promptPart, completionPart, ok := strings.Cut(spec, ",")
	if !ok {
		return Price{}, false
	}
	prompt, err := strconv.ParseFloat(strings.TrimSpace(promptPart), 64)
	if err != nil {
		return Price{}, false
	}
	completion, err := strconv.ParseFloat(strings.TrimSpace(completionPart), 64)
	if err != nil {
		return Price{}, false
	}
	return Price{Prompt: prompt, Completion: completion}, true
}
