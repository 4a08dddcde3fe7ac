// Package passthrough forwards inbound bytes to the upstream when the
// caller's dialect matches the provider's engine, applying only the
// lightweight edits the configuration asks for: model rename, system-prompt
// injection, and parameter overrides.
package passthrough

import (
	"encoding/json"

	"github.com/Laisky/errors/v2"

	"github.com/llmux/llmux/relay/channel"
	"github.com/llmux/llmux/relay/dialect"
)

// Override scopes applied before the exact-alias scope.
const (
	scopeAll = "all"
	scopeAny = "*"
)

// Plan captures the edits one passthrough dispatch needs.
type Plan struct {
	DialectID string
	Provider  *channel.Provider
	Alias     string
	// Upstream is the model id the provider expects.
	Upstream string
}

// Evaluate returns the edit plan when the inbound dialect can passthrough
// to this provider, nil when the engines differ.
func Evaluate(d dialect.Dialect, p *channel.Provider, alias string) *Plan {
	if d == nil || p == nil {
		return nil
	}
	if !d.MatchesEngine(p.Type) {
		return nil
	}
	upstream, ok := p.UpstreamModel(alias)
	if !ok {
		return nil
	}
	return &Plan{
		DialectID: d.ID(),
		Provider:  p,
		Alias:     alias,
		Upstream:  upstream,
	}
}

// Apply performs the in-body edits on the inbound payload.
func (pl *Plan) Apply(body []byte) ([]byte, error) {
	doc := map[string]any{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, errors.Wrap(err, "parse passthrough body")
		}
	}

	// Gemini names the model in the URL, not the body.
	if pl.DialectID != dialect.IDGemini && pl.Upstream != pl.Alias {
		doc["model"] = pl.Upstream
	}

	if prompt := pl.Provider.SystemPrompt(); prompt != "" {
		pl.injectSystemPrompt(doc, prompt)
	}

	pl.applyOverrides(doc)

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "marshal passthrough body")
	}
	return out, nil
}

// injectSystemPrompt splices the configured prompt into the dialect's
// system location.
func (pl *Plan) injectSystemPrompt(doc map[string]any, prompt string) {
	switch pl.DialectID {
	case dialect.IDClaude:
		switch system := doc["system"].(type) {
		case string:
			doc["system"] = prompt + "\n" + system
		case []any:
			doc["system"] = append([]any{map[string]any{"type": "text", "text": prompt}}, system...)
		default:
			doc["system"] = prompt
		}
	case dialect.IDGemini:
		instruction, _ := doc["systemInstruction"].(map[string]any)
		if instruction == nil {
			doc["systemInstruction"] = map[string]any{
				"parts": []any{map[string]any{"text": prompt}},
			}
			return
		}
		parts, _ := instruction["parts"].([]any)
		if len(parts) == 0 {
			instruction["parts"] = []any{map[string]any{"text": prompt}}
			return
		}
		if first, ok := parts[0].(map[string]any); ok {
			text, _ := first["text"].(string)
			first["text"] = prompt + "\n" + text
		}
	default:
		messages, _ := doc["messages"].([]any)
		if len(messages) > 0 {
			if first, ok := messages[0].(map[string]any); ok && first["role"] == "system" {
				if text, ok := first["content"].(string); ok {
					first["content"] = prompt + "\n" + text
					return
				}
			}
		}
		doc["messages"] = append([]any{map[string]any{"role": "system", "content": prompt}}, messages...)
	}
}

// applyOverrides deep-merges post_body_parameter_overrides: the all/*
// scopes fill only absent keys, the exact-alias scope always wins.
func (pl *Plan) applyOverrides(doc map[string]any) {
	if pl.Provider.Preferences == nil {
		return
	}
	overrides := pl.Provider.Preferences.PostBodyParameterOverrides
	if len(overrides) == 0 {
		return
	}
	if params, ok := overrides[scopeAll]; ok {
		deepMerge(doc, params, false)
	}
	if params, ok := overrides[scopeAny]; ok {
		deepMerge(doc, params, false)
	}
	if params, ok := overrides[pl.Alias]; ok {
		deepMerge(doc, params, true)
	}
}

func deepMerge(dst, src map[string]any, overwrite bool) {
	for k, v := range src {
		if sub, ok := v.(map[string]any); ok {
			if dsub, ok := dst[k].(map[string]any); ok {
				deepMerge(dsub, sub, overwrite)
				continue
			}
		}
		if _, exists := dst[k]; exists && !overwrite {
			continue
		}
		dst[k] = v
	}
}
