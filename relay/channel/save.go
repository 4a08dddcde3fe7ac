package channel

import (
	"os"
	"strconv"
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/goccy/go-yaml"
)

// quotedString forces double-quoted YAML output. Keys and URLs often contain
// ":" and some YAML loaders choke on them unquoted, so the file is written
// the defensive way the reference system writes it.
type quotedString string

// MarshalYAML implements yaml.BytesMarshaler.
func (q quotedString) MarshalYAML() ([]byte, error) {
	return []byte(strconv.Quote(string(q))), nil
}

// Save writes the configuration back to path. Runtime keys (prefixed "_")
// are stripped and disabled upstream keys regain their "!" prefix so a
// subsequent load reproduces the same state.
func (cfg *Config) Save(path string) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return errors.Wrap(err, "reparse config for save")
	}

	restoreDisabledKeys(tree, cfg.Providers)
	cleaned := sanitizeForSave(tree)

	out, err := yaml.Marshal(cleaned)
	if err != nil {
		return errors.Wrap(err, "marshal sanitized config")
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return errors.Wrapf(err, "write config %s", path)
	}
	return nil
}

// restoreDisabledKeys rewrites each provider's api field from the derived
// key state so "!" markers survive a load/save round trip.
func restoreDisabledKeys(tree map[string]any, providers []*Provider) {
	rawProviders, _ := tree["providers"].([]any)
	for i, rawProvider := range rawProviders {
		if i >= len(providers) {
			break
		}
		entry, ok := rawProvider.(map[string]any)
		if !ok {
			continue
		}
		p := providers[i]
		if len(p.Keys) == 0 {
			continue
		}
		values := make([]any, 0, len(p.Keys))
		for j, key := range p.Keys {
			if j < len(p.DisabledKeys) && p.DisabledKeys[j] {
				values = append(values, "!"+key)
				continue
			}
			values = append(values, key)
		}
		if len(values) == 1 {
			entry["api"] = values[0]
			continue
		}
		entry["api"] = values
	}
}

// sanitizeForSave walks the tree dropping "_"-prefixed keys and wrapping
// colon-bearing strings so they serialize quoted.
func sanitizeForSave(node any) any {
	switch v := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			if strings.HasPrefix(key, "_") {
				continue
			}
			out[key] = sanitizeForSave(val)
		}
		return out
	case []any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			out = append(out, sanitizeForSave(item))
		}
		return out
	case string:
		if strings.Contains(v, ":") {
			return quotedString(v)
		}
		return v
	default:
		return v
	}
}
