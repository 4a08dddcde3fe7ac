// Package channel owns the reloadable gateway configuration: upstream
// providers, inbound API keys, and global preferences. A loaded snapshot is
// immutable; reload builds a fresh one and swaps a single pointer so
// in-flight requests finish on the configuration they started with.
package channel

import (
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"

	"github.com/llmux/llmux/relay/channeltype"
	"github.com/llmux/llmux/relay/keypool"
)

var validate = validator.New()

// DefaultGroup is used when a provider or key declares no groups.
const DefaultGroup = "default"

// Config is the raw shape of api.yaml.
type Config struct {
	Providers   []*Provider        `yaml:"providers" json:"providers" validate:"dive"`
	APIKeys     []*APIKey          `yaml:"api_keys" json:"api_keys" validate:"dive"`
	Preferences *GlobalPreferences `yaml:"preferences,omitempty" json:"preferences,omitempty"`
}

// Provider is one configured upstream integration.
type Provider struct {
	Name      string `yaml:"provider" json:"provider" validate:"required"`
	Engine    string `yaml:"engine,omitempty" json:"engine,omitempty"`
	BaseURL   string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	API       any    `yaml:"api,omitempty" json:"api,omitempty"`
	Model     []any  `yaml:"model,omitempty" json:"model,omitempty"`
	Tools     *bool  `yaml:"tools,omitempty" json:"tools,omitempty"`
	Enabled   *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Group     any    `yaml:"group,omitempty" json:"group,omitempty"`
	GroupsRaw any    `yaml:"groups,omitempty" json:"groups,omitempty"`

	ModelPrefix string `yaml:"model_prefix,omitempty" json:"model_prefix,omitempty"`

	// Vertex service-account credential.
	ProjectID   string `yaml:"project_id,omitempty" json:"project_id,omitempty"`
	ClientEmail string `yaml:"client_email,omitempty" json:"client_email,omitempty"`
	PrivateKey  string `yaml:"private_key,omitempty" json:"private_key,omitempty"`

	// Cloudflare Workers AI account.
	CFAccountID string `yaml:"cf_account_id,omitempty" json:"cf_account_id,omitempty"`

	// AWS Bedrock credential.
	AWSRegion    string `yaml:"aws_region,omitempty" json:"aws_region,omitempty"`
	AWSAccessKey string `yaml:"aws_access_key,omitempty" json:"aws_access_key,omitempty"`
	AWSSecretKey string `yaml:"aws_secret_key,omitempty" json:"aws_secret_key,omitempty"`

	Preferences *ProviderPreferences `yaml:"preferences,omitempty" json:"preferences,omitempty"`

	// Derived at load time, never serialized back to the file.
	Type         int               `yaml:"-" json:"-"`
	Keys         []string          `yaml:"-" json:"-"`
	DisabledKeys []bool            `yaml:"-" json:"-"`
	KeyWeights   map[string]int    `yaml:"-" json:"-"`
	ModelDict    map[string]string `yaml:"-" json:"-"`
	ModelWeights map[string]int    `yaml:"-" json:"-"`
	Aliases      []string          `yaml:"-" json:"-"`
	Groups       []string          `yaml:"-" json:"-"`
}

// ProviderPreferences are the per-provider tuning knobs.
type ProviderPreferences struct {
	Proxy                      string                    `yaml:"proxy,omitempty" json:"proxy,omitempty"`
	Headers                    map[string]string         `yaml:"headers,omitempty" json:"headers,omitempty"`
	SystemPrompt               string                    `yaml:"system_prompt,omitempty" json:"system_prompt,omitempty"`
	APIKeyRateLimit            any                       `yaml:"api_key_rate_limit,omitempty" json:"api_key_rate_limit,omitempty"`
	APIKeyCooldownPeriod       int                       `yaml:"api_key_cooldown_period,omitempty" json:"api_key_cooldown_period,omitempty"`
	APIKeyScheduleAlgorithm    string                    `yaml:"api_key_schedule_algorithm,omitempty" json:"api_key_schedule_algorithm,omitempty"`
	PostBodyParameterOverrides map[string]map[string]any `yaml:"post_body_parameter_overrides,omitempty" json:"post_body_parameter_overrides,omitempty"`
	ModelTimeout               map[string]int            `yaml:"model_timeout,omitempty" json:"model_timeout,omitempty"`
	KeepaliveInterval          map[string]int            `yaml:"keepalive_interval,omitempty" json:"keepalive_interval,omitempty"`
	EnabledPlugins             []string                  `yaml:"enabled_plugins,omitempty" json:"enabled_plugins,omitempty"`
	Group                      any                       `yaml:"group,omitempty" json:"group,omitempty"`
}

// APIKey is one inbound credential.
type APIKey struct {
	Key       string `yaml:"api" json:"api" validate:"required"`
	Role      string `yaml:"role,omitempty" json:"role,omitempty"`
	Model     []any  `yaml:"model,omitempty" json:"model,omitempty"`
	Group     any    `yaml:"group,omitempty" json:"group,omitempty"`
	GroupsRaw any    `yaml:"groups,omitempty" json:"groups,omitempty"`

	Preferences *KeyPreferences `yaml:"preferences,omitempty" json:"preferences,omitempty"`

	// Derived at load time.
	Models  []string       `yaml:"-" json:"-"`
	Weights map[string]int `yaml:"-" json:"-"`
	Groups  []string       `yaml:"-" json:"-"`
}

// KeyPreferences are the per-key tuning knobs. The upper-case names match
// the reference configuration format.
type KeyPreferences struct {
	SchedulingAlgorithm string  `yaml:"SCHEDULING_ALGORITHM,omitempty" json:"SCHEDULING_ALGORITHM,omitempty"`
	AutoRetry           *bool   `yaml:"AUTO_RETRY,omitempty" json:"AUTO_RETRY,omitempty"`
	RateLimit           any     `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty"`
	Credits             float64 `yaml:"credits,omitempty" json:"credits,omitempty"`
	CreatedAt           string  `yaml:"created_at,omitempty" json:"created_at,omitempty"`
	MaxRetryCount       int     `yaml:"max_retry_count,omitempty" json:"max_retry_count,omitempty"`
	Group               any     `yaml:"group,omitempty" json:"group,omitempty"`
}

// GlobalPreferences apply when neither the key nor the provider overrides.
type GlobalPreferences struct {
	CooldownPeriod    *int              `yaml:"cooldown_period,omitempty" json:"cooldown_period,omitempty"`
	RateLimit         any               `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty"`
	ModelTimeout      map[string]int    `yaml:"model_timeout,omitempty" json:"model_timeout,omitempty"`
	KeepaliveInterval map[string]int    `yaml:"keepalive_interval,omitempty" json:"keepalive_interval,omitempty"`
	ErrorTriggers     []string          `yaml:"error_triggers,omitempty" json:"error_triggers,omitempty"`
	ModelPrice        map[string]string `yaml:"model_price,omitempty" json:"model_price,omitempty"`
	MaxRetryCount     int               `yaml:"max_retry_count,omitempty" json:"max_retry_count,omitempty"`
	Proxy             string            `yaml:"proxy,omitempty" json:"proxy,omitempty"`
}

// ParseConfig unmarshals and normalizes an api.yaml document.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "parse config yaml")
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, errors.Wrap(err, "validate config")
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) normalize() error {
	seen := make(map[string]struct{}, len(cfg.Providers))
	for _, p := range cfg.Providers {
		if p == nil || p.Name == "" {
			return errors.New("provider entry without a provider id")
		}
		if _, dup := seen[p.Name]; dup {
			return errors.Errorf("duplicate provider id %q", p.Name)
		}
		seen[p.Name] = struct{}{}
		if err := p.normalize(); err != nil {
			return errors.Wrapf(err, "provider %q", p.Name)
		}
	}
	for i, k := range cfg.APIKeys {
		if k == nil || k.Key == "" {
			return errors.Errorf("api_keys[%d] without an api value", i)
		}
		k.normalize(cfg.Providers)
	}
	return nil
}

func (p *Provider) normalize() error {
	// Credential fields pin the base URL regardless of what is configured,
	// matching the reference loader.
	if p.ProjectID != "" && !strings.Contains(p.BaseURL, "aiplatform.googleapis.com") {
		p.BaseURL = "https://aiplatform.googleapis.com"
	}
	if p.CFAccountID != "" {
		p.BaseURL = "https://api.cloudflare.com"
	}

	if p.Engine != "" {
		p.Type = channeltype.FromName(p.Engine)
		if p.Type == channeltype.Unknown {
			return errors.Errorf("unknown engine %q", p.Engine)
		}
	} else {
		p.Type = channeltype.InferFromBaseURL(p.BaseURL)
		if p.ProjectID != "" {
			p.Type = channeltype.VertexAI
		}
		if p.CFAccountID != "" {
			p.Type = channeltype.Cloudflare
		}
		if p.AWSAccessKey != "" {
			p.Type = channeltype.AWS
		}
	}
	if p.BaseURL == "" {
		p.BaseURL = channeltype.DefaultBaseURL(p.Type)
	}
	p.BaseURL = strings.TrimSuffix(p.BaseURL, "/")

	p.Keys, p.DisabledKeys, p.KeyWeights = parseAPIValues(p.API)
	p.ModelDict, p.ModelWeights, p.Aliases = buildModelDict(p.Model, p.ModelPrefix)
	p.Groups = normalizeGroups(p.GroupsRaw, p.Group, preferencesGroup(p.Preferences))
	return nil
}

func preferencesGroup(p *ProviderPreferences) any {
	if p == nil {
		return nil
	}
	return p.Group
}

func (k *APIKey) normalize(providers []*Provider) {
	var group any
	if k.Preferences != nil {
		group = k.Preferences.Group
	}
	k.Groups = normalizeGroups(k.GroupsRaw, k.Group, group)

	k.Models = k.Models[:0]
	k.Weights = make(map[string]int)
	for _, entry := range k.Model {
		switch v := entry.(type) {
		case string:
			k.Models = append(k.Models, v)
		case map[string]any:
			// {provider/model: weight} enables weighted scheduling.
			for pattern, weight := range v {
				w, ok := asInt(weight)
				if !ok || w <= 0 {
					continue
				}
				k.Models = append(k.Models, pattern)
				expandWeightPattern(k.Weights, pattern, w, providers)
			}
		}
	}
	if len(k.Models) == 0 {
		k.Models = []string{"all"}
	}
}

// expandWeightPattern resolves "provider/*" weight entries into one entry per
// alias the provider serves.
func expandWeightPattern(weights map[string]int, pattern string, weight int, providers []*Provider) {
	providerName, modelName, ok := strings.Cut(pattern, "/")
	if !ok {
		weights[pattern] = weight
		return
	}
	if modelName != "*" {
		weights[pattern] = weight
		return
	}
	for _, p := range providers {
		if p == nil || p.Name != providerName {
			continue
		}
		for _, alias := range p.Aliases {
			weights[providerName+"/"+alias] = weight
		}
	}
}

// parseAPIValues accepts a single key, a key list, or {key: weight} entries
// for weighted rotation. A "!" prefix loads the key as present but disabled
// so operators can park bad keys without losing them from the file.
func parseAPIValues(raw any) (keys []string, disabled []bool, weights map[string]int) {
	weights = make(map[string]int)
	appendKey := func(v string, weight int) {
		v = strings.TrimSpace(v)
		if v == "" {
			return
		}
		isDisabled := false
		if rest, found := strings.CutPrefix(v, "!"); found {
			v = rest
			isDisabled = true
		}
		keys = append(keys, v)
		disabled = append(disabled, isDisabled)
		if weight > 0 {
			weights[v] = weight
		}
	}
	appendEntry := func(item any) {
		switch e := item.(type) {
		case string:
			appendKey(e, 0)
		case map[string]any:
			for key, val := range e {
				w, _ := asInt(val)
				appendKey(key, w)
			}
		}
	}
	switch v := raw.(type) {
	case string:
		appendKey(v, 0)
	case []any:
		for _, item := range v {
			appendEntry(item)
		}
	case []string:
		for _, s := range v {
			appendKey(s, 0)
		}
	}
	return keys, disabled, weights
}

// buildModelDict turns the configured model list into alias -> upstream name.
// A string entry maps to itself; a single-pair map renames upstream to alias;
// an integer value is a weight on the alias instead of a rename. A configured
// model_prefix is prepended to every alias and required for matching.
func buildModelDict(entries []any, prefix string) (dict map[string]string, weights map[string]int, aliases []string) {
	dict = make(map[string]string, len(entries))
	weights = make(map[string]int)
	add := func(alias, upstream string, weight int) {
		alias = prefix + alias
		if _, exists := dict[alias]; !exists {
			aliases = append(aliases, alias)
		}
		dict[alias] = upstream
		if weight > 0 {
			weights[alias] = weight
		}
	}
	for _, entry := range entries {
		switch v := entry.(type) {
		case string:
			add(v, v, 0)
		case map[string]any:
			for upstream, val := range v {
				if alias, ok := val.(string); ok {
					add(alias, upstream, 0)
					continue
				}
				if w, ok := asInt(val); ok {
					add(upstream, upstream, w)
				}
			}
		}
	}
	return dict, weights, aliases
}

func normalizeGroups(candidates ...any) []string {
	for _, raw := range candidates {
		switch v := raw.(type) {
		case string:
			if v != "" {
				return []string{v}
			}
		case []any:
			var groups []string
			for _, item := range v {
				if s, ok := item.(string); ok && s != "" {
					groups = append(groups, s)
				}
			}
			if len(groups) > 0 {
				return groups
			}
		case []string:
			if len(v) > 0 {
				return v
			}
		}
	}
	return []string{DefaultGroup}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// IsEnabled reports whether the provider participates in routing.
func (p *Provider) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// UpstreamModel resolves an alias through the model dict; identity when the
// provider declares no mapping for it.
func (p *Provider) UpstreamModel(alias string) (string, bool) {
	upstream, ok := p.ModelDict[alias]
	return upstream, ok
}

// ScheduleAlgorithm returns the key-rotation algorithm for this provider.
func (p *Provider) ScheduleAlgorithm() string {
	if p.Preferences != nil && p.Preferences.APIKeyScheduleAlgorithm != "" {
		return p.Preferences.APIKeyScheduleAlgorithm
	}
	return keypool.ScheduleRoundRobin
}

// KeyCooldownPeriod returns how long a failing upstream key cools down.
func (p *Provider) KeyCooldownPeriod() int {
	if p.Preferences == nil {
		return 0
	}
	return p.Preferences.APIKeyCooldownPeriod
}

// SystemPrompt returns the configured injection prompt, empty when unset.
func (p *Provider) SystemPrompt() string {
	if p.Preferences == nil {
		return ""
	}
	return p.Preferences.SystemPrompt
}

// Proxy returns the provider's outbound proxy URL, empty for direct.
func (p *Provider) Proxy() string {
	if p.Preferences == nil {
		return ""
	}
	return p.Preferences.Proxy
}

// IsLocalAggregator reports whether this provider delegates to another
// configured API key instead of a real upstream.
func (p *Provider) IsLocalAggregator() bool {
	return strings.HasPrefix(p.Name, "sk-")
}

// SchedulingAlgorithm returns the provider-ordering algorithm for this key.
func (k *APIKey) SchedulingAlgorithm() string {
	if k.Preferences != nil && k.Preferences.SchedulingAlgorithm != "" {
		return k.Preferences.SchedulingAlgorithm
	}
	return "fixed_priority"
}

// AutoRetry reports whether failed attempts roll over to the next provider.
func (k *APIKey) AutoRetry() bool {
	if k.Preferences == nil || k.Preferences.AutoRetry == nil {
		return true
	}
	return *k.Preferences.AutoRetry
}

// IsAdmin reports whether the key may call the operator endpoints.
func (k *APIKey) IsAdmin() bool {
	return k.Role == "admin"
}

// MaxRetryCount clamps the attempt budget; the global preference applies
// when the key does not set one.
func (k *APIKey) MaxRetryCount(global *GlobalPreferences) int {
	if k.Preferences != nil && k.Preferences.MaxRetryCount > 0 {
		return k.Preferences.MaxRetryCount
	}
	if global != nil && global.MaxRetryCount > 0 {
		return global.MaxRetryCount
	}
	return 10
}
