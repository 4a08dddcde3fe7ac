package channel

import (
	"context"
	"io"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/llmux/llmux/common/client"
	"github.com/llmux/llmux/common/config"
	"github.com/llmux/llmux/common/logger"
	"github.com/llmux/llmux/common/network"
	"github.com/llmux/llmux/relay/keypool"
)

// Snapshot is one immutable view of the configuration plus the runtime
// state built from it. Requests pin the snapshot they started with.
type Snapshot struct {
	Config *Config

	// KeyPools rotates upstream keys per provider id.
	KeyPools map[string]*keypool.CircularList

	keysByToken map[string]int
}

var current atomic.Pointer[Snapshot]

// SmartKeyRanker supplies the historical success ordering for providers on
// the smart schedule. Set by main after the statistics store is up; when
// nil or failing, smart pools keep the config order.
var SmartKeyRanker func(provider string) ([]string, error)

// Current returns the active snapshot, nil before the first load.
func Current() *Snapshot {
	return current.Load()
}

// Replace atomically installs a new snapshot.
func Replace(s *Snapshot) {
	current.Store(s)
}

// BuildSnapshot derives the runtime state from a parsed configuration.
func BuildSnapshot(cfg *Config) (*Snapshot, error) {
	s := &Snapshot{
		Config:      cfg,
		KeyPools:    make(map[string]*keypool.CircularList, len(cfg.Providers)),
		keysByToken: make(map[string]int, len(cfg.APIKeys)),
	}
	for _, p := range cfg.Providers {
		var rawLimit any
		if p.Preferences != nil {
			rawLimit = p.Preferences.APIKeyRateLimit
		}
		limits, err := keypool.ParseScopedLimits(rawLimit)
		if err != nil {
			return nil, errors.Wrapf(err, "provider %q api_key_rate_limit", p.Name)
		}
		pool := keypool.NewCircularList(p.Keys, p.DisabledKeys, limits, p.ScheduleAlgorithm())
		if len(p.KeyWeights) > 0 {
			pool.SetWeights(p.KeyWeights)
		}
		if p.ScheduleAlgorithm() == keypool.ScheduleSmart && SmartKeyRanker != nil {
			ranked, err := SmartKeyRanker(p.Name)
			if err != nil {
				logger.Logger.Warn("smart key ranking unavailable, keeping config order",
					zap.String("provider", p.Name), zap.Error(err))
			} else if len(ranked) > 0 {
				pool.Reorder(keypool.TransposeRegroup(ranked, 100))
			}
		}
		s.KeyPools[p.Name] = pool
	}
	for i, k := range cfg.APIKeys {
		if _, dup := s.keysByToken[k.Key]; !dup {
			s.keysByToken[k.Key] = i
		}
	}
	return s, nil
}

// LookupKey resolves an inbound bearer token to its key entry and index.
func (s *Snapshot) LookupKey(token string) (*APIKey, int, bool) {
	idx, ok := s.keysByToken[token]
	if !ok {
		return nil, 0, false
	}
	return s.Config.APIKeys[idx], idx, true
}

// KeyAt returns the key entry at index, nil when out of range.
func (s *Snapshot) KeyAt(index int) *APIKey {
	if index < 0 || index >= len(s.Config.APIKeys) {
		return nil
	}
	return s.Config.APIKeys[index]
}

// ProviderByName returns the provider entry with the given id.
func (s *Snapshot) ProviderByName(name string) *Provider {
	for _, p := range s.Config.Providers {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// CooldownPeriod is how long a failing (provider, model) pair stays out of
// routing.
func (s *Snapshot) CooldownPeriod() time.Duration {
	if s.Config.Preferences != nil && s.Config.Preferences.CooldownPeriod != nil {
		return time.Duration(*s.Config.Preferences.CooldownPeriod) * time.Second
	}
	return config.CooldownPeriod
}

// ErrorTriggers are substrings that fail a stream on its first chunk.
func (s *Snapshot) ErrorTriggers() []string {
	if s.Config.Preferences == nil {
		return nil
	}
	return s.Config.Preferences.ErrorTriggers
}

// ModelTimeout resolves the per-attempt upstream timeout for a provider and
// alias: provider preference first, then global, then the TIMEOUT default.
// Resolution inside a map is exact key, then longest prefix, then "default".
func (s *Snapshot) ModelTimeout(p *Provider, alias string) time.Duration {
	if p != nil && p.Preferences != nil {
		if secs, ok := resolveModelSeconds(p.Preferences.ModelTimeout, alias); ok {
			return time.Duration(secs) * time.Second
		}
	}
	if s.Config.Preferences != nil {
		if secs, ok := resolveModelSeconds(s.Config.Preferences.ModelTimeout, alias); ok {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Duration(config.RelayTimeout) * time.Second
}

// KeepaliveInterval resolves the comment-ping interval, zero meaning none.
// An interval at or above the attempt timeout is treated as none.
func (s *Snapshot) KeepaliveInterval(p *Provider, alias string, timeout time.Duration) time.Duration {
	var secs int
	var ok bool
	if p != nil && p.Preferences != nil {
		secs, ok = resolveModelSeconds(p.Preferences.KeepaliveInterval, alias)
	}
	if !ok && s.Config.Preferences != nil {
		secs, ok = resolveModelSeconds(s.Config.Preferences.KeepaliveInterval, alias)
	}
	if !ok || secs <= 0 {
		return 0
	}
	interval := time.Duration(secs) * time.Second
	if timeout > 0 && interval >= timeout {
		return 0
	}
	return interval
}

func resolveModelSeconds(m map[string]int, alias string) (int, bool) {
	if len(m) == 0 {
		return 0, false
	}
	if secs, ok := m[alias]; ok {
		return secs, true
	}
	best := ""
	for scope := range m {
		if scope == keypool.DefaultScope {
			continue
		}
		if len(scope) > len(best) && len(alias) >= len(scope) && alias[:len(scope)] == scope {
			best = scope
		}
	}
	if best != "" {
		return m[best], true
	}
	if secs, ok := m[keypool.DefaultScope]; ok {
		return secs, true
	}
	return 0, false
}

// Load reads the configuration from CONFIG_PATH, falling back to a
// CONFIG_URL fetch when the file does not exist, then installs the snapshot.
func Load() (*Snapshot, error) {
	data, err := readConfigData()
	if err != nil {
		return nil, err
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, err
	}
	snap, err := BuildSnapshot(cfg)
	if err != nil {
		return nil, err
	}
	Replace(snap)
	logger.Logger.Info("configuration loaded",
		zap.Int("providers", len(cfg.Providers)),
		zap.Int("api_keys", len(cfg.APIKeys)))
	return snap, nil
}

func readConfigData() ([]byte, error) {
	data, err := os.ReadFile(config.ConfigPath)
	if err == nil {
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "read config %s", config.ConfigPath)
	}
	if config.ConfigURL == "" {
		return nil, errors.Errorf("config %s does not exist and CONFIG_URL is unset", config.ConfigPath)
	}

	client.Init()
	// CONFIG_URL is operator-supplied; refuse private address space.
	if _, err := network.ValidateExternalURL(context.Background(), config.ConfigURL); err != nil {
		return nil, errors.Wrap(err, "validate CONFIG_URL")
	}
	req, err := http.NewRequest(http.MethodGet, config.ConfigURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build config fetch request")
	}
	client.SetCommonHeaders(req)
	resp, err := client.ImpatientHTTPClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch config from CONFIG_URL")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("fetch config from CONFIG_URL: status %d", resp.StatusCode)
	}
	data, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read config body")
	}
	return data, nil
}
