// Package monitor tracks failing (provider, model) pairs and exports
// gateway metrics.
package monitor

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/llmux/llmux/common/metrics"
)

// Blacklist holds (provider, model) pairs excluded from routing until their
// cooldown expires.
type Blacklist struct {
	cache *gocache.Cache
}

func NewBlacklist() *Blacklist {
	return &Blacklist{cache: gocache.New(gocache.NoExpiration, time.Minute)}
}

func blacklistKey(provider, model string) string {
	return provider + "\x1f" + model
}

// Exclude removes the pair from routing for the cooldown period.
func (b *Blacklist) Exclude(provider, model string, cooldown time.Duration) {
	if cooldown <= 0 {
		return
	}
	b.cache.Set(blacklistKey(provider, model), struct{}{}, cooldown)
	metrics.GlobalRecorder.RecordChannelCooldown(provider, model)
}

// IsExcluded reports whether the pair is cooling down.
func (b *Blacklist) IsExcluded(provider, model string) bool {
	_, found := b.cache.Get(blacklistKey(provider, model))
	return found
}

// Release drops one pair, used when an operator re-enables a provider.
func (b *Blacklist) Release(provider, model string) {
	b.cache.Delete(blacklistKey(provider, model))
}

// ReleaseAll clears every exclusion, run on configuration reload.
func (b *Blacklist) ReleaseAll() {
	b.cache.Flush()
}

// Channels is the process-wide blacklist consulted by routing.
var Channels = NewBlacklist()
