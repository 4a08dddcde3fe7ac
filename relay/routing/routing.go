// Package routing orders the providers eligible to serve a model alias for
// one inbound key.
package routing

import (
	"math/rand"
	"strings"
	"sync"

	"github.com/llmux/llmux/monitor"
	"github.com/llmux/llmux/relay/channel"
)

// Provider-ordering algorithms an inbound key can declare.
const (
	FixedPriority = "fixed_priority"
	RoundRobin    = "round_robin"
	Random        = "random"
	Weighted      = "weighted"
)

// aggregatorDepth bounds sk- aggregator expansion so two keys pointing at
// each other cannot loop.
const aggregatorDepth = 1

var (
	rrMu      sync.Mutex
	rrCursors = map[string]int{}
)

// Select returns the providers eligible to serve alias for the key at
// apiKeyIndex, ordered by the key's scheduling algorithm.
func Select(s *channel.Snapshot, alias string, apiKeyIndex int) []*channel.Provider {
	if s == nil {
		return nil
	}
	key := s.KeyAt(apiKeyIndex)
	if key == nil {
		return nil
	}
	matched := eligible(s, key, alias, 0)
	if len(matched) <= 1 {
		return matched
	}

	switch key.SchedulingAlgorithm() {
	case RoundRobin:
		rotate(matched, nextCursor(alias, len(matched)))
	case Random:
		rand.Shuffle(len(matched), func(i, j int) {
			matched[i], matched[j] = matched[j], matched[i]
		})
	case Weighted:
		matched = weightedOrder(matched, key.Weights, alias)
	}
	return matched
}

// eligible walks the provider list in config order, expanding local
// aggregators into the providers of the key they name.
func eligible(s *channel.Snapshot, key *channel.APIKey, alias string, depth int) []*channel.Provider {
	var out []*channel.Provider
	for _, p := range s.Config.Providers {
		if p == nil || !p.IsEnabled() {
			continue
		}
		if !keyAllows(key, p, alias) {
			continue
		}
		if !groupsIntersect(key.Groups, p.Groups) {
			continue
		}

		if p.IsLocalAggregator() && depth < aggregatorDepth {
			if aggKey, _, ok := s.LookupKey(p.Name); ok {
				out = append(out, eligible(s, aggKey, alias, depth+1)...)
				continue
			}
		}

		if _, ok := p.UpstreamModel(alias); !ok {
			continue
		}
		if monitor.Channels.IsExcluded(p.Name, alias) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// keyAllows checks the key's model patterns: "*"/"all", a bare alias,
// "provider/*", or "provider/alias".
func keyAllows(key *channel.APIKey, p *channel.Provider, alias string) bool {
	for _, pattern := range key.Models {
		if pattern == "*" || pattern == "all" {
			return true
		}
		if providerName, modelName, ok := strings.Cut(pattern, "/"); ok {
			if providerName == p.Name && (modelName == "*" || modelName == alias) {
				return true
			}
			continue
		}
		if pattern == alias {
			return true
		}
	}
	return false
}

func groupsIntersect(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

func nextCursor(alias string, n int) int {
	rrMu.Lock()
	defer rrMu.Unlock()
	c := rrCursors[alias]
	rrCursors[alias] = c + 1
	return c % n
}

// rotate shifts the slice left by k in place.
func rotate(providers []*channel.Provider, k int) {
	if k == 0 {
		return
	}
	rotated := make([]*channel.Provider, 0, len(providers))
	rotated = append(rotated, providers[k:]...)
	rotated = append(rotated, providers[:k]...)
	copy(providers, rotated)
}

// weightedOrder samples providers without replacement, proportional to the
// key's "provider/alias" weights. Unweighted entries count as 1.
func weightedOrder(providers []*channel.Provider, weights map[string]int, alias string) []*channel.Provider {
	type entry struct {
		p *channel.Provider
		w int
	}
	entries := make([]entry, 0, len(providers))
	total := 0
	for _, p := range providers {
		w := weights[p.Name+"/"+alias]
		if w <= 0 {
			w = 1
		}
		entries = append(entries, entry{p: p, w: w})
		total += w
	}

	out := make([]*channel.Provider, 0, len(entries))
	for len(entries) > 0 {
		r := rand.Intn(total)
		for i := range entries {
			r -= entries[i].w
			if r < 0 {
				out = append(out, entries[i].p)
				total -= entries[i].w
				entries = append(entries[:i], entries[i+1:]...)
				break
			}
		}
	}
	return out
}

// AvailableModels lists every alias the key at apiKeyIndex can reach,
// deduplicated in config order. Local aggregators contribute the aliases of
// the key they point at.
func AvailableModels(s *channel.Snapshot, apiKeyIndex int) []string {
	if s == nil {
		return nil
	}
	key := s.KeyAt(apiKeyIndex)
	if key == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	collectModels(s, key, 0, seen, &out)
	return out
}

func collectModels(s *channel.Snapshot, key *channel.APIKey, depth int, seen map[string]struct{}, out *[]string) {
	for _, p := range s.Config.Providers {
		if p == nil || !p.IsEnabled() {
			continue
		}
		if !groupsIntersect(key.Groups, p.Groups) {
			continue
		}
		if p.IsLocalAggregator() && depth < aggregatorDepth {
			if aggKey, _, ok := s.LookupKey(p.Name); ok {
				collectModels(s, aggKey, depth+1, seen, out)
				continue
			}
		}
		for _, alias := range p.Aliases {
			if !keyAllows(key, p, alias) {
				continue
			}
			if _, dup := seen[alias]; dup {
				continue
			}
			seen[alias] = struct{}{}
			*out = append(*out, alias)
		}
	}
}
