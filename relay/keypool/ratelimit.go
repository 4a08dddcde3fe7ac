// Package keypool rotates upstream credentials under per-key rate limits and
// cooldowns. Every provider carries one CircularList per configuration
// snapshot.
package keypool

import (
	"strconv"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
)

// Limit is one rate-limit window: at most Count requests per Window.
type Limit struct {
	Count  int
	Window time.Duration
}

// ScopedLimits maps a model scope to its windows. The special scope
// "default" applies when no exact or prefix scope matches.
type ScopedLimits map[string][]Limit

// DefaultScope is the fallback scope name.
const DefaultScope = "default"

// ParseRateLimit parses a limit expression like "15/min", "100k/day" or
// "20/min,500/day". All windows in the list must hold simultaneously.
func ParseRateLimit(spec string) ([]Limit, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}

	var limits []Limit
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.SplitN(part, "/", 2)
		if len(fields) != 2 {
			return nil, errors.Errorf("invalid rate limit %q: want count/unit", part)
		}

		count, err := parseCount(strings.TrimSpace(fields[0]))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid rate limit count in %q", part)
		}

		window, err := parseWindow(strings.TrimSpace(fields[1]))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid rate limit unit in %q", part)
		}

		limits = append(limits, Limit{Count: count, Window: window})
	}
	return limits, nil
}

func parseCount(raw string) (int, error) {
	multiplier := 1
	lower := strings.ToLower(raw)
	if strings.HasSuffix(lower, "k") {
		multiplier = 1000
		raw = raw[:len(raw)-1]
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, errors.Wrap(err, "parse count")
	}
	if n <= 0 {
		return 0, errors.New("count must be positive")
	}
	return n * multiplier, nil
}

func parseWindow(raw string) (time.Duration, error) {
	// A leading digit multiplies the unit, e.g. "30s" or "2h".
	i := 0
	for i < len(raw) && raw[i] >= '0' && raw[i] <= '9' {
		i++
	}
	factor := 1
	if i > 0 {
		n, err := strconv.Atoi(raw[:i])
		if err != nil || n <= 0 {
			return 0, errors.Errorf("invalid window multiplier %q", raw[:i])
		}
		factor = n
	}

	var unit time.Duration
	switch strings.ToLower(strings.TrimSpace(raw[i:])) {
	case "s", "sec", "second", "seconds":
		unit = time.Second
	case "min", "minute", "minutes", "m":
		unit = time.Minute
	case "h", "hr", "hour", "hours":
		unit = time.Hour
	case "d", "day", "days":
		unit = 24 * time.Hour
	default:
		return 0, errors.Errorf("unknown window unit %q", raw[i:])
	}
	return time.Duration(factor) * unit, nil
}

// ParseScopedLimits accepts the YAML forms a rate limit preference can take:
// a plain expression string, or a model-to-expression map whose values are
// strings or lists of strings.
func ParseScopedLimits(raw any) (ScopedLimits, error) {
	if raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case string:
		limits, err := ParseRateLimit(v)
		if err != nil {
			return nil, err
		}
		if limits == nil {
			return nil, nil
		}
		return ScopedLimits{DefaultScope: limits}, nil
	case map[string]any:
		scoped := make(ScopedLimits, len(v))
		for scope, inner := range v {
			limits, err := parseScopeValue(inner)
			if err != nil {
				return nil, errors.Wrapf(err, "rate limit for %q", scope)
			}
			scoped[scope] = limits
		}
		return scoped, nil
	default:
		return nil, errors.Errorf("unsupported rate limit type %T", raw)
	}
}

// parseScopeValue parses one scope's expressions: a single string or a
// sequence of strings, all of whose windows must hold.
func parseScopeValue(raw any) ([]Limit, error) {
	switch v := raw.(type) {
	case string:
		return ParseRateLimit(v)
	case []any:
		var limits []Limit
		for _, item := range v {
			expr, ok := item.(string)
			if !ok {
				return nil, errors.Errorf("rate limit entry must be a string, got %T", item)
			}
			parsed, err := ParseRateLimit(expr)
			if err != nil {
				return nil, err
			}
			limits = append(limits, parsed...)
		}
		return limits, nil
	case []string:
		var limits []Limit
		for _, expr := range v {
			parsed, err := ParseRateLimit(expr)
			if err != nil {
				return nil, err
			}
			limits = append(limits, parsed...)
		}
		return limits, nil
	default:
		return nil, errors.Errorf("must be a string or list of strings, got %T", raw)
	}
}

// ResolveScope returns the scope key whose limits govern model: an exact
// match wins, then the longest matching prefix, then "default".
func (s ScopedLimits) ResolveScope(model string) (string, []Limit) {
	if len(s) == 0 {
		return "", nil
	}
	if limits, ok := s[model]; ok {
		return model, limits
	}
	bestScope := ""
	for scope := range s {
		if scope == DefaultScope {
			continue
		}
		if strings.HasPrefix(model, scope) && len(scope) > len(bestScope) {
			bestScope = scope
		}
	}
	if bestScope != "" {
		return bestScope, s[bestScope]
	}
	if limits, ok := s[DefaultScope]; ok {
		return DefaultScope, limits
	}
	return "", nil
}
