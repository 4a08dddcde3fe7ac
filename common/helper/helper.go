package helper

import (
	"fmt"
	"time"
)

// GetTimestamp returns the current unix timestamp in seconds.
func GetTimestamp() int64 {
	return time.Now().Unix()
}

// MessageWithRequestId appends the request id to a client-facing message so
// failures can be correlated with server logs.
func MessageWithRequestId(message string, id string) string {
	return fmt.Sprintf("%s (request id: %s)", message, id)
}

// Intersect returns the elements of a that also appear in b, preserving the
// order of a. Used for API key / provider group matching.
func Intersect(a, b []string) []string {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(b))
	for _, v := range b {
		set[v] = struct{}{}
	}
	var out []string
	for _, v := range a {
		if _, ok := set[v]; ok {
			out = append(out, v)
		}
	}
	return out
}

// TruncateString caps a string at limit bytes. Multi-byte runes may be cut;
// callers that care about display use the logging sanitizer instead.
func TruncateString(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return s[:limit]
}
