package common

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const (
	// StoredStringLimit caps individual string leaves in stored payloads.
	StoredStringLimit = 500
	// StoredListLimit caps array lengths in stored payloads.
	StoredListLimit = 20
	// StoredMapLimit caps map key counts in stored payloads.
	StoredMapLimit = 30
	// StoredDepthLimit caps recursion when truncating stored payloads.
	StoredDepthLimit = 10
)

var sensitiveHeaderNames = map[string]struct{}{
	"authorization":  {},
	"x-api-key":      {},
	"api-key":        {},
	"x-goog-api-key": {},
	"cookie":         {},
}

// TruncateJSONForStorage shrinks a JSON payload before it is written to the
// request log: long strings, big arrays and wide maps are cut so a single
// request cannot bloat the database. Non-JSON input is truncated bytewise.
func TruncateJSONForStorage(raw []byte, limit int) []byte {
	if len(raw) == 0 {
		return raw
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		if limit > 0 && len(raw) > limit {
			return raw[:limit]
		}
		return raw
	}
	truncated := truncateStoredValue(payload, 0)
	out, err := json.Marshal(truncated)
	if err != nil {
		if limit > 0 && len(raw) > limit {
			return raw[:limit]
		}
		return raw
	}
	if limit > 0 && len(out) > limit {
		return out[:limit]
	}
	return out
}

func truncateStoredValue(value any, depth int) any {
	if depth >= StoredDepthLimit {
		return "[depth limit]"
	}
	switch v := value.(type) {
	case string:
		if len(v) > StoredStringLimit {
			return v[:StoredStringLimit] + fmt.Sprintf("...[%d bytes total]", len(v))
		}
		return v
	case []any:
		n := len(v)
		if n > StoredListLimit {
			n = StoredListLimit
		}
		out := make([]any, 0, n)
		for i := 0; i < n; i++ {
			out = append(out, truncateStoredValue(v[i], depth+1))
		}
		if len(v) > StoredListLimit {
			out = append(out, fmt.Sprintf("...[%d items total]", len(v)))
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		kept := 0
		for key, inner := range v {
			if kept >= StoredMapLimit {
				out["_truncated"] = fmt.Sprintf("%d keys total", len(v))
				break
			}
			out[key] = truncateStoredValue(inner, depth+1)
			kept++
		}
		return out
	default:
		return v
	}
}

// RedactHeadersForStorage serializes request headers for the request log with
// credential values masked.
func RedactHeadersForStorage(h http.Header) string {
	if len(h) == 0 {
		return ""
	}
	out := make(map[string]string, len(h))
	for name, values := range h {
		if len(values) == 0 {
			continue
		}
		if _, sensitive := sensitiveHeaderNames[strings.ToLower(name)]; sensitive {
			out[name] = MaskSecret(values[0])
			continue
		}
		out[name] = values[0]
	}
	data, err := json.Marshal(out)
	if err != nil {
		return ""
	}
	return string(data)
}
