package common

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// DefaultLogBodyLimit caps the bytes emitted for payload previews.
	DefaultLogBodyLimit = 4096
	// LogTruncationSuffix marks truncated log values.
	LogTruncationSuffix = "...[truncated]"

	base64RedactionThreshold = 256
	base64SampleSize         = 256
)

// SanitizePayloadForLogging returns a log-safe preview of body. JSON payloads
// are walked so string leaves get truncated and inline base64 gets replaced
// with a length placeholder; anything else is cut at limit.
func SanitizePayloadForLogging(body []byte, limit int) (preview []byte, truncated bool) {
	if limit <= 0 {
		return body, false
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		var payload any
		if err := json.Unmarshal(body, &payload); err == nil {
			sanitized := sanitizeJSONValue(payload, limit)
			if sanitizedBytes, err := json.Marshal(sanitized); err == nil {
				if len(sanitizedBytes) > limit {
					return truncateWithSuffix(sanitizedBytes, limit), true
				}
				return sanitizedBytes, false
			}
		}
	}

	if len(body) <= limit {
		return body, false
	}
	return body[:limit], true
}

func sanitizeJSONValue(value any, limit int) any {
	switch v := value.(type) {
	case map[string]any:
		sanitized := make(map[string]any, len(v))
		for key, inner := range v {
			sanitized[key] = sanitizeJSONValue(inner, limit)
		}
		return sanitized
	case []any:
		sanitized := make([]any, len(v))
		for i, inner := range v {
			sanitized[i] = sanitizeJSONValue(inner, limit)
		}
		return sanitized
	case string:
		return sanitizeString(v, limit)
	default:
		return v
	}
}

func sanitizeString(value string, limit int) string {
	if value == "" {
		return value
	}
	if sanitized := sanitizeDataURL(value, limit); sanitized != "" {
		return sanitized
	}
	if isLikelyBase64(value) {
		placeholder := fmt.Sprintf("[base64 len=%d]", len(value))
		return truncateStringWithSuffix(placeholder, limit)
	}
	if len(value) <= limit {
		return value
	}
	return truncateStringWithSuffix(value, limit)
}

// sanitizeDataURL keeps the data URL prefix but drops the payload. Returns ""
// when value is not a data URL.
func sanitizeDataURL(value string, limit int) string {
	lower := strings.ToLower(value)
	if !strings.HasPrefix(lower, "data:") {
		return ""
	}
	idx := strings.Index(lower, "base64,")
	if idx < 0 {
		return ""
	}
	header := value[:idx+len("base64,")]
	dataLen := len(value) - (idx + len("base64,"))
	placeholder := fmt.Sprintf("[truncated base64 len=%d]", dataLen)
	return truncateStringWithSuffix(header+placeholder, limit)
}

// isLikelyBase64 reports whether the string looks like a raw base64 payload
// large enough to be worth redacting.
func isLikelyBase64(value string) bool {
	if len(value) < base64RedactionThreshold {
		return false
	}
	if strings.ContainsAny(value, " \n\r\t") {
		return false
	}
	sampleLen := min(len(value), base64SampleSize)
	for i := 0; i < sampleLen; i++ {
		ch := value[i]
		if (ch >= 'A' && ch <= 'Z') ||
			(ch >= 'a' && ch <= 'z') ||
			(ch >= '0' && ch <= '9') ||
			ch == '+' || ch == '/' || ch == '=' || ch == '-' || ch == '_' {
			continue
		}
		return false
	}
	return true
}

func truncateStringWithSuffix(value string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if len(value) <= limit {
		return value
	}
	if limit <= len(LogTruncationSuffix) {
		return LogTruncationSuffix[:limit]
	}
	return value[:limit-len(LogTruncationSuffix)] + LogTruncationSuffix
}

func truncateWithSuffix(data []byte, limit int) []byte {
	if limit <= 0 {
		return nil
	}
	suffix := []byte(LogTruncationSuffix)
	if limit <= len(suffix) {
		return append([]byte{}, suffix[:limit]...)
	}
	headLen := limit - len(suffix)
	truncated := make([]byte, 0, limit)
	truncated = append(truncated, data[:headLen]...)
	truncated = append(truncated, suffix...)
	return truncated
}
