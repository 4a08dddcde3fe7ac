package helper

const (
	// RequestIdKey is the response header carrying the request identifier.
	RequestIdKey = "X-Llmux-Request-Id"
)

// MaskAPIKey returns a masked version of an API key for safe logging.
// It shows the first 6 characters and last 4 characters, with "..." in between.
// For short keys (less than 12 chars), it returns "***" to avoid exposing too much.
func MaskAPIKey(key string) string {
	if len(key) < 12 {
		return "***"
	}
	return key[:6] + "..." + key[len(key)-4:]
}

// MaskKeyTail keeps a longer head for operator-facing listings where keys
// must stay distinguishable. Short keys collapse to "***".
func MaskKeyTail(key string) string {
	if len(key) < 12 {
		return "***"
	}
	return key[:7] + "..." + key[len(key)-4:]
}
