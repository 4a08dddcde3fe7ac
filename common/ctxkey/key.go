// Package ctxkey centralizes the keys stored on gin contexts so packages do
// not collide on ad-hoc strings.
package ctxkey

const (
	// RequestBody caches the raw inbound body after the first read.
	RequestBody = "key_request_body"
	// RequestModel is the model alias the client asked for, before any
	// passthrough rename.
	RequestModel = "request_model"
	// Dialect is the inbound API dialect id (openai, claude, gemini).
	Dialect = "dialect"
	// APIKey is the resolved inbound key entry.
	APIKey = "api_key"
	// APIKeyIndex is the position of the inbound key in the snapshot.
	APIKeyIndex = "api_key_index"
	// Snapshot is the configuration snapshot the request is pinned to.
	Snapshot = "config_snapshot"
	// RelayMeta carries the per-attempt relay metadata.
	RelayMeta = "relay_meta"
	// CanonicalRequest is the parsed canonical chat request.
	CanonicalRequest = "canonical_request"
	// Passthrough marks a request that bypasses canonical conversion.
	Passthrough = "passthrough"
	// StreamStarted is set once SSE bytes have been written to the client.
	StreamStarted = "stream_started"
	// RetryPath accumulates per-attempt failure entries for the stats row.
	RetryPath = "retry_path"
	// ClientIP is the resolved caller address recorded in stats.
	ClientIP = "client_ip"
	// ConvertedRequest is the engine-native payload for adaptors that do
	// not ship it over plain HTTP (AWS SDK invocations).
	ConvertedRequest = "converted_request"
	// StreamRenderer is the per-request dialect stream renderer.
	StreamRenderer = "stream_renderer"
	// FirstResponseTime is when the first upstream byte arrived.
	FirstResponseTime = "first_response_time"
	// ContentStartTime is when the first non-empty content delta arrived.
	ContentStartTime = "content_start_time"
	// ResponseCapture is the capped copy of the bytes sent to the client.
	ResponseCapture = "response_capture"
	// UpstreamRequestBody is the payload sent upstream on the last attempt.
	UpstreamRequestBody = "upstream_request_body"
	// RelayUsage is the usage accounting of the completed dispatch.
	RelayUsage = "relay_usage"
)
