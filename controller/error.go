package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/Laisky/errors/v2"

	"github.com/llmux/llmux/relay/model"
)

// statusClientClosedRequest is the nginx convention for a client that went
// away before the response finished.
const statusClientClosedRequest = 499

// lengthExceededMarkers map payload substrings to "request too large".
var lengthExceededMarkers = []string{
	"string_above_max_length",
	"must be less than max_seq_len",
	"reduce the length",
	"text fields that are too large",
	"exceeds the maximum number of tokens",
}

// invalidKeyMarkers identify upstream credential failures.
var invalidKeyMarkers = []string{
	"API_KEY_INVALID",
	"API key not valid",
	"API key expired",
}

// forbiddenMarkers identify region and policy blocks.
var forbiddenMarkers = []string{
	"User location is not supported",
	"content management policy",
	"ResponsibleAIPolicyViolation",
}

// cooldownExemptMarkers are transient or caller-side failures that should
// not burn a key's standing: the key gets no cooldown and its rate-limit
// grant is refunded.
var cooldownExemptMarkers = []string{
	"BrokenResourceError",
	"Proxy connection timed out",
	"EndOfStream",
	"'status': 'INVALID_ARGUMENT'",
	"Unable to connect to service",
	"Connection closed unexpectedly",
	"Invalid JSON payload received. Unknown name",
	"User location is not supported",
	"The model is overloaded",
	"SSL",
	"handshake",
	"Worker exceeded resource limits",
}

// classifyAttemptError normalizes an attempt failure to the status code the
// caller should see, from the transport error kind and well-known payload
// shapes.
func classifyAttemptError(bizErr *model.ErrorWithStatusCode) int {
	if bizErr == nil {
		return http.StatusOK
	}
	message := bizErr.Error.Message
	raw := bizErr.Error.RawError

	switch {
	case raw != nil && errors.Is(raw, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case containsAny(message, "Client.Timeout exceeded", "context deadline exceeded", "timeout awaiting response"):
		return http.StatusGatewayTimeout
	case containsAny(message, "connection refused", "no such host", "dial tcp", "connect: "):
		return http.StatusServiceUnavailable
	case containsAny(message, "unexpected EOF", "http2: ", "malformed HTTP", "transport connection broken"):
		return http.StatusBadGateway
	}

	for _, marker := range lengthExceededMarkers {
		if strings.Contains(message, marker) {
			return http.StatusRequestEntityTooLarge
		}
	}
	for _, marker := range invalidKeyMarkers {
		if strings.Contains(message, marker) {
			return http.StatusUnauthorized
		}
	}
	for _, marker := range forbiddenMarkers {
		if strings.Contains(message, marker) {
			return http.StatusForbidden
		}
	}

	// Reverse proxies answer oversized or malformed bodies with HTML
	// instead of the vendor's JSON envelope.
	if strings.Contains(message, "<html") || strings.Contains(message, "<center>") {
		if strings.Contains(message, "413 Request Entity Too Large") {
			return http.StatusTooManyRequests
		}
		if strings.Contains(message, "400 Bad Request") {
			return http.StatusBadGateway
		}
	}

	// Upstream HTTP statuses pass through untouched.
	if bizErr.StatusCode >= 400 && bizErr.StatusCode != http.StatusServiceUnavailable {
		return bizErr.StatusCode
	}
	if bizErr.StatusCode == http.StatusServiceUnavailable && raw == nil {
		return bizErr.StatusCode
	}
	if raw != nil {
		return http.StatusInternalServerError
	}
	return bizErr.StatusCode
}

// isCooldownExempt reports whether the failure should skip provider and key
// cooldowns.
func isCooldownExempt(message string) bool {
	for _, marker := range cooldownExemptMarkers {
		if strings.Contains(message, marker) {
			return true
		}
	}
	return false
}

// isClientCancellation reports whether the caller abandoned the request.
func isClientCancellation(requestCtx context.Context, bizErr *model.ErrorWithStatusCode) bool {
	if requestCtx.Err() == nil {
		return false
	}
	if bizErr != nil && bizErr.Error.RawError != nil && errors.Is(bizErr.Error.RawError, context.Canceled) {
		return true
	}
	return errors.Is(requestCtx.Err(), context.Canceled)
}

// terminalError shapes the failure the caller sees once every attempt is
// spent. A message that is itself a vendor error envelope is unwrapped so
// the aggregate reads "All <model> error: <upstream message>".
func terminalError(alias string, bizErr *model.ErrorWithStatusCode) *model.Error {
	out := bizErr.Error
	message := out.Message
	var wrapped struct {
		Error *model.Error `json:"error"`
	}
	if json.Unmarshal([]byte(message), &wrapped) == nil && wrapped.Error != nil && wrapped.Error.Message != "" {
		message = wrapped.Error.Message
	}
	out.Message = fmt.Sprintf("All %s error: %s", alias, message)
	return &out
}

func containsAny(s string, markers ...string) bool {
	for _, marker := range markers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}
