// Package channeltype enumerates the upstream engine families a provider can
// declare and their default endpoints.
package channeltype

import "strings"

const (
	Unknown = iota
	OpenAI
	Azure
	Anthropic
	Gemini
	VertexAI
	AWS
	Cloudflare
	OpenRouter
	OpenAIResponse
	OpenAICompatible
)

var names = map[int]string{
	OpenAI:           "openai",
	Azure:            "azure",
	Anthropic:        "anthropic",
	Gemini:           "gemini",
	VertexAI:         "vertex",
	AWS:              "aws",
	Cloudflare:       "cloudflare",
	OpenRouter:       "openrouter",
	OpenAIResponse:   "openai-response",
	OpenAICompatible: "openai-compatible",
}

// Name returns the configuration name of a channel type.
func Name(channelType int) string {
	if name, ok := names[channelType]; ok {
		return name
	}
	return "unknown"
}

// FromName resolves a configured engine name, accepting the aliases the
// reference configurations use.
func FromName(name string) int {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "openai", "":
		return OpenAI
	case "azure", "azure-openai":
		return Azure
	case "anthropic", "claude":
		return Anthropic
	case "gemini", "google":
		return Gemini
	case "vertex", "vertexai", "vertex-ai", "vertex-express":
		return VertexAI
	case "aws", "bedrock":
		return AWS
	case "cloudflare", "workers-ai":
		return Cloudflare
	case "openrouter":
		return OpenRouter
	case "openai-response", "openai-responses", "responses":
		return OpenAIResponse
	case "openai-compatible":
		return OpenAICompatible
	default:
		return Unknown
	}
}
