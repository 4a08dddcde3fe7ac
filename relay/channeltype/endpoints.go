package channeltype

import "strings"

// Default base URLs per engine. A provider's base_url overrides these; for
// Vertex and Cloudflare the account fields force them back.
var defaultBaseURLs = map[int]string{
	OpenAI:           "https://api.openai.com",
	Azure:            "",
	Anthropic:        "https://api.anthropic.com",
	Gemini:           "https://generativelanguage.googleapis.com",
	VertexAI:         "https://aiplatform.googleapis.com",
	AWS:              "",
	Cloudflare:       "https://api.cloudflare.com",
	OpenRouter:       "https://openrouter.ai/api/v1",
	OpenAIResponse:   "https://api.openai.com",
	OpenAICompatible: "",
}

// DefaultBaseURL returns the default endpoint for a channel type, empty when
// the provider must configure one.
func DefaultBaseURL(channelType int) string {
	return defaultBaseURLs[channelType]
}

// InferFromBaseURL guesses the engine from a configured base URL. Providers
// that predate explicit engine declarations rely on this.
func InferFromBaseURL(baseURL string) int {
	lower := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(baseURL), "/"))
	switch {
	case lower == "":
		return OpenAI
	case strings.Contains(lower, "generativelanguage.googleapis.com"):
		return Gemini
	case strings.Contains(lower, "aiplatform.googleapis.com"):
		return VertexAI
	case strings.Contains(lower, "api.anthropic.com"), strings.HasSuffix(lower, "/v1/messages"):
		return Anthropic
	case strings.Contains(lower, "api.cloudflare.com"):
		return Cloudflare
	case strings.Contains(lower, "openrouter.ai"):
		return OpenRouter
	case strings.Contains(lower, "openai.azure.com"):
		return Azure
	case strings.Contains(lower, "bedrock"), strings.Contains(lower, "amazonaws.com"):
		return AWS
	case strings.HasSuffix(lower, "/responses"):
		return OpenAIResponse
	case strings.Contains(lower, "api.openai.com"):
		return OpenAI
	default:
		return OpenAICompatible
	}
}
