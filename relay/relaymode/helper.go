package relaymode

import "strings"

// GetByPath resolves the relay mode from the inbound request path.
func GetByPath(path string) int {
	switch {
	case strings.HasPrefix(path, "/v1/chat/completions"):
		return ChatCompletions
	case strings.HasPrefix(path, "/v1/embeddings"):
		return Embeddings
	case strings.HasPrefix(path, "/v1/moderations"):
		return Moderations
	case strings.HasPrefix(path, "/v1/images/generations"):
		return ImagesGenerations
	case strings.HasPrefix(path, "/v1/audio/speech"):
		return AudioSpeech
	case strings.HasPrefix(path, "/v1/audio/transcriptions"):
		return AudioTranscription
	case strings.HasPrefix(path, "/v1/messages"):
		return ClaudeMessages
	case strings.HasPrefix(path, "/v1/responses"):
		return ResponseAPI
	case strings.Contains(path, ":generateContent"),
		strings.Contains(path, ":streamGenerateContent"):
		return GeminiGenerateContent
	default:
		return Unknown
	}
}

// IsStreamPath reports whether the Gemini action suffix selects streaming.
func IsStreamPath(path string) bool {
	return strings.Contains(path, ":streamGenerateContent")
}
