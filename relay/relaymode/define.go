// Package relaymode enumerates the inbound endpoint families the gateway
// serves. The mode decides which conversion path a request takes; the
// dialect decides its wire format.
package relaymode

const (
	Unknown = iota
	ChatCompletions
	Embeddings
	Moderations
	ImagesGenerations
	AudioSpeech
	AudioTranscription
	ClaudeMessages
	ResponseAPI
	GeminiGenerateContent
)

// String returns a human-readable name for logs.
func String(mode int) string {
	switch mode {
	case ChatCompletions:
		return "chat_completions"
	case Embeddings:
		return "embeddings"
	case Moderations:
		return "moderations"
	case ImagesGenerations:
		return "images_generations"
	case AudioSpeech:
		return "audio_speech"
	case AudioTranscription:
		return "audio_transcription"
	case ClaudeMessages:
		return "claude_messages"
	case ResponseAPI:
		return "response_api"
	case GeminiGenerateContent:
		return "gemini_generate_content"
	default:
		return "unknown"
	}
}
