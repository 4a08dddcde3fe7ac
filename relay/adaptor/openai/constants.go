package openai

// ModelList is the default model set advertised when a provider lists no
// models of its own.
var ModelList = []string{
	"gpt-3.5-turbo",
	"gpt-4",
	"gpt-4-turbo",
	"gpt-4o",
	"gpt-4o-mini",
	"gpt-4.1",
	"gpt-4.1-mini",
	"gpt-4.1-nano",
	"gpt-5",
	"gpt-5-mini",
	"gpt-5-nano",
	"chatgpt-4o-latest",
	"o1",
	"o1-mini",
	"o3",
	"o3-mini",
	"o4-mini",
	"text-embedding-3-small",
	"text-embedding-3-large",
	"text-embedding-ada-002",
	"whisper-1",
	"tts-1",
	"tts-1-hd",
	"dall-e-3",
	"gpt-image-1",
	"omni-moderation-latest",
}
