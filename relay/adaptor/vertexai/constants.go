package vertexai

// ModelList is the default model set advertised when a provider lists no
// models of its own.
var ModelList = []string{
	"gemini-1.5-flash",
	"gemini-1.5-pro",
	"gemini-2.0-flash",
	"gemini-2.5-flash",
	"gemini-2.5-pro",
	"claude-3-5-sonnet@20240620",
	"claude-3-5-sonnet-v2@20241022",
	"claude-3-7-sonnet@20250219",
	"claude-sonnet-4@20250514",
	"claude-opus-4@20250514",
	"claude-3-haiku@20240307",
}
