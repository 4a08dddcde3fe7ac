package gemini

// ModelList is the default model set advertised when a provider lists no
// models of its own.
var ModelList = []string{
	"gemini-1.5-flash",
	"gemini-1.5-pro",
	"gemini-2.0-flash",
	"gemini-2.0-flash-lite",
	"gemini-2.0-flash-thinking-exp",
	"gemini-2.5-flash",
	"gemini-2.5-flash-lite",
	"gemini-2.5-pro",
	"gemini-2.0-flash-exp-image-generation",
	"text-embedding-004",
}
