package anthropic

// ModelList is the default model set advertised when a provider lists no
// models of its own.
var ModelList = []string{
	"claude-3-5-haiku-20241022",
	"claude-3-5-sonnet-20241022",
	"claude-3-7-sonnet-20250219",
	"claude-sonnet-4-20250514",
	"claude-opus-4-20250514",
	"claude-opus-4-1-20250805",
	"claude-3-haiku-20240307",
	"claude-3-opus-20240229",
}
