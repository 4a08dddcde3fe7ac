package openrouter

var ModelList = []string{
	"openai/gpt-4o",
	"openai/gpt-4o-mini",
	"openai/o3-mini",
	"anthropic/claude-3.5-sonnet",
	"anthropic/claude-sonnet-4",
	"google/gemini-2.5-pro",
	"google/gemini-2.5-flash",
	"meta-llama/llama-3.3-70b-instruct",
	"mistralai/mistral-large",
	"deepseek/deepseek-chat",
	"deepseek/deepseek-r1",
	"qwen/qwen-2.5-72b-instruct",
}
