package cloudflare

var ModelList = []string{
	"@cf/meta/llama-3.1-8b-instruct",
	"@cf/meta/llama-3.1-70b-instruct-fp8-fast",
	"@cf/meta/llama-3.3-70b-instruct-fp8-fast",
	"@cf/meta/llama-4-scout-17b-16e-instruct",
	"@cf/mistral/mistral-7b-instruct-v0.1",
	"@cf/mistralai/mistral-small-3.1-24b-instruct",
	"@cf/deepseek-ai/deepseek-r1-distill-qwen-32b",
	"@cf/google/gemma-3-12b-it",
	"@cf/qwen/qwq-32b",
	"@cf/qwen/qwen2.5-coder-32b-instruct",
	"@cf/openai/gpt-oss-120b",
	"@cf/openai/gpt-oss-20b",
	"@cf/baai/bge-m3",
}
