// Package relay wires adapter families to their implementations.
package relay

import (
	"github.com/llmux/llmux/relay/adaptor"
	"github.com/llmux/llmux/relay/adaptor/anthropic"
	"github.com/llmux/llmux/relay/adaptor/aws"
	"github.com/llmux/llmux/relay/adaptor/cloudflare"
	"github.com/llmux/llmux/relay/adaptor/gemini"
	"github.com/llmux/llmux/relay/adaptor/openai"
	"github.com/llmux/llmux/relay/adaptor/openrouter"
	"github.com/llmux/llmux/relay/adaptor/vertexai"
	"github.com/llmux/llmux/relay/apitype"
)

// GetAdaptor returns the adapter for an API family, nil when unknown.
func GetAdaptor(apiType int) adaptor.Adaptor {
	switch apiType {
	case apitype.OpenAI, apitype.OpenAIResponse:
		return &openai.Adaptor{}
	case apitype.Anthropic:
		return &anthropic.Adaptor{}
	case apitype.Gemini:
		return &gemini.Adaptor{}
	case apitype.VertexAI:
		return &vertexai.Adaptor{}
	case apitype.AWS:
		return &aws.Adaptor{}
	case apitype.Cloudflare:
		return &cloudflare.Adaptor{}
	case apitype.OpenRouter:
		return &openrouter.Adaptor{}
	}
	return nil
}
