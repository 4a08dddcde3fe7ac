// Package apitype groups channel types into adapter families.
package apitype

import "github.com/llmux/llmux/relay/channeltype"

const (
	OpenAI = iota
	Anthropic
	Gemini
	VertexAI
	AWS
	Cloudflare
	OpenRouter
	OpenAIResponse
)

// FromChannelType maps an engine to the adapter that speaks its protocol.
// Azure and generic OpenAI-compatible vendors ride the OpenAI adapter.
func FromChannelType(channelType int) int {
	switch channelType {
	case channeltype.Anthropic:
		return Anthropic
	case channeltype.Gemini:
		return Gemini
	case channeltype.VertexAI:
		return VertexAI
	case channeltype.AWS:
		return AWS
	case channeltype.Cloudflare:
		return Cloudflare
	case channeltype.OpenRouter:
		return OpenRouter
	case channeltype.OpenAIResponse:
		return OpenAIResponse
	default:
		return OpenAI
	}
}
