// Package openrouter serves the OpenRouter aggregator. The wire protocol is
// OpenAI's; only the default base URL, the attribution headers, and the
// model catalogue differ.
package openrouter

import (
	"github.com/llmux/llmux/relay/adaptor/openai"
	"github.com/llmux/llmux/relay/channeltype"
	"github.com/llmux/llmux/relay/meta"
)

type Adaptor struct {
	openai.Adaptor
}

func (a *Adaptor) Init(m *meta.Meta) {
	a.ChannelType = channeltype.OpenRouter
}

func (a *Adaptor) GetModelList() []string {
	return ModelList
}

func (a *Adaptor) GetChannelName() string {
	return "openrouter"
}
