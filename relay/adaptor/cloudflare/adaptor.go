// Package cloudflare serves Workers AI models through Cloudflare's
// OpenAI-compatible endpoint. Everything but the URL and auth rides the
// openai adaptor.
package cloudflare

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/gin-gonic/gin"

	"github.com/llmux/llmux/relay/adaptor"
	"github.com/llmux/llmux/relay/adaptor/openai"
	"github.com/llmux/llmux/relay/channeltype"
	"github.com/llmux/llmux/relay/meta"
)

type Adaptor struct {
	openai.Adaptor
}

func (a *Adaptor) Init(m *meta.Meta) {
	a.ChannelType = channeltype.Cloudflare
}

func (a *Adaptor) GetRequestURL(m *meta.Meta) (string, error) {
	if m.Provider == nil || m.Provider.CFAccountID == "" {
		return "", errors.New("cloudflare provider needs cf_account_id")
	}
	base := strings.TrimSuffix(m.BaseURL, "/")
	if base == "" {
		base = channeltype.DefaultBaseURL(channeltype.Cloudflare)
	}
	return fmt.Sprintf("%s/client/v4/accounts/%s/ai/v1/chat/completions", base, m.Provider.CFAccountID), nil
}

func (a *Adaptor) SetupRequestHeader(c *gin.Context, req *http.Request, m *meta.Meta) error {
	adaptor.SetupCommonRequestHeader(c, req, m)
	req.Header.Set("Authorization", "Bearer "+m.APIKey)
	return nil
}

func (a *Adaptor) GetModelList() []string {
	return ModelList
}

func (a *Adaptor) GetChannelName() string {
	return "cloudflare"
}
