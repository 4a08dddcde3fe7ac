package cloudflare

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/llmux/llmux/relay/channel"
	"github.com/llmux/llmux/relay/meta"
)

func TestGetRequestURL(t *testing.T) {
	a := &Adaptor{}

	_, err := a.GetRequestURL(&meta.Meta{Provider: &channel.Provider{}})
	require.Error(t, err)

	url, err := a.GetRequestURL(&meta.Meta{
		Provider: &channel.Provider{CFAccountID: "abc123"},
	})
	require.NoError(t, err)
	require.Equal(t, "https://api.cloudflare.com/client/v4/accounts/abc123/ai/v1/chat/completions", url)

	url, err = a.GetRequestURL(&meta.Meta{
		BaseURL:  "https://gateway.example.com/",
		Provider: &channel.Provider{CFAccountID: "abc123"},
	})
	require.NoError(t, err)
	require.Equal(t, "https://gateway.example.com/client/v4/accounts/abc123/ai/v1/chat/completions", url)
}
