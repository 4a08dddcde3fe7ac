package vertexai

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmux/llmux/relay/channel"
	"github.com/llmux/llmux/relay/meta"
)

func TestRegionRingRotates(t *testing.T) {
	ring := newRegionRing("a", "b")
	assert.Equal(t, "a", ring.next())
	assert.Equal(t, "b", ring.next())
	assert.Equal(t, "a", ring.next())
}

func TestRegionForFamilies(t *testing.T) {
	assert.Equal(t, "global", regionFor("gemini-3-pro-preview"))
	assert.Contains(t, gemini25.regions, regionFor("gemini-2.5-pro"))
	assert.Contains(t, gemini1.regions, regionFor("gemini-1.5-flash"))
	assert.Contains(t, claudeSonnet35.regions, regionFor("claude-3-5-sonnet-v2@20241022"))
	assert.Equal(t, "us-east5", regionFor("claude-3-opus@20240229"))
}

func TestGetRequestURL(t *testing.T) {
	a := &Adaptor{}
	provider := &channel.Provider{ProjectID: "my-project"}

	url, err := a.GetRequestURL(&meta.Meta{
		Provider:        provider,
		ActualModelName: "gemini-2.5-pro",
		IsStream:        true,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "https://"), url)
	assert.Contains(t, url, "-aiplatform.googleapis.com/v1/projects/my-project/locations/")
	assert.Contains(t, url, "/publishers/google/models/gemini-2.5-pro:streamGenerateContent?alt=sse")

	url, err = a.GetRequestURL(&meta.Meta{
		Provider:        provider,
		ActualModelName: "claude-sonnet-4@20250514",
		IsStream:        true,
	})
	require.NoError(t, err)
	assert.Contains(t, url, "/publishers/anthropic/models/claude-sonnet-4@20250514:streamRawPredict")
	assert.NotContains(t, url, "alt=sse")
}

func TestGetRequestURLRequiresProject(t *testing.T) {
	a := &Adaptor{}
	_, err := a.GetRequestURL(&meta.Meta{ActualModelName: "gemini-2.5-pro"})
	require.Error(t, err)
}
