package client

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitBuildsSharedClients(t *testing.T) {
	Init()

	require.NotNil(t, HTTPClient)
	require.NotNil(t, HTTPClient.Transport)
	require.Zero(t, HTTPClient.Timeout, "relay client must not cut off long streams")

	require.NotNil(t, ImpatientHTTPClient)
	require.Greater(t, ImpatientHTTPClient.Timeout.Seconds(), 0.0)

	transport, ok := HTTPClient.Transport.(*http.Transport)
	require.True(t, ok)
	require.True(t, transport.DisableCompression, "SSE must arrive identity-encoded")
}

func TestGetClientPoolsPerProxy(t *testing.T) {
	direct := GetClient("")
	require.Same(t, HTTPClient, direct)

	proxied := GetClient("http://proxy.example:3128")
	require.NotSame(t, HTTPClient, proxied)
	require.Same(t, proxied, GetClient("http://proxy.example:3128"))

	transport, ok := proxied.Transport.(*http.Transport)
	require.True(t, ok)
	require.NotNil(t, transport.Proxy)
}

func TestGetClientFallsBackOnBadProxy(t *testing.T) {
	require.Same(t, HTTPClient, GetClient("://not-a-url"))
}

func TestSetCommonHeaders(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "https://api.example.com", nil)
	require.NoError(t, err)
	SetCommonHeaders(req)
	require.Equal(t, UserAgent, req.Header.Get("User-Agent"))
	require.Equal(t, "identity", req.Header.Get("Accept-Encoding"))
}
