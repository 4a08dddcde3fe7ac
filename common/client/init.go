// Package client owns the outbound HTTP connection pools. Every upstream
// request goes through a client from this package so connection reuse,
// proxies, and timeouts stay consistent across engines.
package client

import (
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/Laisky/zap"

	"github.com/llmux/llmux/common/logger"
)

const (
	// UserAgent is sent on every upstream request. Some providers fingerprint
	// non-browser agents, a plain curl agent passes everywhere.
	UserAgent = "curl/7.68.0"

	connectTimeout        = 15 * time.Second
	responseHeaderTimeout = 60 * time.Second
	maxConnsPerHost       = 300
	maxIdleConnsPerHost   = 100
)

// HTTPClient is the shared relay client. Read deadlines come from the
// per-request context, so the client itself carries no overall timeout and
// never cuts off long streams.
var HTTPClient *http.Client

// ImpatientHTTPClient is a short-timeout client for metadata lookups such as
// remote model lists and token exchanges.
var ImpatientHTTPClient *http.Client

var (
	proxyClients sync.Map // proxy url -> *http.Client
	initOnce     sync.Once
)

// Init builds the shared clients. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		HTTPClient = &http.Client{Transport: newTransport(nil)}
		ImpatientHTTPClient = &http.Client{
			Timeout:   10 * time.Second,
			Transport: newTransport(nil),
		}
	})
}

// GetClient returns the pooled client for the given proxy URL. An empty proxy
// returns the shared relay client.
func GetClient(proxy string) *http.Client {
	Init()
	if proxy == "" {
		return HTTPClient
	}
	if cached, ok := proxyClients.Load(proxy); ok {
		return cached.(*http.Client)
	}

	proxyURL, err := url.Parse(proxy)
	if err != nil {
		logger.Logger.Warn("invalid proxy url, using direct client",
			zap.String("proxy", proxy), zap.Error(err))
		return HTTPClient
	}

	c := &http.Client{Transport: newTransport(proxyURL)}
	actual, _ := proxyClients.LoadOrStore(proxy, c)
	return actual.(*http.Client)
}

func newTransport(proxyURL *url.URL) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		ResponseHeaderTimeout: responseHeaderTimeout,
		MaxConnsPerHost:       maxConnsPerHost,
		MaxIdleConns:          maxConnsPerHost,
		MaxIdleConnsPerHost:   maxIdleConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		// Upstream SSE must arrive byte-for-byte; transparent gzip would
		// buffer chunks and re-order flushes.
		DisableCompression: true,
	}
	if proxyURL != nil {
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	return transport
}

// SetCommonHeaders applies the headers every upstream request carries.
func SetCommonHeaders(req *http.Request) {
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Encoding", "identity")
}
