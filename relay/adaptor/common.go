package adaptor

import (
	"io"
	"net/http"

	"github.com/Laisky/errors/v2"
	"github.com/gin-gonic/gin"

	"github.com/llmux/llmux/common/client"
	"github.com/llmux/llmux/relay/meta"
)

// SetupCommonRequestHeader applies the headers shared by every engine plus
// any provider-configured extras.
func SetupCommonRequestHeader(c *gin.Context, req *http.Request, meta *meta.Meta) {
	client.SetCommonHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	if meta.IsStream && c.Request.Header.Get("Accept") == "text/event-stream" {
		req.Header.Set("Accept", "text/event-stream")
	}
	if meta.Provider != nil && meta.Provider.Preferences != nil {
		for k, v := range meta.Provider.Preferences.Headers {
			req.Header.Set(k, v)
		}
	}
}

// DoRequestHelper builds and sends the upstream request for an adaptor.
func DoRequestHelper(a Adaptor, c *gin.Context, meta *meta.Meta, requestBody io.Reader) (*http.Response, error) {
	fullRequestURL, err := a.GetRequestURL(meta)
	if err != nil {
		return nil, errors.Wrap(err, "get request url")
	}
	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, fullRequestURL, requestBody)
	if err != nil {
		return nil, errors.Wrap(err, "new upstream request")
	}
	if err := a.SetupRequestHeader(c, req, meta); err != nil {
		return nil, errors.Wrap(err, "setup request header")
	}
	resp, err := DoRequest(c, meta, req)
	if err != nil {
		return nil, errors.Wrap(err, "do upstream request")
	}
	return resp, nil
}

// DoRequest sends req through the pooled client for the provider's proxy.
func DoRequest(c *gin.Context, meta *meta.Meta, req *http.Request) (*http.Response, error) {
	proxy := ""
	if meta.Provider != nil {
		proxy = meta.Provider.Proxy()
	}
	resp, err := client.GetClient(proxy).Do(req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, errors.New("resp is nil")
	}
	if req.Body != nil {
		_ = req.Body.Close()
	}
	if c.Request.Body != nil {
		_ = c.Request.Body.Close()
	}
	return resp, nil
}
