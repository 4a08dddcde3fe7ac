package passthrough

import "net/http"

// droppedHeaders never forward upstream: credentials are replaced by the
// provider's own, and the length/encoding headers are recomputed.
var droppedHeaders = map[string]struct{}{
	"Authorization":   {},
	"X-Api-Key":       {},
	"Api-Key":         {},
	"X-Goog-Api-Key":  {},
	"Host":            {},
	"Content-Length":  {},
	"Accept-Encoding": {},
}

// FilterHeaders copies the inbound headers minus the drop-list.
func FilterHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for name, values := range src {
		if _, dropped := droppedHeaders[http.CanonicalHeaderKey(name)]; dropped {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
	return dst
}
