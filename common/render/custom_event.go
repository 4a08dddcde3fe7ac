package render

import (
	"net/http"
)

var contentType = []string{"text/event-stream"}

// CustomEvent renders a raw SSE frame. gin's built-in SSE render escapes
// newlines inside data, which breaks multi-line event framing, so streams go
// through this instead.
type CustomEvent struct {
	Data string
}

// Render writes the frame followed by the blank line that terminates it.
func (r CustomEvent) Render(w http.ResponseWriter) error {
	r.WriteContentType(w)
	_, err := w.Write([]byte(r.Data + "\n\n"))
	return err
}

// WriteContentType sets text/event-stream unless a content type is present.
func (r CustomEvent) WriteContentType(w http.ResponseWriter) {
	header := w.Header()
	if _, exist := header["Content-Type"]; !exist {
		header["Content-Type"] = contentType
	}
}
