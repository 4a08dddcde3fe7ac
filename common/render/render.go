// Package render writes server-sent events in the framings the inbound
// dialects expect.
package render

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/gin-gonic/gin"
)

// StringData writes a single data: line carrying str and flushes it.
func StringData(c *gin.Context, str string) error {
	str = strings.TrimPrefix(str, "data: ")
	str = strings.TrimSuffix(str, "\r")
	c.Render(-1, CustomEvent{Data: "data: " + str})
	if err := flush(c); err != nil {
		return err
	}
	return nil
}

// ObjectData marshals object and writes it as a data: line.
func ObjectData(c *gin.Context, object any) error {
	if object == nil {
		return errors.New("object is nil")
	}
	jsonData, err := json.Marshal(object)
	if err != nil {
		return errors.Wrap(err, "error marshalling object")
	}
	return StringData(c, string(jsonData))
}

// EventData writes a named SSE event followed by its JSON payload, the
// framing used by the Claude Messages dialect.
func EventData(c *gin.Context, event string, object any) error {
	jsonData, err := json.Marshal(object)
	if err != nil {
		return errors.Wrap(err, "error marshalling event payload")
	}
	c.Render(-1, CustomEvent{Data: fmt.Sprintf("event: %s\ndata: %s", event, jsonData)})
	return flush(c)
}

// Comment writes an SSE comment line, used for keepalive pings.
func Comment(c *gin.Context, text string) error {
	c.Render(-1, CustomEvent{Data: ": " + text})
	return flush(c)
}

// Done terminates an OpenAI-style stream.
func Done(c *gin.Context) {
	_ = StringData(c, "[DONE]")
}

func flush(c *gin.Context) error {
	if f, ok := c.Writer.(interface{ Flush() }); ok {
		f.Flush()
		return nil
	}
	return errors.New("streaming error: flush not supported")
}
