// Package dialect converts between the inbound wire formats (OpenAI, Claude,
// Gemini) and the canonical OpenAI-shaped representation. Each dialect is the
// inverse of the matching outbound engine adaptor: it parses native requests
// into canonical ones and renders canonical responses and stream events back
// into the caller's framing.
package dialect

import (
	"github.com/gin-gonic/gin"

	"github.com/llmux/llmux/common/ctxkey"
	"github.com/llmux/llmux/relay/model"
)

// Dialect ids.
const (
	IDOpenAI = "openai"
	IDClaude = "claude"
	IDGemini = "gemini"
)

// Dialect is one inbound wire format.
type Dialect interface {
	// ID names the dialect in logs, stats, and passthrough evaluation.
	ID() string

	// ExtractToken pulls the caller's API key from its dialect-specific
	// location; empty when absent.
	ExtractToken(c *gin.Context) string

	// ParseRequest turns the native body into a canonical request.
	ParseRequest(c *gin.Context, body []byte) (*model.GeneralOpenAIRequest, error)

	// RenderResponse writes a canonical completion in native framing.
	RenderResponse(c *gin.Context, resp *model.TextResponse) error

	// NewStreamRenderer starts a native SSE rendering session. Renderers
	// carry per-request state (Claude block indexes, Gemini chunk shape).
	NewStreamRenderer() StreamRenderer

	// MatchesEngine reports whether a provider of the given channel type
	// speaks this dialect natively, enabling passthrough.
	MatchesEngine(channelType int) bool

	// RenderError writes a failure in the dialect's native error envelope.
	RenderError(c *gin.Context, statusCode int, e *model.Error)
}

// StreamRenderer writes canonical stream events in native framing.
type StreamRenderer interface {
	// Write renders one canonical delta event.
	Write(c *gin.Context, chunk *model.ChatCompletionsStreamResponse) error

	// Close emits the dialect's terminal framing. Safe to call once after
	// the canonical [DONE].
	Close(c *gin.Context) error
}

var registry = map[string]Dialect{}

func register(d Dialect) {
	registry[d.ID()] = d
}

// Get returns the dialect with the given id, nil when unknown.
func Get(id string) Dialect {
	return registry[id]
}

// FromContext returns the dialect the inbound route bound to this request.
// Defaults to the OpenAI dialect so admin probes behave.
func FromContext(c *gin.Context) Dialect {
	if id := c.GetString(ctxkey.Dialect); id != "" {
		if d := Get(id); d != nil {
			return d
		}
	}
	return Get(IDOpenAI)
}

// All returns every registered dialect.
func All() []Dialect {
	out := make([]Dialect, 0, len(registry))
	for _, d := range registry {
		out = append(out, d)
	}
	return out
}
