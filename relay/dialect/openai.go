package dialect

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/gin-gonic/gin"

	"github.com/llmux/llmux/common/render"
	"github.com/llmux/llmux/relay/channeltype"
	"github.com/llmux/llmux/relay/model"
)

func init() {
	register(&openaiDialect{})
}

// openaiDialect is the identity dialect: the canonical representation is the
// OpenAI wire format.
type openaiDialect struct{}

func (d *openaiDialect) ID() string { return IDOpenAI }

func (d *openaiDialect) ExtractToken(c *gin.Context) string {
	auth := c.Request.Header.Get("Authorization")
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
}

func (d *openaiDialect) ParseRequest(c *gin.Context, body []byte) (*model.GeneralOpenAIRequest, error) {
	var req model.GeneralOpenAIRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, errors.Wrap(err, "unmarshal openai request")
	}
	if req.Model == "" {
		return nil, errors.New("model is required")
	}
	return &req, nil
}

func (d *openaiDialect) RenderResponse(c *gin.Context, resp *model.TextResponse) error {
	c.JSON(http.StatusOK, resp)
	return nil
}

func (d *openaiDialect) NewStreamRenderer() StreamRenderer {
	return &openaiStreamRenderer{}
}

func (d *openaiDialect) MatchesEngine(channelType int) bool {
	switch channelType {
	case channeltype.OpenAI, channeltype.OpenAICompatible, channeltype.OpenRouter:
		return true
	default:
		return false
	}
}

func (d *openaiDialect) RenderError(c *gin.Context, statusCode int, e *model.Error) {
	c.JSON(statusCode, gin.H{"error": e})
}

type openaiStreamRenderer struct {
	closed bool
}

func (r *openaiStreamRenderer) Write(c *gin.Context, chunk *model.ChatCompletionsStreamResponse) error {
	return render.ObjectData(c, chunk)
}

func (r *openaiStreamRenderer) Close(c *gin.Context) error {
	if r.closed {
		return nil
	}
	r.closed = true
	render.Done(c)
	return nil
}
