package openai

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/llmux/llmux/relay/channeltype"
	"github.com/llmux/llmux/relay/model"
)

// ErrorWrapper packages an internal error as the client-facing envelope.
func ErrorWrapper(err error, code string, statusCode int) *model.ErrorWithStatusCode {
	return &model.ErrorWithStatusCode{
		Error: model.Error{
			Message:  err.Error(),
			Type:     "llmux_error",
			Code:     code,
			RawError: err,
		},
		StatusCode: statusCode,
	}
}

// GetFullRequestURL joins the provider base URL with the endpoint path.
// A base URL that already names a full endpoint (reference configurations
// often point straight at /v1/chat/completions) is used as-is.
func GetFullRequestURL(baseURL string, requestPath string, channelType int) string {
	if strings.HasSuffix(baseURL, "/chat/completions") ||
		strings.HasSuffix(baseURL, "/responses") ||
		strings.HasSuffix(baseURL, "#") {
		return strings.TrimSuffix(baseURL, "#")
	}
	if channelType == channeltype.OpenAI || channelType == channeltype.OpenAIResponse {
		return fmt.Sprintf("%s%s", baseURL, requestPath)
	}
	// Compatible vendors may or may not carry /v1 in their base URL.
	if strings.HasSuffix(baseURL, "/v1") {
		return fmt.Sprintf("%s%s", baseURL, strings.TrimPrefix(requestPath, "/v1"))
	}
	return fmt.Sprintf("%s%s", baseURL, requestPath)
}

// RelayErrorHandler turns a non-2xx upstream response into the canonical
// error, preserving the upstream status and message where possible.
func RelayErrorHandler(c *gin.Context, resp *http.Response) *model.ErrorWithStatusCode {
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return ErrorWrapper(errors.Wrap(err, "read upstream error body"), "read_response_body_failed", http.StatusBadGateway)
	}
	gmw.GetLogger(c).Warn("upstream returned an error",
		zap.Int("status_code", resp.StatusCode),
		zap.ByteString("body", body))

	result := &model.ErrorWithStatusCode{
		StatusCode: resp.StatusCode,
		Error: model.Error{
			Message: string(body),
			Type:    "upstream_error",
			Code:    "bad_response_status_code",
		},
	}
	var wrapped struct {
		Error *model.Error `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Error != nil && wrapped.Error.Message != "" {
		result.Error = *wrapped.Error
	}
	return result
}
