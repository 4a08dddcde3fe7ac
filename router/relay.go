package router

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/llmux/llmux/controller"
	"github.com/llmux/llmux/middleware"
	"github.com/llmux/llmux/relay/dialect"
)

// SetRelayRouter installs the dispatch endpoints. Each dialect group runs
// token auth with its native key location, then the distributor and the
// rate limiter. Streaming responses skip gzip so SSE stays
// identity-encoded.
func SetRelayRouter(engine *gin.Engine) {
	openaiAuth := middleware.TokenAuth(dialect.IDOpenAI)
	dispatch := []gin.HandlerFunc{middleware.Distribute(), middleware.RateLimit(), controller.Relay}

	v1 := engine.Group("/v1")
	{
		v1.GET("/models", openaiAuth, gzip.Gzip(gzip.DefaultCompression), controller.ListModels)
		v1.GET("/models/:model", openaiAuth, gzip.Gzip(gzip.DefaultCompression), controller.RetrieveModel)

		v1.POST("/chat/completions", append([]gin.HandlerFunc{openaiAuth}, dispatch...)...)
		v1.POST("/responses", append([]gin.HandlerFunc{openaiAuth}, dispatch...)...)
		v1.POST("/embeddings", append([]gin.HandlerFunc{openaiAuth}, dispatch...)...)
		v1.POST("/images/generations", append([]gin.HandlerFunc{openaiAuth}, dispatch...)...)
		v1.POST("/audio/speech", append([]gin.HandlerFunc{openaiAuth}, dispatch...)...)
		v1.POST("/audio/transcriptions", append([]gin.HandlerFunc{openaiAuth}, dispatch...)...)
		v1.POST("/moderations", append([]gin.HandlerFunc{openaiAuth}, dispatch...)...)

		claudeAuth := middleware.TokenAuth(dialect.IDClaude)
		v1.POST("/messages", append([]gin.HandlerFunc{claudeAuth}, dispatch...)...)

		geminiAuth := middleware.TokenAuth(dialect.IDGemini)
		v1.POST("/models/:modelaction", append([]gin.HandlerFunc{geminiAuth}, dispatch...)...)
	}

	// The Gemini surface also lives under /v1beta.
	geminiAuth := middleware.TokenAuth(dialect.IDGemini)
	v1beta := engine.Group("/v1beta")
	{
		v1beta.GET("/models", geminiAuth, gzip.Gzip(gzip.DefaultCompression), controller.ListModels)
		v1beta.POST("/models/:modelaction", append([]gin.HandlerFunc{geminiAuth}, dispatch...)...)
	}
}
