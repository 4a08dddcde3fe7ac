package router

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/llmux/llmux/controller"
	"github.com/llmux/llmux/middleware"
	"github.com/llmux/llmux/relay/dialect"
)

// SetAdminRouter installs the operator endpoints. Token usage is the one
// route a non-admin key may call, scoped to itself.
func SetAdminRouter(engine *gin.Engine) {
	tokenAuth := middleware.TokenAuth(dialect.IDOpenAI)
	adminAuth := middleware.AdminAuth(dialect.IDOpenAI)

	v1 := engine.Group("/v1", gzip.Gzip(gzip.DefaultCompression))
	{
		v1.GET("/token_usage", tokenAuth, controller.TokenUsage)

		v1.GET("/stats", adminAuth, controller.Stats)
		v1.GET("/channel_key_rankings", adminAuth, controller.ChannelKeyRankings)
		v1.GET("/api_keys_states", adminAuth, controller.APIKeysStates)
		v1.POST("/add_credits", adminAuth, controller.AddCredits)
		v1.GET("/logs", adminAuth, controller.Logs)
		v1.GET("/api_config", adminAuth, controller.GetAPIConfig)
		v1.POST("/api_config/update", adminAuth, controller.UpdateAPIConfig)
		v1.GET("/generate-api-key", adminAuth, controller.GenerateAPIKey)
	}
}
