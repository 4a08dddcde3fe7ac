// Package router wires the inbound HTTP surface: the relay endpoints per
// dialect, the operator endpoints, and the metrics exporter.
package router

import (
	gmw "github.com/Laisky/gin-middlewares/v7"
	glog "github.com/Laisky/go-utils/v6/log"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/llmux/llmux/common/config"
	"github.com/llmux/llmux/common/logger"
	"github.com/llmux/llmux/middleware"
)

// SetRouter installs every route group on the engine.
func SetRouter(engine *gin.Engine) error {
	engine.Use(gin.Recovery())
	if config.OpenTelemetryEnabled {
		engine.Use(otelgin.Middleware(config.OpenTelemetryServiceName))
	}
	engine.Use(middleware.RequestId())

	level := glog.LevelInfo
	if config.DebugEnabled {
		level = glog.LevelDebug
	}
	engine.Use(gmw.NewLoggerMiddleware(
		gmw.WithLevel(level.String()),
		gmw.WithLogger(logger.Logger.Named("gin")),
	))
	engine.Use(cors.Default())

	SetRelayRouter(engine)
	SetAdminRouter(engine)

	if config.EnablePrometheusMetrics {
		engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
	return nil
}
