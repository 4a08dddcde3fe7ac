package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/llmux/llmux/common/client"
	"github.com/llmux/llmux/common/config"
	"github.com/llmux/llmux/common/graceful"
	"github.com/llmux/llmux/common/logger"
	"github.com/llmux/llmux/common/redis"
	"github.com/llmux/llmux/common/telemetry"
	"github.com/llmux/llmux/model"
	"github.com/llmux/llmux/monitor"
	"github.com/llmux/llmux/relay/channel"
	"github.com/llmux/llmux/router"
)

var version = "dev"

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Logger.Warn("load .env", zap.Error(err))
	}
	logger.Setup(config.DebugEnabled)
	if config.DebugEnabled {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client.Init()

	if err := redis.InitRedisClient(ctx); err != nil {
		logger.Logger.Fatal("init redis", zap.Error(err))
	}

	if !config.DisableDatabase {
		if err := model.InitDB(); err != nil {
			logger.Logger.Fatal("init database", zap.Error(err))
		}
		defer func() {
			if err := model.CloseDB(); err != nil {
				logger.Logger.Error("close database", zap.Error(err))
			}
		}()
		channel.SmartKeyRanker = func(provider string) ([]string, error) {
			return model.RankedProviderKeys(context.Background(), provider)
		}
		model.StartRawDataSweeper(ctx)
	}

	if _, err := channel.Load(); err != nil {
		logger.Logger.Fatal("load configuration", zap.Error(err))
	}

	if err := monitor.InitMonitoring(version, runtime.Version(), time.Now()); err != nil {
		logger.Logger.Fatal("init monitoring", zap.Error(err))
	}

	var bundle *telemetry.ProviderBundle
	if config.OpenTelemetryEnabled {
		var err error
		bundle, err = telemetry.InitOpenTelemetry(ctx)
		if err != nil {
			logger.Logger.Fatal("init opentelemetry", zap.Error(err))
		}
	}

	engine := gin.New()
	if err := router.SetRouter(engine); err != nil {
		logger.Logger.Fatal("set router", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", config.Port),
		Handler:           engine,
		ReadHeaderTimeout: 30 * time.Second,
	}

	go func() {
		logger.Logger.Info("server started",
			zap.Int("port", config.Port),
			zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Logger.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GracefulShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Logger.Error("server shutdown", zap.Error(err))
	}
	if err := graceful.Wait(shutdownCtx); err != nil {
		logger.Logger.Warn("critical goroutines not drained", zap.Error(err))
	}
	if bundle != nil {
		if err := bundle.Shutdown(shutdownCtx); err != nil {
			logger.Logger.Error("telemetry shutdown", zap.Error(err))
		}
	}
	logger.Logger.Info("server exited")
}
