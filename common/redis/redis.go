// Package redis holds the optional shared redis client. When no connection
// string is configured every feature backed by it falls back to local
// in-memory state.
package redis

import (
	"context"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"github.com/go-redis/redis/v8"

	"github.com/llmux/llmux/common/config"
	"github.com/llmux/llmux/common/logger"
)

// RDB is the shared client, nil when redis is not configured.
var RDB *redis.Client

// Enabled reports whether a redis backend is available.
func Enabled() bool {
	return RDB != nil
}

// InitRedisClient connects to redis when REDIS_CONN_STRING is set.
func InitRedisClient(ctx context.Context) error {
	if config.RedisConnString == "" {
		logger.Logger.Info("redis not configured, using in-memory state")
		return nil
	}

	opt, err := redis.ParseURL(config.RedisConnString)
	if err != nil {
		return errors.Wrap(err, "parse redis connection string")
	}
	RDB = redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := RDB.Ping(pingCtx).Err(); err != nil {
		return errors.Wrap(err, "ping redis")
	}

	logger.Logger.Info("redis connected", zap.String("addr", opt.Addr))
	return nil
}
