package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"
	goredis "github.com/go-redis/redis/v8"

	"github.com/llmux/llmux/common/ctxkey"
	"github.com/llmux/llmux/common/helper"
	"github.com/llmux/llmux/common/metrics"
	"github.com/llmux/llmux/common/redis"
	"github.com/llmux/llmux/relay/channel"
	"github.com/llmux/llmux/relay/keypool"
)

// slidingWindow tracks request timestamps per identifier for the in-memory
// limiter path. Entries older than the widest window are pruned on access.
type slidingWindow struct {
	mu   sync.Mutex
	hits map[string][]time.Time
}

var localWindow = &slidingWindow{hits: make(map[string][]time.Time)}

func (w *slidingWindow) allow(id string, limits []keypool.Limit, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	var widest time.Duration
	for _, l := range limits {
		if l.Window > widest {
			widest = l.Window
		}
	}

	kept := w.hits[id][:0]
	for _, t := range w.hits[id] {
		if now.Sub(t) < widest {
			kept = append(kept, t)
		}
	}
	w.hits[id] = kept

	for _, l := range limits {
		n := 0
		for _, t := range kept {
			if now.Sub(t) < l.Window {
				n++
			}
		}
		if n >= l.Count {
			return false
		}
	}
	w.hits[id] = append(w.hits[id], now)
	return true
}

// redisAllow enforces the same windows through a sorted set per window so
// multiple instances share one budget. Falls back to the local window on
// any redis failure.
func redisAllow(c *gin.Context, id string, limits []keypool.Limit, now time.Time) bool {
	for _, l := range limits {
		key := fmt.Sprintf("llmux:ratelimit:%s:%d", id, int64(l.Window/time.Second))
		cutoff := now.Add(-l.Window).UnixNano()

		pipe := redis.RDB.TxPipeline()
		pipe.ZRemRangeByScore(c.Request.Context(), key, "0", fmt.Sprintf("%d", cutoff))
		card := pipe.ZCard(c.Request.Context(), key)
		if _, err := pipe.Exec(c.Request.Context()); err != nil {
			gmw.GetLogger(c).Warn("redis rate limit check failed, using local window", zap.Error(err))
			return localWindow.allow(id, limits, now)
		}
		if card.Val() >= int64(l.Count) {
			return false
		}
	}

	pipe := redis.RDB.TxPipeline()
	for _, l := range limits {
		key := fmt.Sprintf("llmux:ratelimit:%s:%d", id, int64(l.Window/time.Second))
		pipe.ZAdd(c.Request.Context(), key, &goredis.Z{
			Score:  float64(now.UnixNano()),
			Member: fmt.Sprintf("%d", now.UnixNano()),
		})
		pipe.Expire(c.Request.Context(), key, l.Window+time.Minute)
	}
	if _, err := pipe.Exec(c.Request.Context()); err != nil {
		gmw.GetLogger(c).Warn("redis rate limit record failed", zap.Error(err))
	}
	return true
}

// RateLimit enforces the per-key request budget, falling back to the global
// preference when the key carries none. Scopes resolve against the alias the
// client asked for. Runs after Distribute.
func RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		keyVal, _ := c.Get(ctxkey.APIKey)
		snapVal, _ := c.Get(ctxkey.Snapshot)
		key, _ := keyVal.(*channel.APIKey)
		snap, _ := snapVal.(*channel.Snapshot)
		if key == nil || snap == nil {
			c.Next()
			return
		}

		var raw any
		if key.Preferences != nil && key.Preferences.RateLimit != nil {
			raw = key.Preferences.RateLimit
		} else if snap.Config.Preferences != nil {
			raw = snap.Config.Preferences.RateLimit
		}
		if raw == nil {
			c.Next()
			return
		}

		scoped, err := keypool.ParseScopedLimits(raw)
		if err != nil {
			gmw.GetLogger(c).Warn("bad rate limit preference, skipping enforcement", zap.Error(err))
			c.Next()
			return
		}
		scope, limits := scoped.ResolveScope(c.GetString(ctxkey.RequestModel))
		if len(limits) == 0 {
			c.Next()
			return
		}

		id := key.Key + "\x1f" + scope
		now := time.Now()
		allowed := false
		if redis.Enabled() {
			allowed = redisAllow(c, id, limits, now)
		} else {
			allowed = localWindow.allow(id, limits, now)
		}
		if !allowed {
			metrics.GlobalRecorder.RecordRateLimitHit("api_key", helper.MaskAPIKey(key.Key))
			abortWithError(c, http.StatusTooManyRequests, "rate limit exceeded, please slow down", "rate_limit_error")
			return
		}
		c.Next()
	}
}
