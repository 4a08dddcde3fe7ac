package middleware

import (
	"net/http"
	"time"

	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"
	gocache "github.com/patrickmn/go-cache"

	"github.com/llmux/llmux/common/config"
	"github.com/llmux/llmux/common/ctxkey"
	"github.com/llmux/llmux/common/helper"
	dbmodel "github.com/llmux/llmux/model"
	"github.com/llmux/llmux/relay/channel"
	"github.com/llmux/llmux/relay/dialect"
)

// creditCache memoizes per-key cost rollups so the credit gate does not hit
// the database on every request.
var creditCache = gocache.New(time.Minute, 5*time.Minute)

// TokenAuth resolves the caller's API key in the dialect's native location
// and pins the request to the current configuration snapshot.
func TokenAuth(dialectID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if authenticate(c, dialectID) == nil {
			return
		}
		c.Next()
	}
}

// AdminAuth additionally requires the resolved key to carry the admin role.
func AdminAuth(dialectID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := authenticate(c, dialectID)
		if key == nil {
			return
		}
		if !key.IsAdmin() {
			abortWithError(c, http.StatusForbidden, "admin privilege required", "invalid_request_error")
			return
		}
		c.Next()
	}
}

// authenticate binds the dialect, resolves the token, and stores the key on
// the context. Returns nil after aborting when the request is rejected.
func authenticate(c *gin.Context, dialectID string) *channel.APIKey {
	c.Set(ctxkey.Dialect, dialectID)
	c.Set(ctxkey.ClientIP, c.ClientIP())

	snap := channel.Current()
	if snap == nil {
		abortWithError(c, http.StatusInternalServerError, "configuration not loaded", "api_error")
		return nil
	}

	token := dialect.Get(dialectID).ExtractToken(c)
	if token == "" {
		abortWithError(c, http.StatusUnauthorized, "missing API key", "invalid_request_error")
		return nil
	}

	key, index, ok := snap.LookupKey(token)
	if !ok {
		abortWithError(c, http.StatusUnauthorized, "invalid API key", "invalid_request_error")
		return nil
	}

	if !creditAvailable(c, key) {
		abortWithError(c, http.StatusForbidden, "credit balance exhausted", "insufficient_quota")
		return nil
	}

	c.Set(ctxkey.Snapshot, snap)
	c.Set(ctxkey.APIKey, key)
	c.Set(ctxkey.APIKeyIndex, index)
	return key
}

// creditAvailable gates paid keys: once the accumulated cost reaches the
// configured credit balance the key is rejected until topped up.
func creditAvailable(c *gin.Context, key *channel.APIKey) bool {
	if key.Preferences == nil || key.Preferences.Credits <= 0 {
		return true
	}
	if config.DisableDatabase || dbmodel.DB == nil {
		return true
	}

	cost, cached := creditCache.Get(key.Key)
	if !cached {
		fresh, err := dbmodel.APIKeyCost(c.Request.Context(), key.Key, time.Time{})
		if err != nil {
			gmw.GetLogger(c).Warn("credit lookup failed, admitting request",
				zap.String("api_key", helper.MaskAPIKey(key.Key)),
				zap.Error(err))
			return true
		}
		cost = fresh
		creditCache.Set(key.Key, fresh, gocache.DefaultExpiration)
	}
	return cost.(float64) < key.Preferences.Credits
}
