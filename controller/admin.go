package controller

import (
	"net/http"
	"strconv"
	"time"

	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"
	"github.com/jinzhu/copier"

	"github.com/llmux/llmux/common"
	"github.com/llmux/llmux/common/config"
	"github.com/llmux/llmux/common/helper"
	"github.com/llmux/llmux/common/random"
	dbmodel "github.com/llmux/llmux/model"
	"github.com/llmux/llmux/monitor"
	"github.com/llmux/llmux/relay/channel"
)

// Stats answers GET /v1/stats: channel and model success rates plus
// endpoint and client-IP counts over the requested window.
func Stats(c *gin.Context) {
	hours := parseIntParam(c, "hours", 24)
	if hours < 1 {
		hours = 1
	}
	if hours > 720 {
		hours = 720
	}
	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	ctx := c.Request.Context()

	channels, err := dbmodel.ChannelModelStats(ctx, since)
	if err != nil {
		adminError(c, err)
		return
	}
	models, err := dbmodel.ModelCounts(ctx, since)
	if err != nil {
		adminError(c, err)
		return
	}
	endpoints, err := dbmodel.EndpointCounts(ctx, since)
	if err != nil {
		adminError(c, err)
		return
	}
	ips, err := dbmodel.ClientIPCounts(ctx, since)
	if err != nil {
		adminError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"hours":      hours,
		"channels":   channels,
		"models":     models,
		"endpoints":  endpoints,
		"client_ips": ips,
	})
}

// TokenUsage answers GET /v1/token_usage. Non-admin keys only see their
// own usage; admin keys may filter by api_key and model.
func TokenUsage(c *gin.Context) {
	key, _ := keyFromContext(c)
	if key == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "key not resolved"})
		return
	}

	end := time.Now()
	start := end.AddDate(0, 0, -30)
	if v := c.Query("start"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			start = t
		}
	}
	if v := c.Query("end"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			end = t
		}
	}

	filterKey := key.Key
	filterModel := ""
	if key.IsAdmin() {
		filterKey = c.Query("api_key")
		filterModel = c.Query("model")
	}

	rows, err := dbmodel.TokenUsage(c.Request.Context(), filterKey, filterModel, start, end)
	if err != nil {
		adminError(c, err)
		return
	}
	for i := range rows {
		rows[i].APIKey = helper.MaskAPIKey(rows[i].APIKey)
	}
	c.JSON(http.StatusOK, gin.H{
		"start": start,
		"end":   end,
		"usage": rows,
	})
}

// ChannelKeyRankings answers GET /v1/channel_key_rankings: per-upstream-key
// success ordering for one provider, default over the last 24 hours.
func ChannelKeyRankings(c *gin.Context) {
	providerName := c.Query("provider_name")
	if providerName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "provider_name is required"})
		return
	}
	hours := parseIntParam(c, "hours", 24)
	since := time.Now().Add(-time.Duration(hours) * time.Hour)

	rows, err := dbmodel.ProviderKeyRankings(c.Request.Context(), providerName, since)
	if err != nil {
		adminError(c, err)
		return
	}
	for i := range rows {
		rows[i].ProviderAPIKey = helper.MaskKeyTail(rows[i].ProviderAPIKey)
	}
	c.JSON(http.StatusOK, gin.H{
		"provider": providerName,
		"hours":    hours,
		"rankings": rows,
	})
}

// keyState is one entry of the api_keys_states listing.
type keyState struct {
	APIKey    string  `json:"api_key"`
	Name      string  `json:"name,omitempty"`
	Credits   float64 `json:"credits"`
	TotalCost float64 `json:"total_cost"`
	Enabled   bool    `json:"enabled"`
}

// APIKeysStates answers GET /v1/api_keys_states: credit balances per key.
// A paid key whose spend reached its credits shows as disabled.
func APIKeysStates(c *gin.Context) {
	snap := snapshotFromContext(c)
	if snap == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "configuration not loaded"})
		return
	}
	states := make([]keyState, 0, len(snap.Config.APIKeys))
	for _, k := range snap.Config.APIKeys {
		cost, err := dbmodel.APIKeyCost(c.Request.Context(), k.Key, time.Time{})
		if err != nil {
			adminError(c, err)
			return
		}
		credits := 0.0
		if k.Preferences != nil {
			credits = k.Preferences.Credits
		}
		states = append(states, keyState{
			APIKey:    helper.MaskAPIKey(k.Key),
			Name:      k.Role,
			Credits:   credits,
			TotalCost: cost,
			Enabled:   credits <= 0 || cost < credits,
		})
	}
	c.JSON(http.StatusOK, gin.H{"keys": states})
}

// AddCredits answers POST /v1/add_credits?paid_key=&amount=: tops up a
// paid key and persists the configuration.
func AddCredits(c *gin.Context) {
	paidKey := c.Query("paid_key")
	amount, err := strconv.ParseFloat(c.Query("amount"), 64)
	if paidKey == "" || err != nil || amount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "paid_key and a positive amount are required"})
		return
	}
	snap := snapshotFromContext(c)
	if snap == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "configuration not loaded"})
		return
	}

	entry, _, ok := snap.LookupKey(paidKey)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown api key"})
		return
	}
	if entry.Preferences == nil {
		entry.Preferences = &channel.KeyPreferences{}
	}
	entry.Preferences.Credits += amount

	if err := snap.Config.Save(config.ConfigPath); err != nil {
		adminError(c, err)
		return
	}
	gmw.GetLogger(c).Info("credits added",
		zap.String("key", helper.MaskAPIKey(paidKey)),
		zap.Float64("amount", amount))
	c.JSON(http.StatusOK, gin.H{
		"api_key": helper.MaskAPIKey(paidKey),
		"credits": entry.Preferences.Credits,
	})
}

// Logs answers GET /v1/logs?page=&page_size= with the newest request rows.
func Logs(c *gin.Context) {
	page := parseIntParam(c, "page", 1)
	pageSize := parseIntParam(c, "page_size", 100)

	rows, total, err := dbmodel.PaginatedLogs(c.Request.Context(), page, pageSize)
	if err != nil {
		adminError(c, err)
		return
	}
	for i := range rows {
		rows[i].APIKey = helper.MaskAPIKey(rows[i].APIKey)
	}
	c.JSON(http.StatusOK, gin.H{
		"page":      page,
		"page_size": pageSize,
		"total":     total,
		"logs":      rows,
	})
}

// GetAPIConfig answers GET /v1/api_config with the active configuration.
// Upstream credentials are masked; the config file stays the source of
// truth for writes.
func GetAPIConfig(c *gin.Context) {
	snap := snapshotFromContext(c)
	if snap == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "configuration not loaded"})
		return
	}

	var masked channel.Config
	if err := copier.CopyWithOption(&masked, snap.Config, copier.Option{DeepCopy: true}); err != nil {
		adminError(c, err)
		return
	}
	for _, p := range masked.Providers {
		switch api := p.API.(type) {
		case string:
			p.API = common.MaskSecret(api)
		case []any:
			out := make([]any, len(api))
			for i, v := range api {
				if s, ok := v.(string); ok {
					out[i] = common.MaskSecret(s)
				} else {
					out[i] = v
				}
			}
			p.API = out
		}
		p.PrivateKey = common.MaskSecret(p.PrivateKey)
	}
	c.JSON(http.StatusOK, &masked)
}

// UpdateAPIConfig answers POST /v1/api_config/update: reloads the
// configuration from disk and atomically swaps the snapshot.
func UpdateAPIConfig(c *gin.Context) {
	snap, err := channel.Load()
	if err != nil {
		adminError(c, err)
		return
	}
	monitor.Channels.ReleaseAll()
	FlushModelListCache()
	gmw.GetLogger(c).Info("configuration reloaded",
		zap.Int("providers", len(snap.Config.Providers)),
		zap.Int("api_keys", len(snap.Config.APIKeys)))
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"providers": len(snap.Config.Providers),
		"api_keys":  len(snap.Config.APIKeys),
	})
}

// GenerateAPIKey answers GET /v1/generate-api-key with a fresh sk- key.
func GenerateAPIKey(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"api_key": random.GenerateAPIKey()})
}

func parseIntParam(c *gin.Context, name string, fallback int) int {
	v := c.Query(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func adminError(c *gin.Context, err error) {
	gmw.GetLogger(c).Error("admin endpoint failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
