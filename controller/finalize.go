package controller

import (
	"context"
	"strings"
	"time"

	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/llmux/llmux/common"
	"github.com/llmux/llmux/common/config"
	"github.com/llmux/llmux/common/ctxkey"
	"github.com/llmux/llmux/common/graceful"
	"github.com/llmux/llmux/common/logger"
	"github.com/llmux/llmux/common/metrics"
	dbmodel "github.com/llmux/llmux/model"
	"github.com/llmux/llmux/relay/channel"
	rcontroller "github.com/llmux/llmux/relay/controller"
	"github.com/llmux/llmux/relay/meta"
	"github.com/llmux/llmux/relay/model"
	"github.com/llmux/llmux/relay/pricing"
)

// rawCaptureLimit caps each stored raw-data column.
const rawCaptureLimit = 100 * 1024

// finalizeRequest runs exactly once per inbound request, on every exit
// path: it assembles the RequestStat row, reports metrics, and hands the
// row to the async writer.
func finalizeRequest(c *gin.Context, snap *channel.Snapshot, key *channel.APIKey,
	lastMeta *meta.Meta, alias, requestID string, start time.Time,
	success bool, bizErr *model.ErrorWithStatusCode, retryPath []retryPathEntry) {

	processTime := time.Since(start).Seconds()

	var usage model.Usage
	if u := rcontroller.UsageFromContext(c); u != nil {
		usage = *u
	}

	prices := priceFor(snap, alias)
	cost := pricing.Cost(prices, usage.PromptTokens, usage.CompletionTokens)

	statusCode := 200
	if bizErr != nil {
		statusCode = bizErr.StatusCode
	}

	providerName := ""
	engineName := ""
	providerKeyIndex := 0
	if lastMeta != nil {
		providerName = lastMeta.Provider.Name
		engineName = lastMeta.Provider.Engine
		providerKeyIndex = upstreamKeyIndex(snap, lastMeta)
	}

	metrics.GlobalRecorder.RecordRelayRequest(start, providerName, engineName, alias,
		key.Role, c.GetString(ctxkey.Dialect), success,
		usage.PromptTokens, usage.CompletionTokens, cost)

	if config.DisableDatabase || dbmodel.DB == nil {
		return
	}

	stat := &dbmodel.RequestStat{
		RequestID:        requestID,
		Endpoint:         c.Request.URL.Path,
		ClientIP:         c.ClientIP(),
		ProcessTime:      processTime,
		Provider:         providerName,
		Model:            alias,
		APIKey:           key.Key,
		Success:          success,
		StatusCode:       statusCode,
		IsFlagged:        isFlagged(bizErr),
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
		PromptPrice:      prices.Prompt,
		CompletionPrice:  prices.Completion,
		Timestamp:        start,
		ProviderID:       providerName,
		ProviderKeyIndex: providerKeyIndex,
		APIKeyName:       key.Role,
		APIKeyGroup:      firstGroup(key),
		RetryCount:       len(retryPath),
		RetryPathJSON:    marshalRetryPath(retryPath),
	}
	if t, ok := timeFromContext(c, ctxkey.FirstResponseTime); ok {
		stat.FirstResponseTime = t.Sub(start).Seconds()
	}
	if t, ok := timeFromContext(c, ctxkey.ContentStartTime); ok {
		v := t.Sub(start).Seconds()
		stat.ContentStartTime = &v
	}
	if config.EnableRawDataCapture {
		attachRawData(c, stat)
	}

	graceful.GoCritical(context.Background(), "recordRequestStat", func(ctx context.Context) {
		if err := dbmodel.InsertRequestStat(ctx, stat); err != nil {
			zapLogError("request stat write failed", err)
		}
	})
}

func priceFor(snap *channel.Snapshot, alias string) pricing.Price {
	var priceMap map[string]string
	if snap != nil && snap.Config.Preferences != nil {
		priceMap = snap.Config.Preferences.ModelPrice
	}
	return pricing.Resolve(priceMap, alias)
}

// upstreamKeyIndex finds the position of the attempt's upstream key in its
// provider pool, for the per-key ranking views.
func upstreamKeyIndex(snap *channel.Snapshot, m *meta.Meta) int {
	pool := snap.KeyPools[m.Provider.Name]
	if pool == nil {
		return 0
	}
	keys, _ := pool.Keys()
	for i, k := range keys {
		if k == m.APIKey {
			return i
		}
	}
	return 0
}

// attachRawData stores the captured request and response payloads with a
// retention deadline the hourly sweeper honors. All captures pass the
// structure-aware truncator so viewers never load unbounded blobs.
func attachRawData(c *gin.Context, stat *dbmodel.RequestStat) {
	headers := common.RedactHeadersForStorage(c.Request.Header)
	if headers != "" {
		stat.RequestHeaders = &headers
	}
	if body, err := common.GetRequestBody(c); err == nil && len(body) > 0 {
		s := string(common.TruncateJSONForStorage(body, rawCaptureLimit))
		stat.RequestBody = &s
	}
	if v, ok := c.Get(ctxkey.UpstreamRequestBody); ok {
		if raw, ok := v.([]byte); ok && len(raw) > 0 {
			s := string(common.TruncateJSONForStorage(raw, rawCaptureLimit))
			stat.UpstreamRequestBody = &s
		}
	}
	if v, ok := c.Get(ctxkey.ResponseCapture); ok {
		if raw, ok := v.([]byte); ok && len(raw) > 0 {
			s := string(common.TruncateJSONForStorage(raw, rawCaptureLimit))
			stat.ResponseBody = &s
		}
	}
	expires := time.Now().Add(config.RawDataRetention)
	stat.RawDataExpiresAt = &expires
}

func isFlagged(bizErr *model.ErrorWithStatusCode) bool {
	if bizErr == nil {
		return false
	}
	return bizErr.Error.Type == "content_filter" ||
		strings.Contains(bizErr.Error.Message, "PROHIBITED_CONTENT")
}

func firstGroup(key *channel.APIKey) string {
	if len(key.Groups) == 0 {
		return channel.DefaultGroup
	}
	return key.Groups[0]
}

func timeFromContext(c *gin.Context, key string) (time.Time, bool) {
	if v, ok := c.Get(key); ok {
		if t, ok := v.(time.Time); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func zapLogError(msg string, err error) {
	logger.Logger.Warn(msg, zap.Error(err))
}
