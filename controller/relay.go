package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/llmux/llmux/common"
	"github.com/llmux/llmux/common/config"
	"github.com/llmux/llmux/common/ctxkey"
	"github.com/llmux/llmux/common/graceful"
	"github.com/llmux/llmux/common/helper"
	"github.com/llmux/llmux/common/metrics"
	dbmodel "github.com/llmux/llmux/model"
	"github.com/llmux/llmux/monitor"
	"github.com/llmux/llmux/relay/apitype"
	"github.com/llmux/llmux/relay/channel"
	rcontroller "github.com/llmux/llmux/relay/controller"
	"github.com/llmux/llmux/relay/dialect"
	"github.com/llmux/llmux/relay/meta"
	"github.com/llmux/llmux/relay/model"
	"github.com/llmux/llmux/relay/passthrough"
	"github.com/llmux/llmux/relay/relaymode"
	"github.com/llmux/llmux/relay/routing"
)

// retryPathEntry is one failed attempt in the stats row.
type retryPathEntry struct {
	Provider string `json:"provider"`
	Error    string `json:"error"`
	Status   int    `json:"status"`
}

// Relay is the dispatch entry point for every inbound completion-style
// request. It walks the eligible providers, running one attempt per pick,
// until one answers or the retry budget runs out.
func Relay(c *gin.Context) {
	lg := gmw.GetLogger(c)
	start := time.Now()
	mode := relaymode.GetByPath(c.Request.URL.Path)
	d := dialect.FromContext(c)

	snap := snapshotFromContext(c)
	key, keyIndex := keyFromContext(c)
	if snap == nil || key == nil {
		d.RenderError(c, http.StatusInternalServerError, &model.Error{
			Message: "request not authenticated",
			Type:    "internal_error",
		})
		return
	}
	alias := c.GetString(ctxkey.RequestModel)
	requestID := c.GetString(helper.RequestIdKey)

	matching := routing.Select(snap, alias, keyIndex)
	if len(matching) == 0 {
		bizErr := noChannelError(alias)
		d.RenderError(c, bizErr.StatusCode, &bizErr.Error)
		finalizeRequest(c, snap, key, nil, alias, requestID, start, false, bizErr, nil)
		return
	}

	budget := retryBudget(snap, key, matching)
	maxAttempts := len(matching) + budget
	autoRetry := key.AutoRetry()

	var (
		bizErr    *model.ErrorWithStatusCode
		lastMeta  *meta.Meta
		retryPath []retryPathEntry
	)
	success := false

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if len(matching) == 0 {
			break
		}
		provider := matching[attempt%len(matching)]
		pool := snap.KeyPools[provider.Name]
		if pool == nil {
			continue
		}
		upstreamModel, ok := provider.UpstreamModel(alias)
		if !ok {
			continue
		}
		if pool.IsAllRateLimited(upstreamModel) {
			continue
		}
		upstreamKey, err := pool.Next(upstreamModel)
		if err != nil {
			continue
		}

		m := buildAttemptMeta(c, snap, provider, key, keyIndex, alias, upstreamModel, upstreamKey, mode, attempt+1)
		m.Set(c)
		lastMeta = m
		// Renderer state must not survive a failed attempt.
		c.Set(ctxkey.StreamRenderer, nil)
		resetRequestBody(c)

		bizErr = runAttempt(c, m)
		recordChannelStat(requestID, m, bizErr == nil)

		if bizErr == nil {
			success = true
			break
		}

		status := classifyAttemptError(bizErr)
		bizErr.StatusCode = status
		retryPath = append(retryPath, retryPathEntry{
			Provider: provider.Name,
			Error:    helper.TruncateString(bizErr.Error.Message, 2000),
			Status:   status,
		})
		exempt := isCooldownExempt(bizErr.Error.Message)

		if cooldown := snap.CooldownPeriod(); cooldown > 0 && len(matching) > 1 && !exempt {
			monitor.Channels.Exclude(provider.Name, alias, cooldown)
			matching = routing.Select(snap, alias, keyIndex)
		}
		if kc := provider.KeyCooldownPeriod(); kc > 0 && pool.Len() > 1 && !exempt {
			pool.SetCooling(upstreamKey, time.Duration(kc)*time.Second)
		}
		if exempt {
			// The request never really ran; refund its rate-limit slot.
			pool.PopLastRequestLog(upstreamKey, upstreamModel)
		}

		if isClientCancellation(c.Request.Context(), bizErr) {
			bizErr.StatusCode = statusClientClosedRequest
			break
		}
		if c.GetBool(ctxkey.StreamStarted) {
			// Bytes already reached the client; rerouting would corrupt
			// the stream.
			break
		}
		if !autoRetry || status == http.StatusBadRequest || status == http.StatusRequestEntityTooLarge {
			break
		}
		metrics.GlobalRecorder.RecordChannelRetry(provider.Name, alias)
		lg.Info("retrying with next provider",
			zap.String("failed_provider", provider.Name),
			zap.Int("status", status),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", maxAttempts))
	}

	if !success && bizErr != nil && !c.GetBool(ctxkey.StreamStarted) {
		d.RenderError(c, bizErr.StatusCode, terminalError(alias, bizErr))
	}
	finalizeRequest(c, snap, key, lastMeta, alias, requestID, start, success, bizErr, retryPath)
}

// runAttempt executes one dispatch under the attempt's timeout.
func runAttempt(c *gin.Context, m *meta.Meta) *model.ErrorWithStatusCode {
	original := c.Request
	defer func() { c.Request = original }()

	if m.Timeout > 0 {
		ctx, cancel := context.WithTimeout(original.Context(), m.Timeout)
		defer cancel()
		c.Request = original.WithContext(ctx)
	}
	return rcontroller.RelayTextHelper(c)
}

// buildAttemptMeta assembles the per-attempt state handed to the adaptors.
func buildAttemptMeta(c *gin.Context, snap *channel.Snapshot, provider *channel.Provider,
	key *channel.APIKey, keyIndex int, alias, upstreamModel, upstreamKey string,
	mode, attempt int) *meta.Meta {

	timeout := snap.ModelTimeout(provider, alias)
	m := &meta.Meta{
		Mode:              mode,
		Dialect:           c.GetString(ctxkey.Dialect),
		Snapshot:          snap,
		Provider:          provider,
		ChannelType:       provider.Type,
		APIType:           apitype.FromChannelType(provider.Type),
		BaseURL:           provider.BaseURL,
		APIKey:            upstreamKey,
		InboundKey:        key,
		InboundKeyIndex:   keyIndex,
		OriginModelName:   alias,
		ActualModelName:   upstreamModel,
		IsStream:          isStreamRequest(c),
		RequestID:         c.GetString(helper.RequestIdKey),
		ClientIP:          c.ClientIP(),
		StartTime:         time.Now(),
		Timeout:           timeout,
		KeepaliveInterval: snap.KeepaliveInterval(provider, alias, timeout),
		AttemptNumber:     attempt,
	}
	if provider.Preferences != nil {
		m.EnabledPlugins = provider.Preferences.EnabledPlugins
	}
	m.Passthrough = passthrough.Evaluate(dialect.FromContext(c), provider, alias) != nil
	return m
}

func isStreamRequest(c *gin.Context) bool {
	if relaymode.IsStreamPath(c.Request.URL.Path) {
		return true
	}
	if v, ok := c.Get(ctxkey.CanonicalRequest); ok {
		if req, ok := v.(*model.GeneralOpenAIRequest); ok {
			return req.Stream
		}
	}
	return false
}

func snapshotFromContext(c *gin.Context) *channel.Snapshot {
	if v, ok := c.Get(ctxkey.Snapshot); ok {
		if s, ok := v.(*channel.Snapshot); ok {
			return s
		}
	}
	return nil
}

func keyFromContext(c *gin.Context) (*channel.APIKey, int) {
	v, ok := c.Get(ctxkey.APIKey)
	if !ok {
		return nil, 0
	}
	key, ok := v.(*channel.APIKey)
	if !ok {
		return nil, 0
	}
	return key, c.GetInt(ctxkey.APIKeyIndex)
}

// retryBudget is twice the upstream keys reachable through the matched
// providers, clamped by the key's max_retry_count.
func retryBudget(snap *channel.Snapshot, key *channel.APIKey, matching []*channel.Provider) int {
	total := 0
	for _, p := range matching {
		if pool := snap.KeyPools[p.Name]; pool != nil {
			total += pool.Len()
		}
	}
	budget := total * 2
	if maxRetry := key.MaxRetryCount(snap.Config.Preferences); budget > maxRetry {
		budget = maxRetry
	}
	return budget
}

func resetRequestBody(c *gin.Context) {
	body, err := common.GetRequestBody(c)
	if err != nil {
		return
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
}

func noChannelError(alias string) *model.ErrorWithStatusCode {
	return &model.ErrorWithStatusCode{
		Error: model.Error{
			Message: "no matching model found: " + alias,
			Type:    "invalid_request_error",
			Code:    "model_not_found",
		},
		StatusCode: http.StatusNotFound,
	}
}

func recordChannelStat(requestID string, m *meta.Meta, success bool) {
	if config.DisableDatabase || dbmodel.DB == nil {
		return
	}
	stat := &dbmodel.ChannelStat{
		RequestID:      requestID,
		Provider:       m.Provider.Name,
		Model:          m.OriginModelName,
		APIKey:         m.InboundKey.Key,
		ProviderAPIKey: m.APIKey,
		Success:        success,
		Timestamp:      time.Now(),
	}
	graceful.GoCritical(context.Background(), "recordChannelStat", func(ctx context.Context) {
		if err := dbmodel.InsertChannelStat(ctx, stat); err != nil {
			zapLogError("channel stat write failed", err)
		}
	})
}

func marshalRetryPath(entries []retryPathEntry) string {
	if len(entries) == 0 {
		return ""
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return ""
	}
	return string(raw)
}
