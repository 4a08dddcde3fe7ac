// Package prometheus exports gateway metrics through the default
// Prometheus registry, scraped at /metrics.
package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	relayRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llmux_relay_request_duration_seconds",
		Help:    "Duration of relay requests in seconds",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"provider", "engine", "model", "dialect", "success"})

	relayRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llmux_relay_requests_total",
		Help: "Total number of relay requests",
	}, []string{"provider", "engine", "model", "api_key", "dialect", "success"})

	relayTokensUsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llmux_relay_tokens_total",
		Help: "Total number of tokens used in relay requests",
	}, []string{"provider", "model", "token_type"})

	relayCost = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llmux_relay_cost_total",
		Help: "Total cost of relay requests",
	}, []string{"provider", "model", "api_key"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llmux_http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"path", "method", "status_code"})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llmux_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"path", "method", "status_code"})

	httpActiveRequests = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "llmux_http_active_requests",
		Help: "Number of active HTTP requests",
	}, []string{"path", "method"})

	channelRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llmux_channel_retries_total",
		Help: "Total number of retried attempts per channel",
	}, []string{"provider", "model"})

	channelCooldowns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llmux_channel_cooldowns_total",
		Help: "Total number of channel cooldown exclusions",
	}, []string{"provider", "model"})

	dbWriteDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llmux_db_write_duration_seconds",
		Help:    "Duration of statistics writes in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"table", "success"})

	dbWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llmux_db_writes_total",
		Help: "Total number of statistics writes",
	}, []string{"table", "success"})

	rateLimitHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llmux_rate_limit_hits_total",
		Help: "Total number of rate limit hits",
	}, []string{"limit_type", "identifier"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llmux_errors_total",
		Help: "Total number of errors",
	}, []string{"error_type", "component"})

	buildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "llmux_build_info",
		Help: "Build information, value pinned to 1",
	}, []string{"version", "go_version", "started_at"})
)

// Recorder implements metrics.Recorder on the default registry.
type Recorder struct{}

func (p *Recorder) RecordHTTPRequest(startTime time.Time, path, method, statusCode string) {
	httpRequestDuration.WithLabelValues(path, method, statusCode).Observe(time.Since(startTime).Seconds())
	httpRequestsTotal.WithLabelValues(path, method, statusCode).Inc()
}

func (p *Recorder) RecordHTTPActiveRequest(path, method string, delta float64) {
	httpActiveRequests.WithLabelValues(path, method).Add(delta)
}

func (p *Recorder) RecordRelayRequest(startTime time.Time, provider, engine, model, keyName, dialect string, success bool, promptTokens, completionTokens int, cost float64) {
	successStr := strconv.FormatBool(success)
	relayRequestDuration.WithLabelValues(provider, engine, model, dialect, successStr).Observe(time.Since(startTime).Seconds())
	relayRequestsTotal.WithLabelValues(provider, engine, model, keyName, dialect, successStr).Inc()
	if promptTokens > 0 {
		relayTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		relayTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
	if cost > 0 {
		relayCost.WithLabelValues(provider, model, keyName).Add(cost)
	}
}

func (p *Recorder) RecordChannelRetry(provider, model string) {
	channelRetries.WithLabelValues(provider, model).Inc()
}

func (p *Recorder) RecordChannelCooldown(provider, model string) {
	channelCooldowns.WithLabelValues(provider, model).Inc()
}

func (p *Recorder) RecordDBWrite(startTime time.Time, table string, success bool) {
	successStr := strconv.FormatBool(success)
	dbWriteDuration.WithLabelValues(table, successStr).Observe(time.Since(startTime).Seconds())
	dbWritesTotal.WithLabelValues(table, successStr).Inc()
}

func (p *Recorder) RecordRateLimitHit(limitType, identifier string) {
	rateLimitHits.WithLabelValues(limitType, identifier).Inc()
}

func (p *Recorder) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

func (p *Recorder) InitSystemMetrics(version, goVersion string, startTime time.Time) {
	buildInfo.WithLabelValues(version, goVersion, startTime.UTC().Format(time.RFC3339)).Set(1)
}
