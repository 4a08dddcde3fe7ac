// Package otel exports gateway metrics through OpenTelemetry.
package otel

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Recorder implements metrics.Recorder on an OTLP meter.
type Recorder struct {
	meter metric.Meter

	relayRequestDuration metric.Float64Histogram
	relayRequestsTotal   metric.Int64Counter
	relayTokensUsed      metric.Int64Counter
	relayCost            metric.Float64Counter

	httpRequestDuration metric.Float64Histogram
	httpRequestsTotal   metric.Int64Counter
	httpActiveRequests  metric.Float64UpDownCounter

	channelRetries   metric.Int64Counter
	channelCooldowns metric.Int64Counter

	dbWriteDuration metric.Float64Histogram
	dbWritesTotal   metric.Int64Counter

	rateLimitHits metric.Int64Counter
	errorsTotal   metric.Int64Counter
}

// NewRecorder registers the gateway's instruments on the global meter
// provider.
func NewRecorder() (*Recorder, error) {
	meter := otel.Meter("llmux")
	r := &Recorder{meter: meter}

	var err error
	if r.relayRequestDuration, err = meter.Float64Histogram("llmux_relay_request_duration_seconds", metric.WithDescription("Duration of relay requests in seconds")); err != nil {
		return nil, err
	}
	if r.relayRequestsTotal, err = meter.Int64Counter("llmux_relay_requests_total", metric.WithDescription("Total number of relay requests")); err != nil {
		return nil, err
	}
	if r.relayTokensUsed, err = meter.Int64Counter("llmux_relay_tokens_total", metric.WithDescription("Total number of tokens used in relay requests")); err != nil {
		return nil, err
	}
	if r.relayCost, err = meter.Float64Counter("llmux_relay_cost_total", metric.WithDescription("Total cost of relay requests")); err != nil {
		return nil, err
	}

	if r.httpRequestDuration, err = meter.Float64Histogram("llmux_http_request_duration_seconds", metric.WithDescription("Duration of HTTP requests in seconds")); err != nil {
		return nil, err
	}
	if r.httpRequestsTotal, err = meter.Int64Counter("llmux_http_requests_total", metric.WithDescription("Total number of HTTP requests")); err != nil {
		return nil, err
	}
	if r.httpActiveRequests, err = meter.Float64UpDownCounter("llmux_http_active_requests", metric.WithDescription("Number of active HTTP requests")); err != nil {
		return nil, err
	}

	if r.channelRetries, err = meter.Int64Counter("llmux_channel_retries_total", metric.WithDescription("Total number of retried attempts per channel")); err != nil {
		return nil, err
	}
	if r.channelCooldowns, err = meter.Int64Counter("llmux_channel_cooldowns_total", metric.WithDescription("Total number of channel cooldown exclusions")); err != nil {
		return nil, err
	}

	if r.dbWriteDuration, err = meter.Float64Histogram("llmux_db_write_duration_seconds", metric.WithDescription("Duration of statistics writes in seconds")); err != nil {
		return nil, err
	}
	if r.dbWritesTotal, err = meter.Int64Counter("llmux_db_writes_total", metric.WithDescription("Total number of statistics writes")); err != nil {
		return nil, err
	}

	if r.rateLimitHits, err = meter.Int64Counter("llmux_rate_limit_hits_total", metric.WithDescription("Total number of rate limit hits")); err != nil {
		return nil, err
	}
	if r.errorsTotal, err = meter.Int64Counter("llmux_errors_total", metric.WithDescription("Total number of errors")); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *Recorder) RecordHTTPRequest(startTime time.Time, path, method, statusCode string) {
	ctx := context.Background()
	attrs := []attribute.KeyValue{
		attribute.String("path", path),
		attribute.String("method", method),
		attribute.String("status_code", statusCode),
	}
	r.httpRequestDuration.Record(ctx, time.Since(startTime).Seconds(), metric.WithAttributes(attrs...))
	r.httpRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (r *Recorder) RecordHTTPActiveRequest(path, method string, delta float64) {
	r.httpActiveRequests.Add(context.Background(), delta, metric.WithAttributes(
		attribute.String("path", path),
		attribute.String("method", method)))
}

func (r *Recorder) RecordRelayRequest(startTime time.Time, provider, engine, model, keyName, dialect string, success bool, promptTokens, completionTokens int, cost float64) {
	ctx := context.Background()
	attrs := []attribute.KeyValue{
		attribute.String("provider", provider),
		attribute.String("engine", engine),
		attribute.String("model", model),
		attribute.String("api_key", keyName),
		attribute.String("dialect", dialect),
		attribute.String("success", strconv.FormatBool(success)),
	}

	r.relayRequestDuration.Record(ctx, time.Since(startTime).Seconds(), metric.WithAttributes(attrs...))
	r.relayRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))

	if promptTokens > 0 {
		promptAttrs := append(attrs, attribute.String("token_type", "prompt"))
		r.relayTokensUsed.Add(ctx, int64(promptTokens), metric.WithAttributes(promptAttrs...))
	}
	if completionTokens > 0 {
		completionAttrs := append(attrs, attribute.String("token_type", "completion"))
		r.relayTokensUsed.Add(ctx, int64(completionTokens), metric.WithAttributes(completionAttrs...))
	}
	if cost > 0 {
		r.relayCost.Add(ctx, cost, metric.WithAttributes(attrs...))
	}
}

func (r *Recorder) RecordChannelRetry(provider, model string) {
	r.channelRetries.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("model", model)))
}

func (r *Recorder) RecordChannelCooldown(provider, model string) {
	r.channelCooldowns.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("model", model)))
}

func (r *Recorder) RecordDBWrite(startTime time.Time, table string, success bool) {
	ctx := context.Background()
	attrs := []attribute.KeyValue{
		attribute.String("table", table),
		attribute.String("success", strconv.FormatBool(success)),
	}
	r.dbWriteDuration.Record(ctx, time.Since(startTime).Seconds(), metric.WithAttributes(attrs...))
	r.dbWritesTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (r *Recorder) RecordRateLimitHit(limitType, identifier string) {
	r.rateLimitHits.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("limit_type", limitType),
		attribute.String("identifier", identifier)))
}

func (r *Recorder) RecordError(errorType, component string) {
	r.errorsTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("error_type", errorType),
		attribute.String("component", component)))
}

func (r *Recorder) InitSystemMetrics(version, goVersion string, startTime time.Time) {
	gauge, err := r.meter.Int64Gauge("llmux_build_info", metric.WithDescription("Build information, value pinned to 1"))
	if err != nil {
		return
	}
	gauge.Record(context.Background(), 1, metric.WithAttributes(
		attribute.String("version", version),
		attribute.String("go_version", goVersion),
		attribute.String("started_at", startTime.UTC().Format(time.RFC3339))))
}
