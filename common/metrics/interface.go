// Package metrics defines the recorder interface the gateway reports through.
// Implementations live under monitor/; everything else depends only on this
// package so exporters stay swappable.
package metrics

import (
	"time"
)

// Recorder receives measurements from the relay pipeline.
type Recorder interface {
	// HTTP metrics
	RecordHTTPRequest(startTime time.Time, path, method, statusCode string)
	RecordHTTPActiveRequest(path, method string, delta float64)

	// Relay metrics, one call per finished request
	RecordRelayRequest(startTime time.Time, provider, engine, model, keyName, dialect string, success bool, promptTokens, completionTokens int, cost float64)

	// Retry and cooldown metrics
	RecordChannelRetry(provider, model string)
	RecordChannelCooldown(provider, model string)

	// Statistics sink metrics
	RecordDBWrite(startTime time.Time, table string, success bool)

	// Rate limit metrics
	RecordRateLimitHit(limitType, identifier string)

	// Error metrics
	RecordError(errorType, component string)

	// System metrics
	InitSystemMetrics(version, goVersion string, startTime time.Time)
}

// GlobalRecorder holds the active recorder implementation. Defaults to the
// no-op recorder until monitoring is initialized.
var GlobalRecorder Recorder = &NoOpRecorder{}

// NoOpRecorder drops all measurements, used when no exporter is enabled.
type NoOpRecorder struct{}

func (n *NoOpRecorder) RecordHTTPRequest(startTime time.Time, path, method, statusCode string) {}

func (n *NoOpRecorder) RecordHTTPActiveRequest(path, method string, delta float64) {}

func (n *NoOpRecorder) RecordRelayRequest(startTime time.Time, provider, engine, model, keyName, dialect string, success bool, promptTokens, completionTokens int, cost float64) {
}

func (n *NoOpRecorder) RecordChannelRetry(provider, model string) {}

func (n *NoOpRecorder) RecordChannelCooldown(provider, model string) {}

func (n *NoOpRecorder) RecordDBWrite(startTime time.Time, table string, success bool) {}

func (n *NoOpRecorder) RecordRateLimitHit(limitType, identifier string) {}

func (n *NoOpRecorder) RecordError(errorType, component string) {}

func (n *NoOpRecorder) InitSystemMetrics(version, goVersion string, startTime time.Time) {}

func init() {
	GlobalRecorder = &NoOpRecorder{}
}

// MultiRecorder fans measurements out to several recorders.
type MultiRecorder struct {
	Recorders []Recorder
}

func (m *MultiRecorder) RecordHTTPRequest(startTime time.Time, path, method, statusCode string) {
	for _, r := range m.Recorders {
		r.RecordHTTPRequest(startTime, path, method, statusCode)
	}
}

func (m *MultiRecorder) RecordHTTPActiveRequest(path, method string, delta float64) {
	for _, r := range m.Recorders {
		r.RecordHTTPActiveRequest(path, method, delta)
	}
}

func (m *MultiRecorder) RecordRelayRequest(startTime time.Time, provider, engine, model, keyName, dialect string, success bool, promptTokens, completionTokens int, cost float64) {
	for _, r := range m.Recorders {
		r.RecordRelayRequest(startTime, provider, engine, model, keyName, dialect, success, promptTokens, completionTokens, cost)
	}
}

func (m *MultiRecorder) RecordChannelRetry(provider, model string) {
	for _, r := range m.Recorders {
		r.RecordChannelRetry(provider, model)
	}
}

func (m *MultiRecorder) RecordChannelCooldown(provider, model string) {
	for _, r := range m.Recorders {
		r.RecordChannelCooldown(provider, model)
	}
}

func (m *MultiRecorder) RecordDBWrite(startTime time.Time, table string, success bool) {
	for _, r := range m.Recorders {
		r.RecordDBWrite(startTime, table, success)
	}
}

func (m *MultiRecorder) RecordRateLimitHit(limitType, identifier string) {
	for _, r := range m.Recorders {
		r.RecordRateLimitHit(limitType, identifier)
	}
}

func (m *MultiRecorder) RecordError(errorType, component string) {
	for _, r := range m.Recorders {
		r.RecordError(errorType, component)
	}
}

func (m *MultiRecorder) InitSystemMetrics(version, goVersion string, startTime time.Time) {
	for _, r := range m.Recorders {
		r.InitSystemMetrics(version, goVersion, startTime)
	}
}
