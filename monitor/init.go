package monitor

import (
	"time"

	"github.com/llmux/llmux/common/config"
	"github.com/llmux/llmux/common/metrics"
	"github.com/llmux/llmux/monitor/otel"
	"github.com/llmux/llmux/monitor/prometheus"
)

// InitMonitoring selects and installs the metric recorders based on the
// environment flags.
func InitMonitoring(version, goVersion string, startTime time.Time) error {
	var recorders []metrics.Recorder

	if config.EnablePrometheusMetrics {
		recorders = append(recorders, &prometheus.Recorder{})
	}
	if config.OpenTelemetryEnabled {
		otelRecorder, err := otel.NewRecorder()
		if err != nil {
			return err
		}
		recorders = append(recorders, otelRecorder)
	}

	switch len(recorders) {
	case 0:
		metrics.GlobalRecorder = &metrics.NoOpRecorder{}
		return nil
	case 1:
		metrics.GlobalRecorder = recorders[0]
	default:
		metrics.GlobalRecorder = &metrics.MultiRecorder{Recorders: recorders}
	}

	metrics.GlobalRecorder.InitSystemMetrics(version, goVersion, startTime)
	return nil
}
