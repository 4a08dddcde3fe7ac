// Package tracing bridges gin-middlewares request ids and OpenTelemetry
// trace ids. The request id ends up in response headers, log lines, and the
// request_id column of the statistics rows.
package tracing

import (
	"context"

	gmw "github.com/Laisky/gin-middlewares/v7"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// otelTraceIDFromContext extracts the OpenTelemetry trace ID from a context when available.
func otelTraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	spanCtx := oteltrace.SpanContextFromContext(ctx)
	if spanCtx.IsValid() {
		return spanCtx.TraceID().String()
	}

	return ""
}

// GetTraceIDFromContext extracts the per-request trace id, preferring the
// gin-middlewares request id and falling back to the OpenTelemetry span.
func GetTraceIDFromContext(ctx context.Context) string {
	if ginCtx, ok := gmw.GetGinCtxFromStdCtx(ctx); ok {
		if traceID, err := gmw.TraceID(ginCtx); err == nil {
			return traceID.String()
		}
	}
	return otelTraceIDFromContext(ctx)
}
