package observe

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Middleware returns a gin handler that:
//
//  1. Extracts W3C Trace Context from incoming request headers (or starts a
//     new trace).
//  2. Starts an OTel span for the HTTP request.
//  3. Sets the X-Correlation-ID response header from the trace ID.
//  4. Records request duration to [Metrics.HTTPRequestDuration].
//  5. Logs request completion with status code, duration, and trace info.
//  6. Ends the span on completion with status attributes.
func Middleware(m *Metrics) gin.HandlerFunc {
	prop := propagation.TraceContext{}

	return func(c *gin.Context) {
		start := time.Now()
		r := c.Request

		// 1. Extract W3C trace context from incoming headers.
		ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		// 2. Start a span for this HTTP request.
		ctx, span := StartSpan(ctx, "HTTP "+r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(r.Method),
				semconv.URLPath(r.URL.Path),
			),
		)
		defer span.End()

		// 3. Set correlation ID from trace ID.
		cid := CorrelationID(ctx)
		if cid != "" {
			c.Writer.Header().Set("X-Correlation-ID", cid)
		}

		// Inject trace context into response headers for downstream.
		prop.Inject(ctx, propagation.HeaderCarrier(c.Writer.Header()))

		c.Request = r.WithContext(ctx)

		// Serve the request.
		c.Next()

		// 4. Record duration and count.
		duration := time.Since(start)
		status := c.Writer.Status()
		m.HTTPRequestDuration.Record(ctx, duration.Seconds(),
			metric.WithAttributes(
				attribute.String("method", r.Method),
				attribute.String("path", c.FullPath()),
			),
		)
		m.HTTPRequests.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("method", r.Method),
				attribute.String("path", c.FullPath()),
				attribute.Int("status", status),
			),
		)

		span.SetAttributes(semconv.HTTPResponseStatusCode(status))

		// 5. Log completion.
		slog.LogAttrs(ctx, slog.LevelInfo, "request completed",
			slog.String("trace_id", cid),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Duration("duration", duration),
		)
	}
}
