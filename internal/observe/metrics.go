// Package observe provides application-wide observability primitives for
// the aelira gateway: OpenTelemetry metrics, distributed tracing, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all gateway metrics.
const meterName = "github.com/aelira-dev/aelira"

// Metrics holds all OpenTelemetry metric instruments for the gateway.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// VoiceHandshakeDuration tracks the time from IDENTIFY to a completed
	// SESSION_DESCRIPTION.
	VoiceHandshakeDuration metric.Float64Histogram

	// TrackLoadDuration tracks identifier resolution latency.
	TrackLoadDuration metric.Float64Histogram

	// --- Counters ---

	// HTTPRequests counts API requests. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...),
	//   attribute.Int("status", ...)
	HTTPRequests metric.Int64Counter

	// TrackLoads counts loadtracks requests. Use with attribute:
	//   attribute.String("load_type", ...)
	TrackLoads metric.Int64Counter

	// FramesSent counts RTP packets put on the wire.
	FramesSent metric.Int64Counter

	// FramesDropped counts outbound control-WS frames dropped on overflow.
	FramesDropped metric.Int64Counter

	// VoiceConnects counts voice-gateway connection attempts. Use with
	// attribute: attribute.String("status", ...)
	VoiceConnects metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live control sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActivePlayers tracks the number of players with a loaded track.
	ActivePlayers metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// handshake and request latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.HTTPRequestDuration, err = m.Float64Histogram("aelira.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.VoiceHandshakeDuration, err = m.Float64Histogram("aelira.voice.handshake.duration",
		metric.WithDescription("Voice-gateway handshake latency from IDENTIFY to session description."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TrackLoadDuration, err = m.Float64Histogram("aelira.track.load.duration",
		metric.WithDescription("Track identifier resolution latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.HTTPRequests, err = m.Int64Counter("aelira.http.requests",
		metric.WithDescription("Total API requests by method, path and status."),
	); err != nil {
		return nil, err
	}
	if met.TrackLoads, err = m.Int64Counter("aelira.track.loads",
		metric.WithDescription("Total loadtracks requests by resulting load type."),
	); err != nil {
		return nil, err
	}
	if met.FramesSent, err = m.Int64Counter("aelira.rtp.frames_sent",
		metric.WithDescription("Total RTP packets transmitted."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("aelira.ws.frames_dropped",
		metric.WithDescription("Outbound control frames dropped because the client stalled."),
	); err != nil {
		return nil, err
	}
	if met.VoiceConnects, err = m.Int64Counter("aelira.voice.connects",
		metric.WithDescription("Voice-gateway connection attempts by status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("aelira.active_sessions",
		metric.WithDescription("Number of live control sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActivePlayers, err = m.Int64UpDownCounter("aelira.active_players",
		metric.WithDescription("Number of players with a loaded track."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTrackLoad records one loadtracks request with its resulting load
// type.
func (m *Metrics) RecordTrackLoad(ctx context.Context, loadType string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("load_type", loadType))
	m.TrackLoads.Add(ctx, 1, attrs)
	m.TrackLoadDuration.Record(ctx, seconds, attrs)
}
