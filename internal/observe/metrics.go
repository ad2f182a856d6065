// Package observe provides application-wide observability primitives: OpenTelemetry
// metrics, distributed tracing, structured logging, and HTTP middleware that
// ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
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

// meterName is the instrumentation scope name used for all metrics in this
// package.
const meterName = "github.com/MrWong99/sentrycore"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Permission gate ---

	// GateDecisions counts every permission.Gate.Check outcome. Use with
	// attributes: attribute.String("group", ...), attribute.String("decision", ...)
	GateDecisions metric.Int64Counter

	// --- Supervised subsystems ---

	// SupervisorReadiness tracks how long a supervised subsystem took to
	// report ready. Use with attributes:
	//   attribute.String("subsystem", ...), attribute.String("outcome", ...)
	SupervisorReadiness metric.Float64Histogram

	// --- Audit trail ---

	// AuditQueueDepth tracks the number of audit entries buffered but not
	// yet flushed to disk.
	AuditQueueDepth metric.Int64UpDownCounter

	// --- Voice session pipeline ---

	// VoiceStageDuration tracks wall-clock time spent in each voice session
	// stage. Use with attribute: attribute.String("stage", ...)
	VoiceStageDuration metric.Float64Histogram

	// VoiceSessions counts voice sessions reaching a terminal outcome. Use
	// with attribute: attribute.String("outcome", ...) ("idle" or "faulted")
	VoiceSessions metric.Int64Counter

	// --- Tool calls ---

	// ToolCallDuration tracks tool-call latency through the tool host
	// client. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCallDuration metric.Float64Histogram

	// ToolCallErrors counts failed tool calls. Use with attribute:
	//   attribute.String("tool", ...)
	ToolCallErrors metric.Int64Counter

	// --- Config ---

	// ConfigReloads counts settings reloads delivered by config.Watcher. Use
	// with attribute: attribute.String("outcome", ...) ("applied" or "unchanged")
	ConfigReloads metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds), spanning
// sub-millisecond gate checks up to multi-second subsystem readiness waits
// and tool calls.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.GateDecisions, err = m.Int64Counter("sentrycore.gate.decisions",
		metric.WithDescription("Permission gate decisions by group and outcome."),
	); err != nil {
		return nil, err
	}

	if met.SupervisorReadiness, err = m.Float64Histogram("sentrycore.supervisor.readiness.duration",
		metric.WithDescription("Time for a supervised subsystem to report ready."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.AuditQueueDepth, err = m.Int64UpDownCounter("sentrycore.audit.queue_depth",
		metric.WithDescription("Number of audit entries buffered but not yet flushed to disk."),
	); err != nil {
		return nil, err
	}

	if met.VoiceStageDuration, err = m.Float64Histogram("sentrycore.voice.stage.duration",
		metric.WithDescription("Wall-clock time spent in each voice session stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.VoiceSessions, err = m.Int64Counter("sentrycore.voice.sessions",
		metric.WithDescription("Voice sessions reaching a terminal outcome, by outcome."),
	); err != nil {
		return nil, err
	}

	if met.ToolCallDuration, err = m.Float64Histogram("sentrycore.tool.call.duration",
		metric.WithDescription("Tool call latency through the tool host client."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ToolCallErrors, err = m.Int64Counter("sentrycore.tool.call.errors",
		metric.WithDescription("Failed tool calls, by tool name."),
	); err != nil {
		return nil, err
	}

	if met.ConfigReloads, err = m.Int64Counter("sentrycore.config.reloads",
		metric.WithDescription("Config reload attempts, by outcome."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("sentrycore.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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

// RecordGateDecision is a convenience method that records a gate decision
// counter increment with the standard attribute set.
func (m *Metrics) RecordGateDecision(ctx context.Context, group, decision string) {
	m.GateDecisions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("group", group),
			attribute.String("decision", decision),
		),
	)
}

// RecordSupervisorReadiness is a convenience method that records how long a
// supervised subsystem took to report ready.
func (m *Metrics) RecordSupervisorReadiness(ctx context.Context, subsystem, outcome string, seconds float64) {
	m.SupervisorReadiness.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("subsystem", subsystem),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordVoiceStage is a convenience method that records time spent in a
// voice session stage.
func (m *Metrics) RecordVoiceStage(ctx context.Context, stage string, seconds float64) {
	m.VoiceStageDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordVoiceSession is a convenience method that records a voice session
// reaching a terminal outcome.
func (m *Metrics) RecordVoiceSession(ctx context.Context, outcome string) {
	m.VoiceSessions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordToolCall is a convenience method that records tool call latency with
// the standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string, seconds float64) {
	m.ToolCallDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
	if status != "ok" {
		m.ToolCallErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", tool)))
	}
}

// RecordConfigReload is a convenience method that records a config reload
// attempt outcome.
func (m *Metrics) RecordConfigReload(ctx context.Context, outcome string) {
	m.ConfigReloads.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}
