// Package observe provides application-wide observability primitives for
// Wardstone: OpenTelemetry metrics, a Prometheus exporter bridge, and HTTP
// middleware.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed for
// scraping via the standard /metrics endpoint (see [InitProvider]). Tests
// should construct their own [Metrics] with [NewMetrics] and a private
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Wardstone metrics.
const meterName = "github.com/wardstone-rpg/wardstone"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// GenerationDuration tracks end-to-end content generation latency, from
	// prompt build to terminal or moderation status. Attributes:
	//   attribute.String("request_type", ...), attribute.String("status", ...)
	GenerationDuration metric.Float64Histogram

	// FlushDuration tracks persistence flush latency per entity kind.
	FlushDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// EntitiesFlushed counts entities upserted by persistence flushes.
	EntitiesFlushed metric.Int64Counter

	// EntitiesDeleted counts entities deleted by persistence flushes.
	EntitiesDeleted metric.Int64Counter

	// ValidationIssues counts validator findings. Use with:
	//   attribute.String("kind", ...)
	ValidationIssues metric.Int64Counter

	// ProviderRequests counts generator/embedder API calls. Attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts generator/embedder API errors. Attribute:
	//   attribute.String("provider", ...)
	ProviderErrors metric.Int64Counter

	// ModerationQueue tracks the number of requests awaiting a moderator.
	ModerationQueue metric.Int64UpDownCounter
}

// flushBuckets defines histogram bucket boundaries (in seconds) for
// persistence flushes, which are fast batched statements.
var flushBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// generationBuckets defines histogram bucket boundaries (in seconds) for the
// generation pipeline, which is dominated by the LLM call.
var generationBuckets = []float64{
	0.5, 1, 2.5, 5, 10, 20, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	if m.GenerationDuration, err = meter.Float64Histogram("wardstone.generation.duration",
		metric.WithDescription("End-to-end content generation latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(generationBuckets...),
	); err != nil {
		return nil, err
	}
	if m.FlushDuration, err = meter.Float64Histogram("wardstone.flush.duration",
		metric.WithDescription("Persistence flush latency per entity kind."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(flushBuckets...),
	); err != nil {
		return nil, err
	}
	if m.HTTPRequestDuration, err = meter.Float64Histogram("wardstone.http.request.duration",
		metric.WithDescription("HTTP request processing time."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.EntitiesFlushed, err = meter.Int64Counter("wardstone.entities.flushed",
		metric.WithDescription("Entities upserted by persistence flushes."),
	); err != nil {
		return nil, err
	}
	if m.EntitiesDeleted, err = meter.Int64Counter("wardstone.entities.deleted",
		metric.WithDescription("Entities deleted by persistence flushes."),
	); err != nil {
		return nil, err
	}
	if m.ValidationIssues, err = meter.Int64Counter("wardstone.validation.issues",
		metric.WithDescription("Validator findings on generated content."),
	); err != nil {
		return nil, err
	}
	if m.ProviderRequests, err = meter.Int64Counter("wardstone.provider.requests",
		metric.WithDescription("Generator and embedder API calls."),
	); err != nil {
		return nil, err
	}
	if m.ProviderErrors, err = meter.Int64Counter("wardstone.provider.errors",
		metric.WithDescription("Generator and embedder API errors."),
	); err != nil {
		return nil, err
	}
	if m.ModerationQueue, err = meter.Int64UpDownCounter("wardstone.moderation.queue",
		metric.WithDescription("Requests awaiting a moderator decision."),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordFlush records one persistence flush cycle.
func (m *Metrics) RecordFlush(ctx context.Context, kind string, upserted, deleted int, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("kind", kind))
	m.FlushDuration.Record(ctx, d.Seconds(), attrs)
	m.EntitiesFlushed.Add(ctx, int64(upserted), attrs)
	m.EntitiesDeleted.Add(ctx, int64(deleted), attrs)
}

// RecordValidationIssues counts validator findings by kind.
func (m *Metrics) RecordValidationIssues(ctx context.Context, requestType, kind string, n int) {
	m.ValidationIssues.Add(ctx, int64(n), metric.WithAttributes(
		attribute.String("request_type", requestType),
		attribute.String("kind", kind),
	))
}

// RecordModerationQueued adjusts the pending-moderation gauge. delta is +1 on
// enqueue and -1 when a moderator resolves the request.
func (m *Metrics) RecordModerationQueued(ctx context.Context, guildID string, delta int64) {
	m.ModerationQueue.Add(ctx, delta, metric.WithAttributes(
		attribute.String("guild_id", guildID),
	))
}

// RecordGeneration records one finished generation pipeline run.
func (m *Metrics) RecordGeneration(ctx context.Context, requestType, status string, d time.Duration) {
	m.GenerationDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("request_type", requestType),
		attribute.String("status", status),
	))
}
