// Package observe provides application-wide observability primitives for
// Kokoro: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all Kokoro metrics.
const meterName = "github.com/kokorochat/kokoro"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TurnDuration tracks end-to-end conversation turn latency, from message
	// receipt to the finalized reply.
	TurnDuration metric.Float64Histogram

	// LLMDuration tracks LLM inference latency.
	LLMDuration metric.Float64Histogram

	// --- Counters ---

	// ValidationVerdicts counts response validation outcomes. Use with attributes:
	//   attribute.String("character_id", ...), attribute.String("verdict", ...)
	ValidationVerdicts metric.Int64Counter

	// Regenerations counts response regeneration attempts by character.
	Regenerations metric.Int64Counter

	// MemoryExtractions counts memory entries extracted from turns. Use with
	// attribute: attribute.String("type", ...)
	MemoryExtractions metric.Int64Counter

	// MemoryEvictions counts memory entries evicted or expired. Use with
	// attribute: attribute.String("reason", ...)
	MemoryEvictions metric.Int64Counter

	// RelationshipConflicts counts detected character-to-character conflicts.
	RelationshipConflicts metric.Int64Counter

	// CharacterReplies counts finalized character replies. Use with attribute:
	//   attribute.String("character_id", ...)
	CharacterReplies metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// BreakerTransitions counts circuit-breaker state changes in the provider
	// tiers. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("from", ...),
	//   attribute.String("to", ...)
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live conversation sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time on the ops
	// endpoints. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for chat-turn latencies.
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
	if met.TurnDuration, err = m.Float64Histogram("kokoro.turn.duration",
		metric.WithDescription("End-to-end latency of a conversation turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("kokoro.llm.duration",
		metric.WithDescription("Latency of LLM inference."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ValidationVerdicts, err = m.Int64Counter("kokoro.validation.verdicts",
		metric.WithDescription("Total response validation verdicts by character and outcome."),
	); err != nil {
		return nil, err
	}
	if met.Regenerations, err = m.Int64Counter("kokoro.regenerations",
		metric.WithDescription("Total response regeneration attempts by character."),
	); err != nil {
		return nil, err
	}
	if met.MemoryExtractions, err = m.Int64Counter("kokoro.memory.extractions",
		metric.WithDescription("Total memory entries extracted from turns by type."),
	); err != nil {
		return nil, err
	}
	if met.MemoryEvictions, err = m.Int64Counter("kokoro.memory.evictions",
		metric.WithDescription("Total memory entries evicted or expired by reason."),
	); err != nil {
		return nil, err
	}
	if met.RelationshipConflicts, err = m.Int64Counter("kokoro.relationship.conflicts",
		metric.WithDescription("Total detected character-to-character conflicts."),
	); err != nil {
		return nil, err
	}
	if met.CharacterReplies, err = m.Int64Counter("kokoro.character.replies",
		metric.WithDescription("Total finalized character replies by character ID."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("kokoro.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("kokoro.breaker.transitions",
		metric.WithDescription("Total circuit-breaker state changes by provider."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("kokoro.active_sessions",
		metric.WithDescription("Number of live conversation sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("kokoro.http.request.duration",
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

// RecordValidationVerdict is a convenience method that records a validation
// verdict counter increment with the standard attribute set.
func (m *Metrics) RecordValidationVerdict(ctx context.Context, characterID, verdict string) {
	m.ValidationVerdicts.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("character_id", characterID),
			attribute.String("verdict", verdict),
		),
	)
}

// RecordRegeneration is a convenience method that records a regeneration
// attempt counter increment.
func (m *Metrics) RecordRegeneration(ctx context.Context, characterID string) {
	m.Regenerations.Add(ctx, 1,
		metric.WithAttributes(attribute.String("character_id", characterID)),
	)
}

// RecordMemoryExtraction is a convenience method that records extracted
// memory entries by type.
func (m *Metrics) RecordMemoryExtraction(ctx context.Context, memoryType string, count int64) {
	m.MemoryExtractions.Add(ctx, count,
		metric.WithAttributes(attribute.String("type", memoryType)),
	)
}

// RecordMemoryEviction is a convenience method that records a memory eviction
// or expiry.
func (m *Metrics) RecordMemoryEviction(ctx context.Context, reason string) {
	m.MemoryEvictions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordRelationshipConflict is a convenience method that records a detected
// character-to-character conflict.
func (m *Metrics) RecordRelationshipConflict(ctx context.Context, a, b string) {
	m.RelationshipConflicts.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("character_a", a),
			attribute.String("character_b", b),
		),
	)
}

// RecordCharacterReply is a convenience method that records a finalized
// character reply counter increment.
func (m *Metrics) RecordCharacterReply(ctx context.Context, characterID string) {
	m.CharacterReplies.Add(ctx, 1,
		metric.WithAttributes(attribute.String("character_id", characterID)),
	)
}

// RecordBreakerTransition is a convenience method that records a provider
// circuit-breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, from, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
