package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all sous metrics.
const meterName = "github.com/MrWong99/sous"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// AssistantDuration tracks the round trip of one assistant reply.
	AssistantDuration metric.Float64Histogram

	// SynthesisDuration tracks time from Speak to first audible sample. Use
	// with attribute.String("backend", ...).
	SynthesisDuration metric.Float64Histogram

	// TurnDuration tracks wake phrase to finalize.
	TurnDuration metric.Float64Histogram

	// --- Counters ---

	// TurnsFinalized counts turns handed to the orchestrator.
	TurnsFinalized metric.Int64Counter

	// TurnsDropped counts finalized turns that could not be delivered because
	// the previous turn was still unread.
	TurnsDropped metric.Int64Counter

	// CredentialFetches counts network fetches of the remote synthesis
	// credential. Use with attribute.String("status", ...).
	CredentialFetches metric.Int64Counter

	// BargeIns counts playbacks interrupted by a tap.
	BargeIns metric.Int64Counter

	// StateTransitions counts orchestrator transitions. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	StateTransitions metric.Int64Counter

	// Errors counts recoverable failures. Use with attributes:
	//   attribute.String("stage", ...), attribute.String("kind", ...)
	Errors metric.Int64Counter

	// --- Gauges ---

	// Speaking is 1 while audio is playing and 0 otherwise.
	Speaking metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// assistant and synthesis round trips.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}
	if met.AssistantDuration, err = histogram("sous.assistant.duration", "Latency of assistant replies."); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = histogram("sous.synthesis.duration", "Latency from speak request to playback start."); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = histogram("sous.turn.duration", "Time from wake phrase to finalized turn."); err != nil {
		return nil, err
	}

	if met.TurnsFinalized, err = m.Int64Counter("sous.turns.finalized",
		metric.WithDescription("Total finalized user turns."),
	); err != nil {
		return nil, err
	}
	if met.TurnsDropped, err = m.Int64Counter("sous.turns.dropped",
		metric.WithDescription("Finalized turns dropped because the previous one was unread."),
	); err != nil {
		return nil, err
	}
	if met.CredentialFetches, err = m.Int64Counter("sous.credential.fetches",
		metric.WithDescription("Network fetches of the remote synthesis credential by status."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("sous.bargeins",
		metric.WithDescription("Playbacks interrupted by the user."),
	); err != nil {
		return nil, err
	}
	if met.StateTransitions, err = m.Int64Counter("sous.state.transitions",
		metric.WithDescription("Orchestrator state transitions by from and to state."),
	); err != nil {
		return nil, err
	}
	if met.Errors, err = m.Int64Counter("sous.errors",
		metric.WithDescription("Recoverable failures by stage and kind."),
	); err != nil {
		return nil, err
	}

	if met.Speaking, err = m.Int64UpDownCounter("sous.speaking",
		metric.WithDescription("1 while assistant audio is playing."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("sous.http.request.duration",
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
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTransition records one orchestrator state transition.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.StateTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordError classifies err with [ErrorKind] and counts it under stage.
func (m *Metrics) RecordError(ctx context.Context, stage string, err error) {
	m.Errors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("kind", ErrorKind(err)),
		),
	)
}

// RecordCredentialFetch counts one credential fetch.
func (m *Metrics) RecordCredentialFetch(ctx context.Context, ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	m.CredentialFetches.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordSince records the seconds elapsed since start on h.
func RecordSince(ctx context.Context, h metric.Float64Histogram, start time.Time, attrs ...attribute.KeyValue) {
	h.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
}
