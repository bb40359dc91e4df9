// Package observe holds voxgate's telemetry: OpenTelemetry instruments,
// span helpers and the HTTP middleware that ties both to slog output.
//
// Instruments are plain OTel API types. [InitProvider] bridges them to
// Prometheus for GET /metrics; tests build their own through [NewMetrics]
// with a private MeterProvider.
package observe

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/voxgate"

// Metrics is the set of instruments voxgate records into. Attribute keys
// are noted per field; the Record helpers below set them.
type Metrics struct {
	STTDuration         metric.Float64Histogram // per clip
	GenerationDuration  metric.Float64Histogram // model
	HTTPRequestDuration metric.Float64Histogram // method, path

	ModelSwitches      metric.Int64Counter // status: ok | unknown | load_failed
	ProviderErrors     metric.Int64Counter // provider, kind: stt | engine
	BreakerTransitions metric.Int64Counter // breaker, to
	FramesIn           metric.Int64Counter // type: text | binary
	FramesOut          metric.Int64Counter // type: connection | transcription | response | error
	StoreErrors        metric.Int64Counter // op

	ActiveSessions metric.Int64UpDownCounter
}

// inferenceBuckets are in seconds. CPU inference can take minutes.
var inferenceBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

// instruments creates instruments from one meter and keeps the first error.
type instruments struct {
	meter metric.Meter
	err   error
}

func (b *instruments) fail(name string, err error) {
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("observe: instrument %s: %w", name, err)
	}
}

func (b *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc))
	b.fail(name, err)
	return c
}

func (b *instruments) seconds(name, desc string, bounds []float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
	if bounds != nil {
		opts = append(opts, metric.WithExplicitBucketBoundaries(bounds...))
	}
	h, err := b.meter.Float64Histogram(name, opts...)
	b.fail(name, err)
	return h
}

// NewMetrics registers every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := &instruments{meter: mp.Meter(meterName)}

	m := &Metrics{
		STTDuration:         b.seconds("voxgate.stt.duration", "Speech-to-text latency per clip.", inferenceBuckets),
		GenerationDuration:  b.seconds("voxgate.generation.duration", "Model generation latency.", inferenceBuckets),
		HTTPRequestDuration: b.seconds("voxgate.http.request.duration", "HTTP request latency by method and route.", nil),

		ModelSwitches:      b.counter("voxgate.model.switches", "Model switch attempts by outcome."),
		ProviderErrors:     b.counter("voxgate.provider.errors", "Backend failures by provider and kind."),
		BreakerTransitions: b.counter("voxgate.breaker.transitions", "Circuit breaker state changes."),
		FramesIn:           b.counter("voxgate.ws.frames_in", "Inbound websocket frames by type."),
		FramesOut:          b.counter("voxgate.ws.frames_out", "Outbound websocket frames by type."),
		StoreErrors:        b.counter("voxgate.store.errors", "Conversation store failures by operation."),
	}

	sessions, err := b.meter.Int64UpDownCounter("voxgate.ws.active_sessions",
		metric.WithDescription("Open websocket sessions."))
	b.fail("voxgate.ws.active_sessions", err)
	m.ActiveSessions = sessions

	if b.err != nil {
		return nil, b.err
	}
	return m, nil
}

var defaultMetrics = sync.OnceValue(func() *Metrics {
	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		panic(err)
	}
	return m
})

// DefaultMetrics returns instruments bound to the global MeterProvider,
// created on first use. Call it after [InitProvider] so they export.
func DefaultMetrics() *Metrics { return defaultMetrics() }

func inc(ctx context.Context, c metric.Int64Counter, attrs ...attribute.KeyValue) {
	c.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordModelSwitch(ctx context.Context, status string) {
	inc(ctx, m.ModelSwitches, attribute.String("status", status))
}

func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	inc(ctx, m.ProviderErrors, attribute.String("provider", provider), attribute.String("kind", kind))
}

func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, to string) {
	inc(ctx, m.BreakerTransitions, attribute.String("breaker", breaker), attribute.String("to", to))
}

func (m *Metrics) RecordFrameIn(ctx context.Context, kind string) {
	inc(ctx, m.FramesIn, attribute.String("type", kind))
}

func (m *Metrics) RecordFrameOut(ctx context.Context, kind string) {
	inc(ctx, m.FramesOut, attribute.String("type", kind))
}

func (m *Metrics) RecordStoreError(ctx context.Context, op string) {
	inc(ctx, m.StoreErrors, attribute.String("op", op))
}
