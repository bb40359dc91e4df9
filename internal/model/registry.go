package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/internal/resilience"
)

// DefaultExtensions are the weight file extensions listed when none are
// configured.
var DefaultExtensions = []string{".gguf"}

// loaded pairs the public snapshot with the engine behind it.
type loaded struct {
	Active
	engine Engine
}

// Registry is the catalog of model files plus the single active engine.
// All methods are safe for concurrent use.
type Registry struct {
	dir       string
	exts      []string
	factory   EngineFactory
	defaultID string
	metrics   *observe.Metrics

	breakerCfg resilience.CircuitBreakerConfig
	breaker    *resilience.CircuitBreaker

	// gate serialises engine calls and swaps. A weighted semaphore rather
	// than a mutex so waiting callers give up when their context ends.
	gate   *semaphore.Weighted
	active atomic.Pointer[loaded]

	paramsMu sync.RWMutex
	params   Params
}

// Option configures a Registry.
type Option func(*Registry)

// WithExtensions overrides [DefaultExtensions]. Entries must include the dot.
func WithExtensions(exts ...string) Option {
	return func(r *Registry) {
		if len(exts) > 0 {
			r.exts = exts
		}
	}
}

// WithDefaultModel names the model LoadDefault switches to.
func WithDefaultModel(id string) Option {
	return func(r *Registry) { r.defaultID = id }
}

// WithParams sets the generation parameters for engines built by Switch.
func WithParams(p Params) Option {
	return func(r *Registry) { r.params = p.withDefaults() }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithBreaker configures the circuit breaker around engine calls.
func WithBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(r *Registry) { r.breakerCfg = cfg }
}

// New creates a Registry over dir. No model is loaded until Switch or
// LoadDefault is called.
func New(dir string, factory EngineFactory, opts ...Option) (*Registry, error) {
	if dir == "" {
		return nil, errors.New("model: models directory must not be empty")
	}
	if factory == nil {
		return nil, errors.New("model: engine factory must not be nil")
	}
	r := &Registry{
		dir:     dir,
		exts:    DefaultExtensions,
		factory: factory,
		gate:    semaphore.NewWeighted(1),
		params:  DefaultParams(),
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}

	cbCfg := r.breakerCfg
	cbCfg.Name = "engine"
	cbCfg.OnStateChange = func(name string, _, to resilience.State) {
		r.metrics.RecordBreakerTransition(context.Background(), name, to.String())
	}
	r.breaker = resilience.NewCircuitBreaker(cbCfg)
	return r, nil
}

// Dir returns the models directory.
func (r *Registry) Dir() string { return r.dir }

// List returns the current catalog, sorted by ID. The directory is re-read
// on every call.
func (r *Registry) List(ctx context.Context) ([]Descriptor, error) {
	return scan(ctx, r.dir, r.exts)
}

// Current returns the active model, if any. It never waits on the gate.
func (r *Registry) Current() (Active, bool) {
	l := r.active.Load()
	if l == nil {
		return Active{}, false
	}
	return l.Active, true
}

// Params returns the parameters the next Switch will use.
func (r *Registry) Params() Params {
	r.paramsMu.RLock()
	defer r.paramsMu.RUnlock()
	return r.params
}

// SetParams replaces the parameters used by the next Switch. The active
// engine keeps the parameters it was built with.
func (r *Registry) SetParams(p Params) {
	r.paramsMu.Lock()
	r.params = p.withDefaults()
	r.paramsMu.Unlock()
}

// Switch makes id the active model. On any failure the previously active
// model, if there is one, keeps serving. Switching to the model that is
// already active is a no-op.
func (r *Registry) Switch(ctx context.Context, id string) (err error) {
	ctx, span := observe.StartSpan(ctx, "model.Switch", trace.WithAttributes(attribute.String("model.id", id)))
	status := "ok"
	defer func() {
		r.metrics.RecordModelSwitch(ctx, status)
		observe.EndSpan(span, err)
	}()

	d, err := r.resolve(ctx, id)
	if err != nil {
		status = "unknown"
		return err
	}
	if cur := r.active.Load(); cur != nil && cur.ID == d.ID {
		return nil
	}
	if err := verifyWeights(d); err != nil {
		status = "load_failed"
		return fmt.Errorf("%w: %s: %w", ErrLoadFailed, d.ID, err)
	}

	if err := r.gate.Acquire(ctx, 1); err != nil {
		status = "cancelled"
		return err
	}
	defer r.gate.Release(1)

	// Another switch may have won while we waited.
	if cur := r.active.Load(); cur != nil && cur.ID == d.ID {
		return nil
	}

	params := r.Params()
	start := time.Now()
	eng, err := r.factory(ctx, d, params)
	if err != nil {
		status = "load_failed"
		return fmt.Errorf("%w: %s: %w", ErrLoadFailed, d.ID, err)
	}

	old := r.active.Swap(&loaded{
		Active: Active{Descriptor: d, Params: params, LoadedAt: time.Now()},
		engine: eng,
	})
	r.breaker.Reset()

	attrs := []any{"model", d.ID, "load_time", time.Since(start)}
	if old != nil {
		attrs = append(attrs, "previous", old.ID)
		if cerr := old.engine.Close(); cerr != nil {
			slog.Warn("model: closing previous engine failed", "model", old.ID, "err", cerr)
		}
	}
	slog.Info("model switched", attrs...)
	return nil
}

// resolve looks id up in a freshly scanned catalog.
func (r *Registry) resolve(ctx context.Context, id string) (Descriptor, error) {
	if id == "" {
		return Descriptor{}, fmt.Errorf("%w: empty identifier", ErrUnknownModel)
	}
	catalog, err := r.List(ctx)
	if err != nil {
		return Descriptor{}, err
	}
	for _, d := range catalog {
		if d.ID == id {
			return d, nil
		}
	}
	return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownModel, id)
}

// LoadDefault switches to the configured default model, or to the first
// catalog entry when none is configured. An empty catalog is not an error.
func (r *Registry) LoadDefault(ctx context.Context) error {
	id := r.defaultID
	if id == "" {
		catalog, err := r.List(ctx)
		if err != nil {
			return err
		}
		if len(catalog) == 0 {
			slog.Warn("model: no models found, starting without an active model", "dir", r.dir, "extensions", r.exts)
			return nil
		}
		id = catalog[0].ID
	}
	return r.Switch(ctx, id)
}

// Generate runs prompt through the active engine. Calls are serialised; a
// caller whose ctx ends while waiting for the gate gets ctx.Err().
func (r *Registry) Generate(ctx context.Context, prompt string) (out string, err error) {
	ctx, span := observe.StartSpan(ctx, "model.Generate")
	defer func() { observe.EndSpan(span, err) }()

	if r.active.Load() == nil {
		return "", ErrNoModelLoaded
	}
	if err := r.gate.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer r.gate.Release(1)

	// Reload under the gate: a switch may have completed while we waited.
	cur := r.active.Load()
	if cur == nil {
		return "", ErrNoModelLoaded
	}
	span.SetAttributes(attribute.String("model.id", cur.ID))

	start := time.Now()
	err = r.breaker.Execute(func() error {
		var gerr error
		out, gerr = cur.engine.Generate(ctx, prompt)
		return gerr
	})
	r.metrics.GenerationDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("model", cur.ID)),
	)
	if err != nil {
		r.metrics.RecordProviderError(ctx, cur.ID, "engine")
		return "", fmt.Errorf("%w: %w", ErrEngine, err)
	}
	return out, nil
}

// Check reports whether a model is loaded. It satisfies the readiness
// checker signature.
func (r *Registry) Check(context.Context) error {
	if r.active.Load() == nil {
		return ErrNoModelLoaded
	}
	return nil
}

// Close releases the active engine. It waits for an in-flight generation.
func (r *Registry) Close() error {
	_ = r.gate.Acquire(context.Background(), 1)
	defer r.gate.Release(1)

	old := r.active.Swap(nil)
	if old == nil {
		return nil
	}
	return old.engine.Close()
}
