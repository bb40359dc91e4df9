// Package app wires all voxgate subsystems into a running application.
//
// The App struct owns the full lifecycle: New opens the store, builds the
// model registry and binds the listener, Run serves HTTP until its context
// ends, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithEngineFactory, WithSTT, WithListener). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxgate/internal/api"
	"github.com/MrWong99/voxgate/internal/config"
	"github.com/MrWong99/voxgate/internal/gateway"
	"github.com/MrWong99/voxgate/internal/health"
	"github.com/MrWong99/voxgate/internal/model"
	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/internal/resilience"
	"github.com/MrWong99/voxgate/internal/store"
	"github.com/MrWong99/voxgate/internal/transcribe"
	"github.com/MrWong99/voxgate/pkg/provider/stt"
)

// drainTimeout bounds how long Run waits for open requests and websocket
// sessions once its context ends.
const drainTimeout = 10 * time.Second

// Providers holds the backends built by main.go from the config registry.
// Nil fields mean the backend is not configured.
type Providers struct {
	// Engines builds the generation engine for a model file.
	Engines model.EngineFactory

	// STT transcribes binary frames. Usually a resilience.STTFallback over
	// the configured entries.
	STT stt.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics

	// Subsystems, initialised in New and torn down in Shutdown.
	store    store.Store
	models   *model.Registry
	stt      *transcribe.Adapter
	gateway  *gateway.Server
	server   *http.Server
	listener net.Listener

	// closers are called in reverse order during Shutdown.
	closers []func() error

	drainOnce sync.Once
	drainErr  error
	stopOnce  sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a conversation store instead of opening one from config.
// The App does not close an injected store.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithEngineFactory overrides Providers.Engines.
func WithEngineFactory(f model.EngineFactory) Option {
	return func(a *App) { a.providers.Engines = f }
}

// WithSTT overrides Providers.STT.
func WithSTT(p stt.Provider) Option {
	return func(a *App) { a.providers.STT = p }
}

// WithListener serves on l instead of listening on server.listen_addr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Store, listener and
// registry failures are returned; a missing or broken default model is only
// logged so the API stays usable for switching.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	p := *providers
	a := &App{cfg: cfg, providers: &p}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Conversation store ────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Model registry ────────────────────────────────────────────────
	if err := a.initModels(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init models: %w", err)
	}

	// ── 3. Transcription ─────────────────────────────────────────────────
	if err := a.initTranscription(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init transcription: %w", err)
	}

	// ── 4. Gateway + routes ──────────────────────────────────────────────
	a.initGateway()
	a.server = &http.Server{
		Handler:           a.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn),
	}

	// ── 5. Listener ──────────────────────────────────────────────────────
	if a.listener == nil {
		l, err := net.Listen("tcp", cfg.Server.ListenAddr)
		if err != nil {
			a.closeAll()
			return nil, fmt.Errorf("app: listen on %q: %w", cfg.Server.ListenAddr, err)
		}
		a.listener = l
	}
	a.closers = append(a.closers, func() error {
		if err := a.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
		return nil
	})

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens the configured backend unless one was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	var (
		st  store.Store
		err error
	)
	switch a.cfg.Storage.Driver {
	case config.StoragePostgres:
		st, err = store.OpenPostgres(ctx, a.cfg.Storage.PostgresDSN)
	case config.StorageSQLite:
		st, err = store.OpenSQLite(a.cfg.Storage.SQLitePath)
	case config.StorageMemory, "":
		st = store.NewMemStore()
	default:
		err = fmt.Errorf("unknown storage driver %q", a.cfg.Storage.Driver)
	}
	if err != nil {
		return err
	}
	a.store = st
	a.closers = append(a.closers, st.Close)
	slog.Info("conversation store ready", "driver", a.cfg.Storage.Driver)
	return nil
}

// initModels builds the registry and loads the default model.
func (a *App) initModels(ctx context.Context) error {
	factory := a.providers.Engines
	if factory == nil {
		factory = func(context.Context, model.Descriptor, model.Params) (model.Engine, error) {
			return nil, errors.New("no generation engine configured")
		}
	}

	mc := a.cfg.Models
	reg, err := model.New(mc.Dir, factory,
		model.WithExtensions(mc.Extensions...),
		model.WithDefaultModel(mc.Default),
		model.WithParams(mc.Defaults),
		model.WithMetrics(a.metrics),
		model.WithBreaker(resilience.CircuitBreakerConfig{
			MaxFailures:  mc.Breaker.MaxFailures,
			ResetTimeout: mc.Breaker.ResetTimeout,
		}),
	)
	if err != nil {
		return err
	}
	a.models = reg
	a.closers = append(a.closers, reg.Close)

	if err := reg.LoadDefault(ctx); err != nil {
		slog.Warn("default model not loaded; switch one in via POST /models/switch", "err", err)
	} else if active, ok := reg.Current(); ok {
		slog.Info("model loaded", "model", active.ID, "params", active.Params)
	}
	return nil
}

// initTranscription wraps the STT provider. A nil provider yields an adapter
// that rejects binary frames.
func (a *App) initTranscription() error {
	name := a.cfg.Providers.STT.Name
	if name == "" {
		name = "stt"
	}
	ad, err := transcribe.New(a.providers.STT,
		transcribe.WithTempDir(a.cfg.Transcription.TempDir),
		transcribe.WithName(name),
		transcribe.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}
	a.stt = ad
	a.closers = append(a.closers, ad.Close)
	if !ad.Ready() {
		slog.Info("speech-to-text disabled; binary frames will be rejected")
	}
	return nil
}

func (a *App) initGateway() {
	gc := a.cfg.Gateway
	a.gateway = gateway.New(a.models, a.stt, a.store, gateway.Config{
		MaxFrameBytes:   gc.MaxFrameBytes,
		ProcessTimeout:  gc.ProcessTimeout,
		FramesPerSecond: gc.RateLimit.FramesPerSecond,
		Burst:           gc.RateLimit.Burst,
	}, gateway.WithMetrics(a.metrics))
}

// routes builds the full handler tree. CORS sits inside the observe
// middleware so preflights are traced too.
func (a *App) routes() http.Handler {
	mux := http.NewServeMux()

	var apiOpts []api.Option
	apiOpts = append(apiOpts, api.WithSessions(a.gateway))
	if dir := a.cfg.Server.StaticDir; dir != "" {
		apiOpts = append(apiOpts, api.WithStaticDir(dir))
	}
	api.New(a.models, a.store, apiOpts...).Register(mux)

	checkers := []health.Checker{
		{Name: "store", Check: a.store.Ping},
		{Name: "model", Check: a.models.Check, Optional: true},
	}
	if a.stt.Ready() {
		checkers = append(checkers, health.Checker{Name: "stt", Check: a.stt.Check, Optional: true})
	}
	health.New(checkers...).Register(mux)

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /ws", a.gateway)

	return observe.Middleware(a.metrics)(api.CORS(mux))
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Addr returns the address the server is bound to.
func (a *App) Addr() net.Addr { return a.listener.Addr() }

// Models returns the model registry.
func (a *App) Models() *model.Registry { return a.models }

// Reload applies the parts of a config change that do not need a restart.
// The log level is owned by main and is not touched here.
func (a *App) Reload(diff config.ConfigDiff) {
	if diff.ParamsChanged {
		a.models.SetParams(diff.NewParams)
		slog.Info("generation defaults updated; they apply from the next model switch", "params", diff.NewParams)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and websocket traffic and blocks until ctx is cancelled or
// the server fails. When ctx ends, open sessions are closed and in-flight
// requests drained before Run returns ctx.Err().
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", a.listener.Addr().String(), "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(a.listener, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(a.listener)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})

	g.Go(func() error {
		<-gctx.Done()
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
		defer cancel()
		return a.drain(dctx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// drain closes websocket sessions and stops the HTTP server. Only the first
// call does any work.
func (a *App) drain(ctx context.Context) error {
	a.drainOnce.Do(func() {
		gwErr := a.gateway.Shutdown(ctx)
		if gwErr != nil {
			slog.Warn("websocket sessions did not close in time", "err", gwErr)
		}
		srvErr := a.server.Shutdown(ctx)
		if errors.Is(srvErr, context.DeadlineExceeded) {
			srvErr = errors.Join(srvErr, a.server.Close())
		}
		a.drainErr = errors.Join(gwErr, srvErr)
	})
	return a.drainErr
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops serving (if Run has not already) and closes all subsystems
// in reverse-init order. It respects the context deadline: if ctx expires
// before all closers finish, remaining closers are skipped and the context
// error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.drain(ctx); err != nil {
			slog.Warn("drain error", "err", err)
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers registered so far. Used when New fails halfway.
func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
}
