// Command voxgate serves local language models to browser clients over HTTP
// and websockets, with optional speech-to-text for voice input.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/voxgate/internal/app"
	"github.com/MrWong99/voxgate/internal/config"
	"github.com/MrWong99/voxgate/internal/model"
	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/internal/resilience"
	"github.com/MrWong99/voxgate/pkg/provider/llm"
	"github.com/MrWong99/voxgate/pkg/provider/llm/anyllm"
	"github.com/MrWong99/voxgate/pkg/provider/llm/openai"
	"github.com/MrWong99/voxgate/pkg/provider/stt"
	"github.com/MrWong99/voxgate/pkg/provider/stt/whisper"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envPath := flag.String("env", ".env", "optional dotenv file loaded before the config is expanded")
	flag.Parse()

	// ── Environment ───────────────────────────────────────────────────────────
	// A missing dotenv file is normal in containers; anything else is not.
	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "voxgate: load %s: %v\n", *envPath, err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxgate: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxgate: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(&level))

	slog.Info("voxgate starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(_, _ *config.Config, diff config.ConfigDiff) {
		if diff.LogLevelChanged {
			level.Set(slogLevel(diff.NewLogLevel))
			slog.Info("log level changed", "level", diff.NewLogLevel)
		}
		application.Reload(diff)
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready, press Ctrl+C to shut down", "addr", application.Addr().String())

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires every generation backend and STT
// implementation that ships with voxgate into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Engines ───────────────────────────────────────────────────────────────
	// All any-llm-go backends share the same pattern: optional APIKey plus
	// optional BaseURL. Local ones default to their usual localhost port.
	for _, name := range anyllm.Backends {
		reg.RegisterEngine(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			p, err := anyllm.New(name, entry.Model, opts...)
			if err != nil {
				return nil, err
			}
			return p, nil
		})
	}

	// Any server speaking the OpenAI chat completions API (vLLM, LocalAI,
	// llama-server) with extra sampling fields passed through verbatim.
	reg.RegisterEngine("openai-compatible", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.APIKey != "" {
			opts = append(opts, openai.WithAPIKey(entry.APIKey))
		}
		if d, err := time.ParseDuration(optString(entry.Options, "timeout")); err == nil && d > 0 {
			opts = append(opts, openai.WithTimeout(d))
		}
		for k, v := range entry.Options {
			if k == "timeout" || k == "address_by" {
				continue
			}
			opts = append(opts, openai.WithExtraField(k, v))
		}
		p, err := openai.New(entry.BaseURL, entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if n := optInt(entry.Options, "threads"); n > 0 {
			opts = append(opts, whisper.WithNativeThreads(uint(n)))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	slog.Debug("registered providers", "engines", reg.EngineNames(), "stt", reg.STTNames())
}

// buildProviders turns the configured entries into an [app.Providers].
//
// The engine is not created here: each model switch builds a fresh client
// bound to the selected file through the returned factory. Unregistered
// names are skipped with a warning so the API stays usable.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if entry := cfg.Providers.Engine; entry.Name != "" {
		if !slices.Contains(reg.EngineNames(), entry.Name) {
			slog.Warn("engine provider not registered; generation disabled", "name", entry.Name)
		} else {
			ps.Engines = engineFactory(reg, entry)
			slog.Info("engine configured", "name", entry.Name, "base_url", entry.BaseURL)
		}
	}

	entries := cfg.STTEntries()
	var fallback *resilience.STTFallback
	for i, entry := range entries {
		p, err := reg.CreateSTT(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("stt provider not registered; skipping", "name", entry.Name)
			continue
		}
		if err != nil {
			if i == 0 {
				return nil, fmt.Errorf("create stt provider %q: %w", entry.Name, err)
			}
			slog.Warn("stt fallback unavailable", "name", entry.Name, "err", err)
			continue
		}
		slog.Info("provider created", "kind", "stt", "name", entry.Name)

		if fallback == nil {
			fallback = resilience.NewSTTFallback(p, entry.Name, resilience.FallbackConfig{
				CircuitBreaker: resilience.CircuitBreakerConfig{
					MaxFailures:   cfg.Models.Breaker.MaxFailures,
					ResetTimeout:  cfg.Models.Breaker.ResetTimeout,
					OnStateChange: recordSTTBreaker,
				},
			})
			continue
		}
		fallback.AddFallback(entry.Name, p)
	}
	if fallback != nil {
		ps.STT = fallback
		slog.Info("speech-to-text ready", "backends", fallback.Backends())
	}

	return ps, nil
}

func recordSTTBreaker(name string, _, to resilience.State) {
	observe.DefaultMetrics().RecordBreakerTransition(context.Background(), "stt/"+name, to.String())
}

// engineFactory builds one llm.Provider per model switch. By default the
// backend addresses the model by its name without extension; set
// options.address_by to "path" for servers that load files directly.
func engineFactory(reg *config.Registry, entry config.ProviderEntry) model.EngineFactory {
	byPath := optString(entry.Options, "address_by") == "path"
	return func(_ context.Context, d model.Descriptor, p model.Params) (model.Engine, error) {
		e := entry
		e.Model = d.Name()
		if byPath {
			e.Model = d.Path
		}
		provider, err := reg.CreateEngine(e)
		if err != nil {
			return nil, err
		}
		return model.NewLLMEngine(provider, p), nil
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         voxgate: startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Engine", cfg.Providers.Engine.Name)
	sttNames := make([]string, 0, 1+len(cfg.Providers.STTFallbacks))
	for _, e := range cfg.STTEntries() {
		sttNames = append(sttNames, e.Name)
	}
	printRow("STT", strings.Join(sttNames, " > "))
	printRow("Models dir", cfg.Models.Dir)
	printRow("Default model", cfg.Models.Default)
	printRow("Storage", string(cfg.Storage.Driver))
	printRow("Listen addr", cfg.Server.ListenAddr)
	if cfg.Server.TLS != nil {
		printRow("TLS", "enabled")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer from a provider Options map. YAML yields int,
// programmatic callers may pass any integer or float kind.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case uint:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
