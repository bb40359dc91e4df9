package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voxgate/internal/model"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"engine": {"llamacpp", "llamafile", "ollama", "openai", "anthropic", "gemini", "deepseek", "mistral", "groq", "openai-compatible"},
	"stt":    {"whisper", "whisper-native"},
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr     = ":8080"
	DefaultModelsDir      = "models"
	DefaultLanguage       = "en"
	DefaultWhisperThreads = 4
	DefaultMaxFrameBytes  = 25 << 20
	DefaultProcessTimeout = 2 * time.Minute
	DefaultBreakerFails   = 5
	DefaultBreakerReset   = 30 * time.Second
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults and validates
// the result. ${VAR} references are expanded from the environment before
// decoding. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.ExpandEnv(string(raw))

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field that has a default. Fields that are
// set, including invalid ones, are left for [Validate] to judge.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	if cfg.Models.Dir == "" {
		cfg.Models.Dir = DefaultModelsDir
	}
	if len(cfg.Models.Extensions) == 0 {
		cfg.Models.Extensions = slices.Clone(model.DefaultExtensions)
	}
	d := model.DefaultParams()
	if cfg.Models.Defaults.MaxTokens == 0 {
		cfg.Models.Defaults.MaxTokens = d.MaxTokens
	}
	if cfg.Models.Defaults.Threads == 0 {
		cfg.Models.Defaults.Threads = d.Threads
	}
	if cfg.Models.Defaults.BatchSize == 0 {
		cfg.Models.Defaults.BatchSize = d.BatchSize
	}
	if cfg.Models.Breaker.MaxFailures == 0 {
		cfg.Models.Breaker.MaxFailures = DefaultBreakerFails
	}
	if cfg.Models.Breaker.ResetTimeout == 0 {
		cfg.Models.Breaker.ResetTimeout = DefaultBreakerReset
	}

	if cfg.Transcription.Language == "" {
		cfg.Transcription.Language = DefaultLanguage
	}
	if cfg.Transcription.Threads == 0 {
		cfg.Transcription.Threads = DefaultWhisperThreads
	}

	if cfg.Storage.Driver == "" {
		switch {
		case cfg.Storage.PostgresDSN != "":
			cfg.Storage.Driver = StoragePostgres
		case cfg.Storage.SQLitePath != "":
			cfg.Storage.Driver = StorageSQLite
		default:
			cfg.Storage.Driver = StorageMemory
		}
	}

	if cfg.Gateway.MaxFrameBytes == 0 {
		cfg.Gateway.MaxFrameBytes = DefaultMaxFrameBytes
	}
	if cfg.Gateway.ProcessTimeout == 0 {
		cfg.Gateway.ProcessTimeout = DefaultProcessTimeout
	}
	if rl := &cfg.Gateway.RateLimit; rl.FramesPerSecond > 0 && rl.Burst == 0 {
		rl.Burst = max(1, int(rl.FramesPerSecond))
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if dir := cfg.Server.StaticDir; dir != "" {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			slog.Warn("server.static_dir is not a readable directory; the web client will not be served", "dir", dir)
		}
	}

	// Models
	for i, ext := range cfg.Models.Extensions {
		if !strings.HasPrefix(ext, ".") || len(ext) < 2 {
			errs = append(errs, fmt.Errorf("models.extensions[%d] %q must start with a dot", i, ext))
		}
	}
	p := cfg.Models.Defaults
	if p.MaxTokens < 0 || p.Threads < 0 || p.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("models.defaults must not be negative (max_tokens=%d threads=%d batch_size=%d)", p.MaxTokens, p.Threads, p.BatchSize))
	}
	if cfg.Models.Breaker.MaxFailures < 0 || cfg.Models.Breaker.ResetTimeout < 0 {
		errs = append(errs, errors.New("models.breaker values must not be negative"))
	}

	// Providers
	validateProviderName("engine", cfg.Providers.Engine.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	if cfg.Providers.Engine.Name == "" {
		slog.Warn("providers.engine is not configured; every model switch will fail")
	}
	if cfg.Providers.STT.Name == "" && len(cfg.Providers.STTFallbacks) > 0 {
		errs = append(errs, errors.New("providers.stt_fallbacks requires providers.stt to be configured"))
	}
	for i, fb := range cfg.Providers.STTFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("stt", fb.Name)
	}

	// Transcription
	if cfg.Transcription.Threads < 0 {
		errs = append(errs, fmt.Errorf("transcription.threads %d must not be negative", cfg.Transcription.Threads))
	}

	// Storage
	switch cfg.Storage.Driver {
	case StoragePostgres:
		if cfg.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required when storage.driver is postgres"))
		}
	case StorageSQLite:
		if cfg.Storage.SQLitePath == "" {
			errs = append(errs, errors.New("storage.sqlite_path is required when storage.driver is sqlite"))
		}
	case StorageMemory:
		slog.Warn("storage.driver is memory; chats and settings are lost on restart")
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is invalid; valid values: memory, sqlite, postgres", cfg.Storage.Driver))
	}

	// Gateway
	if cfg.Gateway.MaxFrameBytes < 0 {
		errs = append(errs, fmt.Errorf("gateway.max_frame_bytes %d must not be negative", cfg.Gateway.MaxFrameBytes))
	}
	if cfg.Gateway.ProcessTimeout < 0 {
		errs = append(errs, fmt.Errorf("gateway.process_timeout %s must not be negative", cfg.Gateway.ProcessTimeout))
	}
	if rl := cfg.Gateway.RateLimit; rl.FramesPerSecond < 0 || rl.Burst < 0 {
		errs = append(errs, errors.New("gateway.rate_limit values must not be negative"))
	}

	return errors.Join(errs...)
}

// STTEntries returns the primary STT entry followed by the fallbacks, each
// with the shared transcription language and thread count copied into its
// Options unless the entry sets them itself. It returns nil when no STT
// provider is configured.
func (c *Config) STTEntries() []ProviderEntry {
	if c.Providers.STT.Name == "" {
		return nil
	}
	entries := make([]ProviderEntry, 0, 1+len(c.Providers.STTFallbacks))
	for _, e := range append([]ProviderEntry{c.Providers.STT}, c.Providers.STTFallbacks...) {
		opts := maps.Clone(e.Options)
		if opts == nil {
			opts = make(map[string]any, 2)
		}
		if _, ok := opts["language"]; !ok {
			opts["language"] = c.Transcription.Language
		}
		if _, ok := opts["threads"]; !ok {
			opts["threads"] = c.Transcription.Threads
		}
		e.Options = opts
		entries = append(entries, e)
	}
	return entries
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
