package main

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/voxgate/internal/config"
	"github.com/MrWong99/voxgate/internal/model"
	"github.com/MrWong99/voxgate/internal/resilience"
	"github.com/MrWong99/voxgate/pkg/provider/llm"
	llmmock "github.com/MrWong99/voxgate/pkg/provider/llm/mock"
	"github.com/MrWong99/voxgate/pkg/provider/stt"
	sttmock "github.com/MrWong99/voxgate/pkg/provider/stt/mock"
)

func loadConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return cfg
}

func TestRegisterBuiltinProviders(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	for _, want := range []string{"llamacpp", "ollama", "openai", "openai-compatible"} {
		if !slices.Contains(reg.EngineNames(), want) {
			t.Errorf("engine %q not registered; have %v", want, reg.EngineNames())
		}
	}
	if got := reg.STTNames(); !slices.Equal(got, []string{"whisper", "whisper-native"}) {
		t.Errorf("STTNames() = %v", got)
	}

	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "whisper"}); err == nil {
		t.Error("whisper without base_url should fail")
	}
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "whisper", BaseURL: "http://localhost:9000"}); err != nil {
		t.Errorf("whisper: %v", err)
	}
}

func TestEngineFactory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		options map[string]any
		want    string
	}{
		{name: "by name", want: "llama-3"},
		{name: "by path", options: map[string]any{"address_by": "path"}, want: "/models/llama-3.gguf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var gotModel string
			reg := config.NewRegistry()
			reg.RegisterEngine("fake", func(e config.ProviderEntry) (llm.Provider, error) {
				gotModel = e.Model
				return llmmock.Reply(" hi "), nil
			})

			factory := engineFactory(reg, config.ProviderEntry{Name: "fake", Model: "ignored", Options: tt.options})
			eng, err := factory(context.Background(),
				model.Descriptor{ID: "llama-3.gguf", Path: "/models/llama-3.gguf"}, model.DefaultParams())
			if err != nil {
				t.Fatalf("factory: %v", err)
			}
			if gotModel != tt.want {
				t.Errorf("model = %q, want %q", gotModel, tt.want)
			}
			out, err := eng.Generate(context.Background(), "hello")
			if err != nil || out != "hi" {
				t.Errorf("Generate() = %q, %v", out, err)
			}
		})
	}
}

func TestEngineFactory_ProviderError(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	reg := config.NewRegistry()
	reg.RegisterEngine("fake", func(config.ProviderEntry) (llm.Provider, error) { return nil, boom })

	_, err := engineFactory(reg, config.ProviderEntry{Name: "fake"})(context.Background(), model.Descriptor{ID: "a.gguf"}, model.Params{})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}

func TestBuildProviders(t *testing.T) {
	t.Parallel()

	newReg := func() *config.Registry {
		reg := config.NewRegistry()
		reg.RegisterEngine("fake", func(config.ProviderEntry) (llm.Provider, error) { return &llmmock.Provider{}, nil })
		reg.RegisterSTT("ok", func(config.ProviderEntry) (stt.Provider, error) { return &sttmock.Provider{}, nil })
		reg.RegisterSTT("broken", func(config.ProviderEntry) (stt.Provider, error) { return nil, errors.New("no model") })
		return reg
	}

	t.Run("nothing configured", func(t *testing.T) {
		t.Parallel()
		ps, err := buildProviders(loadConfig(t, ""), newReg())
		if err != nil {
			t.Fatal(err)
		}
		if ps.Engines != nil || ps.STT != nil {
			t.Errorf("providers = %+v, want empty", ps)
		}
	})

	t.Run("unregistered engine is skipped", func(t *testing.T) {
		t.Parallel()
		ps, err := buildProviders(loadConfig(t, "providers:\n  engine:\n    name: nope\n"), newReg())
		if err != nil {
			t.Fatal(err)
		}
		if ps.Engines != nil {
			t.Error("expected no engine factory")
		}
	})

	t.Run("engine and stt chain", func(t *testing.T) {
		t.Parallel()
		cfg := loadConfig(t, `
providers:
  engine:
    name: fake
  stt:
    name: ok
  stt_fallbacks:
    - name: broken
    - name: nope
    - name: ok
`)
		ps, err := buildProviders(cfg, newReg())
		if err != nil {
			t.Fatal(err)
		}
		if ps.Engines == nil {
			t.Error("expected an engine factory")
		}
		fb, ok := ps.STT.(*resilience.STTFallback)
		if !ok {
			t.Fatalf("STT = %T, want *resilience.STTFallback", ps.STT)
		}
		if got := fb.Backends(); !slices.Equal(got, []string{"ok", "ok"}) {
			t.Errorf("Backends() = %v", got)
		}
	})

	t.Run("broken primary stt fails", func(t *testing.T) {
		t.Parallel()
		_, err := buildProviders(loadConfig(t, "providers:\n  stt:\n    name: broken\n"), newReg())
		if err == nil {
			t.Fatal("expected an error for a broken primary")
		}
	})
}

func TestOptHelpers(t *testing.T) {
	t.Parallel()
	opts := map[string]any{"s": "x", "i": 4, "f": 2.0, "bad": true}

	if optString(opts, "s") != "x" || optString(opts, "i") != "" || optString(nil, "s") != "" {
		t.Error("optString mismatch")
	}
	if optInt(opts, "i") != 4 || optInt(opts, "f") != 2 || optInt(opts, "bad") != 0 || optInt(nil, "i") != 0 {
		t.Error("optInt mismatch")
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()
	if slogLevel(config.LogDebug).String() != "DEBUG" || slogLevel("").String() != "INFO" {
		t.Error("slogLevel mismatch")
	}
}
