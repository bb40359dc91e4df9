package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/voxgate/internal/config"
)

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr []string
	}{
		{
			name:    "bad log level",
			yaml:    "server:\n  log_level: bananas\n",
			wantErr: []string{"server.log_level"},
		},
		{
			name:    "tls missing key",
			yaml:    "server:\n  tls:\n    cert_file: cert.pem\n",
			wantErr: []string{"server.tls"},
		},
		{
			name:    "extension without dot",
			yaml:    "models:\n  extensions: [gguf]\n",
			wantErr: []string{"models.extensions[0]"},
		},
		{
			name:    "negative params",
			yaml:    "models:\n  defaults:\n    max_tokens: -1\n",
			wantErr: []string{"models.defaults"},
		},
		{
			name:    "negative breaker",
			yaml:    "models:\n  breaker:\n    max_failures: -2\n",
			wantErr: []string{"models.breaker"},
		},
		{
			name:    "fallbacks without primary",
			yaml:    "providers:\n  stt_fallbacks:\n    - name: whisper\n",
			wantErr: []string{"providers.stt_fallbacks requires providers.stt"},
		},
		{
			name:    "fallback without name",
			yaml:    "providers:\n  stt:\n    name: whisper\n  stt_fallbacks:\n    - base_url: http://x\n",
			wantErr: []string{"providers.stt_fallbacks[0].name"},
		},
		{
			name:    "postgres without dsn",
			yaml:    "storage:\n  driver: postgres\n",
			wantErr: []string{"storage.postgres_dsn"},
		},
		{
			name:    "sqlite without path",
			yaml:    "storage:\n  driver: sqlite\n",
			wantErr: []string{"storage.sqlite_path"},
		},
		{
			name:    "unknown driver",
			yaml:    "storage:\n  driver: mongo\n",
			wantErr: []string{"storage.driver"},
		},
		{
			name:    "negative gateway values",
			yaml:    "gateway:\n  max_frame_bytes: -1\n  process_timeout: -5s\n  rate_limit:\n    burst: -1\n",
			wantErr: []string{"gateway.max_frame_bytes", "gateway.process_timeout", "gateway.rate_limit"},
		},
		{
			name:    "errors are collected",
			yaml:    "server:\n  log_level: loud\nstorage:\n  driver: mongo\n",
			wantErr: []string{"server.log_level", "storage.driver"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected a validation error, got nil")
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error should mention %q, got: %v", want, err)
				}
			}
		})
	}
}

func TestValidate_UnknownProviderIsOnlyAWarning(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`
providers:
  engine:
    name: my-custom-backend
  stt:
    name: deepgram
`))
	if err != nil {
		t.Errorf("unknown provider names should not fail validation, got: %v", err)
	}
}

func TestValidate_MissingStaticDirIsOnlyAWarning(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  static_dir: /definitely/not/here\n"))
	if err != nil {
		t.Errorf("missing static dir should not fail validation, got: %v", err)
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	for _, l := range []config.LogLevel{"", "trace", "INFO"} {
		if l.IsValid() {
			t.Errorf("%q should be invalid", l)
		}
	}
}

func TestStorageDriver_IsValid(t *testing.T) {
	t.Parallel()
	for _, d := range []config.StorageDriver{config.StorageMemory, config.StorageSQLite, config.StoragePostgres} {
		if !d.IsValid() {
			t.Errorf("%q should be valid", d)
		}
	}
	if config.StorageDriver("mysql").IsValid() {
		t.Error("mysql should be invalid")
	}
}
