// Package transcribe turns binary audio frames into text.
//
// An [Adapter] spools each clip to a uniquely named WAV file, hands the path
// to an [stt.Provider] and removes the file again. Calls into the provider
// are serialised because speech engines are generally not re-entrant.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/pkg/provider/stt"
)

// ErrUnavailable is returned when no speech-to-text engine is configured.
var ErrUnavailable = errors.New("speech-to-text unavailable")

// Error reports a failed transcription. Reason is safe to show to clients.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return "transcribe: " + e.Reason + ": " + e.Err.Error()
	}
	return "transcribe: " + e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

// Adapter wraps an stt.Provider. A zero-provider Adapter is valid and
// reports ErrUnavailable from every call.
type Adapter struct {
	provider stt.Provider
	name     string
	tempDir  string
	metrics  *observe.Metrics

	mu sync.Mutex
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithTempDir sets where clips are spooled. Defaults to
// os.TempDir()/voxgate.
func WithTempDir(dir string) Option {
	return func(a *Adapter) {
		if dir != "" {
			a.tempDir = dir
		}
	}
}

// WithName labels the provider in metrics and logs.
func WithName(name string) Option {
	return func(a *Adapter) { a.name = name }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Adapter) { a.metrics = m }
}

// New returns an Adapter around p. p may be nil. The temp directory is
// created when p is set.
func New(p stt.Provider, opts ...Option) (*Adapter, error) {
	a := &Adapter{
		provider: p,
		name:     "stt",
		tempDir:  filepath.Join(os.TempDir(), "voxgate"),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if p != nil {
		if err := os.MkdirAll(a.tempDir, 0o700); err != nil {
			return nil, fmt.Errorf("transcribe: create temp dir: %w", err)
		}
	}
	return a, nil
}

// Ready reports whether a provider is configured.
func (a *Adapter) Ready() bool { return a != nil && a.provider != nil }

// Check satisfies the readiness checker signature.
func (a *Adapter) Check(context.Context) error {
	if !a.Ready() {
		return ErrUnavailable
	}
	return nil
}

// Transcribe returns the trimmed text spoken in audio. An empty result with
// a nil error means no speech was recognised.
func (a *Adapter) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if !a.Ready() {
		return "", ErrUnavailable
	}
	if len(audio) == 0 {
		return "", &Error{Reason: "empty audio payload"}
	}

	path, err := a.spool(audio)
	if err != nil {
		return "", &Error{Reason: "could not stage audio", Err: err}
	}
	defer func() {
		if rerr := os.Remove(path); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			slog.Warn("transcribe: removing temp file failed", "path", path, "err", rerr)
		}
	}()

	ctx, span := observe.StartSpan(ctx, "transcribe.Transcribe")
	a.mu.Lock()
	start := time.Now()
	tr, err := a.provider.TranscribeFile(ctx, path)
	elapsed := time.Since(start)
	a.mu.Unlock()
	observe.EndSpan(span, err)

	a.metrics.STTDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("provider", a.name)),
	)
	if err != nil {
		a.metrics.RecordProviderError(ctx, a.name, "stt")
		return "", &Error{Reason: err.Error(), Err: err}
	}
	return strings.TrimSpace(tr.Text), nil
}

// spool writes audio to a fresh file that no other caller can share.
func (a *Adapter) spool(audio []byte) (string, error) {
	path := filepath.Join(a.tempDir, "audio-"+uuid.NewString()+".wav")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", err
	}
	if _, err := f.Write(audio); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// Close releases the provider if it holds native resources.
func (a *Adapter) Close() error {
	if c, ok := a.provider.(stt.Closer); ok {
		return c.Close()
	}
	return nil
}
