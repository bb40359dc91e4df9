// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/provider/stt"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

const (
	defaultThreads = 4

	// silenceRMS is the root-mean-square energy (16-bit PCM units) below which
	// a whole clip is treated as silence and never reaches the engine.
	silenceRMS = 50.0
)

// Compile-time assertions.
var (
	_ stt.Provider = (*NativeProvider)(nil)
	_ stt.Closer   = (*NativeProvider)(nil)
)

// NativeProvider implements stt.Provider using whisper.cpp Go bindings
// (CGO). The model is loaded once; every call creates its own context.
type NativeProvider struct {
	mu       sync.RWMutex
	model    whisperlib.Model
	language string
	threads  uint
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the language code for transcription
// (e.g., "en", "de", "auto"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeThreads sets the number of CPU threads whisper.cpp may use per
// call. Zero keeps the default of 4.
func WithNativeThreads(n uint) NativeOption {
	return func(p *NativeProvider) {
		if n > 0 {
			p.threads = n
		}
	}
}

// NewNative creates a NativeProvider that loads the whisper.cpp model from
// the given file path. The caller must call Close when the provider is no
// longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("whisper: model file: %w", err)
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		model:    model,
		language: defaultLanguage,
		threads:  defaultThreads,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model. Later calls to TranscribeFile return
// stt.ErrNotInitialised.
func (p *NativeProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model == nil {
		return nil
	}
	err := p.model.Close()
	p.model = nil
	return err
}

// TranscribeFile decodes the WAV file at path, converts it to 16 kHz mono and
// runs whisper.cpp inference over it. Clips that are effectively silent
// produce an empty transcript without invoking the engine.
func (p *NativeProvider) TranscribeFile(ctx context.Context, path string) (stt.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, err
	}
	start := time.Now()

	raw, err := os.ReadFile(path)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: read audio file: %w", err)
	}
	clip, err := audio.DecodeWAV(raw)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: %w", err)
	}
	mono := audio.ToMono(clip, audio.SpeechFormat.SampleRate)

	if computeRMS(mono.Data) < silenceRMS {
		slog.Debug("whisper: clip below silence threshold, skipping inference",
			"duration", mono.Duration(),
		)
		return stt.Transcript{Language: p.language, Duration: time.Since(start)}, nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.model == nil {
		return stt.Transcript{}, stt.ErrNotInitialised
	}

	segments, err := p.infer(ctx, audio.PCMToFloat32(mono.Data))
	if err != nil {
		return stt.Transcript{}, err
	}

	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		parts = append(parts, s.Text)
	}
	return stt.Transcript{
		Text:     strings.Join(parts, " "),
		Language: p.language,
		Segments: segments,
		Duration: time.Since(start),
	}, nil
}

// infer runs whisper.cpp over samples using a fresh context. Contexts are not
// thread-safe but the model can be shared across goroutines.
func (p *NativeProvider) infer(ctx context.Context, samples []float32) ([]stt.Segment, error) {
	wctx, err := p.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}
	wctx.SetThreads(p.threads)
	if err := wctx.SetLanguage(p.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", p.language, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper: process audio: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var segments []stt.Segment
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		segments = append(segments, stt.Segment{Text: text, Start: segment.Start, End: segment.End})
	}
	return segments, nil
}

// computeRMS returns the root-mean-square energy of a 16-bit signed
// little-endian PCM buffer. Returns 0 for buffers shorter than one sample.
func computeRMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
