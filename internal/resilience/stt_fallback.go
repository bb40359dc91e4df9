package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/voxgate/pkg/provider/stt"
)

// STTFallback is an [stt.Provider] that fails over across a [Chain] of
// transcription backends. The same audio file is offered to each backend in
// turn.
type STTFallback struct {
	chain *Chain[stt.Provider]
}

var (
	_ stt.Provider = (*STTFallback)(nil)
	_ stt.Closer   = (*STTFallback)(nil)
)

func NewSTTFallback(primary stt.Provider, name string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{chain: NewChain(primary, name, cfg)}
}

// AddFallback appends a backend after those already added.
func (f *STTFallback) AddFallback(name string, p stt.Provider) { f.chain.Append(name, p) }

// Backends returns backend names in failover order.
func (f *STTFallback) Backends() []string { return f.chain.Names() }

func (f *STTFallback) TranscribeFile(ctx context.Context, path string) (stt.Transcript, error) {
	return Do(ctx, f.chain, func(p stt.Provider) (stt.Transcript, error) {
		return p.TranscribeFile(ctx, path)
	})
}

// Close releases every backend that implements [stt.Closer].
func (f *STTFallback) Close() error {
	var errs []error
	for _, p := range f.chain.All() {
		if c, ok := p.(stt.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
