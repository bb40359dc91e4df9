// Package stt defines the Provider interface for speech-to-text backends.
//
// The gateway hands complete audio clips to the provider as files on disk:
// every binary frame received from a client is written to a scoped temporary
// WAV file and the provider transcribes that file in one batch call. Streaming
// recognition is not part of this contract.
//
// Implementations are not assumed to be re-entrant; callers serialise access
// (see package transcribe).
package stt

import (
	"context"
	"errors"
)

// ErrNotInitialised is returned by providers whose underlying engine failed to
// load or has already been closed.
var ErrNotInitialised = errors.New("stt: engine not initialised")

// Provider is the abstraction over any STT backend.
type Provider interface {
	// TranscribeFile transcribes the mono PCM/WAV audio stored at path.
	// An empty Transcript.Text is a valid result meaning "no speech".
	TranscribeFile(ctx context.Context, path string) (Transcript, error)
}

// Closer is implemented by providers that hold native resources.
type Closer interface {
	Close() error
}
