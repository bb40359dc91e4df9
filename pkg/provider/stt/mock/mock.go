// Package mock provides a test double for the stt.Provider interface.
//
// Use Provider to feed controlled transcripts to the gateway and to inspect
// which files it was asked to transcribe. The file contents are captured at
// call time because callers delete their temporary files right after.
//
// Example:
//
//	p := &mock.Provider{Text: "hello"}
//	tr, _ := p.TranscribeFile(ctx, path)
package mock

import (
	"context"
	"os"
	"sync"

	"github.com/MrWong99/voxgate/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.TranscribeFile.
type TranscribeCall struct {
	// Path is the file path passed to TranscribeFile.
	Path string
	// Data is the file contents at the time of the call. Nil when the file
	// could not be read.
	Data []byte
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Text is returned as the transcript text.
	Text string

	// Err, if non-nil, is returned as the error from TranscribeFile.
	Err error

	// Func, if set, overrides Text and Err.
	Func func(ctx context.Context, path string) (stt.Transcript, error)

	// Calls records every call to TranscribeFile in order.
	Calls []TranscribeCall

	// Closed is set by Close.
	Closed bool
}

// TranscribeFile records the call and returns the configured result.
func (p *Provider) TranscribeFile(ctx context.Context, path string) (stt.Transcript, error) {
	data, _ := os.ReadFile(path)

	p.mu.Lock()
	p.Calls = append(p.Calls, TranscribeCall{Path: path, Data: data})
	fn, text, err := p.Func, p.Text, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, path)
	}
	if err != nil {
		return stt.Transcript{}, err
	}
	return stt.Transcript{Text: text}, nil
}

// CallCount returns how many times TranscribeFile was invoked. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// LastCall returns the most recent call and whether there was one.
func (p *Provider) LastCall() (TranscribeCall, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Calls) == 0 {
		return TranscribeCall{}, false
	}
	return p.Calls[len(p.Calls)-1], true
}

// Close marks the provider closed.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	return nil
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

var (
	_ stt.Provider = (*Provider)(nil)
	_ stt.Closer   = (*Provider)(nil)
)
