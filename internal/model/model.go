// Package model owns the gateway's single generation engine.
//
// A [Registry] enumerates the weight files in the models directory, keeps at
// most one of them loaded as the active engine and serialises every call
// into it. Generation and model switches share one gate, so a switch waits
// for the in-flight generation to finish and a generation never sees a
// half-swapped engine.
package model

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrUnknownModel is returned by Switch when the identifier is not in the
	// catalog.
	ErrUnknownModel = errors.New("model: unknown model")

	// ErrLoadFailed is returned by Switch when the weight file fails the
	// sanity check or the engine cannot be constructed.
	ErrLoadFailed = errors.New("model: load failed")

	// ErrNoModelLoaded is returned by Generate when nothing has been switched
	// in yet.
	ErrNoModelLoaded = errors.New("no model currently loaded")

	// ErrEngine wraps every failure reported by the active engine.
	ErrEngine = errors.New("model: generation failed")
)

// Descriptor describes one weight file found in the models directory.
type Descriptor struct {
	// ID is the file name including its extension. It is what clients send
	// to switch models.
	ID string `json:"id"`

	// Path is the absolute or configured-relative path of the file.
	Path string `json:"-"`

	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

// Name returns the ID without its extension. Backends that address models
// by name (Ollama, llama.cpp server aliases) receive this.
func (d Descriptor) Name() string {
	return strings.TrimSuffix(d.ID, filepath.Ext(d.ID))
}

// Params are the generation parameters an engine is constructed with.
type Params struct {
	MaxTokens int `json:"maxTokens" yaml:"max_tokens"`
	Threads   int `json:"threads" yaml:"threads"`
	BatchSize int `json:"batchSize" yaml:"batch_size"`
}

// DefaultParams returns the parameters used when nothing is configured.
func DefaultParams() Params {
	return Params{MaxTokens: 128, Threads: 1, BatchSize: 1}
}

// withDefaults fills non-positive fields from DefaultParams.
func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.MaxTokens <= 0 {
		p.MaxTokens = d.MaxTokens
	}
	if p.Threads <= 0 {
		p.Threads = d.Threads
	}
	if p.BatchSize <= 0 {
		p.BatchSize = d.BatchSize
	}
	return p
}

// Engine is one loaded generation backend bound to one model file.
// Implementations need not be safe for concurrent use; the Registry never
// calls Generate concurrently on the same engine.
type Engine interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Close() error
}

// EngineFactory builds an Engine for d. It is called with the registry gate
// held, so it may take as long as loading takes.
type EngineFactory func(ctx context.Context, d Descriptor, p Params) (Engine, error)

// Active is a snapshot of the loaded model.
type Active struct {
	Descriptor
	Params   Params
	LoadedAt time.Time
}
