package model

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/MrWong99/voxgate/pkg/provider/llm"
)

// llmEngine adapts an llm.Provider that has been bound to one model file.
type llmEngine struct {
	provider llm.Provider
	params   Params
}

// NewLLMEngine wraps p as an Engine. Each prompt is sent as a single user
// message capped at params.MaxTokens. Threads and BatchSize are properties of
// the serving process for HTTP backends and are only recorded here.
func NewLLMEngine(p llm.Provider, params Params) Engine {
	return &llmEngine{provider: p, params: params.withDefaults()}
}

func (e *llmEngine) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := e.provider.Complete(ctx, llm.UserPrompt(prompt, e.params.MaxTokens))
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", errors.New("empty completion response")
	}
	return strings.TrimSpace(resp.Content), nil
}

// Close closes the provider when it holds resources.
func (e *llmEngine) Close() error {
	if c, ok := e.provider.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
