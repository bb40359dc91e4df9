// Package mock is an in-memory llm.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxgate/pkg/provider/llm"
)

// Provider answers every Complete call from its fields and remembers the
// requests it saw. With no fields set it returns (nil, nil), which callers
// must treat as a malformed backend reply.
type Provider struct {
	Response *llm.CompletionResponse
	Err      error

	// Func takes precedence over Response and Err.
	Func func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	mu   sync.Mutex
	reqs []llm.CompletionRequest
}

// Reply returns a Provider that always answers with content.
func Reply(content string) *Provider {
	return &Provider{Response: &llm.CompletionResponse{Content: content, FinishReason: "stop"}}
}

func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.reqs = append(p.reqs, req)
	p.mu.Unlock()

	if p.Func != nil {
		return p.Func(ctx, req)
	}
	return p.Response, p.Err
}

// Requests returns a copy of the requests received so far.
func (p *Provider) Requests() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.CompletionRequest(nil), p.reqs...)
}

// CallCount reports how many times Complete ran.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.reqs)
}

var _ llm.Provider = (*Provider)(nil)
