// Package llm defines the Provider interface for text-generation backends.
//
// A provider wraps a local or remote model server (a llama.cpp server, Ollama,
// llamafile, or a hosted API) and exposes a single blocking completion call.
// The gateway binds one provider instance to one model file at a time; see
// package model for the lifecycle around it.
//
// Implementations must be safe for concurrent use, although the gateway
// serialises calls against a single instance.
package llm

import "context"

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the backend needs to produce a reply.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation. The last message is typically
	// from the "user" role and drives the response.
	Messages []Message

	// Temperature controls output randomness. Zero leaves the backend default.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the backend default.
	MaxTokens int

	// SystemPrompt is an optional instruction injected before Messages.
	SystemPrompt string
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// FinishReason reports why generation stopped ("stop", "length", ...).
	FinishReason string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any text-generation backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// Returns an error if the request fails or ctx is cancelled first.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
