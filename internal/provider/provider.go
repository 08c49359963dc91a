// Package provider defines the completion-provider contract this core calls
// into. Model backends are external collaborators; everything here is the
// uniform request/response surface plus a deterministic implementation for
// tests and local development.
package provider

import (
	"context"
	"fmt"
)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request contains the parameters for a completion request.
type Request struct {
	Messages  []Message
	ModelHint string
	MaxTokens int
}

// Usage contains token usage information.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the provider's response.
type Completion struct {
	Text  string
	Usage Usage
}

// Chunk is one element of a streamed completion.
type Chunk struct {
	Text string
	Done bool
}

// Error kinds a provider may fail with. All of them are retryable at the job
// level, never at the stage level.
const (
	ErrKindRateLimited = "rate_limited"
	ErrKindInvalidKey  = "invalid_key"
	ErrKindTimeout     = "timeout"
)

// Error is a completion-provider failure.
type Error struct {
	Kind    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider error (%s): %s", e.Kind, e.Message)
}

// CompletionProvider is the interface to a model backend.
type CompletionProvider interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *Request) (*Completion, error)
	// Stream sends a completion request and delivers chunks to fn in order.
	// fn is never called after an error return.
	Stream(ctx context.Context, req *Request, fn func(Chunk)) (*Completion, error)
}

// Embedder is an optional interface for providers that support embedding.
// Callers should use type assertion: if emb, ok := p.(Embedder); ok { ... }
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
