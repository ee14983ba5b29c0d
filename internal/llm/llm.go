// Package llm defines the external LLM and embedding provider contracts
// consumed by bookrag (spec.md §1 and §6): streaming and batch HTTP APIs
// returning tokens or vectors. bookrag treats these as pure interfaces;
// the concrete Gemini/OpenAI-compatible HTTP client is a thin adapter
// over them, not reimplemented provider logic.
package llm

import (
	"context"

	"github.com/bookrag/bookrag/internal/types"
)

// Event is one item of an upstream streaming completion, per spec.md
// §9's "promise-like callbacks -> lazy sequence" design note.
type Event struct {
	Text      string
	IsThought bool
	Done      bool
	Err       error
}

// Completer performs single-shot and streaming chat completions.
type Completer interface {
	// Complete runs a single-shot completion and returns the final text.
	Complete(ctx context.Context, messages []types.ChatMessage) (string, error)

	// Stream runs a streaming completion, sending one Event per token and
	// a final Event{Done: true} (or Event{Err: ...} on failure) before
	// closing the channel. Cancelling ctx stops the upstream call.
	Stream(ctx context.Context, messages []types.ChatMessage) (<-chan Event, error)
}

// Embedder computes dense-vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Sentinel errors surfaced by Completer/Embedder implementations, mapped
// to the error handling taxonomy in spec.md §7.
type ProviderError struct {
	Op          string
	StatusCode  int
	RateLimited bool
	Err         error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return e.Op + ": " + e.Err.Error()
	}
	return e.Op
}

func (e *ProviderError) Unwrap() error { return e.Err }
