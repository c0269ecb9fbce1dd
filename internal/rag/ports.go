package rag

import (
	"context"

	"github.com/katakuxiko/smeplug/internal/model"
	"github.com/katakuxiko/smeplug/internal/store"
)

// Embedder maps text to a vector; the same model is used for chunks and queries.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher is the read side of store.Index.
type Searcher interface {
	Search(ctx context.Context, query []float32, k int, filter store.Filter) ([]model.ScoredChunk, error)
}

// Prompt is a single system+user exchange with the language model.
type Prompt struct {
	System      string
	User        string
	JSON        bool
	Temperature float32
}

// Generator is the external chat-completion collaborator.
type Generator interface {
	Generate(ctx context.Context, p Prompt) (string, error)
}

// PersonaSource optionally supplies a persona directive for a domain.
type PersonaSource interface {
	Directive(domain string) (string, bool)
}
