// Package retrieval finds the chunks most similar to a question.
package retrieval

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/atelier-labs/corpusd/internal/domain"
)

// Searcher is the slice of the vector store retrieval needs.
type Searcher interface {
	Search(ctx context.Context, vector []float32, k int) ([]domain.ScoredChunk, error)
}

// Engine embeds questions and queries the vector index.
type Engine struct {
	searcher Searcher
	embedder domain.Embedder
	defaultK int
	log      *zap.Logger
}

// NewEngine creates a retrieval engine. defaultK is used when a caller
// passes k <= 0.
func NewEngine(searcher Searcher, embedder domain.Embedder, defaultK int, log *zap.Logger) *Engine {
	if defaultK <= 0 {
		defaultK = 4
	}
	return &Engine{searcher: searcher, embedder: embedder, defaultK: defaultK, log: log}
}

// Retrieve returns up to k chunks ranked by similarity, best first.
// An empty knowledge base yields an empty slice, not an error.
func (e *Engine) Retrieve(ctx context.Context, question string, k int) ([]domain.ScoredChunk, error) {
	if k <= 0 {
		k = e.defaultK
	}

	vector, err := e.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	chunks, err := e.searcher.Search(ctx, vector, k)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrIndexUnavailable, err)
	}

	e.log.Debug("retrieved chunks",
		zap.Int("k", k),
		zap.Int("found", len(chunks)))

	return chunks, nil
}
