package domain

import "context"

// Embedder turns text into vectors using one fixed embedding model.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// ModelID identifies the embedding model. An index built with a
	// different model must not be queried or written.
	ModelID() string
	Dimensions() int
}

// Generator produces model completions.
type Generator interface {
	// Complete returns a full completion in one shot.
	Complete(ctx context.Context, prompt string, profile ModelProfile) (string, error)
	// Stream pushes tokens to onToken as they arrive. A non-nil error
	// from onToken stops the stream. Returns ErrAborted when ctx is
	// cancelled mid-stream.
	Stream(ctx context.Context, prompt string, profile ModelProfile, onToken func(token string) error) error
}
