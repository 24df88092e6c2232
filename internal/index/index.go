// Package index defines the vector store contract shared by the
// Redis and Postgres backends.
package index

import (
	"context"
	"fmt"
	"time"

	"github.com/atelier-labs/corpusd/internal/domain"
)

// Store is the persistence contract for documents, chunks and vectors.
type Store interface {
	// EnsureSchema prepares indexes and records the embedding model
	// fingerprint. It returns domain.ErrEmbedderMismatch when the
	// store was built with a different model or dimension count.
	EnsureSchema(ctx context.Context, embedModel string, dimensions int) error

	HasDocument(ctx context.Context, contentHash string) (bool, error)
	// ReplaceDocument atomically swaps a document's chunks. The
	// document marker becomes visible only after all chunks are
	// written.
	ReplaceDocument(ctx context.Context, doc domain.Document, chunks []domain.Chunk) error
	// DeleteDocument removes a document and returns how many chunks
	// went with it. Missing documents yield domain.ErrDocumentNotFound.
	DeleteDocument(ctx context.Context, contentHash string) (int, error)

	// Search returns the k nearest chunks by cosine similarity,
	// best first. An empty index yields an empty slice, not an error.
	Search(ctx context.Context, vector []float32, k int) ([]domain.ScoredChunk, error)

	Stats(ctx context.Context) (domain.KBStats, error)

	Ping(ctx context.Context) error
	WaitForReady(ctx context.Context, timeout time.Duration) error
	Close()
}

// Operation names for error reporting.
const (
	OpEnsureSchema = "ensure_schema"
	OpHasDocument  = "has_document"
	OpReplace      = "replace_document"
	OpDelete       = "delete_document"
	OpSearch       = "search"
	OpStats        = "stats"
)

// Error tags a store failure with the operation that produced it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("index %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
