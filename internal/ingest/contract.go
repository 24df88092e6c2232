package ingest

import (
	"context"

	"github.com/atelier-labs/corpusd/internal/domain"
)

// Index is the slice of the vector store the ingest service needs.
type Index interface {
	HasDocument(ctx context.Context, contentHash string) (bool, error)
	ReplaceDocument(ctx context.Context, doc domain.Document, chunks []domain.Chunk) error
	DeleteDocument(ctx context.Context, contentHash string) (int, error)
}
