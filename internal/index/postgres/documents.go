package postgres

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/pgvector/pgvector-go"

	"github.com/atelier-labs/corpusd/internal/domain"
	"github.com/atelier-labs/corpusd/internal/index"
)

// HasDocument reports whether a document row exists for the hash.
func (s *Store) HasDocument(ctx context.Context, contentHash string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM corpus_documents WHERE content_hash = $1)`,
		contentHash,
	).Scan(&exists)
	if err != nil {
		return false, &index.Error{Op: index.OpHasDocument, Err: err}
	}
	return exists, nil
}

// ReplaceDocument swaps a document's chunks inside one transaction.
func (s *Store) ReplaceDocument(ctx context.Context, doc domain.Document, chunks []domain.Chunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &index.Error{Op: index.OpReplace, Err: err}
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	_, err = tx.Exec(ctx,
		`INSERT INTO corpus_documents (content_hash, source_path, doc_type, ingested_at, chunk_count)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (content_hash) DO UPDATE SET
			source_path = EXCLUDED.source_path,
			doc_type    = EXCLUDED.doc_type,
			ingested_at = EXCLUDED.ingested_at,
			chunk_count = EXCLUDED.chunk_count`,
		doc.ContentHash, doc.SourcePath, string(doc.DocType), doc.IngestedAt, doc.ChunkCount)
	if err != nil {
		return &index.Error{Op: index.OpReplace, Err: err}
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM corpus_chunks WHERE doc_hash = $1`, doc.ContentHash); err != nil {
		return &index.Error{Op: index.OpReplace, Err: err}
	}

	for _, c := range chunks {
		_, err := tx.Exec(ctx,
			`INSERT INTO corpus_chunks
				(doc_hash, ordinal, text, source, doc_type, heading_path, page, char_start, char_end, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			c.DocumentHash, c.Ordinal, c.Text, c.Source, string(c.DocType),
			c.HeadingPath, c.Page, c.CharStart, c.CharEnd, pgvector.NewVector(c.Vector))
		if err != nil {
			return &index.Error{Op: index.OpReplace, Err: fmt.Errorf("chunk %d: %w", c.Ordinal, err)}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return &index.Error{Op: index.OpReplace, Err: err}
	}
	return nil
}

// DeleteDocument removes a document row; chunks go with it via cascade.
func (s *Store) DeleteDocument(ctx context.Context, contentHash string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT chunk_count FROM corpus_documents WHERE content_hash = $1`,
		contentHash,
	).Scan(&count)
	if err != nil {
		if isNoRows(err) {
			return 0, fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, contentHash)
		}
		return 0, &index.Error{Op: index.OpDelete, Err: err}
	}

	if _, err := s.pool.Exec(ctx,
		`DELETE FROM corpus_documents WHERE content_hash = $1`, contentHash); err != nil {
		return 0, &index.Error{Op: index.OpDelete, Err: err}
	}
	return count, nil
}

// Stats aggregates document rows into a knowledge base snapshot.
func (s *Store) Stats(ctx context.Context) (domain.KBStats, error) {
	stats := domain.KBStats{Sources: make(map[string]domain.SourceStats)}

	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE((SELECT value FROM corpus_meta WHERE key = 'embed_model'), '')`,
	).Scan(&stats.EmbedModel)
	if err != nil {
		return domain.KBStats{}, &index.Error{Op: index.OpStats, Err: err}
	}

	rows, err := s.pool.Query(ctx,
		`SELECT source_path, doc_type, chunk_count FROM corpus_documents`)
	if err != nil {
		return domain.KBStats{}, &index.Error{Op: index.OpStats, Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var sourcePath, dt string
		var count int
		if err := rows.Scan(&sourcePath, &dt, &count); err != nil {
			return domain.KBStats{}, &index.Error{Op: index.OpStats, Err: err}
		}
		stats.TotalDocuments++
		stats.TotalChunks += count
		stats.Sources[filepath.Base(sourcePath)] = domain.SourceStats{
			Chunks:  count,
			DocType: dt,
		}
	}
	if err := rows.Err(); err != nil {
		return domain.KBStats{}, &index.Error{Op: index.OpStats, Err: err}
	}
	return stats, nil
}
