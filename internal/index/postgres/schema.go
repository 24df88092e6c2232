package postgres

import (
	"context"
	"fmt"
	"strconv"

	"github.com/atelier-labs/corpusd/internal/domain"
	"github.com/atelier-labs/corpusd/internal/index"
)

// EnsureSchema creates the tables and the ivfflat index, and records
// the embedding fingerprint. A database fingerprinted with a different
// model or dimension count is rejected.
func (s *Store) EnsureSchema(ctx context.Context, embedModel string, dimensions int) error {
	ddl := fmt.Sprintf(`
	CREATE EXTENSION IF NOT EXISTS vector;

	CREATE TABLE IF NOT EXISTS corpus_meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS corpus_documents (
		content_hash TEXT PRIMARY KEY,
		source_path  TEXT NOT NULL,
		doc_type     TEXT NOT NULL,
		ingested_at  TIMESTAMPTZ NOT NULL,
		chunk_count  INT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS corpus_chunks (
		doc_hash     TEXT NOT NULL REFERENCES corpus_documents(content_hash) ON DELETE CASCADE,
		ordinal      INT NOT NULL,
		text         TEXT NOT NULL,
		source       TEXT NOT NULL,
		doc_type     TEXT NOT NULL,
		heading_path TEXT NOT NULL DEFAULT '',
		page         INT NOT NULL DEFAULT 0,
		char_start   INT NOT NULL DEFAULT 0,
		char_end     INT NOT NULL DEFAULT 0,
		embedding    vector(%d) NOT NULL,
		PRIMARY KEY (doc_hash, ordinal)
	);

	CREATE INDEX IF NOT EXISTS idx_corpus_chunks_embedding
		ON corpus_chunks USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100);
	`, dimensions)

	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return &index.Error{Op: index.OpEnsureSchema, Err: err}
	}

	var storedModel, storedDims string
	err := s.pool.QueryRow(ctx,
		`SELECT
			COALESCE((SELECT value FROM corpus_meta WHERE key = 'embed_model'), ''),
			COALESCE((SELECT value FROM corpus_meta WHERE key = 'embed_dimensions'), '')`,
	).Scan(&storedModel, &storedDims)
	if err != nil && !isNoRows(err) {
		return &index.Error{Op: index.OpEnsureSchema, Err: err}
	}

	if storedModel != "" {
		if storedModel != embedModel || storedDims != strconv.Itoa(dimensions) {
			return fmt.Errorf("%w: index has %s/%s, configured %s/%d",
				domain.ErrEmbedderMismatch, storedModel, storedDims, embedModel, dimensions)
		}
		return nil
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO corpus_meta (key, value) VALUES
			('embed_model', $1), ('embed_dimensions', $2)
		ON CONFLICT (key) DO NOTHING`,
		embedModel, strconv.Itoa(dimensions))
	if err != nil {
		return &index.Error{Op: index.OpEnsureSchema, Err: err}
	}
	return nil
}
