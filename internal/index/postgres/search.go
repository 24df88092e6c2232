package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/atelier-labs/corpusd/internal/domain"
	"github.com/atelier-labs/corpusd/internal/index"
)

// Search runs a cosine KNN query using the pgvector <=> operator.
func (s *Store) Search(ctx context.Context, vector []float32, k int) ([]domain.ScoredChunk, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("vector is required")
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive")
	}

	q := pgvector.NewVector(vector)
	rows, err := s.pool.Query(ctx,
		`SELECT doc_hash, ordinal, text, source, doc_type, heading_path,
		        page, char_start, char_end,
		        1 - (embedding <=> $1) AS similarity
		FROM corpus_chunks
		ORDER BY embedding <=> $1
		LIMIT $2`,
		q, k)
	if err != nil {
		return nil, &index.Error{Op: index.OpSearch, Err: err}
	}
	defer rows.Close()

	out := make([]domain.ScoredChunk, 0, k)
	for rows.Next() {
		var sc domain.ScoredChunk
		var dt string
		if err := rows.Scan(
			&sc.Chunk.DocumentHash, &sc.Chunk.Ordinal, &sc.Chunk.Text,
			&sc.Chunk.Source, &dt, &sc.Chunk.HeadingPath,
			&sc.Chunk.Page, &sc.Chunk.CharStart, &sc.Chunk.CharEnd,
			&sc.Score,
		); err != nil {
			return nil, &index.Error{Op: index.OpSearch, Err: err}
		}
		sc.Chunk.DocType = domain.DocType(dt)
		sc.Score = max(0, sc.Score)
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, &index.Error{Op: index.OpSearch, Err: err}
	}
	return out, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
