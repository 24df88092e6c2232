package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/atelier-labs/corpusd/internal/domain"
	"github.com/atelier-labs/corpusd/internal/index"
)

// Hash field names shared by writes, the FT schema and result parsing.
const (
	fieldDocHash     = "doc_hash"
	fieldOrdinal     = "ordinal"
	fieldText        = "text"
	fieldSource      = "source"
	fieldDocType     = "doc_type"
	fieldHeadingPath = "heading_path"
	fieldPage        = "page"
	fieldCharStart   = "char_start"
	fieldCharEnd     = "char_end"
	fieldVector      = "vector"

	metaEmbedModel = "embed_model"
	metaEmbedDims  = "embed_dimensions"
)

// EnsureSchema records the embedding fingerprint and creates the FT
// index over the chunk prefix. A store already fingerprinted with a
// different model or dimension count is rejected, not overwritten.
func (s *Store) EnsureSchema(ctx context.Context, embedModel string, dimensions int) error {
	meta, err := s.do(ctx, s.b().Hgetall().Key(s.metaKey()).Build()).AsStrMap()
	if err != nil {
		return &index.Error{Op: index.OpEnsureSchema, Err: err}
	}

	if len(meta) > 0 {
		if meta[metaEmbedModel] != embedModel || meta[metaEmbedDims] != strconv.Itoa(dimensions) {
			return fmt.Errorf("%w: index has %s/%s, configured %s/%d",
				domain.ErrEmbedderMismatch,
				meta[metaEmbedModel], meta[metaEmbedDims], embedModel, dimensions)
		}
	} else {
		cmd := s.b().Hset().Key(s.metaKey()).FieldValue().
			FieldValue(metaEmbedModel, embedModel).
			FieldValue(metaEmbedDims, strconv.Itoa(dimensions)).
			Build()
		if err := s.do(ctx, cmd).Error(); err != nil {
			return &index.Error{Op: index.OpEnsureSchema, Err: err}
		}
	}

	args := []string{
		s.indexName,
		"ON", "HASH",
		"PREFIX", "1", s.chunkKeyPrefix(),
		"SCHEMA",
		fieldDocHash, "TAG",
		fieldSource, "TAG",
		fieldDocType, "TAG",
		fieldVector, "VECTOR", "HNSW", "6",
		"TYPE", "FLOAT32",
		"DIM", strconv.Itoa(dimensions),
		"DISTANCE_METRIC", "COSINE",
	}

	cmd := s.b().Arbitrary("FT.CREATE").Args(args...).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		if isRedisErr(err, "index already exists") {
			return nil
		}
		return &index.Error{Op: index.OpEnsureSchema, Err: err}
	}
	return nil
}
