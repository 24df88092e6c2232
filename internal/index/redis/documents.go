package redis

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/redis/rueidis"

	"github.com/atelier-labs/corpusd/internal/domain"
	"github.com/atelier-labs/corpusd/internal/index"
)

// Document marker fields.
const (
	docSourcePath = "source_path"
	docType       = "doc_type"
	docIngestedAt = "ingested_at"
	docChunkCount = "chunk_count"
)

// HasDocument reports whether a document marker exists for the hash.
func (s *Store) HasDocument(ctx context.Context, contentHash string) (bool, error) {
	cmd := s.b().Exists().Key(s.docKey(contentHash)).Build()
	count, err := s.do(ctx, cmd).AsInt64()
	if err != nil {
		return false, &index.Error{Op: index.OpHasDocument, Err: err}
	}
	return count > 0, nil
}

// ReplaceDocument swaps a document's chunks inside a MULTI/EXEC
// transaction: stale chunk keys are deleted, new chunks written, and
// the document marker written last. The transaction commits as a unit,
// so a concurrent search sees either the old or the new chunk set.
func (s *Store) ReplaceDocument(ctx context.Context, doc domain.Document, chunks []domain.Chunk) error {
	stale, err := s.scan(ctx, s.chunkKeyPrefix()+doc.ContentHash+":*")
	if err != nil {
		return &index.Error{Op: index.OpReplace, Err: err}
	}

	cmds := make([]rueidis.Completed, 0, len(stale)+len(chunks)+1)
	for _, key := range stale {
		cmds = append(cmds, s.b().Del().Key(key).Build())
	}
	for _, c := range chunks {
		cmd := s.b().Hset().Key(s.chunkKey(c.DocumentHash, c.Ordinal)).FieldValue().
			FieldValue(fieldDocHash, c.DocumentHash).
			FieldValue(fieldOrdinal, strconv.Itoa(c.Ordinal)).
			FieldValue(fieldText, c.Text).
			FieldValue(fieldSource, c.Source).
			FieldValue(fieldDocType, string(c.DocType)).
			FieldValue(fieldHeadingPath, c.HeadingPath).
			FieldValue(fieldPage, strconv.Itoa(c.Page)).
			FieldValue(fieldCharStart, strconv.Itoa(c.CharStart)).
			FieldValue(fieldCharEnd, strconv.Itoa(c.CharEnd)).
			FieldValue(fieldVector, vectorToBytes(c.Vector)).
			Build()
		cmds = append(cmds, cmd)
	}
	cmds = append(cmds, s.b().Hset().Key(s.docKey(doc.ContentHash)).FieldValue().
		FieldValue(docSourcePath, doc.SourcePath).
		FieldValue(docType, string(doc.DocType)).
		FieldValue(docIngestedAt, doc.IngestedAt.Format(time.RFC3339)).
		FieldValue(docChunkCount, strconv.Itoa(doc.ChunkCount)).
		Build())

	return s.doTxn(ctx, index.OpReplace, cmds)
}

// DeleteDocument removes a document marker and all its chunks in one
// MULTI/EXEC transaction.
func (s *Store) DeleteDocument(ctx context.Context, contentHash string) (int, error) {
	exists, err := s.HasDocument(ctx, contentHash)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, contentHash)
	}

	keys, err := s.scan(ctx, s.chunkKeyPrefix()+contentHash+":*")
	if err != nil {
		return 0, &index.Error{Op: index.OpDelete, Err: err}
	}

	cmds := make([]rueidis.Completed, 0, len(keys)+1)
	for _, key := range keys {
		cmds = append(cmds, s.b().Del().Key(key).Build())
	}
	cmds = append(cmds, s.b().Del().Key(s.docKey(contentHash)).Build())

	if err := s.doTxn(ctx, index.OpDelete, cmds); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Stats aggregates document markers into a knowledge base snapshot.
func (s *Store) Stats(ctx context.Context) (domain.KBStats, error) {
	stats := domain.KBStats{Sources: make(map[string]domain.SourceStats)}

	meta, err := s.do(ctx, s.b().Hgetall().Key(s.metaKey()).Build()).AsStrMap()
	if err != nil {
		return domain.KBStats{}, &index.Error{Op: index.OpStats, Err: err}
	}
	stats.EmbedModel = meta[metaEmbedModel]

	docKeys, err := s.scan(ctx, s.prefix+"doc:*")
	if err != nil {
		return domain.KBStats{}, &index.Error{Op: index.OpStats, Err: err}
	}
	if len(docKeys) == 0 {
		return stats, nil
	}

	cmds := make([]rueidis.Completed, len(docKeys))
	for i, key := range docKeys {
		cmds[i] = s.b().Hgetall().Key(key).Build()
	}
	results := s.client.DoMulti(ctx, cmds...)

	for i, res := range results {
		fields, err := res.AsStrMap()
		if err != nil {
			return domain.KBStats{}, &index.Error{
				Op:  index.OpStats,
				Err: fmt.Errorf("key %s: %w", docKeys[i], err),
			}
		}
		count, _ := strconv.Atoi(fields[docChunkCount])
		stats.TotalDocuments++
		stats.TotalChunks += count
		source := filepath.Base(fields[docSourcePath])
		stats.Sources[source] = domain.SourceStats{
			Chunks:  count,
			DocType: fields[docType],
		}
	}
	return stats, nil
}
