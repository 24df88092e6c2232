// Package ingest turns source files into embedded, indexed chunks.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/atelier-labs/corpusd/internal/chunker"
	"github.com/atelier-labs/corpusd/internal/domain"
	"github.com/atelier-labs/corpusd/internal/metrics"
)

// Config holds chunking and batching parameters.
type Config struct {
	ChunkSize      int
	ChunkOverlap   int
	EmbedBatchSize int
	DirConcurrency int
}

// Service ingests PDF and Markdown files into the vector index.
type Service struct {
	idx      Index
	embedder domain.Embedder
	cfg      Config
	log      *zap.Logger

	locks keyedLocks
}

// NewService creates an ingest service.
func NewService(idx Index, embedder domain.Embedder, cfg Config, log *zap.Logger) *Service {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 800
	}
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = 50
	}
	if cfg.DirConcurrency <= 0 {
		cfg.DirConcurrency = 2
	}
	return &Service{idx: idx, embedder: embedder, cfg: cfg, log: log}
}

// Result reports the outcome of one file ingestion.
type Result struct {
	Source        string         `json:"source"`
	ContentHash   string         `json:"content_hash"`
	DocType       domain.DocType `json:"doc_type"`
	ChunksIndexed int            `json:"chunks_indexed"`
	Skipped       bool           `json:"skipped"`
}

// IngestFile processes one file end to end: hash, dedup check, extract,
// chunk, embed, index. Identical content is skipped unless force is
// set. Concurrent ingests of the same content serialize on the hash.
func (s *Service) IngestFile(ctx context.Context, path string, force bool) (Result, error) {
	docType, err := detectDocType(path)
	if err != nil {
		return Result{}, err
	}

	hash, err := hashFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", domain.ErrUnreadableFile, path, err)
	}

	unlock := s.locks.lock(hash)
	defer unlock()

	source := filepath.Base(path)

	if !force {
		exists, err := s.idx.HasDocument(ctx, hash)
		if err != nil {
			return Result{}, fmt.Errorf("dedup check for %s: %w", source, err)
		}
		if exists {
			s.log.Info("document already indexed, skipping",
				zap.String("source", source),
				zap.String("content_hash", hash))
			return Result{Source: source, ContentHash: hash, DocType: docType, Skipped: true}, nil
		}
	}

	var chunks []domain.Chunk
	switch docType {
	case domain.DocTypePDF:
		chunks, err = s.chunkPDF(path, hash, source)
	case domain.DocTypeMarkdown:
		chunks, err = s.chunkMarkdown(path, hash, source)
	}
	if err != nil {
		return Result{}, err
	}
	if len(chunks) == 0 {
		return Result{}, fmt.Errorf("%w: %s", domain.ErrNoExtractableText, source)
	}

	if err := s.embedChunks(ctx, chunks); err != nil {
		return Result{}, err
	}

	doc := domain.Document{
		ContentHash: hash,
		SourcePath:  path,
		DocType:     docType,
		IngestedAt:  time.Now().UTC(),
		ChunkCount:  len(chunks),
	}
	if err := s.idx.ReplaceDocument(ctx, doc, chunks); err != nil {
		return Result{}, fmt.Errorf("index %s: %w", source, err)
	}

	metrics.DocumentsIngested.WithLabelValues(string(docType)).Inc()
	metrics.ChunksIndexed.Add(float64(len(chunks)))

	s.log.Info("document ingested",
		zap.String("source", source),
		zap.String("content_hash", hash),
		zap.String("doc_type", string(docType)),
		zap.Int("chunks", len(chunks)))

	return Result{Source: source, ContentHash: hash, DocType: docType, ChunksIndexed: len(chunks)}, nil
}

// FileResult pairs a path with its ingestion outcome for batch reports.
type FileResult struct {
	Path   string `json:"path"`
	Result Result `json:"result,omitzero"`
	Error  string `json:"error,omitempty"`
}

// IngestDir walks dir recursively and ingests every supported file with
// bounded concurrency. Individual failures are reported per file and do
// not stop the batch.
func (s *Service) IngestDir(ctx context.Context, dir string, force bool) ([]FileResult, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, typeErr := detectDocType(path); typeErr == nil {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrUnreadableFile, dir, err)
	}

	results := make([]FileResult, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.DirConcurrency)

	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			res, err := s.IngestFile(gctx, path, force)
			if err != nil {
				s.log.Warn("batch ingest: file failed",
					zap.String("path", path), zap.Error(err))
				results[i] = FileResult{Path: path, Error: err.Error()}
				return nil
			}
			results[i] = FileResult{Path: path, Result: res}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// DeleteDocument removes a document and its chunks from the index.
func (s *Service) DeleteDocument(ctx context.Context, contentHash string) (int, error) {
	removed, err := s.idx.DeleteDocument(ctx, contentHash)
	if err != nil {
		return 0, fmt.Errorf("delete document %s: %w", contentHash, err)
	}
	s.log.Info("document deleted",
		zap.String("content_hash", contentHash),
		zap.Int("chunks_removed", removed))
	return removed, nil
}

func (s *Service) chunkMarkdown(path, hash, source string) ([]domain.Chunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrUnreadableFile, path, err)
	}

	var chunks []domain.Chunk
	ordinal := 0
	for _, sec := range parseMarkdownSections(string(data)) {
		pieces, oversize := chunker.Split(sec.Body, s.cfg.ChunkSize, s.cfg.ChunkOverlap)
		if oversize {
			s.log.Warn("oversize segment split mid-word",
				zap.String("source", source), zap.String("section", sec.Heading))
		}
		for i, p := range pieces {
			text := p.Text
			if i == 0 && sec.Heading != "" {
				text = sec.Heading + "\n\n" + text
			}
			chunks = append(chunks, domain.Chunk{
				DocumentHash: hash,
				Ordinal:      ordinal,
				Text:         text,
				Source:       source,
				DocType:      domain.DocTypeMarkdown,
				HeadingPath:  sec.Path,
				CharStart:    sec.Offset + p.Start,
				CharEnd:      sec.Offset + p.End,
			})
			ordinal++
		}
	}
	return chunks, nil
}

func (s *Service) chunkPDF(path, hash, source string) ([]domain.Chunk, error) {
	var chunks []domain.Chunk
	ordinal := 0
	err := readPDFPages(path, func(page int, text string) error {
		pieces, oversize := chunker.Split(text, s.cfg.ChunkSize, s.cfg.ChunkOverlap)
		if oversize {
			s.log.Warn("oversize segment split mid-word",
				zap.String("source", source), zap.Int("page", page))
		}
		for _, p := range pieces {
			chunks = append(chunks, domain.Chunk{
				DocumentHash: hash,
				Ordinal:      ordinal,
				Text:         p.Text,
				Source:       source,
				DocType:      domain.DocTypePDF,
				Page:         page,
				CharStart:    p.Start,
				CharEnd:      p.End,
			})
			ordinal++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// embedChunks fills chunk vectors in batches.
func (s *Service) embedChunks(ctx context.Context, chunks []domain.Chunk) error {
	for start := 0; start < len(chunks); start += s.cfg.EmbedBatchSize {
		end := min(start+s.cfg.EmbedBatchSize, len(chunks))

		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}
		vectors, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed batch [%d:%d]: %w", start, end, err)
		}
		if len(vectors) != len(texts) {
			return fmt.Errorf("%w: got %d vectors for %d texts",
				domain.ErrEmbeddingUnavailable, len(vectors), len(texts))
		}
		for i := range vectors {
			chunks[start+i].Vector = vectors[i]
		}
	}
	return nil
}

// detectDocType maps a file extension to a document type.
func detectDocType(path string) (domain.DocType, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return domain.DocTypePDF, nil
	case ".md", ".markdown":
		return domain.DocTypeMarkdown, nil
	default:
		return "", fmt.Errorf("%w: %s", domain.ErrUnsupportedFileType, filepath.Ext(path))
	}
}

// hashFile streams a file through SHA-256.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// keyedLocks serializes work per content hash.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedLocks) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*lockEntry)
	}
	e, ok := k.locks[key]
	if !ok {
		e = &lockEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
