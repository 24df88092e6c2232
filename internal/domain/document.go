package domain

import (
	"fmt"
	"time"
)

// DocType identifies the source format of an ingested document.
type DocType string

const (
	DocTypePDF      DocType = "pdf"
	DocTypeMarkdown DocType = "markdown"
)

// Document describes one ingested source file. The content hash is the
// document identity: re-ingesting identical bytes is a no-op.
type Document struct {
	ContentHash string
	SourcePath  string
	DocType     DocType
	IngestedAt  time.Time
	ChunkCount  int
}

// Chunk is one indexed text fragment of a document.
type Chunk struct {
	DocumentHash string
	Ordinal      int
	Text         string
	Source       string
	DocType      DocType
	HeadingPath  string // markdown: " > "-joined heading breadcrumb
	Page         int    // pdf: 1-based page number, 0 for markdown
	CharStart    int
	CharEnd      int
	Vector       []float32
}

// ID returns the stable chunk identifier, derived from the document
// hash and the chunk's position.
func (c Chunk) ID() string {
	return fmt.Sprintf("%s_%d", c.DocumentHash, c.Ordinal)
}

// Label returns the human-readable source attribution used in prompts
// and citations.
func (c Chunk) Label() string {
	if c.DocType == DocTypePDF && c.Page > 0 {
		return fmt.Sprintf("%s (p. %d)", c.Source, c.Page)
	}
	if c.HeadingPath != "" {
		return fmt.Sprintf("%s: %s", c.Source, c.HeadingPath)
	}
	return c.Source
}

// ScoredChunk pairs a chunk with its similarity to a query vector,
// in [0, 1] where 1 is an exact match.
type ScoredChunk struct {
	Chunk Chunk
	Score float64
}

// SourceStats aggregates per-source chunk counts.
type SourceStats struct {
	Chunks  int    `json:"chunks"`
	DocType string `json:"doc_type"`
}

// KBStats is a point-in-time snapshot of the knowledge base.
type KBStats struct {
	TotalChunks    int                    `json:"total_chunks"`
	TotalDocuments int                    `json:"total_documents"`
	EmbedModel     string                 `json:"embed_model"`
	Sources        map[string]SourceStats `json:"sources"`
}
