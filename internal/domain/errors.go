package domain

import "errors"

var (
	// ErrUnreadableFile signals a source file that could not be opened or parsed.
	ErrUnreadableFile = errors.New("unreadable file")
	// ErrUnsupportedFileType signals a file extension outside pdf/markdown.
	ErrUnsupportedFileType = errors.New("unsupported file type")
	// ErrNoExtractableText signals a document that yielded no text.
	ErrNoExtractableText = errors.New("no extractable text")
	// ErrEmbeddingUnavailable signals an unreachable or failing embedding service.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")
	// ErrIndexUnavailable signals an unreachable vector index.
	ErrIndexUnavailable = errors.New("vector index unavailable")
	// ErrModelUnavailable signals an unreachable or failing generation model.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrGenerationTimeout signals a generation that exceeded its deadline.
	ErrGenerationTimeout = errors.New("generation timed out")
	// ErrAborted signals a generation cancelled by the client.
	ErrAborted = errors.New("generation aborted")
	// ErrInvalidMode signals an unknown answer mode.
	ErrInvalidMode = errors.New("invalid mode")
	// ErrEmbedderMismatch signals an index built with a different embedding model.
	ErrEmbedderMismatch = errors.New("embedder mismatch")
	// ErrDocumentNotFound signals a missing document.
	ErrDocumentNotFound = errors.New("document not found")
)
