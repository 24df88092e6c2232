package http

import (
	"context"

	"github.com/atelier-labs/corpusd/internal/answer"
	"github.com/atelier-labs/corpusd/internal/domain"
	"github.com/atelier-labs/corpusd/internal/ingest"
)

// Ingestor is the slice of the ingest service the server needs.
type Ingestor interface {
	IngestFile(ctx context.Context, path string, force bool) (ingest.Result, error)
	IngestDir(ctx context.Context, dir string, force bool) ([]ingest.FileResult, error)
	DeleteDocument(ctx context.Context, contentHash string) (int, error)
}

// Asker streams answers and owns the shared conversation history.
type Asker interface {
	Ask(ctx context.Context, req answer.Request, emit func(token string) error) (answer.Result, error)
	ClearHistory()
}

// Evaluator grades quiz answers.
type Evaluator interface {
	Evaluate(ctx context.Context, q domain.QuizQuestion) (domain.Grade, error)
}

// StatsProvider reports the knowledge base snapshot.
type StatsProvider interface {
	Stats(ctx context.Context) (domain.KBStats, error)
}

// Pinger checks a dependency's liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ModelChecker checks the inference host.
type ModelChecker interface {
	HealthCheck(ctx context.Context) error
}
