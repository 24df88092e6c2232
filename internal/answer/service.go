// Package answer streams citation-bearing answers grounded in
// retrieved chunks.
package answer

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/atelier-labs/corpusd/internal/domain"
	"github.com/atelier-labs/corpusd/internal/metrics"
)

// Retriever is the slice of the retrieval engine the answer service needs.
type Retriever interface {
	Retrieve(ctx context.Context, question string, k int) ([]domain.ScoredChunk, error)
}

// Service turns questions into streamed answers with citations.
type Service struct {
	retriever Retriever
	generator domain.Generator
	history   *domain.History
	profiles  map[domain.Mode]domain.ModelProfile
	log       *zap.Logger
}

// NewService creates an answer service. profiles maps each mode to its
// generation settings.
func NewService(
	retriever Retriever,
	generator domain.Generator,
	history *domain.History,
	profiles map[domain.Mode]domain.ModelProfile,
	log *zap.Logger,
) *Service {
	return &Service{
		retriever: retriever,
		generator: generator,
		history:   history,
		profiles:  profiles,
		log:       log,
	}
}

// Request describes one question.
type Request struct {
	Question string
	Mode     domain.Mode
	// Grounded restricts answers to indexed content; with an empty
	// knowledge base the service refuses instead of generating.
	Grounded bool
	TopK     int
}

// Citation describes one context passage offered to the model, in the
// order it was numbered in the prompt.
type Citation struct {
	Ref         int     `json:"ref"`
	Source      string  `json:"source"`
	Label       string  `json:"label"`
	Score       float64 `json:"score"`
	Page        int     `json:"page,omitempty"`
	HeadingPath string  `json:"heading_path,omitempty"`
}

// Result is the completed answer.
type Result struct {
	Answer    string      `json:"answer"`
	Citations []Citation  `json:"citations"`
	Mode      domain.Mode `json:"mode"`
}

// The context window is raised to at least this many tokens when the
// conversation has history or the prompt is already large.
const minBumpedContextWindow = 8192

// Ask retrieves context, builds the prompt and streams the answer
// through emit token by token. The exchange is recorded in history
// only after the stream completes; an aborted or failed stream leaves
// history untouched.
func (s *Service) Ask(ctx context.Context, req Request, emit func(token string) error) (Result, error) {
	profile, ok := s.profiles[req.Mode]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", domain.ErrInvalidMode, req.Mode)
	}

	chunks, err := s.retriever.Retrieve(ctx, req.Question, req.TopK)
	if err != nil {
		metrics.GenerationRequests.WithLabelValues(string(req.Mode), "error").Inc()
		return Result{}, err
	}

	if req.Grounded && len(chunks) == 0 {
		if err := emit(emptyIndexRefusal); err != nil {
			return Result{}, err
		}
		return Result{Answer: emptyIndexRefusal, Mode: req.Mode}, nil
	}

	history := s.history.Snapshot()
	prompt := buildPrompt(req.Question, chunks, history, req.Grounded)

	profile = fitProfile(profile, prompt, len(history) > 0)

	// Trim oldest exchanges until the prompt fits the window,
	// leaving room for the completion.
	budget := profile.ContextWindow - profile.MaxTokens
	for len(history) >= 2 && estimateTokens(prompt) > budget {
		history = history[2:]
		prompt = buildPrompt(req.Question, chunks, history, req.Grounded)
	}

	start := time.Now()
	var answer strings.Builder
	streamErr := s.generator.Stream(ctx, prompt, profile, func(token string) error {
		if err := emit(token); err != nil {
			return err
		}
		answer.WriteString(token)
		metrics.GenerationTokens.WithLabelValues(string(req.Mode)).Inc()
		return nil
	})

	if streamErr != nil {
		outcome := "error"
		if isAbort(streamErr) {
			outcome = "aborted"
		}
		metrics.GenerationRequests.WithLabelValues(string(req.Mode), outcome).Inc()
		return Result{}, streamErr
	}

	metrics.GenerationRequests.WithLabelValues(string(req.Mode), "done").Inc()
	metrics.GenerationDuration.WithLabelValues(string(req.Mode)).Observe(time.Since(start).Seconds())

	result := Result{
		Answer:    answer.String(),
		Citations: citationsFor(chunks),
		Mode:      req.Mode,
	}

	s.checkCitationRefs(result.Answer, len(chunks))
	s.history.Append(req.Question, result.Answer, req.Mode)

	return result, nil
}

// ClearHistory drops the shared conversation.
func (s *Service) ClearHistory() {
	s.history.Clear()
}

// fitProfile raises the context window to minBumpedContextWindow when
// the conversation has history or the prompt alone is already large.
func fitProfile(profile domain.ModelProfile, prompt string, hasHistory bool) domain.ModelProfile {
	if hasHistory || estimateTokens(prompt) > minBumpedContextWindow/2 {
		if profile.ContextWindow < minBumpedContextWindow {
			profile.ContextWindow = minBumpedContextWindow
		}
	}
	return profile
}

func citationsFor(chunks []domain.ScoredChunk) []Citation {
	if len(chunks) == 0 {
		return nil
	}
	out := make([]Citation, len(chunks))
	for i, sc := range chunks {
		out[i] = Citation{
			Ref:         i + 1,
			Source:      sc.Chunk.Source,
			Label:       sc.Chunk.Label(),
			Score:       sc.Score,
			Page:        sc.Chunk.Page,
			HeadingPath: sc.Chunk.HeadingPath,
		}
	}
	return out
}

var citationRefPattern = regexp.MustCompile(`\[(\d+)\]`)

// checkCitationRefs logs answers citing passages that were never
// offered. The answer is delivered either way; the log line is the
// signal for prompt tuning.
func (s *Service) checkCitationRefs(text string, offered int) {
	for _, m := range citationRefPattern.FindAllStringSubmatch(text, -1) {
		ref, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if ref < 1 || ref > offered {
			s.log.Warn("answer cites passage outside offered context",
				zap.Int("ref", ref),
				zap.Int("offered", offered))
			return
		}
	}
}

func isAbort(err error) bool {
	return errors.Is(err, domain.ErrAborted) || errors.Is(err, context.Canceled)
}
