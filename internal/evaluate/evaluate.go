// Package evaluate grades quiz answers against a model answer.
package evaluate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/atelier-labs/corpusd/internal/domain"
)

// Retriever supplies optional grading context from the knowledge base.
type Retriever interface {
	Retrieve(ctx context.Context, question string, k int) ([]domain.ScoredChunk, error)
}

// Evaluator grades student answers with a rubric prompt.
type Evaluator struct {
	retriever Retriever
	generator domain.Generator
	profile   domain.ModelProfile
	log       *zap.Logger
}

// Grading runs at temperature zero with a short completion budget.
func gradingProfile(base domain.ModelProfile) domain.ModelProfile {
	base.Temperature = 0
	base.MaxTokens = 256
	return base
}

// NewEvaluator creates an evaluator that grades with the given profile.
func NewEvaluator(retriever Retriever, generator domain.Generator, profile domain.ModelProfile, log *zap.Logger) *Evaluator {
	return &Evaluator{
		retriever: retriever,
		generator: generator,
		profile:   gradingProfile(profile),
		log:       log,
	}
}

// Evaluate grades one answer. The verdict always lands on the
// three-level scale: a reply the rubric parser cannot understand
// degrades to partial rather than failing the request.
func (e *Evaluator) Evaluate(ctx context.Context, q domain.QuizQuestion) (domain.Grade, error) {
	refs := e.gradingContext(ctx, q.Question)

	prompt := buildRubricPrompt(q, refs)

	reply, err := e.generator.Complete(ctx, prompt, e.profile)
	if err != nil {
		return domain.Grade{}, fmt.Errorf("grade completion: %w", err)
	}

	grade, ok := parseGrade(reply)
	if !ok {
		e.log.Warn("unparseable grading reply, degrading to partial",
			zap.String("reply", truncate(reply, 200)))
	}
	return grade, nil
}

// gradingContext fetches up to two chunks related to the question.
// Retrieval failure is not a grading failure; the rubric still works
// from the model answer alone.
func (e *Evaluator) gradingContext(ctx context.Context, question string) []domain.ScoredChunk {
	chunks, err := e.retriever.Retrieve(ctx, question, 2)
	if err != nil {
		e.log.Debug("grading context unavailable", zap.Error(err))
		return nil
	}
	return chunks
}

func buildRubricPrompt(q domain.QuizQuestion, chunks []domain.ScoredChunk) string {
	var b strings.Builder

	b.WriteString(`You are grading a quiz answer. Compare the student's answer with the model answer and respond with ONLY a JSON object:
{"score": "correct" | "partial" | "incorrect", "feedback": "<one or two sentences>"}

Grade "correct" when the student's answer matches the model answer in substance, "partial" when it captures some of it, "incorrect" otherwise. Wording differences do not matter.`)
	b.WriteString("\n\n")

	if len(chunks) > 0 {
		b.WriteString("Reference material:\n")
		for _, sc := range chunks {
			fmt.Fprintf(&b, "- %s\n", sc.Chunk.Text)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Question: %s\n", q.Question)
	fmt.Fprintf(&b, "Model answer: %s\n", q.ModelAnswer)
	fmt.Fprintf(&b, "Student answer: %s\n", q.StudentAnswer)
	return b.String()
}

// parseGrade extracts a verdict from the model reply. It tries strict
// JSON first, then JSON inside code fences, then keyword matching.
// The second return is false when the reply defeated every parser and
// the grade fell back to partial.
func parseGrade(reply string) (domain.Grade, bool) {
	if g, ok := parseGradeJSON(reply); ok {
		return g, true
	}
	if fenced := stripCodeFence(reply); fenced != reply {
		if g, ok := parseGradeJSON(fenced); ok {
			return g, true
		}
	}

	lower := strings.ToLower(reply)
	switch {
	case strings.Contains(lower, "incorrect"):
		return domain.Grade{Score: domain.ScoreIncorrect, Feedback: strings.TrimSpace(reply)}, true
	case strings.Contains(lower, "partial"):
		return domain.Grade{Score: domain.ScorePartial, Feedback: strings.TrimSpace(reply)}, true
	case strings.Contains(lower, "correct"):
		return domain.Grade{Score: domain.ScoreCorrect, Feedback: strings.TrimSpace(reply)}, true
	}

	// The raw reply is still the best feedback available for manual
	// review, so it is preserved rather than replaced.
	feedback := strings.TrimSpace(reply)
	if feedback == "" {
		feedback = "Could not interpret the grading reply; marked partial for manual review."
	}
	return domain.Grade{Score: domain.ScorePartial, Feedback: feedback}, false
}

func parseGradeJSON(s string) (domain.Grade, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return domain.Grade{}, false
	}

	var parsed struct {
		Score    string `json:"score"`
		Feedback string `json:"feedback"`
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), &parsed); err != nil {
		return domain.Grade{}, false
	}

	switch domain.Score(strings.ToLower(strings.TrimSpace(parsed.Score))) {
	case domain.ScoreCorrect, domain.ScorePartial, domain.ScoreIncorrect:
		return domain.Grade{
			Score:    domain.Score(strings.ToLower(strings.TrimSpace(parsed.Score))),
			Feedback: parsed.Feedback,
		}, true
	}
	return domain.Grade{}, false
}

// stripCodeFence unwraps ```json ... ``` style fences.
func stripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		trimmed = trimmed[idx+1:] // drop the language tag line
	}
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
