package evaluate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/atelier-labs/corpusd/internal/domain"
)

type stubRetriever struct {
	chunks []domain.ScoredChunk
	err    error
}

func (s *stubRetriever) Retrieve(_ context.Context, _ string, _ int) ([]domain.ScoredChunk, error) {
	return s.chunks, s.err
}

type stubGenerator struct {
	reply      string
	err        error
	gotPrompt  string
	gotProfile domain.ModelProfile
}

func (s *stubGenerator) Complete(_ context.Context, prompt string, profile domain.ModelProfile) (string, error) {
	s.gotPrompt = prompt
	s.gotProfile = profile
	return s.reply, s.err
}

func (s *stubGenerator) Stream(_ context.Context, _ string, _ domain.ModelProfile, _ func(string) error) error {
	return errors.New("not used")
}

func question() domain.QuizQuestion {
	return domain.QuizQuestion{
		Question:      "What is a goroutine?",
		ModelAnswer:   "A lightweight thread managed by the Go runtime.",
		StudentAnswer: "A thread the runtime schedules.",
	}
}

func newEvaluator(r Retriever, g domain.Generator) *Evaluator {
	profile := domain.ModelProfile{ModelID: "grader", MaxTokens: 2048, Temperature: 0.7}
	return NewEvaluator(r, g, profile, zap.NewNop())
}

func TestEvaluateJSONReply(t *testing.T) {
	gen := &stubGenerator{reply: `{"score": "correct", "feedback": "Matches the model answer."}`}
	ev := newEvaluator(&stubRetriever{}, gen)

	grade, err := ev.Evaluate(context.Background(), question())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if grade.Score != domain.ScoreCorrect {
		t.Errorf("score = %s, want correct", grade.Score)
	}
	if grade.Feedback != "Matches the model answer." {
		t.Errorf("feedback = %q", grade.Feedback)
	}
	if gen.gotProfile.Temperature != 0 {
		t.Errorf("grading temperature = %f, want 0", gen.gotProfile.Temperature)
	}
	if gen.gotProfile.MaxTokens != 256 {
		t.Errorf("grading max tokens = %d, want 256", gen.gotProfile.MaxTokens)
	}
}

func TestEvaluateFencedJSONReply(t *testing.T) {
	gen := &stubGenerator{reply: "```json\n{\"score\": \"incorrect\", \"feedback\": \"Misses the point.\"}\n```"}
	ev := newEvaluator(&stubRetriever{}, gen)

	grade, err := ev.Evaluate(context.Background(), question())
	if err != nil {
		t.Fatal(err)
	}
	if grade.Score != domain.ScoreIncorrect {
		t.Errorf("score = %s, want incorrect", grade.Score)
	}
}

func TestEvaluateKeywordFallback(t *testing.T) {
	gen := &stubGenerator{reply: "The answer is partially right, I'd say partial credit."}
	ev := newEvaluator(&stubRetriever{}, gen)

	grade, err := ev.Evaluate(context.Background(), question())
	if err != nil {
		t.Fatal(err)
	}
	if grade.Score != domain.ScorePartial {
		t.Errorf("score = %s, want partial", grade.Score)
	}
}

func TestEvaluateUnparseableDegradesToPartial(t *testing.T) {
	gen := &stubGenerator{reply: "I am unable to judge this response."}
	ev := newEvaluator(&stubRetriever{}, gen)

	grade, err := ev.Evaluate(context.Background(), question())
	if err != nil {
		t.Fatalf("unparseable reply must not error: %v", err)
	}
	if grade.Score != domain.ScorePartial {
		t.Errorf("score = %s, want partial", grade.Score)
	}
	if grade.Feedback != "I am unable to judge this response." {
		t.Errorf("feedback = %q, want the raw reply preserved", grade.Feedback)
	}
}

func TestEvaluateEmptyReplyStillGetsFeedback(t *testing.T) {
	gen := &stubGenerator{reply: "   "}
	ev := newEvaluator(&stubRetriever{}, gen)

	grade, err := ev.Evaluate(context.Background(), question())
	if err != nil {
		t.Fatal(err)
	}
	if grade.Score != domain.ScorePartial {
		t.Errorf("score = %s, want partial", grade.Score)
	}
	if grade.Feedback == "" {
		t.Error("empty reply should still produce explanatory feedback")
	}
}

func TestEvaluateIncludesRetrievedContext(t *testing.T) {
	gen := &stubGenerator{reply: `{"score": "correct", "feedback": "ok"}`}
	retriever := &stubRetriever{chunks: []domain.ScoredChunk{
		{Chunk: domain.Chunk{Text: "goroutines are cheap"}},
	}}
	ev := newEvaluator(retriever, gen)

	if _, err := ev.Evaluate(context.Background(), question()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(gen.gotPrompt, "goroutines are cheap") {
		t.Error("retrieved context should appear in the rubric prompt")
	}
}

func TestEvaluateRetrievalFailureIgnored(t *testing.T) {
	gen := &stubGenerator{reply: `{"score": "correct", "feedback": "ok"}`}
	ev := newEvaluator(&stubRetriever{err: domain.ErrIndexUnavailable}, gen)

	grade, err := ev.Evaluate(context.Background(), question())
	if err != nil {
		t.Fatalf("retrieval failure must not fail grading: %v", err)
	}
	if grade.Score != domain.ScoreCorrect {
		t.Errorf("score = %s, want correct", grade.Score)
	}
}

func TestEvaluateModelFailure(t *testing.T) {
	gen := &stubGenerator{err: domain.ErrModelUnavailable}
	ev := newEvaluator(&stubRetriever{}, gen)

	_, err := ev.Evaluate(context.Background(), question())
	if !errors.Is(err, domain.ErrModelUnavailable) {
		t.Errorf("expected ErrModelUnavailable, got %v", err)
	}
}

func TestParseGrade(t *testing.T) {
	tests := []struct {
		name   string
		reply  string
		want   domain.Score
		wantOK bool
	}{
		{"plain json", `{"score":"partial","feedback":"half"}`, domain.ScorePartial, true},
		{"json with prose around", `Sure! {"score":"correct","feedback":"yes"} Hope that helps.`, domain.ScoreCorrect, true},
		{"uppercase score", `{"score":"CORRECT","feedback":"y"}`, domain.ScoreCorrect, true},
		{"keyword incorrect beats correct substring", "This is incorrect.", domain.ScoreIncorrect, true},
		{"garbage", "🤷", domain.ScorePartial, false},
		{"invalid score value", `{"score":"excellent","feedback":"y"}`, domain.ScorePartial, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			grade, ok := parseGrade(tt.reply)
			if ok != tt.wantOK {
				t.Errorf("ok = %v, want %v", ok, tt.wantOK)
			}
			if grade.Score != tt.want {
				t.Errorf("score = %s, want %s", grade.Score, tt.want)
			}
		})
	}
}
