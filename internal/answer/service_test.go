package answer

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

// stubGenerator streams a fixed token sequence, optionally failing
// after a number of tokens.
type stubGenerator struct {
	tokens     []string
	failAfter  int // -1 disables
	failWith   error
	gotPrompt  string
	gotProfile domain.ModelProfile
}

func (s *stubGenerator) Complete(_ context.Context, prompt string, profile domain.ModelProfile) (string, error) {
	s.gotPrompt = prompt
	s.gotProfile = profile
	return strings.Join(s.tokens, ""), nil
}

func (s *stubGenerator) Stream(_ context.Context, prompt string, profile domain.ModelProfile, onToken func(string) error) error {
	s.gotPrompt = prompt
	s.gotProfile = profile
	for i, tok := range s.tokens {
		if s.failAfter >= 0 && i == s.failAfter {
			return s.failWith
		}
		if err := onToken(tok); err != nil {
			return err
		}
	}
	return nil
}

func testProfiles() map[domain.Mode]domain.ModelProfile {
	return map[domain.Mode]domain.ModelProfile{
		domain.ModeQuick: {ModelID: "test-model", ContextWindow: 4096, MaxTokens: 512},
	}
}

func someChunks() []domain.ScoredChunk {
	return []domain.ScoredChunk{
		{Chunk: domain.Chunk{Text: "alpha facts", Source: "a.md", DocType: domain.DocTypeMarkdown, HeadingPath: "Intro"}, Score: 0.9},
		{Chunk: domain.Chunk{Text: "beta facts", Source: "b.pdf", DocType: domain.DocTypePDF, Page: 2}, Score: 0.7},
	}
}

func newTestService(r Retriever, g domain.Generator) *Service {
	return NewService(r, g, domain.NewHistory(10), testProfiles(), zap.NewNop())
}

func TestAskStreamsAndRecordsHistory(t *testing.T) {
	gen := &stubGenerator{tokens: []string{"The ", "answer ", "[1]"}, failAfter: -1}
	svc := newTestService(&stubRetriever{chunks: someChunks()}, gen)

	var streamed []string
	res, err := svc.Ask(context.Background(), Request{Question: "what?", Mode: domain.ModeQuick}, func(tok string) error {
		streamed = append(streamed, tok)
		return nil
	})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}

	if got := strings.Join(streamed, ""); got != res.Answer {
		t.Errorf("streamed %q != answer %q", got, res.Answer)
	}
	if res.Answer != "The answer [1]" {
		t.Errorf("answer = %q", res.Answer)
	}
	if len(res.Citations) != 2 {
		t.Fatalf("expected 2 citations, got %d", len(res.Citations))
	}
	if res.Citations[0].Ref != 1 || res.Citations[0].Source != "a.md" {
		t.Errorf("unexpected first citation: %+v", res.Citations[0])
	}
	if res.Citations[1].Label != "b.pdf (p. 2)" {
		t.Errorf("second citation label = %q", res.Citations[1].Label)
	}

	turns := svc.history.Snapshot()
	if len(turns) != 2 {
		t.Fatalf("expected 1 recorded exchange, got %d turns", len(turns))
	}
	if turns[1].Content != res.Answer {
		t.Error("recorded answer differs from streamed answer")
	}
}

func TestAskAbortedStreamLeavesHistoryUntouched(t *testing.T) {
	gen := &stubGenerator{
		tokens:    []string{"a", "b", "c", "d", "e"},
		failAfter: 3,
		failWith:  domain.ErrAborted,
	}
	svc := newTestService(&stubRetriever{chunks: someChunks()}, gen)

	var count int
	_, err := svc.Ask(context.Background(), Request{Question: "q", Mode: domain.ModeQuick}, func(string) error {
		count++
		return nil
	})
	if !errors.Is(err, domain.ErrAborted) {
		t.Fatalf("expected ErrAborted, got %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 tokens before abort, got %d", count)
	}
	if svc.history.Len() != 0 {
		t.Error("aborted stream must not be recorded in history")
	}
}

func TestAskEmitErrorStopsStream(t *testing.T) {
	gen := &stubGenerator{tokens: []string{"a", "b", "c"}, failAfter: -1}
	svc := newTestService(&stubRetriever{chunks: someChunks()}, gen)

	sentinel := errors.New("client gone")
	_, err := svc.Ask(context.Background(), Request{Question: "q", Mode: domain.ModeQuick}, func(string) error {
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected emit error to propagate, got %v", err)
	}
	if svc.history.Len() != 0 {
		t.Error("failed stream must not be recorded in history")
	}
}

func TestAskGroundedEmptyIndexRefuses(t *testing.T) {
	gen := &stubGenerator{tokens: []string{"should not run"}, failAfter: -1}
	svc := newTestService(&stubRetriever{}, gen)

	var streamed strings.Builder
	res, err := svc.Ask(context.Background(),
		Request{Question: "q", Mode: domain.ModeQuick, Grounded: true},
		func(tok string) error {
			streamed.WriteString(tok)
			return nil
		})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if res.Answer != emptyIndexRefusal {
		t.Errorf("answer = %q, want refusal", res.Answer)
	}
	if streamed.String() != emptyIndexRefusal {
		t.Error("refusal must be streamed to the client")
	}
	if gen.gotPrompt != "" {
		t.Error("model must not be called for a grounded empty-index request")
	}
	if len(res.Citations) != 0 {
		t.Error("refusal carries no citations")
	}
}

func TestAskUngroundedEmptyIndexAnswers(t *testing.T) {
	gen := &stubGenerator{tokens: []string{"general knowledge"}, failAfter: -1}
	svc := newTestService(&stubRetriever{}, gen)

	res, err := svc.Ask(context.Background(),
		Request{Question: "q", Mode: domain.ModeQuick},
		func(string) error { return nil })
	if err != nil {
		t.Fatal(err)
	}
	if res.Answer != "general knowledge" {
		t.Errorf("answer = %q", res.Answer)
	}
	if gen.gotPrompt == "" {
		t.Error("ungrounded request should reach the model even with no chunks")
	}
}

func TestAskInvalidMode(t *testing.T) {
	svc := newTestService(&stubRetriever{}, &stubGenerator{failAfter: -1})

	_, err := svc.Ask(context.Background(),
		Request{Question: "q", Mode: domain.Mode("turbo")},
		func(string) error { return nil })
	if !errors.Is(err, domain.ErrInvalidMode) {
		t.Errorf("expected ErrInvalidMode, got %v", err)
	}
}

func TestAskRetrievalErrorPropagates(t *testing.T) {
	svc := newTestService(&stubRetriever{err: domain.ErrIndexUnavailable}, &stubGenerator{failAfter: -1})

	_, err := svc.Ask(context.Background(),
		Request{Question: "q", Mode: domain.ModeQuick},
		func(string) error { return nil })
	if !errors.Is(err, domain.ErrIndexUnavailable) {
		t.Errorf("expected ErrIndexUnavailable, got %v", err)
	}
}

func TestAskHistoryBumpsContextWindow(t *testing.T) {
	gen := &stubGenerator{tokens: []string{"ok"}, failAfter: -1}
	svc := newTestService(&stubRetriever{chunks: someChunks()}, gen)
	svc.history.Append("earlier question", "earlier answer", domain.ModeQuick)

	if _, err := svc.Ask(context.Background(),
		Request{Question: "q", Mode: domain.ModeQuick},
		func(string) error { return nil }); err != nil {
		t.Fatal(err)
	}
	if gen.gotProfile.ContextWindow != minBumpedContextWindow {
		t.Errorf("context window = %d, want %d", gen.gotProfile.ContextWindow, minBumpedContextWindow)
	}
	if !strings.Contains(gen.gotPrompt, "earlier question") {
		t.Error("prompt should carry the conversation history")
	}
}

func TestBuildPrompt(t *testing.T) {
	chunks := someChunks()
	history := []domain.ConversationTurn{
		{Role: domain.RoleUser, Content: "first?"},
		{Role: domain.RoleAssistant, Content: strings.Repeat("x", 700)},
	}

	prompt := buildPrompt("next?", chunks, history, true)

	if !strings.Contains(prompt, "[1] From a.md: Intro:\nalpha facts") {
		t.Error("missing numbered first passage")
	}
	if !strings.Contains(prompt, "[2] From b.pdf (p. 2):\nbeta facts") {
		t.Error("missing numbered second passage")
	}
	if !strings.Contains(prompt, "User: first?") {
		t.Error("missing history user turn")
	}
	// Assistant turn is truncated to 600 chars plus an ellipsis.
	if strings.Contains(prompt, strings.Repeat("x", 601)) {
		t.Error("assistant history turn was not truncated")
	}
	if !strings.Contains(prompt, strings.Repeat("x", 600)+"…") {
		t.Error("truncated turn should end with an ellipsis")
	}
	if !strings.HasSuffix(prompt, "Question: next?\nAnswer:") {
		t.Error("prompt must end with the question")
	}
	if !strings.Contains(prompt, "ONLY") {
		t.Error("grounded prompt must carry the grounded instruction")
	}

	broad := buildPrompt("next?", chunks, nil, false)
	if strings.Contains(broad, "ONLY") {
		t.Error("broad prompt must not carry the grounded instruction")
	}
	if !strings.Contains(broad, "general knowledge") {
		t.Error("broad prompt should allow general knowledge")
	}
}

func TestCitationsForEmpty(t *testing.T) {
	if citationsFor(nil) != nil {
		t.Error("no chunks yields nil citations")
	}
}
