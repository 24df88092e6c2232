package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/atelier-labs/corpusd/internal/answer"
	"github.com/atelier-labs/corpusd/internal/domain"
	"github.com/atelier-labs/corpusd/internal/ingest"
	logpkg "github.com/atelier-labs/corpusd/internal/logger"
)

type stubIngestor struct {
	result    ingest.Result
	dirResult []ingest.FileResult
	removed   int
	err       error
	gotPath   string
	gotForce  bool
}

func (s *stubIngestor) IngestFile(_ context.Context, path string, force bool) (ingest.Result, error) {
	s.gotPath = path
	s.gotForce = force
	return s.result, s.err
}

func (s *stubIngestor) IngestDir(_ context.Context, dir string, force bool) ([]ingest.FileResult, error) {
	s.gotPath = dir
	s.gotForce = force
	return s.dirResult, s.err
}

func (s *stubIngestor) DeleteDocument(_ context.Context, hash string) (int, error) {
	s.gotPath = hash
	return s.removed, s.err
}

type stubAsker struct {
	tokens  []string
	result  answer.Result
	err     error
	cleared bool
	gotReq  answer.Request
}

func (s *stubAsker) Ask(_ context.Context, req answer.Request, emit func(string) error) (answer.Result, error) {
	s.gotReq = req
	for _, tok := range s.tokens {
		if err := emit(tok); err != nil {
			return answer.Result{}, err
		}
	}
	return s.result, s.err
}

func (s *stubAsker) ClearHistory() { s.cleared = true }

type stubEvaluator struct {
	grade domain.Grade
	err   error
}

func (s *stubEvaluator) Evaluate(_ context.Context, _ domain.QuizQuestion) (domain.Grade, error) {
	return s.grade, s.err
}

type stubStats struct {
	stats domain.KBStats
	err   error
}

func (s *stubStats) Stats(_ context.Context) (domain.KBStats, error) { return s.stats, s.err }

type stubPinger struct{ err error }

func (s *stubPinger) Ping(_ context.Context) error        { return s.err }
func (s *stubPinger) HealthCheck(_ context.Context) error { return s.err }

type serverStubs struct {
	ingestor  *stubIngestor
	asker     *stubAsker
	evaluator *stubEvaluator
	stats     *stubStats
	index     *stubPinger
	model     *stubPinger
}

func newTestServer(t *testing.T) (*Server, *serverStubs) {
	t.Helper()
	stubs := &serverStubs{
		ingestor:  &stubIngestor{},
		asker:     &stubAsker{},
		evaluator: &stubEvaluator{},
		stats:     &stubStats{},
		index:     &stubPinger{},
		model:     &stubPinger{},
	}
	srv := NewServer(
		stubs.ingestor,
		stubs.asker,
		stubs.evaluator,
		stubs.stats,
		stubs.index,
		stubs.model,
		t.TempDir(),
	)
	return srv, stubs
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return resp
}

func TestIngestByPath(t *testing.T) {
	srv, stubs := newTestServer(t)
	stubs.ingestor.result = ingest.Result{
		Source:        "notes.md",
		ContentHash:   "abc",
		DocType:       domain.DocTypeMarkdown,
		ChunksIndexed: 3,
	}

	rr := doJSON(t, srv, "POST", "/api/ingest", `{"path": "/corpus/notes.md", "force": true}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if stubs.ingestor.gotPath != "/corpus/notes.md" || !stubs.ingestor.gotForce {
		t.Errorf("ingestor called with %q force=%v", stubs.ingestor.gotPath, stubs.ingestor.gotForce)
	}

	var res ingest.Result
	if err := json.NewDecoder(rr.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.ChunksIndexed != 3 {
		t.Errorf("chunks_indexed = %d", res.ChunksIndexed)
	}
}

func TestIngestMissingPath(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doJSON(t, srv, "POST", "/api/ingest", `{}`)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	if resp := decodeError(t, rr); resp.Code != codeValidationFailed {
		t.Errorf("code = %s", resp.Code)
	}
}

func TestIngestDomainErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		wantCode string
	}{
		{"unsupported type", domain.ErrUnsupportedFileType, http.StatusBadRequest, codeUnsupportedFileType},
		{"no text", domain.ErrNoExtractableText, http.StatusUnprocessableEntity, codeNoExtractableText},
		{"embedding down", domain.ErrEmbeddingUnavailable, http.StatusServiceUnavailable, codeEmbeddingUnavailable},
		{"unreadable", domain.ErrUnreadableFile, http.StatusBadRequest, codeBadRequest},
		{"unexpected", errors.New("disk on fire"), http.StatusInternalServerError, codeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, stubs := newTestServer(t)
			stubs.ingestor.err = tt.err

			rr := doJSON(t, srv, "POST", "/api/ingest", `{"path": "/corpus/x.md"}`)

			if rr.Code != tt.status {
				t.Errorf("status = %d, want %d", rr.Code, tt.status)
			}
			resp := decodeError(t, rr)
			if resp.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", resp.Code, tt.wantCode)
			}
			if tt.wantCode == codeInternal && strings.Contains(resp.Message, "disk on fire") {
				t.Error("internal error detail leaked to the client")
			}
		})
	}
}

func TestDomainErrorsUseRequestLogger(t *testing.T) {
	srv, stubs := newTestServer(t)
	stubs.ingestor.err = domain.ErrUnsupportedFileType

	core, logs := observer.New(zap.WarnLevel)
	req := httptest.NewRequest("POST", "/api/ingest", strings.NewReader(`{"path": "/corpus/x.odt"}`))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(logpkg.ContextWithLogger(req.Context(), zap.New(core)))

	rr := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if got := logs.FilterMessage("domain error").Len(); got != 1 {
		t.Errorf("request logger recorded %d domain error entries, want 1", got)
	}
}

func TestIngestUpload(t *testing.T) {
	srv, stubs := newTestServer(t)
	stubs.ingestor.result = ingest.Result{Source: "guide.md", ChunksIndexed: 1}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "guide.md")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write([]byte("# Guide\n\nsome text")); err != nil {
		t.Fatal(err)
	}
	mw.Close()

	req := httptest.NewRequest("POST", "/api/ingest?force=true", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if filepath.Base(stubs.ingestor.gotPath) != "guide.md" {
		t.Errorf("stored upload should keep its base name, got %q", stubs.ingestor.gotPath)
	}
	if !stubs.ingestor.gotForce {
		t.Error("force query parameter not forwarded")
	}
	data, err := os.ReadFile(stubs.ingestor.gotPath)
	if err != nil {
		t.Fatalf("uploaded file not on disk: %v", err)
	}
	if string(data) != "# Guide\n\nsome text" {
		t.Errorf("stored content = %q", data)
	}
}

func TestIngestUploadRejectedIsRemoved(t *testing.T) {
	srv, stubs := newTestServer(t)
	stubs.ingestor.err = domain.ErrNoExtractableText

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, _ := mw.CreateFormFile("file", "empty.pdf")
	part.Write([]byte("%PDF-"))
	mw.Close()

	req := httptest.NewRequest("POST", "/api/ingest", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rr.Code)
	}
	if _, err := os.Stat(stubs.ingestor.gotPath); !os.IsNotExist(err) {
		t.Error("rejected upload should be removed from disk")
	}
}

func TestIngestDirectory(t *testing.T) {
	srv, stubs := newTestServer(t)
	stubs.ingestor.dirResult = []ingest.FileResult{
		{Path: "/corpus/a.md", Result: ingest.Result{ChunksIndexed: 2}},
		{Path: "/corpus/broken.pdf", Error: "unreadable file"},
	}

	rr := doJSON(t, srv, "POST", "/api/ingest/directory", `{"dir": "/corpus"}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp struct {
		Files []ingest.FileResult `json:"files"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Files) != 2 {
		t.Fatalf("files = %d", len(resp.Files))
	}
	if resp.Files[1].Error == "" {
		t.Error("per-file failure should be reported inline")
	}
}

func TestDeleteDocument(t *testing.T) {
	srv, stubs := newTestServer(t)
	stubs.ingestor.removed = 7

	req := httptest.NewRequest("DELETE", "/api/documents/abc123", http.NoBody)
	rr := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp struct {
		ContentHash   string `json:"content_hash"`
		ChunksRemoved int    `json:"chunks_removed"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.ContentHash != "abc123" || resp.ChunksRemoved != 7 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestDeleteDocumentNotFound(t *testing.T) {
	srv, stubs := newTestServer(t)
	stubs.ingestor.err = domain.ErrDocumentNotFound

	req := httptest.NewRequest("DELETE", "/api/documents/missing", http.NoBody)
	rr := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d", rr.Code)
	}
}

// sseEvents splits an SSE body into its data payloads.
func sseEvents(t *testing.T, body string) []string {
	t.Helper()
	var events []string
	for _, line := range strings.Split(body, "\n") {
		if after, ok := strings.CutPrefix(line, "data: "); ok {
			events = append(events, after)
		}
	}
	return events
}

func TestChatStreamsTokensAndCitations(t *testing.T) {
	srv, stubs := newTestServer(t)
	stubs.asker.tokens = []string{"Go ", "is ", "fun"}
	stubs.asker.result = answer.Result{
		Answer: "Go is fun",
		Mode:   domain.ModeQuick,
		Citations: []answer.Citation{
			{Ref: 1, Source: "a.md", Label: "a.md: Intro", Score: 0.9},
		},
	}

	rr := doJSON(t, srv, "POST", "/api/chat", `{"question": "is go fun?", "mode": "quick", "grounded": true}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	events := sseEvents(t, rr.Body.String())
	if len(events) != 5 {
		t.Fatalf("expected 3 tokens + final + DONE, got %d events: %v", len(events), events)
	}
	if events[len(events)-1] != "[DONE]" {
		t.Errorf("last event = %q", events[len(events)-1])
	}

	var first chatEvent
	if err := json.Unmarshal([]byte(events[0]), &first); err != nil {
		t.Fatal(err)
	}
	if first.Token != "Go " {
		t.Errorf("first token = %q", first.Token)
	}

	var final chatEvent
	if err := json.Unmarshal([]byte(events[3]), &final); err != nil {
		t.Fatal(err)
	}
	if !final.Done || len(final.Citations) != 1 || final.Citations[0].Source != "a.md" {
		t.Errorf("final event = %+v", final)
	}

	if !stubs.asker.gotReq.Grounded || stubs.asker.gotReq.Mode != domain.ModeQuick {
		t.Errorf("request not forwarded: %+v", stubs.asker.gotReq)
	}
}

func TestChatInvalidModeIsPlainError(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doJSON(t, srv, "POST", "/api/chat", `{"question": "q", "mode": "turbo"}`)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	if resp := decodeError(t, rr); resp.Code != codeInvalidMode {
		t.Errorf("code = %s", resp.Code)
	}
}

func TestChatMissingQuestion(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doJSON(t, srv, "POST", "/api/chat", `{"mode": "quick"}`)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rr.Code)
	}
}

func TestChatMidStreamErrorEvent(t *testing.T) {
	srv, stubs := newTestServer(t)
	stubs.asker.tokens = []string{"partial "}
	stubs.asker.err = domain.ErrModelUnavailable

	rr := doJSON(t, srv, "POST", "/api/chat", `{"question": "q"}`)

	// The stream already started, so the failure arrives in-band.
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	events := sseEvents(t, rr.Body.String())
	if len(events) != 3 {
		t.Fatalf("expected token + error + DONE, got %v", events)
	}

	var ev chatEvent
	if err := json.Unmarshal([]byte(events[1]), &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Code != codeModelUnavailable || ev.Error == "" {
		t.Errorf("error event = %+v", ev)
	}
	if events[2] != "[DONE]" {
		t.Errorf("stream must still end with DONE, got %q", events[2])
	}
}

func TestClearHistory(t *testing.T) {
	srv, stubs := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/history/clear", http.NoBody)
	rr := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("status = %d", rr.Code)
	}
	if !stubs.asker.cleared {
		t.Error("history not cleared")
	}
}

func TestEvaluateQuiz(t *testing.T) {
	srv, stubs := newTestServer(t)
	stubs.evaluator.grade = domain.Grade{Score: domain.ScorePartial, Feedback: "half right"}

	rr := doJSON(t, srv, "POST", "/api/quizzes/evaluate",
		`{"question": "q", "model_answer": "m", "student_answer": "s"}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var grade domain.Grade
	if err := json.NewDecoder(rr.Body).Decode(&grade); err != nil {
		t.Fatal(err)
	}
	if grade.Score != domain.ScorePartial {
		t.Errorf("score = %s", grade.Score)
	}
}

func TestEvaluateQuizMissingFields(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doJSON(t, srv, "POST", "/api/quizzes/evaluate", `{"question": "q"}`)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	if resp := decodeError(t, rr); resp.Code != codeValidationFailed {
		t.Errorf("code = %s", resp.Code)
	}
}

func TestStats(t *testing.T) {
	srv, stubs := newTestServer(t)
	stubs.stats.stats = domain.KBStats{TotalChunks: 42, TotalDocuments: 3, EmbedModel: "nomic-embed-text"}

	req := httptest.NewRequest("GET", "/api/stats", http.NoBody)
	rr := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var stats domain.KBStats
	if err := json.NewDecoder(rr.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.TotalChunks != 42 {
		t.Errorf("total_chunks = %d", stats.TotalChunks)
	}
}

func TestHealthCheckOK(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/health", http.NoBody)
	rr := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestHealthCheckDegraded(t *testing.T) {
	srv, stubs := newTestServer(t)
	stubs.index.err = errors.New("connection refused")

	req := httptest.NewRequest("GET", "/api/health", http.NoBody)
	rr := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp healthResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "degraded" {
		t.Errorf("status = %s", resp.Status)
	}
	if resp.Checks["index"].Status != "fail" || resp.Checks["index"].Detail == "" {
		t.Errorf("index check = %+v", resp.Checks["index"])
	}
	if resp.Checks["llm"].Status != "ok" {
		t.Errorf("llm check = %+v", resp.Checks["llm"])
	}
}

func TestBearerAuth(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := BearerAuthMiddleware([]string{"secret"})(srv.Routes())

	req := httptest.NewRequest("GET", "/api/stats", http.NoBody)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("missing header: status = %d", rr.Code)
	}

	req = httptest.NewRequest("GET", "/api/stats", http.NoBody)
	req.Header.Set("Authorization", "Bearer secret")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("valid token: status = %d", rr.Code)
	}

	// Health stays reachable without credentials.
	req = httptest.NewRequest("GET", "/api/health", http.NoBody)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("exempt health: status = %d", rr.Code)
	}
}
