package http

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atelier-labs/corpusd/internal/domain"
	logpkg "github.com/atelier-labs/corpusd/internal/logger"
)

// Uploads larger than this are rejected before they hit disk.
const maxUploadBytes = 64 << 20

type ingestPathRequest struct {
	Path  string `json:"path" validate:"required"`
	Force bool   `json:"force"`
}

type ingestDirRequest struct {
	Dir   string `json:"dir" validate:"required"`
	Force bool   `json:"force"`
}

// Ingest handles POST /api/ingest. A multipart body uploads a file into
// the upload directory and indexes it; a JSON body indexes a file
// already on disk by path.
func (s *Server) Ingest(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		s.ingestUpload(w, r)
		return
	}

	var req ingestPathRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	res, err := s.ingestor.IngestFile(r.Context(), req.Path, req.Force)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ingestUpload stores the posted file under a fresh scratch directory
// so concurrent uploads of the same filename cannot collide, then
// indexes it. The file keeps its original base name because that name
// becomes the chunk source label.
func (s *Server) ingestUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, codeUploadTooLarge, "upload exceeds size limit")
			return
		}
		writeError(w, http.StatusBadRequest, codeBadRequest, "multipart form needs a \"file\" field")
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if name == "" || name == "." || name == string(filepath.Separator) {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "upload has no usable filename")
		return
	}

	dir := filepath.Join(s.uploadDir, uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logpkg.FromContext(r.Context()).Error("create upload dir", zap.Error(err))
		writeError(w, http.StatusInternalServerError, codeInternal, "could not store upload")
		return
	}

	dst := filepath.Join(dir, name)
	if err := saveUpload(dst, file); err != nil {
		logpkg.FromContext(r.Context()).Error("store upload", zap.Error(err))
		writeError(w, http.StatusInternalServerError, codeInternal, "could not store upload")
		return
	}

	force := r.URL.Query().Get("force") == "true"
	res, err := s.ingestor.IngestFile(r.Context(), dst, force)
	if err != nil {
		// A rejected upload has no reason to stay on disk.
		_ = os.RemoveAll(dir)
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func saveUpload(dst string, src io.Reader) error {
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// IngestDirectory handles POST /api/ingest/directory. Per-file failures
// are reported inline; the response is 200 as long as the walk ran.
func (s *Server) IngestDirectory(w http.ResponseWriter, r *http.Request) {
	var req ingestDirRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	results, err := s.ingestor.IngestDir(r.Context(), req.Dir, req.Force)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": results})
}

// DeleteDocument handles DELETE /api/documents/{hash}.
func (s *Server) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")

	removed, err := s.ingestor.DeleteDocument(r.Context(), hash)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"content_hash":   hash,
		"chunks_removed": removed,
	})
}

type evaluateRequest struct {
	Question      string `json:"question" validate:"required"`
	ModelAnswer   string `json:"model_answer" validate:"required"`
	StudentAnswer string `json:"student_answer" validate:"required"`
}

// EvaluateQuiz handles POST /api/quizzes/evaluate.
func (s *Server) EvaluateQuiz(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	grade, err := s.evaluator.Evaluate(r.Context(), domain.QuizQuestion{
		Question:      req.Question,
		ModelAnswer:   req.ModelAnswer,
		StudentAnswer: req.StudentAnswer,
	})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, grade)
}

// ClearHistory handles POST /api/history/clear.
func (s *Server) ClearHistory(w http.ResponseWriter, r *http.Request) {
	s.asker.ClearHistory()
	w.WriteHeader(http.StatusNoContent)
}

// Stats handles GET /api/stats.
func (s *Server) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.stats.Stats(r.Context())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type healthCheckState struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

type healthResponse struct {
	Status string                      `json:"status"`
	Checks map[string]healthCheckState `json:"checks"`
}

// HealthCheck handles GET /api/health. Degraded dependencies turn the
// response into a 503 with per-check detail.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	checks := map[string]healthCheckState{
		"index": {Status: "ok"},
		"llm":   {Status: "ok"},
	}
	healthy := true

	if err := s.index.Ping(r.Context()); err != nil {
		checks["index"] = healthCheckState{Status: "fail", Detail: err.Error()}
		healthy = false
	}
	if err := s.model.HealthCheck(r.Context()); err != nil {
		checks["llm"] = healthCheckState{Status: "fail", Detail: err.Error()}
		healthy = false
	}

	status, httpStatus := "ok", http.StatusOK
	if !healthy {
		status, httpStatus = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, healthResponse{Status: status, Checks: checks})
}
