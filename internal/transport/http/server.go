// Package http exposes the REST and SSE API.
package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/atelier-labs/corpusd/internal/domain"
	logpkg "github.com/atelier-labs/corpusd/internal/logger"
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Error codes surfaced to API clients.
const (
	codeBadRequest           = "bad_request"
	codeValidationFailed     = "validation_failed"
	codeUnsupportedFileType  = "unsupported_file_type"
	codeNoExtractableText    = "no_extractable_text"
	codeInvalidMode          = "invalid_mode"
	codeDocumentNotFound     = "document_not_found"
	codeEmbedderMismatch     = "embedder_mismatch"
	codeEmbeddingUnavailable = "embedding_unavailable"
	codeIndexUnavailable     = "index_unavailable"
	codeModelUnavailable     = "model_unavailable"
	codeGenerationTimeout    = "generation_timeout"
	codeInternal             = "internal_error"
	codeUploadTooLarge       = "upload_too_large"
)

// Server wires the HTTP API to the domain services.
type Server struct {
	ingestor      Ingestor
	asker         Asker
	evaluator     Evaluator
	stats         StatsProvider
	index         Pinger
	model         ModelChecker
	uploadDir     string
	validate      *validator.Validate
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server. uploadDir receives files posted
// through the multipart ingest endpoint.
func NewServer(
	ingestor Ingestor,
	asker Asker,
	evaluator Evaluator,
	stats StatsProvider,
	index Pinger,
	model ModelChecker,
	uploadDir string,
) *Server {
	s := &Server{
		ingestor:  ingestor,
		asker:     asker,
		evaluator: evaluator,
		stats:     stats,
		index:     index,
		model:     model,
		uploadDir: uploadDir,
		validate:  validator.New(),
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrUnsupportedFileType, http.StatusBadRequest, codeUnsupportedFileType),
		sentinelHandler(domain.ErrUnreadableFile, http.StatusBadRequest, codeBadRequest),
		sentinelHandler(domain.ErrInvalidMode, http.StatusBadRequest, codeInvalidMode),
		sentinelHandler(domain.ErrNoExtractableText, http.StatusUnprocessableEntity, codeNoExtractableText),
		sentinelHandler(domain.ErrDocumentNotFound, http.StatusNotFound, codeDocumentNotFound),
		sentinelHandler(domain.ErrEmbedderMismatch, http.StatusConflict, codeEmbedderMismatch),
		sentinelHandler(domain.ErrEmbeddingUnavailable, http.StatusServiceUnavailable, codeEmbeddingUnavailable),
		sentinelHandler(domain.ErrIndexUnavailable, http.StatusServiceUnavailable, codeIndexUnavailable),
		sentinelHandler(domain.ErrModelUnavailable, http.StatusServiceUnavailable, codeModelUnavailable),
		sentinelHandler(domain.ErrGenerationTimeout, http.StatusGatewayTimeout, codeGenerationTimeout),
	}
	return s
}

// Routes returns the API router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/api", func(r chi.Router) {
		r.Post("/ingest", s.Ingest)
		r.Post("/ingest/directory", s.IngestDirectory)
		r.Delete("/documents/{hash}", s.DeleteDocument)
		r.Post("/chat", s.Chat)
		r.Post("/history/clear", s.ClearHistory)
		r.Post("/quizzes/evaluate", s.EvaluateQuiz)
		r.Get("/stats", s.Stats)
		r.Get("/health", s.HealthCheck)
	})
	r.Get("/metrics", s.Metrics)

	return r
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrUnreadableFile,
		domain.ErrUnsupportedFileType,
		domain.ErrNoExtractableText,
		domain.ErrInvalidMode,
		domain.ErrDocumentNotFound,
		domain.ErrEmbedderMismatch,
		domain.ErrEmbeddingUnavailable,
		domain.ErrIndexUnavailable,
		domain.ErrModelUnavailable,
		domain.ErrGenerationTimeout,
		domain.ErrAborted,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	logpkg.FromContext(r.Context()).Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	writeError(w, http.StatusInternalServerError, codeInternal, msg)
}

func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, codeValidationFailed, err.Error())
		return false
	}
	return true
}
