package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/atelier-labs/corpusd/internal/answer"
	"github.com/atelier-labs/corpusd/internal/domain"
	logpkg "github.com/atelier-labs/corpusd/internal/logger"
)

type chatRequest struct {
	Question string `json:"question" validate:"required"`
	Mode     string `json:"mode"`
	Grounded bool   `json:"grounded"`
	TopK     int    `json:"top_k" validate:"gte=0,lte=20"`
}

// Sent as SSE data payloads. Exactly one of the fields is set per event.
type chatEvent struct {
	Token     string            `json:"token,omitempty"`
	Done      bool              `json:"done,omitempty"`
	Citations []answer.Citation `json:"citations,omitempty"`
	Mode      domain.Mode       `json:"mode,omitempty"`
	Error     string            `json:"error,omitempty"`
	Code      string            `json:"code,omitempty"`
}

// Chat handles POST /api/chat. The answer streams as server-sent
// events: one event per token, a final event with citations, then a
// [DONE] marker. Errors that surface after the stream starts arrive as
// an error event on the same stream.
func (s *Server) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	mode, err := domain.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidMode, fmt.Sprintf("unknown mode %q", req.Mode))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, codeInternal, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	emit := func(token string) error {
		return writeSSE(w, flusher, chatEvent{Token: token})
	}

	res, err := s.asker.Ask(r.Context(), answer.Request{
		Question: req.Question,
		Mode:     mode,
		Grounded: req.Grounded,
		TopK:     req.TopK,
	}, emit)
	if err != nil {
		// A client that hung up will never read an error event.
		if r.Context().Err() == nil {
			logpkg.FromContext(r.Context()).Warn("chat stream failed", zap.Error(err))
			_ = writeSSE(w, flusher, chatEvent{
				Error: safeDomainMessage(err),
				Code:  errorCode(err),
			})
		}
		writeSSEDone(w, flusher)
		return
	}

	_ = writeSSE(w, flusher, chatEvent{
		Done:      true,
		Citations: res.Citations,
		Mode:      res.Mode,
	})
	writeSSEDone(w, flusher)
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, ev chatEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func writeSSEDone(w http.ResponseWriter, flusher http.Flusher) {
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// errorCode maps a domain error to its API error code for in-stream
// error events, where the HTTP status is already spent.
func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidMode):
		return codeInvalidMode
	case errors.Is(err, domain.ErrIndexUnavailable):
		return codeIndexUnavailable
	case errors.Is(err, domain.ErrEmbeddingUnavailable):
		return codeEmbeddingUnavailable
	case errors.Is(err, domain.ErrModelUnavailable):
		return codeModelUnavailable
	case errors.Is(err, domain.ErrGenerationTimeout):
		return codeGenerationTimeout
	case errors.Is(err, domain.ErrAborted):
		return "aborted"
	default:
		return codeInternal
	}
}
