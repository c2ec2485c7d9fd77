// Package api provides HTTP handlers for the cofounder API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/voicebootix/aidebuggerfoundry/internal/compliance"
	"github.com/voicebootix/aidebuggerfoundry/internal/contract"
	"github.com/voicebootix/aidebuggerfoundry/internal/conversation"
	"github.com/voicebootix/aidebuggerfoundry/internal/domain"
	"github.com/voicebootix/aidebuggerfoundry/internal/store"
)

// maxBodyBytes bounds request bodies; generated outputs can be large.
const maxBodyBytes = 4 << 20

// Handler provides common handler utilities.
type Handler struct {
	repo          store.Repository
	conversations *conversation.StateMachine
	builder       *contract.Builder
	tracker       *compliance.Tracker
	hub           *StreamHub
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, sm *conversation.StateMachine, builder *contract.Builder, tracker *compliance.Tracker, hub *StreamHub) *Handler {
	if hub == nil {
		hub = NewStreamHub()
	}
	return &Handler{
		repo:          repo,
		conversations: sm,
		builder:       builder,
		tracker:       tracker,
		hub:           hub,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// StatusFor maps the domain error taxonomy onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPrecondition):
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err with its mapped status. Internal errors are logged
// and not echoed.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		Error(w, status, "internal error")
		return
	}
	Error(w, status, err.Error())
}

// decode reads a JSON body into v.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is empty", domain.ErrValidation)
		}
		return fmt.Errorf("%w: invalid request body: %v", domain.ErrValidation, err)
	}
	return nil
}

type textRequest struct {
	Text string `json:"text"`
}

type outputRequest struct {
	Output string `json:"output"`
}

func (o outputRequest) validate() error {
	if strings.TrimSpace(o.Output) == "" {
		return fmt.Errorf("%w: output is empty", domain.ErrValidation)
	}
	return nil
}
