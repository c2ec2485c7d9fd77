package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/voicebootix/aidebuggerfoundry/internal/domain"
	"github.com/voicebootix/aidebuggerfoundry/internal/identity"
)

// SessionHandler serves the conversation endpoints.
type SessionHandler struct {
	*Handler
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(base *Handler) *SessionHandler {
	return &SessionHandler{Handler: base}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.Start)
		r.Get("/", h.List)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Post("/messages", h.Advance)
			r.Post("/contract", h.BuildContract)
			r.Post("/complete", h.Complete)
			r.Post("/reclassify", h.Reclassify)
		})
	})
}

// owned loads a session and hides sessions of other founders.
func (h *SessionHandler) owned(ctx context.Context, sessionID string) (*domain.ConversationSession, error) {
	s, err := h.conversations.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.UserID != identity.UserIDFromContext(ctx) {
		return nil, fmt.Errorf("%w: session %s", domain.ErrNotFound, sessionID)
	}
	return s, nil
}

// Start opens a conversation with the founder's first message.
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.conversations.Start(r.Context(), identity.UserIDFromContext(r.Context()), req.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, res)
}

// List returns the founder's sessions.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.repo.ListSessionsByUser(r.Context(), identity.UserIDFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []*domain.ConversationSession{}
	}
	JSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// Get returns one session.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, err := h.owned(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, s)
}

// Advance appends a founder message.
func (h *SessionHandler) Advance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	var req textRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.owned(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.conversations.Advance(r.Context(), id, req.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// BuildContract builds the contract of an agreed session.
func (h *SessionHandler) BuildContract(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if _, err := h.owned(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.conversations.BuildContract(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, c)
}

// Complete finishes code generation and archives the session.
func (h *SessionHandler) Complete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if _, err := h.owned(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.conversations.Complete(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// Reclassify recomputes the founder profile.
func (h *SessionHandler) Reclassify(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if _, err := h.owned(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	s, err := h.conversations.Reclassify(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, s)
}
