package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/voicebootix/aidebuggerfoundry/internal/domain"
	"github.com/voicebootix/aidebuggerfoundry/internal/identity"
	"github.com/voicebootix/aidebuggerfoundry/internal/report"
)

// ContractHandler serves contract and compliance endpoints.
type ContractHandler struct {
	*Handler
	allowedOrigins []string
	isDev          bool
}

// NewContractHandler creates a contract handler. allowedOrigins gate the
// websocket feed outside development.
func NewContractHandler(base *Handler, allowedOrigins []string, isDev bool) *ContractHandler {
	return &ContractHandler{Handler: base, allowedOrigins: allowedOrigins, isDev: isDev}
}

func (h *ContractHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(h.allowedOrigins, "*") || slices.Contains(h.allowedOrigins, origin) {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigins)
	return false
}

// RegisterRoutes registers contract routes.
func (h *ContractHandler) RegisterRoutes(r chi.Router) {
	r.Route("/contracts/{contractID}", func(r chi.Router) {
		r.Use(h.requireOwner)
		r.Get("/", h.Get)
		r.Post("/supersede", h.Supersede)
		r.Post("/outputs", h.RecordOutput)
		r.Post("/outputs/queue", h.QueueOutput)
		r.Post("/deviations/{alertID}/correct", h.Correct)
		r.Get("/report", h.Report)
		r.Get("/stream", h.Stream)
	})
}

// ownedContract loads a contract and hides contracts of other founders.
func (h *ContractHandler) ownedContract(ctx context.Context, contractID string) (*domain.FounderContract, error) {
	c, err := h.repo.GetContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if c.FounderID != identity.UserIDFromContext(ctx) {
		return nil, fmt.Errorf("%w: contract %s", domain.ErrNotFound, contractID)
	}
	return c, nil
}

func (h *ContractHandler) requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := h.ownedContract(r.Context(), chi.URLParam(r, "contractID")); err != nil {
			writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Get returns a contract.
func (h *ContractHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.repo.GetContract(r.Context(), chi.URLParam(r, "contractID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, c)
}

// Supersede retires an active contract so the session can be rebuilt.
func (h *ContractHandler) Supersede(w http.ResponseWriter, r *http.Request) {
	c, err := h.builder.Supersede(r.Context(), chi.URLParam(r, "contractID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, c)
}

// RecordOutput monitors one AI output synchronously.
func (h *ContractHandler) RecordOutput(w http.ResponseWriter, r *http.Request) {
	var req outputRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.tracker.Record(r.Context(), chi.URLParam(r, "contractID"), req.Output)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// QueueOutput queues an output for the background poller.
func (h *ContractHandler) QueueOutput(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "contractID")
	var req outputRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.repo.GetContract(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !c.Active() {
		writeError(w, r, errSuperseded(id))
		return
	}
	p, err := h.repo.EnqueueOutput(r.Context(), id, req.Output)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusAccepted, map[string]any{"id": p.ID, "contract_id": id, "queued_at": p.QueuedAt})
}

// Correct retries auto-correction of one deviation against a given output.
func (h *ContractHandler) Correct(w http.ResponseWriter, r *http.Request) {
	var req outputRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, r, err)
		return
	}
	attempt, err := h.tracker.Correct(r.Context(), chi.URLParam(r, "contractID"), chi.URLParam(r, "alertID"), req.Output)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, attempt)
}

func errSuperseded(contractID string) error {
	return fmt.Errorf("%w: contract %s is superseded", domain.ErrInvalidState, contractID)
}

type reportResponse struct {
	Report  domain.ComplianceReport `json:"report"`
	Founder report.FounderReport    `json:"founder_report"`
}

// Report returns the compliance report and its founder-facing view.
// ?format=markdown renders the founder view only.
func (h *ContractHandler) Report(w http.ResponseWriter, r *http.Request) {
	rep, err := h.tracker.Report(r.Context(), chi.URLParam(r, "contractID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	view := report.FounderView(rep)
	if r.URL.Query().Get("format") == "markdown" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(view.Markdown()))
		return
	}
	JSON(w, http.StatusOK, reportResponse{Report: rep, Founder: view})
}
