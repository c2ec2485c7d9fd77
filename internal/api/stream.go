package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/voicebootix/aidebuggerfoundry/internal/domain"
	"github.com/voicebootix/aidebuggerfoundry/internal/identity"
)

const streamWriteTimeout = 5 * time.Second

// StreamHub tracks live compliance feed connections per contract.
type StreamHub struct {
	mu     sync.RWMutex
	active map[string]map[*websocket.Conn]struct{}
}

// NewStreamHub creates an empty hub.
func NewStreamHub() *StreamHub {
	return &StreamHub{active: make(map[string]map[*websocket.Conn]struct{})}
}

// Register adds a connection for a contract.
func (h *StreamHub) Register(contractID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.active[contractID]; !ok {
		h.active[contractID] = make(map[*websocket.Conn]struct{})
	}
	h.active[contractID][conn] = struct{}{}
	slog.Info("Compliance stream registered", "contract_id", contractID)
}

// Unregister removes a connection.
func (h *StreamHub) Unregister(contractID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.active[contractID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.active, contractID)
		}
		slog.Info("Compliance stream unregistered", "contract_id", contractID)
	}
}

// Count returns the number of live connections for a contract.
func (h *StreamHub) Count(contractID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active[contractID])
}

// CloseAll terminates every live connection, used on shutdown.
func (h *StreamHub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for cid, conns := range h.active {
		for conn := range conns {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
		delete(h.active, cid)
	}
}

type streamMessage struct {
	Type   string                   `json:"type"` // snapshot or update
	Report *domain.ComplianceReport `json:"report,omitempty"`
	Update any                      `json:"update,omitempty"`
}

// Stream upgrades to a websocket that receives a report snapshot followed by
// every monitor update of the contract.
func (h *ContractHandler) Stream(w http.ResponseWriter, r *http.Request) {
	contractID := chi.URLParam(r, "contractID")
	userID := identity.UserIDFromContext(r.Context())

	snapshot, err := h.tracker.Report(r.Context(), contractID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID, "contract_id", contractID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "contract_id", contractID)
		}
	}()

	h.hub.Register(contractID, ws)
	defer h.hub.Unregister(contractID, ws)

	updates, unsubscribe := h.tracker.Subscribe(contractID)
	defer unsubscribe()

	// The feed is one-way; CloseRead cancels ctx when the client goes away.
	ctx := ws.CloseRead(r.Context())

	if err := writeStream(ctx, ws, streamMessage{Type: "snapshot", Report: &snapshot}); err != nil {
		slog.Debug("Failed to send snapshot", "error", err, "contract_id", contractID)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if err := writeStream(ctx, ws, streamMessage{Type: "update", Update: u}); err != nil {
				if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
					slog.Warn("WebSocket write error", "error", err, "contract_id", contractID)
				}
				return
			}
		}
	}
}

func writeStream(ctx context.Context, ws *websocket.Conn, msg streamMessage) error {
	ctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, ws, msg); err != nil {
		return fmt.Errorf("write stream message: %w", err)
	}
	return nil
}
