package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/halcyon-surgical/portal/internal/session"
)

const (
	defaultPingInterval = 30 * time.Second
	writeTimeout        = 5 * time.Second
)

// AuthEvent is pushed to the browser whenever the session changes.
type AuthEvent struct {
	Type    string           `json:"type"`
	Session session.Snapshot `json:"session"`
}

// Events streams session snapshots over a WebSocket. The first message is
// the current snapshot; the stream ends when the visitor is evicted. While the
// browser answers pings the visitor stays fresh for the sweeper.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}
	v, ok := h.visitor(w, r)
	if !ok {
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "visitor_id", v.ID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "visitor_id", v.ID)
		}
	}()

	h.streams.Register(v.ID, ws)
	defer h.streams.Unregister(v.ID, ws)

	// Clients never send anything; CloseRead handles pings and close frames.
	ctx := ws.CloseRead(r.Context())

	updates, unsubscribe := v.Flow.Subscribe()
	defer unsubscribe()

	ticker := time.NewTicker(h.ping)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := writeJSON(ctx, ws, AuthEvent{Type: "auth_state", Session: snap}); err != nil {
				slog.Debug("Auth stream write failed", "error", err, "visitor_id", v.ID)
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := ws.Ping(pingCtx)
			cancel()
			if err != nil {
				slog.Debug("Auth stream ping failed", "error", err, "visitor_id", v.ID)
				return
			}
			h.ctrl.Touch(v)
		}
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.origins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.origins)
	return false
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}
