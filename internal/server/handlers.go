// Package server exposes HTTP handlers, including WebSocket upgrades, the
// health banner, and the connected-users status report.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/geniustalk/internal/relay"
)

// Handlers serves the HTTP surface of the relay.
type Handlers struct {
	app      *App
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// UsersResponse is the body of GET /users.
type UsersResponse struct {
	ConnectedUsers []string         `json:"connectedUsers"`
	Connections    []relay.Presence `json:"connections"`
}

// NewHandlers creates the HTTP handlers for app.
func NewHandlers(app *App, logger *slog.Logger) *Handlers {
	origins := newOriginPolicy(app.Config.AllowedOrigins, logger)
	return &Handlers{
		app: app,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin:      origins.checkOrigin,
		},
		logger: logger,
	}
}

// WebSocket upgrades the request and hands the connection to the hub, which
// launches its pumps.
func (h *Handlers) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}

	if _, err := h.app.Hub.Serve(conn, r.RemoteAddr); err != nil {
		if errors.Is(err, relay.ErrHubClosed) {
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, relay.TextServerShutdown)
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		}
		_ = conn.Close()
		h.logger.Info("rejected websocket connection", "addr", r.RemoteAddr, "error", err)
	}
}

// Health responds with a plain text banner indicating the server is running.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprint(w, "GeniusTalk server is running!")
}

// Users reports every registered phone number and its connection count.
func (h *Handlers) Users(w http.ResponseWriter, _ *http.Request) {
	snapshot := h.app.Registry.Snapshot()
	resp := UsersResponse{
		ConnectedUsers: make([]string, len(snapshot)),
		Connections:    snapshot,
	}
	for i, p := range snapshot {
		resp.ConnectedUsers[i] = p.Identity
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("error writing users response", "error", err)
	}
}
