// Package gateway is the transport boundary: it upgrades HTTP requests to
// WebSocket connections, authenticates them, and feeds inbound client
// frames and connection lifecycle events into the dispatcher.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/huddlechat/huddle/internal/auth"
	"github.com/huddlechat/huddle/internal/dispatch"
	"github.com/huddlechat/huddle/internal/events"
	"github.com/huddlechat/huddle/internal/outbox"
	"github.com/huddlechat/huddle/internal/registry"
)

// Config holds WebSocket connection settings.
type Config struct {
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConfig returns the default gateway configuration.
func DefaultConfig() Config {
	return Config{
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  64 * 1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// Handler serves the WebSocket endpoint.
type Handler struct {
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	queue      *outbox.Queue
	authn      auth.Authenticator
	upgrader   websocket.Upgrader
	config     Config
}

// NewHandler creates the WebSocket handler.
func NewHandler(reg *registry.Registry, d *dispatch.Dispatcher, q *outbox.Queue, authn auth.Authenticator, cfg Config) *Handler {
	return &Handler{
		registry:   reg,
		dispatcher: d,
		queue:      q,
		authn:      authn,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     cfg.CheckOrigin,
		},
		config: cfg,
	}
}

// RegisterRoutes registers the WebSocket routes with an HTTP mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/ws", h.HandleConnection)
	mux.HandleFunc("/api/ws/stats", h.HandleStats)
}

// HandleConnection upgrades the request and runs the connection lifecycle:
// authenticate, register, announce presence, then serve the read loop
// until the client goes away.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	userID, err := h.authn.Authenticate(r.Context(), credentialFrom(r))
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket handshake rejected")
		closeWithReason(conn, websocket.ClosePolicyViolation, "missing or invalid credential")
		return
	}

	entry := h.registry.Connect(conn, userID)
	h.announcePresence(userID, true)

	log.Info().Str("user_id", userID.String()).Msg("websocket connection established")
	go h.readLoop(entry, conn)
}

// HandleStats reports connection counts.
func (h *Handler) HandleStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"total_connections": h.registry.Len(),
		"pending_dispatch":  h.queue.Len(),
	})
}

// credentialFrom extracts the access token from the cookie clients set, or
// from the token query parameter as a fallback for non-browser clients.
func credentialFrom(r *http.Request) string {
	if c, err := r.Cookie("access_token"); err == nil && c.Value != "" {
		return c.Value
	}
	return r.URL.Query().Get("token")
}

func closeWithReason(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	_ = conn.Close()
}

// announcePresence queues a user_online/user_offline event; delivery goes
// through the same dispatcher as every other event.
func (h *Handler) announcePresence(userID uuid.UUID, online bool) {
	env := events.NewPresence(userID, online)
	h.queue.Enqueue(func(ctx context.Context) {
		h.dispatcher.Dispatch(ctx, env)
	})
}
