package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/huddlechat/huddle/internal/events"
	"github.com/huddlechat/huddle/internal/registry"
)

// readLoop serves one connection until the peer goes away or a read
// fails. On exit the entry is released (only if the table still points at
// this connection, so a reconnect is never evicted) and, when the release
// actually removed the user, a user_offline event is queued.
func (h *Handler) readLoop(entry *registry.Conn, conn *websocket.Conn) {
	userID := entry.UserID

	done := make(chan struct{})
	defer func() {
		close(done)
		if h.registry.Release(entry) {
			_ = conn.Close()
			h.announcePresence(userID, false)
			log.Info().Str("user_id", userID.String()).Msg("websocket connection closed")
		}
	}()

	conn.SetReadLimit(h.config.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	})

	go h.pingLoop(conn, done)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("user_id", userID.String()).Msg("unexpected websocket close")
			}
			return
		}
		h.handleClientFrame(entry, message)
		_ = conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	}
}

// pingLoop keeps the connection alive. WriteControl is safe to call
// concurrently with the registry's data writes.
func (h *Handler) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(h.config.PingInterval / 2)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// handleClientFrame parses one inbound frame. A well-formed event is
// queued for dispatch; anything malformed or of unknown type earns an
// error event sent back to this connection only, and the connection
// stays open.
func (h *Handler) handleClientFrame(entry *registry.Conn, message []byte) {
	env, err := events.Parse(message)
	if err != nil {
		log.Debug().
			Err(err).
			Str("user_id", entry.UserID.String()).
			Msg("rejected inbound client frame")
		errEnv := events.NewError(entry.UserID, err.Error(),
			"There was an error processing your message.")
		data, merr := json.Marshal(errEnv)
		if merr != nil {
			log.Error().Err(merr).Msg("marshal error event")
			return
		}
		h.registry.SendTo(entry, data)
		return
	}

	h.queue.Enqueue(func(ctx context.Context) {
		h.dispatcher.Dispatch(ctx, env)
	})
}
