package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Registry is the live table mapping a user id to its single active
// connection. It is the only shared mutable state in the delivery path:
// the table is guarded by one RWMutex, writes on an individual connection
// by that connection's own mutex.
type Registry struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]*Conn

	clock        clockwork.Clock
	writeTimeout time.Duration
}

// Config holds connection-level settings for the registry.
type Config struct {
	WriteTimeout time.Duration
}

// DefaultConfig returns the default registry configuration.
func DefaultConfig() Config {
	return Config{
		WriteTimeout: 10 * time.Second,
	}
}

// New creates an empty registry. The clock is injectable so tests can pin
// connection timestamps.
func New(cfg Config, clock clockwork.Clock) *Registry {
	return &Registry{
		conns:        make(map[uuid.UUID]*Conn),
		clock:        clock,
		writeTimeout: cfg.WriteTimeout,
	}
}

// Connect installs userID -> transport, unconditionally overwriting any
// prior entry for that user. The superseded connection is not closed here:
// its own read loop notices the peer going away and calls Release, which
// is a no-op once the entry points elsewhere. Closing it eagerly instead
// would break clients that reconnect before the old socket has drained.
func (r *Registry) Connect(t Transport, userID uuid.UUID) *Conn {
	conn := &Conn{
		UserID:       userID,
		ConnectedAt:  r.clock.Now(),
		transport:    t,
		clock:        r.clock,
		writeTimeout: r.writeTimeout,
	}

	r.mu.Lock()
	_, replaced := r.conns[userID]
	r.conns[userID] = conn
	total := len(r.conns)
	r.mu.Unlock()

	log.Debug().
		Str("user_id", userID.String()).
		Bool("replaced", replaced).
		Int("total_connections", total).
		Msg("connection registered")
	return conn
}

// Disconnect best-effort closes the user's connection, if any, and removes
// the entry regardless of whether the close succeeded. Disconnecting an
// absent user is a no-op.
func (r *Registry) Disconnect(userID uuid.UUID) {
	r.mu.Lock()
	conn, ok := r.conns[userID]
	if ok {
		delete(r.conns, userID)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	if err := conn.transport.Close(); err != nil {
		log.Debug().Err(err).Str("user_id", userID.String()).Msg("close on disconnect failed")
	}
	log.Debug().Str("user_id", userID.String()).Msg("connection unregistered")
}

// Release removes conn's entry only if the table still points at conn.
// Read loops use it on exit so that a reconnect racing a disconnect never
// evicts the replacement connection. It reports whether the entry was
// actually removed.
func (r *Registry) Release(conn *Conn) bool {
	r.mu.Lock()
	current, ok := r.conns[conn.UserID]
	if ok && current == conn {
		delete(r.conns, conn.UserID)
	} else {
		ok = false
	}
	r.mu.Unlock()

	if ok {
		log.Debug().Str("user_id", conn.UserID.String()).Msg("connection released")
	}
	return ok
}

// Get returns the user's live connection, if any. Pure lookup.
func (r *Registry) Get(userID uuid.UUID) (*Conn, bool) {
	r.mu.RLock()
	conn, ok := r.conns[userID]
	r.mu.RUnlock()
	return conn, ok
}

// Send writes an already-serialized envelope to the user's connection.
// Absent user is a no-op. Any write failure is treated as a disconnect
// signal: the entry is removed and the transport closed, so the table
// self-heals around dead peers.
func (r *Registry) Send(userID uuid.UUID, data []byte) {
	conn, ok := r.Get(userID)
	if !ok {
		return
	}
	r.sendOn(conn, data)
}

// SendTo writes to one specific connection, bypassing the table lookup.
// The gateway uses it to answer a malformed inbound frame on exactly the
// connection that sent it, even mid-reconnect.
func (r *Registry) SendTo(conn *Conn, data []byte) {
	r.sendOn(conn, data)
}

func (r *Registry) sendOn(conn *Conn, data []byte) {
	if err := conn.write(data); err != nil {
		log.Warn().
			Err(err).
			Str("user_id", conn.UserID.String()).
			Msg("write failed, dropping connection")
		if r.Release(conn) {
			_ = conn.transport.Close()
		}
	}
}

// Broadcast sends data to every registered user not in exclude. Each
// recipient's failure is handled independently, so one dead connection
// never aborts the rest of the broadcast.
func (r *Registry) Broadcast(data []byte, exclude map[uuid.UUID]struct{}) {
	r.mu.RLock()
	targets := make([]*Conn, 0, len(r.conns))
	for userID, conn := range r.conns {
		if _, skip := exclude[userID]; skip {
			continue
		}
		targets = append(targets, conn)
	}
	r.mu.RUnlock()

	for _, conn := range targets {
		r.sendOn(conn, data)
	}
}

// IsOnline reports whether the user has a registered connection.
func (r *Registry) IsOnline(userID uuid.UUID) bool {
	r.mu.RLock()
	_, ok := r.conns[userID]
	r.mu.RUnlock()
	return ok
}

// OnlineUsers returns a snapshot of the currently connected user ids.
func (r *Registry) OnlineUsers() map[uuid.UUID]struct{} {
	r.mu.RLock()
	users := make(map[uuid.UUID]struct{}, len(r.conns))
	for userID := range r.conns {
		users[userID] = struct{}{}
	}
	r.mu.RUnlock()
	return users
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	n := len(r.conns)
	r.mu.RUnlock()
	return n
}
