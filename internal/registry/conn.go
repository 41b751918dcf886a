package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

// Transport is the duplex connection handle the registry writes on.
// *websocket.Conn satisfies it; tests substitute fakes.
type Transport interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

var _ Transport = (*websocket.Conn)(nil)

// Conn associates one user with one live transport. The registry owns the
// entry; no other component holds the transport once the entry is gone.
type Conn struct {
	UserID      uuid.UUID
	ConnectedAt time.Time

	transport    Transport
	clock        clockwork.Clock
	writeTimeout time.Duration

	// Serializes writes: fan-out hits one connection from many goroutines
	// and the websocket transport allows a single concurrent writer.
	writeMu sync.Mutex
}

func (c *Conn) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.transport.SetWriteDeadline(c.clock.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return c.transport.WriteMessage(websocket.TextMessage, data)
}
