package broadcast

import (
	"sync"
	"sync/atomic"
	"time"
)

// Connection is one observer subscription. The transport drains Send and
// reports liveness acknowledgements with Ack.
type Connection struct {
	ID        string
	SessionID string // empty for global subscribers
	CreatedAt time.Time

	send chan []byte
	pong chan struct{}
	done chan struct{}

	mu     sync.Mutex
	closed bool

	lastAck atomic.Int64
	hub     *Hub
}

func newConnection(id, sessionID string, buffer int, hub *Hub) *Connection {
	now := time.Now()
	c := &Connection{
		ID:        id,
		SessionID: sessionID,
		CreatedAt: now,
		send:      make(chan []byte, buffer),
		pong:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		hub:       hub,
	}
	c.lastAck.Store(now.UnixMilli())
	return c
}

// Send returns the outbound frame queue. It is closed when the hub drops the connection.
func (c *Connection) Send() <-chan []byte { return c.send }

// Done is closed when the connection has been removed.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Ack records a liveness acknowledgement from the observer.
func (c *Connection) Ack() {
	c.lastAck.Store(time.Now().UnixMilli())
	select {
	case c.pong <- struct{}{}:
	default:
	}
}

// LastAck returns the time of the last acknowledgement.
func (c *Connection) LastAck() time.Time {
	return time.UnixMilli(c.lastAck.Load())
}

// Close unsubscribes the connection.
func (c *Connection) Close() {
	c.hub.remove(c, "")
}

// enqueue queues frame without blocking. It fails when the queue is full or closed.
func (c *Connection) enqueue(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrBufferFull
	}
}

// shutdown closes the queues once and reports whether this call did it.
func (c *Connection) shutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.send)
	close(c.done)
	return true
}
