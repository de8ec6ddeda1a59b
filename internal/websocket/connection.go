// Package websocket carries the realtime channel: the connection
// wrapper with its single-writer queue and the handler that upgrades,
// authenticates, and dispatches client events.
package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"codeshare/pkg/types"
)

const writeTimeout = 5 * time.Second

// Connection wraps one websocket client. All writes pass through a
// single writer goroutine, so events reach the socket in enqueue
// order and concurrent broadcasters never race on the underlying
// connection. It implements interfaces.Conn.
type Connection struct {
	conn    *websocket.Conn
	writeCh chan []byte
	connID  string
	ctx     context.Context
	cancel  context.CancelFunc

	closeOnce sync.Once

	mu          sync.RWMutex
	userID      string
	role        string
	sessionCode string
	joined      bool
}

// NewConnection wraps an upgraded websocket and starts its writer.
// buffer is the outbound queue depth; a full queue fails the write
// rather than blocking the broadcaster.
func NewConnection(conn *websocket.Conn, buffer int) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:    conn,
		writeCh: make(chan []byte, buffer),
		connID:  uuid.New().String(),
		ctx:     ctx,
		cancel:  cancel,
	}
	go c.writeLoop()
	return c
}

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// WriteEvent queues one enveloped event for delivery. It never blocks:
// a closed connection or a full queue returns an error immediately and
// the caller moves on to the next recipient.
func (c *Connection) WriteEvent(event string, payload any) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(types.Envelope{Event: event, Data: data})
	if err != nil {
		return err
	}

	select {
	case c.writeCh <- frame:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		return ErrWriteQueueFull
	}
}

// Close shuts the connection down. Safe to call from any goroutine,
// any number of times.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
	})
	return err
}

// Join stamps the connection with its session identity. Called once,
// after the join event has been validated.
func (c *Connection) Join(userID, role, sessionCode string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
	c.role = role
	c.sessionCode = sessionCode
	c.joined = true
}

// Joined reports whether the connection has completed the join
// handshake.
func (c *Connection) Joined() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.joined
}

func (c *Connection) ConnID() string { return c.connID }

func (c *Connection) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Connection) Role() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

func (c *Connection) SessionCode() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionCode
}
