package websocket

import "errors"

var (
	// ErrConnectionClosed is returned by writes to a closed connection.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrWriteQueueFull is returned when the outbound queue is full;
	// the client is too slow to keep its backlog bounded.
	ErrWriteQueueFull = errors.New("write queue full")
)
