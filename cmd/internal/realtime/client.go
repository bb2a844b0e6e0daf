// Package realtime contains the Connexa realtime core: the presence
// registry, the per-connection lifecycle, the event router and the
// message handlers behind the websocket gateway.
package realtime

import (
	"sync"

	v1 "connexa/contracts/realtime/v1"
)

// Client is the handle for one live websocket connection. It is bound
// to exactly one authenticated user for its whole lifetime.
//
// Design notes:
// - Send is intentionally NOT closed by the server to keep concurrent
//   broadcasters panic-safe.
// - done signals the connection goroutines to stop.
// - Close is idempotent.
type Client struct {
	SessionID string
	UserID    string
	Email     string

	Send chan v1.Frame

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(userID, email, sessionID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		SessionID: sessionID,
		UserID:    userID,
		Email:     email,
		Send:      make(chan v1.Frame, sendQueueSize),
		done:      make(chan struct{}),
	}
}

// Done returns a channel closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
// It does NOT close Send so broadcast stays safe under concurrency.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// TrySend enqueues a frame without blocking. It reports false when the
// client is shutting down or its queue is full (the frame is dropped
// rather than stalling the caller).
func (c *Client) TrySend(f v1.Frame) bool {
	if c == nil {
		return false
	}

	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.Send <- f:
		return true
	default:
		return false
	}
}
