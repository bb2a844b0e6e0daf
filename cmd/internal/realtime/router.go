package realtime

import (
	"context"
	"encoding/json"
	"log/slog"

	v1 "connexa/contracts/realtime/v1"
)

// HandlerFunc processes one decoded inbound event for one connection.
// Handlers must convert their own failures into per-sender ERROR frames
// (or silent drops); a handler error never tears down the router or
// other connections.
type HandlerFunc func(ctx context.Context, from *Client, content json.RawMessage)

// Table maps event names to handlers. It is built once at composition
// time and passed by reference into the router, so there are no hidden
// registration-order dependencies.
type Table map[string]HandlerFunc

// Router decodes inbound frames and dispatches them by event name.
type Router struct {
	log     *slog.Logger
	table   Table
	metrics *Metrics
}

// NewRouter constructs a Router over an immutable handler table.
func NewRouter(log *slog.Logger, m *Metrics, table Table) *Router {
	return &Router{log: log, table: table, metrics: m}
}

// Dispatch decodes one raw inbound frame and routes it.
//
// Malformed JSON is a validation error surfaced to the sender only.
// An unknown event name is NOT an error: the frame is dropped silently
// so newer clients can speak to older servers.
func (r *Router) Dispatch(ctx context.Context, from *Client, data []byte) {
	var f v1.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		r.log.Debug("router.frame.bad_json", "session_id", from.SessionID, "err", err)
		SendError(from, "Malformed frame")
		return
	}
	if err := f.Validate(); err != nil {
		SendError(from, err.Error())
		return
	}

	handler, ok := r.table[f.Type]
	if !ok {
		r.metrics.EventsDropped.Inc()
		r.log.Debug("router.event.unknown", "type", f.Type, "session_id", from.SessionID)
		return
	}

	r.metrics.EventsReceived.WithLabelValues(f.Type).Inc()
	handler(ctx, from, f.Content)
}

// Send encodes and enqueues one outbound event for a single handle.
// Frames enqueued for the same handle are written to the wire in Send
// order by the connection's writer goroutine.
func Send(c *Client, typ string, content any) bool {
	f, err := v1.NewFrame(typ, content)
	if err != nil {
		return false
	}
	return c.TrySend(f)
}

// SendError delivers an ERROR frame to the originating connection only.
func SendError(c *Client, msg string) {
	Send(c, v1.EventError, v1.ErrorPayload{Error: msg})
}
