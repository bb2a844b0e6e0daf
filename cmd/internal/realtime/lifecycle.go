package realtime

import (
	"context"
	"log/slog"
	"time"

	"connexa/cmd/internal/chat"
	v1 "connexa/contracts/realtime/v1"
)

const offlineWriteTimeout = 5 * time.Second

// Lifecycle owns the per-connection state transitions and keeps the
// presence registry and the durable online/lastSeen state in step.
//
// Invariant it must preserve: a registry entry exists for a user iff
// the durable online flag is true, within one transition. Activate and
// Deactivate therefore pair the registry update with the durable write
// on the same transition, and Deactivate refuses to write offline when
// the registry entry has already been superseded by a newer connection.
type Lifecycle struct {
	log      *slog.Logger
	registry *Registry
	users    chat.UserStore
	metrics  *Metrics
}

// NewLifecycle constructs a Lifecycle.
func NewLifecycle(log *slog.Logger, registry *Registry, users chat.UserStore, m *Metrics) *Lifecycle {
	return &Lifecycle{log: log, registry: registry, users: users, metrics: m}
}

// Activate performs the Authenticated -> Active transition: register
// the handle and durably mark the user online.
//
// Fail-safe: when the durable write fails the registration is rolled
// back and an error is returned; the caller must close the connection
// rather than leave it Active without a recorded online state.
func (l *Lifecycle) Activate(ctx context.Context, c *Client, now time.Time) error {
	prev := l.registry.Register(c.UserID, c)

	if err := l.users.SetOnline(ctx, c.UserID, now); err != nil {
		// Put the superseded handle back: the old connection is still
		// open and still owns the user's presence.
		l.registry.restore(c.UserID, c, prev)
		l.log.Error("lifecycle.activate.fail", "user_id", c.UserID, "session_id", c.SessionID, "err", err)
		return err
	}

	// Superseded connection: the old handle unwinds through its own
	// close path, where compare-and-remove keeps it from clobbering
	// this registration.
	if prev != nil {
		prev.Close()
	}

	l.metrics.ConnectionsOpened.Inc()
	l.metrics.ConnectionsActive.Inc()
	l.log.Info("lifecycle.active", "user_id", c.UserID, "session_id", c.SessionID)

	l.announce(v1.EventUserOnline, v1.PresencePayload{UserID: c.UserID}, c.UserID)
	return nil
}

// Deactivate performs the Active -> Closed transition. It is safe
// against duplicate close events and runs its durable write on a fresh
// context so connection teardown cannot cancel it.
func (l *Lifecycle) Deactivate(c *Client, now time.Time) {
	removed := l.registry.Unregister(c.UserID, c)
	c.Close()

	if !removed {
		// Either already deactivated or superseded by a newer
		// connection that now owns the user's presence. No offline
		// write in either case.
		return
	}

	l.metrics.ConnectionsActive.Dec()

	ctx, cancel := context.WithTimeout(context.Background(), offlineWriteTimeout)
	defer cancel()

	if err := l.users.SetOffline(ctx, c.UserID, now); err != nil {
		l.log.Error("lifecycle.offline_write.fail", "user_id", c.UserID, "session_id", c.SessionID, "err", err)
	} else {
		l.log.Info("lifecycle.closed", "user_id", c.UserID, "session_id", c.SessionID)
	}

	l.announce(v1.EventUserOffline, v1.PresencePayload{UserID: c.UserID, LastSeen: &now}, c.UserID)
}

func (l *Lifecycle) announce(event string, payload v1.PresencePayload, exceptUserID string) {
	f, err := v1.NewFrame(event, payload)
	if err != nil {
		return
	}
	delivered, dropped := l.registry.BroadcastAll(f, exceptUserID)
	l.metrics.FanoutDelivered.Add(float64(delivered))
	l.metrics.FanoutDropped.Add(float64(dropped))
}
