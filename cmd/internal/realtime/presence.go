package realtime

import (
	"hash/fnv"
	"log/slog"
	"sync"

	v1 "connexa/contracts/realtime/v1"
)

const presenceShards = 16

// Registry is the in-memory presence map: userID -> live connection
// handle. It is injected (never a package-level singleton) so every
// test can construct one with isolated state.
//
// Concurrency guarantees:
//   - Register is last-writer-wins: a newer connection from the same
//     user supersedes the old handle.
//   - Unregister removes the mapping only when the stored handle is the
//     one being removed, so a stale unregister from a superseded
//     connection can never delete a fresher registration.
//   - Broadcast never blocks; slow or closing recipients are skipped.
type Registry struct {
	log    *slog.Logger
	shards [presenceShards]registryShard
}

type registryShard struct {
	mu      sync.RWMutex
	handles map[string]*Client
}

// NewRegistry constructs an empty Registry.
func NewRegistry(log *slog.Logger) *Registry {
	r := &Registry{log: log}
	for i := range r.shards {
		r.shards[i].handles = make(map[string]*Client)
	}
	return r
}

func (r *Registry) shard(userID string) *registryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &r.shards[h.Sum32()%presenceShards]
}

// Register stores the handle for userID, replacing any prior one.
// The superseded handle (if any) is returned so the caller can decide
// to close it; the registry itself never closes handles.
func (r *Registry) Register(userID string, c *Client) (prev *Client) {
	if userID == "" || c == nil {
		return nil
	}

	sh := r.shard(userID)
	sh.mu.Lock()
	prev = sh.handles[userID]
	sh.handles[userID] = c
	sh.mu.Unlock()

	if prev == c {
		prev = nil
	}
	r.log.Debug("presence.register", "user_id", userID, "session_id", c.SessionID, "superseded", prev != nil)
	return prev
}

// restore undoes a Register that could not be completed: when the
// entry still points at c it is swapped back to prev, or removed when
// there was no prior handle. A no-op if something newer registered in
// the meantime.
func (r *Registry) restore(userID string, c, prev *Client) {
	if userID == "" || c == nil {
		return
	}

	sh := r.shard(userID)
	sh.mu.Lock()
	if sh.handles[userID] == c {
		if prev != nil {
			sh.handles[userID] = prev
		} else {
			delete(sh.handles, userID)
		}
	}
	sh.mu.Unlock()
}

// Unregister removes the mapping only if it still points at c.
// It reports whether the entry was removed.
func (r *Registry) Unregister(userID string, c *Client) bool {
	if userID == "" || c == nil {
		return false
	}

	sh := r.shard(userID)
	sh.mu.Lock()
	cur, ok := sh.handles[userID]
	if ok && cur == c {
		delete(sh.handles, userID)
	} else {
		ok = false
	}
	sh.mu.Unlock()

	if ok {
		r.log.Debug("presence.unregister", "user_id", userID, "session_id", c.SessionID)
	}
	return ok
}

// Lookup returns the live handle for userID, if any.
func (r *Registry) Lookup(userID string) (*Client, bool) {
	sh := r.shard(userID)
	sh.mu.RLock()
	c, ok := sh.handles[userID]
	sh.mu.RUnlock()
	return c, ok
}

// Broadcast best-effort delivers a frame to every currently registered
// handle among userIDs. Absent users are skipped silently (they may
// simply be offline); full queues count as drops.
func (r *Registry) Broadcast(userIDs []string, f v1.Frame) (delivered, dropped int) {
	for _, id := range userIDs {
		c, ok := r.Lookup(id)
		if !ok {
			continue
		}
		if c.TrySend(f) {
			delivered++
		} else {
			dropped++
		}
	}
	return delivered, dropped
}

// BroadcastAll delivers a frame to every registered handle except the
// one for exceptUserID. Used for presence announcements.
func (r *Registry) BroadcastAll(f v1.Frame, exceptUserID string) (delivered, dropped int) {
	for i := range r.shards {
		sh := &r.shards[i]

		sh.mu.RLock()
		targets := make([]*Client, 0, len(sh.handles))
		for id, c := range sh.handles {
			if id == exceptUserID {
				continue
			}
			targets = append(targets, c)
		}
		sh.mu.RUnlock()

		for _, c := range targets {
			if c.TrySend(f) {
				delivered++
			} else {
				dropped++
			}
		}
	}
	return delivered, dropped
}

// Len returns the number of registered handles.
func (r *Registry) Len() int {
	n := 0
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.RLock()
		n += len(sh.handles)
		sh.mu.RUnlock()
	}
	return n
}
