package client

import (
	"sort"
	"sync"
	"time"

	"connexa/cmd/internal/chat"

	"github.com/google/uuid"
)

// PendingMessage is an optimistic send awaiting its server echo. It
// lives in a layer separate from confirmed history and is keyed by a
// client-generated temp id.
type PendingMessage struct {
	TempID         string
	ConversationID string
	SenderID       string
	Content        string
	Type           chat.MessageType
	MediaURL       string
	CreatedAt      time.Time
}

// Store holds client-side conversation state: confirmed message
// timelines (unique by id, ascending by time), pending optimistic
// sends, per-conversation typing sets, unread counts, and the history
// pagination cursor.
type Store struct {
	mu       sync.RWMutex
	messages map[string][]chat.Message
	meta     map[string]chat.PageMeta
	pending  map[string][]PendingMessage
	typing   map[string]map[string]struct{}
	unread   map[string]int
	active   string
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		messages: make(map[string][]chat.Message),
		meta:     make(map[string]chat.PageMeta),
		pending:  make(map[string][]PendingMessage),
		typing:   make(map[string]map[string]struct{}),
		unread:   make(map[string]int),
	}
}

// SetActive marks the conversation currently on screen and clears its
// unread count. Live messages for any other conversation bump unread
// instead of interrupting the view.
func (s *Store) SetActive(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = conversationID
	if conversationID != "" {
		s.unread[conversationID] = 0
	}
}

// Active returns the on-screen conversation id.
func (s *Store) Active() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Reset drops all cached state for a conversation. Call it when
// switching conversations so history backfills from a fresh cursor.
func (s *Store) Reset(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, conversationID)
	delete(s.meta, conversationID)
	delete(s.typing, conversationID)
}

// MergeHistory folds one fetched page into the timeline. Messages
// already present by id are skipped, so a page overlapping with live
// pushes never duplicates; the result stays ascending. The pagination
// cursor advances only here, on a successful fetch.
func (s *Store) MergeHistory(conversationID string, page []chat.Message, meta chat.PageMeta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[conversationID] = mergeMessages(s.messages[conversationID], page)
	s.meta[conversationID] = meta
}

// Meta reports the last fetched pagination cursor for a conversation.
func (s *Store) Meta(conversationID string) (chat.PageMeta, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.meta[conversationID]
	return m, ok
}

// AddPending records an optimistic send and returns its temp id. A
// zero TempID is filled with a fresh UUID.
func (s *Store) AddPending(p PendingMessage) string {
	if p.TempID == "" {
		p.TempID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[p.ConversationID] = append(s.pending[p.ConversationID], p)
	return p.TempID
}

// DropPending removes one optimistic send, for a failed delivery.
func (s *Store) DropPending(conversationID, tempID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue := s.pending[conversationID]
	for i, p := range queue {
		if p.TempID == tempID {
			s.pending[conversationID] = append(queue[:i:i], queue[i+1:]...)
			return true
		}
	}
	return false
}

// ApplyLive folds one server-pushed message into the timeline. If the
// message is this client's own echo, the matching pending entry is
// replaced rather than shown twice. Messages for conversations other
// than the active one bump that conversation's unread count. The
// returned bool reports whether the timeline changed.
func (s *Store) ApplyLive(selfUserID string, m chat.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if containsID(s.messages[m.ConversationID], m.ID) {
		return false
	}

	if m.SenderID == selfUserID {
		s.resolvePendingLocked(m)
	}

	s.messages[m.ConversationID] = mergeMessages(s.messages[m.ConversationID], []chat.Message{m})

	if m.ConversationID != s.active && m.SenderID != selfUserID {
		s.unread[m.ConversationID]++
	}
	if meta, ok := s.meta[m.ConversationID]; ok {
		meta.Total++
		s.meta[m.ConversationID] = meta
	}
	return true
}

// resolvePendingLocked removes the oldest pending entry matching the
// confirmed message's body. Matching by body is how the echo pairs up:
// the server assigns the real id, so the temp id never round-trips.
func (s *Store) resolvePendingLocked(m chat.Message) {
	queue := s.pending[m.ConversationID]
	for i, p := range queue {
		if p.Content == m.Content && p.Type == m.Type && p.MediaURL == m.MediaURL {
			s.pending[m.ConversationID] = append(queue[:i:i], queue[i+1:]...)
			return
		}
	}
}

// Messages returns the confirmed timeline, ascending by time.
func (s *Store) Messages(conversationID string) []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]chat.Message, len(s.messages[conversationID]))
	copy(out, s.messages[conversationID])
	return out
}

// Pending returns the optimistic layer in send order.
func (s *Store) Pending(conversationID string) []PendingMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PendingMessage, len(s.pending[conversationID]))
	copy(out, s.pending[conversationID])
	return out
}

// SetTyping records or clears a peer's typing indicator.
func (s *Store) SetTyping(conversationID, userID string, typing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.typing[conversationID]
	if typing {
		if set == nil {
			set = make(map[string]struct{})
			s.typing[conversationID] = set
		}
		set[userID] = struct{}{}
		return
	}
	delete(set, userID)
}

// TypingUsers lists the peers currently typing, sorted for stable UI.
func (s *Store) TypingUsers(conversationID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.typing[conversationID]))
	for id := range s.typing[conversationID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Unread reports the unread count for a conversation.
func (s *Store) Unread(conversationID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unread[conversationID]
}

func containsID(msgs []chat.Message, id string) bool {
	for _, m := range msgs {
		if m.ID == id {
			return true
		}
	}
	return false
}

// mergeMessages unions two ascending slices, unique by id.
func mergeMessages(existing, incoming []chat.Message) []chat.Message {
	if len(incoming) == 0 {
		return existing
	}

	seen := make(map[string]struct{}, len(existing))
	for _, m := range existing {
		seen[m.ID] = struct{}{}
	}

	out := existing
	for _, m := range incoming {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
