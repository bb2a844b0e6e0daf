package chat

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of the chat stores,
// used when no database is configured and by tests that need isolated
// state per instance.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]User
	convs map[string]Conversation
	msgs  map[string][]Message // conversationID -> ascending by CreatedAt
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]User),
		convs: make(map[string]Conversation),
		msgs:  make(map[string][]Message),
	}
}

var (
	_ UserStore         = (*MemoryStore)(nil)
	_ ConversationStore = (*MemoryStore)(nil)
	_ MessageStore      = (*MemoryStore)(nil)
)

// ---- users ----

// PutUser inserts or replaces a user row. Used for seeding.
func (s *MemoryStore) PutUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *MemoryStore) CreateUser(ctx context.Context, u User) error {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(strings.TrimSpace(u.Email))
	for _, existing := range s.users {
		if strings.ToLower(existing.Email) == email {
			return ErrDuplicateEmail
		}
	}
	s.users[u.ID] = u
	return nil
}

func (s *MemoryStore) UserByID(_ context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (s *MemoryStore) UserByEmail(_ context.Context, email string) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if strings.ToLower(u.Email) == email {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (s *MemoryStore) SetOnline(_ context.Context, id string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.Online = true
	s.users[id] = u
	return nil
}

func (s *MemoryStore) SetOffline(_ context.Context, id string, lastSeen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.Online = false
	u.LastSeen = &lastSeen
	s.users[id] = u
	return nil
}

func (s *MemoryStore) ExistAll(_ context.Context, ids []string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range ids {
		if _, ok := s.users[id]; !ok {
			return false, nil
		}
	}
	return true, nil
}

// ---- conversations ----

func (s *MemoryStore) CreateConversation(_ context.Context, in CreateConversationInput) (Conversation, error) {
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := NewID(now)
	if err != nil {
		return Conversation{}, err
	}

	conv := Conversation{
		ID:           id,
		IsGroup:      in.IsGroup,
		Name:         in.Name,
		AvatarURL:    in.AvatarURL,
		OwnerID:      in.OwnerID,
		Participants: append([]string(nil), in.Participants...),
		Admins:       append([]string(nil), in.Admins...),
		CreatedAt:    now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !in.IsGroup && len(in.Participants) == 2 {
		if s.directExistsLocked(in.Participants[0], in.Participants[1]) {
			return Conversation{}, ErrDuplicateConversation
		}
	}

	s.convs[id] = conv
	return conv, nil
}

func (s *MemoryStore) ConversationByID(_ context.Context, id string) (Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.convs[id]
	if !ok {
		return Conversation{}, ErrConversationNotFound
	}
	return s.withLastMessageLocked(c), nil
}

func (s *MemoryStore) Participants(_ context.Context, conversationID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.convs[conversationID]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return append([]string(nil), c.Participants...), nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string, page, pageSize int) ([]Conversation, PageMeta, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var mine []Conversation
	for _, c := range s.convs {
		for _, p := range c.Participants {
			if p == userID {
				mine = append(mine, s.withLastMessageLocked(c))
				break
			}
		}
	}

	// Newest activity first: lastMessage time, falling back to creation.
	sort.Slice(mine, func(i, j int) bool {
		return activityTime(mine[i]).After(activityTime(mine[j]))
	})

	meta := pageMetaFor(len(mine), page, pageSize)
	start := (page - 1) * pageSize
	if start >= len(mine) {
		return nil, meta, nil
	}
	end := start + pageSize
	if end > len(mine) {
		end = len(mine)
	}
	return mine[start:end], meta, nil
}

func (s *MemoryStore) AddParticipant(_ context.Context, conversationID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[conversationID]
	if !ok {
		return ErrConversationNotFound
	}
	for _, p := range c.Participants {
		if p == userID {
			return nil
		}
	}
	c.Participants = append(append([]string(nil), c.Participants...), userID)
	s.convs[conversationID] = c
	return nil
}

func (s *MemoryStore) DirectExists(_ context.Context, a, b string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.directExistsLocked(a, b), nil
}

func (s *MemoryStore) directExistsLocked(a, b string) bool {
	for _, c := range s.convs {
		if c.IsGroup || len(c.Participants) != 2 {
			continue
		}
		if (c.Participants[0] == a && c.Participants[1] == b) ||
			(c.Participants[0] == b && c.Participants[1] == a) {
			return true
		}
	}
	return false
}

func (s *MemoryStore) withLastMessageLocked(c Conversation) Conversation {
	if msgs := s.msgs[c.ID]; len(msgs) > 0 {
		last := msgs[len(msgs)-1]
		c.LastMessage = &last
	}
	return c
}

func activityTime(c Conversation) time.Time {
	if c.LastMessage != nil {
		return c.LastMessage.CreatedAt
	}
	return c.CreatedAt
}

// ---- messages ----

func (s *MemoryStore) Append(_ context.Context, in AppendMessageInput) (Message, error) {
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := NewID(now)
	if err != nil {
		return Message{}, err
	}

	msg := Message{
		ID:             id,
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Content:        in.Content,
		Type:           in.Type,
		MediaURL:       in.MediaURL,
		CreatedAt:      now,
		Status:         "SENT",
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.convs[in.ConversationID]; !ok {
		return Message{}, ErrConversationNotFound
	}
	s.msgs[in.ConversationID] = append(s.msgs[in.ConversationID], msg)
	return msg, nil
}

func (s *MemoryStore) HistoryPage(_ context.Context, conversationID string, page, pageSize int) (MessagePage, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.msgs[conversationID]
	meta := pageMetaFor(len(msgs), page, pageSize)

	// Page 1 is the newest window; within the page, ascending order.
	end := len(msgs) - (page-1)*pageSize
	if end <= 0 {
		return MessagePage{Data: []Message{}, Meta: meta}, nil
	}
	start := end - pageSize
	if start < 0 {
		start = 0
	}

	out := append([]Message(nil), msgs[start:end]...)
	return MessagePage{Data: out, Meta: meta}, nil
}

func (s *MemoryStore) Latest(_ context.Context, conversationID string) (Message, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.msgs[conversationID]
	if len(msgs) == 0 {
		return Message{}, false, nil
	}
	return msgs[len(msgs)-1], true, nil
}

func pageMetaFor(total, page, pageSize int) PageMeta {
	pages := 0
	if total > 0 {
		pages = (total + pageSize - 1) / pageSize
	}
	return PageMeta{Total: total, Pages: pages, CurrPage: page}
}
