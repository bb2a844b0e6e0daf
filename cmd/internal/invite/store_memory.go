package invite

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is the in-memory invite store for DB-less runs and tests.
type MemoryStore struct {
	mu     sync.Mutex
	byHash map[string]Invite
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byHash: make(map[string]Invite)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Create(_ context.Context, in CreateRecord) (Invite, error) {
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.TokenHash) == "" {
		return Invite{}, ErrInvalidInput
	}
	if in.MaxUses <= 0 {
		return Invite{}, ErrInvalidInput
	}

	inv := Invite{
		ID:             in.ID,
		ConversationID: in.ConversationID,
		CreatedBy:      in.CreatedBy,
		CreatedAt:      in.CreatedAt,
		ExpiresAt:      in.ExpiresAt,
		MaxUses:        in.MaxUses,
		UsedCount:      in.UsedCount,
		RevokedAt:      in.RevokedAt,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byHash[in.TokenHash] = inv
	return inv, nil
}

func (s *MemoryStore) GetByTokenHash(_ context.Context, tokenHash string) (Invite, error) {
	tokenHash = strings.TrimSpace(tokenHash)
	if tokenHash == "" {
		return Invite{}, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.byHash[tokenHash]
	if !ok {
		return Invite{}, ErrNotFound
	}
	return inv, nil
}

func (s *MemoryStore) Consume(_ context.Context, in ConsumeRecord) (Invite, error) {
	if strings.TrimSpace(in.TokenHash) == "" || strings.TrimSpace(in.ConsumedBy) == "" {
		return Invite{}, ErrInvalidInput
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.byHash[in.TokenHash]
	if !ok {
		return Invite{}, ErrNotFound
	}
	if inv.RevokedAt != nil || !inv.ExpiresAt.After(now) || inv.UsedCount >= inv.MaxUses {
		return Invite{}, ErrNotActive
	}

	inv.UsedCount++
	s.byHash[in.TokenHash] = inv
	return inv, nil
}
