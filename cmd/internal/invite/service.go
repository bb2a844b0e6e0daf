// Package invite issues and redeems join tokens for group
// conversations. Tokens are opaque random strings; only their SHA-256
// hash is stored, so a database leak does not leak valid invites.
package invite

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"connexa/cmd/internal/chat"
)

const defaultTokenBytes = 32

// Invite represents an invite row.
type Invite struct {
	ID             string
	ConversationID string
	CreatedBy      string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	MaxUses        int
	UsedCount      int
	RevokedAt      *time.Time
}

// CreateInput describes invite creation.
type CreateInput struct {
	ConversationID string
	CreatedBy      string
	TTL            time.Duration
	MaxUses        int
	Now            time.Time
}

// ConsumeInput describes invite consumption.
type ConsumeInput struct {
	Token      string
	ConsumedBy string
	Now        time.Time
}

// Service manages invite creation, validation, and consumption.
type Service struct {
	store      Store
	tokenBytes int
}

// Option configures the Service.
type Option func(*Service) error

// WithTokenBytes sets the length of generated invite tokens in bytes.
func WithTokenBytes(n int) Option {
	return func(s *Service) error {
		if n <= 0 {
			return ErrInvalidInput
		}
		s.tokenBytes = n
		return nil
	}
}

// NewService constructs a Service with safe defaults.
func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	s := &Service{store: store, tokenBytes: defaultTokenBytes}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Create issues a new invite and returns it plus the plain token. The
// plain token is shown once and never stored.
func (s *Service) Create(ctx context.Context, in CreateInput) (Invite, string, error) {
	if err := ctx.Err(); err != nil {
		return Invite{}, "", err
	}
	if strings.TrimSpace(in.ConversationID) == "" || strings.TrimSpace(in.CreatedBy) == "" {
		return Invite{}, "", ErrInvalidInput
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	ttl := in.TTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	maxUses := in.MaxUses
	if maxUses <= 0 {
		maxUses = 1
	}

	tokenPlain, err := newOpaqueToken(s.tokenBytes)
	if err != nil {
		return Invite{}, "", err
	}

	id, err := chat.NewID(now)
	if err != nil {
		return Invite{}, "", err
	}

	inv, err := s.store.Create(ctx, CreateRecord{
		ID:             id,
		ConversationID: in.ConversationID,
		TokenHash:      hashToken(tokenPlain),
		CreatedBy:      in.CreatedBy,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
		MaxUses:        maxUses,
		UsedCount:      0,
	})
	if err != nil {
		return Invite{}, "", err
	}
	return inv, tokenPlain, nil
}

// Validate checks whether a token is valid and active at the given time.
func (s *Service) Validate(ctx context.Context, tokenStr string, now time.Time) (bool, Invite, error) {
	if err := ctx.Err(); err != nil {
		return false, Invite{}, err
	}
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		return false, Invite{}, ErrInvalidInput
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	inv, err := s.store.GetByTokenHash(ctx, hashToken(tokenStr))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, Invite{}, nil
		}
		return false, Invite{}, err
	}

	if inv.RevokedAt != nil {
		return false, inv, nil
	}
	if !inv.ExpiresAt.After(now) {
		return false, inv, nil
	}
	if inv.MaxUses > 0 && inv.UsedCount >= inv.MaxUses {
		return false, inv, nil
	}

	return true, inv, nil
}

// Consume marks an invite as used and returns the updated row.
func (s *Service) Consume(ctx context.Context, in ConsumeInput) (Invite, error) {
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	tokenStr := strings.TrimSpace(in.Token)
	if tokenStr == "" || strings.TrimSpace(in.ConsumedBy) == "" {
		return Invite{}, ErrInvalidInput
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}

	return s.store.Consume(ctx, ConsumeRecord{
		TokenHash:  hashToken(tokenStr),
		ConsumedBy: in.ConsumedBy,
		Now:        in.Now,
	})
}

func newOpaqueToken(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = defaultTokenBytes
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
