package invite

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists invites in PostgreSQL.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// StoreOption configures PostgresStore.
type StoreOption func(*PostgresStore) error

// WithSchema sets the DB schema used by the store (default: "connexa").
func WithSchema(schema string) StoreOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return ErrInvalidInput
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...StoreOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "connexa"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, ErrInvalidInput
	}
	return st, nil
}

var _ Store = (*PostgresStore)(nil)

const inviteColumns = `id, conversation_id, created_by, created_at, expires_at, max_uses, used_count, revoked_at`

// Create inserts a new invite record.
func (s *PostgresStore) Create(ctx context.Context, in CreateRecord) (Invite, error) {
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.TokenHash) == "" {
		return Invite{}, ErrInvalidInput
	}
	if in.MaxUses <= 0 {
		return Invite{}, ErrInvalidInput
	}

	invites := pgIdent(s.schema, "invites")

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+invites+` (
		     id, conversation_id, token_hash, created_by, created_at, expires_at, max_uses, used_count, revoked_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		in.ID, in.ConversationID, in.TokenHash, in.CreatedBy,
		in.CreatedAt, in.ExpiresAt, in.MaxUses, in.UsedCount, in.RevokedAt,
	)
	if err != nil {
		return Invite{}, err
	}

	return Invite{
		ID:             in.ID,
		ConversationID: in.ConversationID,
		CreatedBy:      in.CreatedBy,
		CreatedAt:      in.CreatedAt,
		ExpiresAt:      in.ExpiresAt,
		MaxUses:        in.MaxUses,
		UsedCount:      in.UsedCount,
		RevokedAt:      in.RevokedAt,
	}, nil
}

// GetByTokenHash fetches an invite by token hash.
func (s *PostgresStore) GetByTokenHash(ctx context.Context, tokenHash string) (Invite, error) {
	tokenHash = strings.TrimSpace(tokenHash)
	if tokenHash == "" {
		return Invite{}, ErrInvalidInput
	}

	invites := pgIdent(s.schema, "invites")

	var out Invite
	err := s.pool.QueryRow(ctx,
		`SELECT `+inviteColumns+` FROM `+invites+` WHERE token_hash = $1`,
		tokenHash,
	).Scan(
		&out.ID, &out.ConversationID, &out.CreatedBy, &out.CreatedAt,
		&out.ExpiresAt, &out.MaxUses, &out.UsedCount, &out.RevokedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invite{}, ErrNotFound
		}
		return Invite{}, err
	}
	return out, nil
}

// Consume increments used_count if the invite is still active.
func (s *PostgresStore) Consume(ctx context.Context, in ConsumeRecord) (Invite, error) {
	if strings.TrimSpace(in.TokenHash) == "" || strings.TrimSpace(in.ConsumedBy) == "" {
		return Invite{}, ErrInvalidInput
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}

	invites := pgIdent(s.schema, "invites")

	var out Invite
	err := s.pool.QueryRow(ctx,
		`UPDATE `+invites+`
		    SET used_count = used_count + 1
		  WHERE token_hash = $2
		    AND revoked_at IS NULL
		    AND expires_at > $1
		    AND used_count < max_uses
		RETURNING `+inviteColumns,
		in.Now, in.TokenHash,
	).Scan(
		&out.ID, &out.ConversationID, &out.CreatedBy, &out.CreatedAt,
		&out.ExpiresAt, &out.MaxUses, &out.UsedCount, &out.RevokedAt,
	)
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Invite{}, err
	}

	// Distinguish not-found vs not-active.
	if _, selErr := s.GetByTokenHash(ctx, in.TokenHash); selErr != nil {
		return Invite{}, selErr
	}
	return Invite{}, ErrNotActive
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
