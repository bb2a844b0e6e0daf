package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the PostgreSQL implementation of the chat stores.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller closes it.
//
// Concurrency model:
// - Presence writes are single-row idempotent updates.
// - Conversation creation inserts conversation + membership in one
//   transaction; the one-to-one uniqueness check runs inside it.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

var (
	_ UserStore         = (*PostgresStore)(nil)
	_ ConversationStore = (*PostgresStore)(nil)
	_ MessageStore      = (*PostgresStore)(nil)
)

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "connexa").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("chat: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("chat: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed chat store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "connexa",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	return st, nil
}

// ---- users ----

const userColumns = `id, name, email, verified, online, last_seen, avatar_url, password_hash`

func (s *PostgresStore) CreateUser(ctx context.Context, u User) error {
	users := pgIdent(s.schema, "users")

	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM `+users+` WHERE lower(email) = lower($1)`,
		strings.TrimSpace(u.Email)).Scan(&one)
	if err == nil {
		return ErrDuplicateEmail
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+users+` (id, name, email, verified, online, last_seen, avatar_url, password_hash)
		 VALUES ($1, $2, $3, $4, false, NULL, $5, $6)`,
		u.ID, u.Name, strings.TrimSpace(u.Email), u.Verified, nullable(u.AvatarURL), u.PasswordHash)
	if isUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	return err
}

func (s *PostgresStore) UserByID(ctx context.Context, id string) (User, error) {
	users := pgIdent(s.schema, "users")

	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+users+` WHERE id = $1`, id)
	return scanUser(row)
}

func (s *PostgresStore) UserByEmail(ctx context.Context, email string) (User, error) {
	users := pgIdent(s.schema, "users")

	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+users+` WHERE lower(email) = lower($1)`,
		strings.TrimSpace(email))
	return scanUser(row)
}

func scanUser(row pgx.Row) (User, error) {
	var (
		u         User
		lastSeen  *time.Time
		avatarURL *string
	)
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Verified, &u.Online, &lastSeen, &avatarURL, &u.PasswordHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	u.LastSeen = lastSeen
	if avatarURL != nil {
		u.AvatarURL = *avatarURL
	}
	return u, nil
}

func (s *PostgresStore) SetOnline(ctx context.Context, id string, _ time.Time) error {
	users := pgIdent(s.schema, "users")

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+users+` SET online = true WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *PostgresStore) SetOffline(ctx context.Context, id string, lastSeen time.Time) error {
	users := pgIdent(s.schema, "users")

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+users+` SET online = false, last_seen = $2 WHERE id = $1`,
		id, lastSeen)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *PostgresStore) ExistAll(ctx context.Context, ids []string) (bool, error) {
	if len(ids) == 0 {
		return true, nil
	}
	users := pgIdent(s.schema, "users")

	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM `+users+` WHERE id = ANY($1)`, ids).Scan(&n)
	if err != nil {
		return false, err
	}
	return n == len(uniqueStrings(ids)), nil
}

// ---- conversations ----

func (s *PostgresStore) CreateConversation(ctx context.Context, in CreateConversationInput) (Conversation, error) {
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := NewID(now)
	if err != nil {
		return Conversation{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return Conversation{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if !in.IsGroup && len(in.Participants) == 2 {
		exists, err := directExistsTx(ctx, tx, s.schema, in.Participants[0], in.Participants[1])
		if err != nil {
			return Conversation{}, err
		}
		if exists {
			return Conversation{}, ErrDuplicateConversation
		}
	}

	conversations := pgIdent(s.schema, "conversations")
	participants := pgIdent(s.schema, "conversation_participants")
	admins := pgIdent(s.schema, "conversation_admins")

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+conversations+` (id, is_group, name, avatar_url, owner_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		id, in.IsGroup, nullable(in.Name), nullable(in.AvatarURL), in.OwnerID, now,
	); err != nil {
		return Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}

	for _, p := range in.Participants {
		if _, err := tx.Exec(ctx,
			`INSERT INTO `+participants+` (conversation_id, user_id) VALUES ($1, $2)`,
			id, p,
		); err != nil {
			return Conversation{}, fmt.Errorf("insert participant: %w", err)
		}
	}
	for _, a := range in.Admins {
		if _, err := tx.Exec(ctx,
			`INSERT INTO `+admins+` (conversation_id, user_id) VALUES ($1, $2)`,
			id, a,
		); err != nil {
			return Conversation{}, fmt.Errorf("insert admin: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Conversation{}, err
	}

	return Conversation{
		ID:           id,
		IsGroup:      in.IsGroup,
		Name:         in.Name,
		AvatarURL:    in.AvatarURL,
		OwnerID:      in.OwnerID,
		Participants: append([]string(nil), in.Participants...),
		Admins:       append([]string(nil), in.Admins...),
		CreatedAt:    now,
	}, nil
}

func (s *PostgresStore) ConversationByID(ctx context.Context, id string) (Conversation, error) {
	conversations := pgIdent(s.schema, "conversations")

	var (
		c         Conversation
		name      *string
		avatarURL *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, is_group, name, avatar_url, owner_id, created_at
		   FROM `+conversations+` WHERE id = $1`, id,
	).Scan(&c.ID, &c.IsGroup, &name, &avatarURL, &c.OwnerID, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return Conversation{}, err
	}
	if name != nil {
		c.Name = *name
	}
	if avatarURL != nil {
		c.AvatarURL = *avatarURL
	}

	if c.Participants, err = s.Participants(ctx, id); err != nil {
		return Conversation{}, err
	}
	if c.Admins, err = s.adminList(ctx, id); err != nil {
		return Conversation{}, err
	}
	if last, ok, err := s.Latest(ctx, id); err != nil {
		return Conversation{}, err
	} else if ok {
		c.LastMessage = &last
	}
	return c, nil
}

func (s *PostgresStore) Participants(ctx context.Context, conversationID string) ([]string, error) {
	conversations := pgIdent(s.schema, "conversations")
	participants := pgIdent(s.schema, "conversation_participants")

	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM `+conversations+` WHERE id = $1`, conversationID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT user_id FROM `+participants+` WHERE conversation_id = $1 ORDER BY user_id`,
		conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanStrings(rows)
}

func (s *PostgresStore) adminList(ctx context.Context, conversationID string) ([]string, error) {
	admins := pgIdent(s.schema, "conversation_admins")

	rows, err := s.pool.Query(ctx,
		`SELECT user_id FROM `+admins+` WHERE conversation_id = $1 ORDER BY user_id`,
		conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanStrings(rows)
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string, page, pageSize int) ([]Conversation, PageMeta, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	conversations := pgIdent(s.schema, "conversations")
	participants := pgIdent(s.schema, "conversation_participants")
	messages := pgIdent(s.schema, "messages")

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM `+participants+` WHERE user_id = $1`, userID,
	).Scan(&total); err != nil {
		return nil, PageMeta{}, err
	}

	meta := pageMetaFor(total, page, pageSize)

	rows, err := s.pool.Query(ctx,
		`SELECT c.id
		   FROM `+conversations+` c
		   JOIN `+participants+` p ON p.conversation_id = c.id
		  WHERE p.user_id = $1
		  ORDER BY coalesce(
		            (SELECT max(m.created_at) FROM `+messages+` m WHERE m.conversation_id = c.id),
		            c.created_at) DESC
		  LIMIT $2 OFFSET $3`,
		userID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, PageMeta{}, err
	}
	ids, err := scanStrings(rows)
	rows.Close()
	if err != nil {
		return nil, PageMeta{}, err
	}

	out := make([]Conversation, 0, len(ids))
	for _, id := range ids {
		c, err := s.ConversationByID(ctx, id)
		if err != nil {
			return nil, PageMeta{}, err
		}
		out = append(out, c)
	}
	return out, meta, nil
}

func (s *PostgresStore) AddParticipant(ctx context.Context, conversationID, userID string) error {
	if _, err := s.Participants(ctx, conversationID); err != nil {
		return err
	}

	participants := pgIdent(s.schema, "conversation_participants")

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+participants+` (conversation_id, user_id)
		 VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`,
		conversationID, userID)
	return err
}

func (s *PostgresStore) DirectExists(ctx context.Context, a, b string) (bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	exists, err := directExistsTx(ctx, tx, s.schema, a, b)
	if err != nil {
		return false, err
	}
	return exists, tx.Commit(ctx)
}

func directExistsTx(ctx context.Context, tx pgx.Tx, schema, a, b string) (bool, error) {
	conversations := pgIdent(schema, "conversations")
	participants := pgIdent(schema, "conversation_participants")

	var one int
	err := tx.QueryRow(ctx,
		`SELECT 1
		   FROM `+conversations+` c
		  WHERE c.is_group = false
		    AND EXISTS (SELECT 1 FROM `+participants+` p WHERE p.conversation_id = c.id AND p.user_id = $1)
		    AND EXISTS (SELECT 1 FROM `+participants+` p WHERE p.conversation_id = c.id AND p.user_id = $2)
		  LIMIT 1`,
		a, b,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ---- messages ----

const messageColumns = `id, conversation_id, sender_id, content, type, media_url, created_at, status`

func (s *PostgresStore) Append(ctx context.Context, in AppendMessageInput) (Message, error) {
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := NewID(now)
	if err != nil {
		return Message{}, err
	}

	messages := pgIdent(s.schema, "messages")

	if _, err := s.pool.Exec(ctx,
		`INSERT INTO `+messages+` (id, conversation_id, sender_id, content, type, media_url, created_at, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 'SENT')`,
		id, in.ConversationID, in.SenderID, nullable(in.Content), string(in.Type), nullable(in.MediaURL), now,
	); err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	return Message{
		ID:             id,
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Content:        in.Content,
		Type:           in.Type,
		MediaURL:       in.MediaURL,
		CreatedAt:      now,
		Status:         "SENT",
	}, nil
}

func (s *PostgresStore) HistoryPage(ctx context.Context, conversationID string, page, pageSize int) (MessagePage, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	messages := pgIdent(s.schema, "messages")

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM `+messages+` WHERE conversation_id = $1`, conversationID,
	).Scan(&total); err != nil {
		return MessagePage{}, err
	}

	meta := pageMetaFor(total, page, pageSize)

	// Page 1 is the newest window. Select descending with offset, then
	// flip to ascending within the page.
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+`
		   FROM `+messages+`
		  WHERE conversation_id = $1
		  ORDER BY created_at DESC, id DESC
		  LIMIT $2 OFFSET $3`,
		conversationID, pageSize, (page-1)*pageSize)
	if err != nil {
		return MessagePage{}, err
	}
	defer rows.Close()

	desc := make([]Message, 0, pageSize)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return MessagePage{}, err
		}
		desc = append(desc, m)
	}
	if err := rows.Err(); err != nil {
		return MessagePage{}, err
	}

	asc := make([]Message, 0, len(desc))
	for i := len(desc) - 1; i >= 0; i-- {
		asc = append(asc, desc[i])
	}
	return MessagePage{Data: asc, Meta: meta}, nil
}

func (s *PostgresStore) Latest(ctx context.Context, conversationID string) (Message, bool, error) {
	messages := pgIdent(s.schema, "messages")

	row := s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+`
		   FROM `+messages+`
		  WHERE conversation_id = $1
		  ORDER BY created_at DESC, id DESC
		  LIMIT 1`,
		conversationID)

	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, false, nil
	}
	if err != nil {
		return Message{}, false, err
	}
	return m, true, nil
}

func scanMessage(row pgx.Row) (Message, error) {
	var (
		m        Message
		content  *string
		mediaURL *string
		typ      string
		status   *string
	)
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &content, &typ, &mediaURL, &m.CreatedAt, &status)
	if err != nil {
		return Message{}, err
	}
	if content != nil {
		m.Content = *content
	}
	if mediaURL != nil {
		m.MediaURL = *mediaURL
	}
	if status != nil {
		m.Status = *status
	}
	m.Type = MessageType(typ)
	return m, nil
}

// ---- helpers ----

func scanStrings(rows pgx.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func nullable(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
