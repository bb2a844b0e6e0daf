package chat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are enabled when CONNEXA_TEST_DATABASE_URL is set.
// In non-CI runs, unreachable Postgres skips these tests to keep local
// runs fast.

func TestPostgresStore_UsersAndPresence(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplyChatSchema(t, pool, schema)

	store, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	ctx := context.Background()
	id := newTestID(t)

	if err := store.CreateUser(ctx, User{
		ID: id, Name: "Ada", Email: "ada@example.com", PasswordHash: "x",
	}); err != nil {
		t.Fatalf("create user: %v", err)
	}

	// Duplicate email, case-insensitive.
	err = store.CreateUser(ctx, User{ID: newTestID(t), Name: "Dup", Email: "ADA@Example.com", PasswordHash: "x"})
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("duplicate create: %v", err)
	}

	u, err := store.UserByEmail(ctx, "Ada@example.com")
	if err != nil || u.ID != id {
		t.Fatalf("UserByEmail: %v %+v", err, u)
	}

	if err := store.SetOnline(ctx, id, time.Now().UTC()); err != nil {
		t.Fatalf("SetOnline: %v", err)
	}
	u, _ = store.UserByID(ctx, id)
	if !u.Online {
		t.Fatalf("user not online")
	}

	seen := time.Now().UTC().Truncate(time.Millisecond)
	if err := store.SetOffline(ctx, id, seen); err != nil {
		t.Fatalf("SetOffline: %v", err)
	}
	u, _ = store.UserByID(ctx, id)
	if u.Online || u.LastSeen == nil {
		t.Fatalf("offline state: %+v", u)
	}

	if err := store.SetOnline(ctx, newTestID(t), time.Now()); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("SetOnline unknown: %v", err)
	}

	ok, err := store.ExistAll(ctx, []string{id})
	if err != nil || !ok {
		t.Fatalf("ExistAll=%v,%v", ok, err)
	}
	ok, err = store.ExistAll(ctx, []string{id, newTestID(t)})
	if err != nil || ok {
		t.Fatalf("ExistAll with ghost=%v,%v", ok, err)
	}
}

func TestPostgresStore_ConversationsAndMessages(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplyChatSchema(t, pool, schema)

	store, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	ctx := context.Background()
	u1, u2, u3 := newTestID(t), newTestID(t), newTestID(t)
	for i, id := range []string{u1, u2, u3} {
		if err := store.CreateUser(ctx, User{
			ID: id, Name: "u", Email: fmt.Sprintf("u%d-%s@example.com", i, id), PasswordHash: "x",
		}); err != nil {
			t.Fatalf("create user: %v", err)
		}
	}

	conv, err := store.CreateConversation(ctx, CreateConversationInput{
		OwnerID: u1, Participants: []string{u1, u2},
	})
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	// One-to-one uniqueness, either participant order.
	_, err = store.CreateConversation(ctx, CreateConversationInput{
		OwnerID: u2, Participants: []string{u2, u1},
	})
	if !errors.Is(err, ErrDuplicateConversation) {
		t.Fatalf("duplicate direct: %v", err)
	}

	got, err := store.ConversationByID(ctx, conv.ID)
	if err != nil {
		t.Fatalf("ConversationByID: %v", err)
	}
	if len(got.Participants) != 2 {
		t.Fatalf("participants=%v", got.Participants)
	}

	if err := store.AddParticipant(ctx, conv.ID, u3); err != nil {
		t.Fatalf("AddParticipant: %v", err)
	}
	if err := store.AddParticipant(ctx, conv.ID, u3); err != nil {
		t.Fatalf("AddParticipant again: %v", err)
	}
	parts, err := store.Participants(ctx, conv.ID)
	if err != nil || len(parts) != 3 {
		t.Fatalf("participants after add=%v err=%v", parts, err)
	}

	base := time.Now().UTC().Add(-time.Minute)
	for i := 0; i < 7; i++ {
		if _, err := store.Append(ctx, AppendMessageInput{
			ConversationID: conv.ID, SenderID: u1,
			Content: fmt.Sprintf("msg-%02d", i), Type: MessageTypeText,
			Now: base.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	page, err := store.HistoryPage(ctx, conv.ID, 1, 5)
	if err != nil {
		t.Fatalf("HistoryPage: %v", err)
	}
	if page.Meta.Total != 7 || page.Meta.Pages != 2 || len(page.Data) != 5 {
		t.Fatalf("meta=%+v len=%d", page.Meta, len(page.Data))
	}
	if page.Data[0].Content != "msg-02" || page.Data[4].Content != "msg-06" {
		t.Fatalf("window: first=%q last=%q", page.Data[0].Content, page.Data[4].Content)
	}

	last, ok, err := store.Latest(ctx, conv.ID)
	if err != nil || !ok || last.Content != "msg-06" {
		t.Fatalf("Latest=%+v,%v,%v", last, ok, err)
	}

	convs, meta, err := store.ListByUser(ctx, u1, 1, 10)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if meta.Total != 1 || len(convs) != 1 {
		t.Fatalf("convs=%d meta=%+v", len(convs), meta)
	}
	if convs[0].LastMessage == nil || convs[0].LastMessage.Content != "msg-06" {
		t.Fatalf("lastMessage=%+v", convs[0].LastMessage)
	}

	if _, err := store.Participants(ctx, newTestID(t)); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("unknown conversation: %v", err)
	}
}

// ---- helpers ----

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("CONNEXA_TEST_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: CONNEXA_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse CONNEXA_TEST_DATABASE_URL: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	c, err := pool.Acquire(pingCtx)
	if err != nil {
		pool.Close()
		if shouldSkipIntegration(err) {
			t.Skipf("integration test skipped: Postgres unreachable (CONNEXA_TEST_DATABASE_URL set): %v", err)
		}
		t.Fatalf("acquire: %v", err)
	}
	c.Release()

	return pool
}

func shouldSkipIntegration(err error) bool {
	if err == nil {
		return false
	}
	if os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "dial tcp") ||
		strings.Contains(msg, "no such host") {
		return true
	}
	return false
}

func mustCreateTestSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	schema := "connexa_chat_it_" + strings.ToLower(newTestID(t))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, `CREATE SCHEMA `+pgx.Identifier{schema}.Sanitize()); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return schema
}

func mustDropSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
}

func mustApplyChatSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	users := pgIdent(schema, "users")
	conversations := pgIdent(schema, "conversations")
	participants := pgIdent(schema, "conversation_participants")
	admins := pgIdent(schema, "conversation_admins")
	messages := pgIdent(schema, "messages")

	schemaSQL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  email TEXT NOT NULL,
  verified BOOLEAN NOT NULL DEFAULT false,
  online BOOLEAN NOT NULL DEFAULT false,
  last_seen TIMESTAMPTZ NULL,
  avatar_url TEXT NULL,
  password_hash TEXT NOT NULL,
  CONSTRAINT chk_users_id_ulid_len CHECK (char_length(id) = 26)
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_users_email_lower ON %s (lower(email));

CREATE TABLE IF NOT EXISTS %s (
  id TEXT PRIMARY KEY,
  is_group BOOLEAN NOT NULL DEFAULT false,
  name TEXT NULL,
  avatar_url TEXT NULL,
  owner_id TEXT NOT NULL REFERENCES %s(id),
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  CONSTRAINT chk_conversations_id_ulid_len CHECK (char_length(id) = 26)
);

CREATE TABLE IF NOT EXISTS %s (
  conversation_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
  user_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
  PRIMARY KEY (conversation_id, user_id)
);

CREATE TABLE IF NOT EXISTS %s (
  conversation_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
  user_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
  PRIMARY KEY (conversation_id, user_id)
);

CREATE TABLE IF NOT EXISTS %s (
  id TEXT PRIMARY KEY,
  conversation_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
  sender_id TEXT NOT NULL REFERENCES %s(id),
  content TEXT NULL,
  type TEXT NOT NULL DEFAULT 'TEXT',
  media_url TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  status TEXT NULL,
  CONSTRAINT chk_messages_id_ulid_len CHECK (char_length(id) = 26)
);

CREATE INDEX IF NOT EXISTS ix_messages_conversation_created
  ON %s (conversation_id, created_at DESC, id DESC);
`,
		users, users,
		conversations, users,
		participants, conversations, users,
		admins, conversations, users,
		messages, conversations, users,
		messages,
	)

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
}

func newTestID(t *testing.T) string {
	t.Helper()
	id, err := NewID(time.Now().UTC())
	if err != nil {
		t.Fatalf("new id: %v", err)
	}
	return id
}
