package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"connexa/cmd/internal/auth/token"
	"connexa/cmd/internal/chat"
	v1 "connexa/contracts/realtime/v1"
)

// headerVerifier authenticates by the X-Test-User header so gateway
// tests skip token minting.
type headerVerifier struct{}

func (headerVerifier) VerifyRequest(r *http.Request, _ time.Time) (token.Identity, error) {
	user := r.Header.Get("X-Test-User")
	if user == "" {
		return token.Identity{}, errors.New("no test user")
	}
	return token.Identity{UserID: user, Email: user + "@example.com"}, nil
}

type gatewayFixture struct {
	srv   *httptest.Server
	store *chat.MemoryStore
	conv  chat.Conversation
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()

	store := chat.NewMemoryStore()
	store.PutUser(chat.User{ID: "u1", Email: "u1@example.com"})
	store.PutUser(chat.User{ID: "u2", Email: "u2@example.com"})

	conv, err := store.CreateConversation(context.Background(), chat.CreateConversationInput{
		OwnerID: "u1", Participants: []string{"u1", "u2"},
	})
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	log := testLogger()
	m := testMetrics()
	reg := NewRegistry(log)
	lc := NewLifecycle(log, reg, store, m)
	handlers := NewHandlers(log, store, store, reg, m)
	router := NewRouter(log, m, handlers.Table())
	gw := NewGateway(log, headerVerifier{}, lc, router, m)

	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)

	return &gatewayFixture{srv: srv, store: store, conv: conv}
}

func (fx *gatewayFixture) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()

	url := strings.Replace(fx.srv.URL, "http://", "ws://", 1)
	header := http.Header{}
	header.Set("X-Test-User", userID)
	header.Set("Origin", "http://localhost")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		t.Fatalf("dial as %s: %v", userID, err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn
}

// readUntil reads frames until one of the wanted type arrives, skipping
// interleaved presence traffic.
func readUntil(t *testing.T, conn *websocket.Conn, want string) v1.Frame {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read waiting for %s: %v", want, err)
		}
		var f v1.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			t.Fatalf("frame decode: %v", err)
		}
		if f.Type == want {
			return f
		}
	}
}

func sendFrame(t *testing.T, conn *websocket.Conn, typ string, content any) {
	t.Helper()

	f, err := v1.NewFrame(typ, content)
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}
	data, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestGateway_RejectsUnauthenticated(t *testing.T) {
	fx := newGatewayFixture(t)

	resp, err := http.Get(fx.srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status=%d want 401", resp.StatusCode)
	}
}

func TestGateway_RejectsBadOrigin(t *testing.T) {
	fx := newGatewayFixture(t)

	req, err := http.NewRequest(http.MethodGet, fx.srv.URL, nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("X-Test-User", "u1")
	req.Header.Set("Origin", "http://evil.example.com")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status=%d want 403", resp.StatusCode)
	}
}

func TestGateway_EndToEnd(t *testing.T) {
	fx := newGatewayFixture(t)
	ctx := context.Background()

	connA := fx.dial(t, "u1")
	connected := readUntil(t, connA, v1.EventConnected)

	var hello v1.ConnectedPayload
	if err := json.Unmarshal(connected.Content, &hello); err != nil {
		t.Fatalf("connected payload: %v", err)
	}
	if hello.UserID != "u1" || hello.SessionID == "" {
		t.Fatalf("payload=%+v", hello)
	}

	connB := fx.dial(t, "u2")
	readUntil(t, connB, v1.EventConnected)

	// A's connection hears that u2 came online.
	readUntil(t, connA, v1.EventUserOnline)

	// A sends a message; both sides receive the persisted copy.
	sendFrame(t, connA, v1.EventNewMessage, v1.NewMessagePayload{
		ConversationID: fx.conv.ID,
		Content:        "hello over the wire",
		Type:           "TEXT",
	})

	for _, conn := range []*websocket.Conn{connA, connB} {
		f := readUntil(t, conn, v1.EventNewMessage)
		var m chat.Message
		if err := json.Unmarshal(f.Content, &m); err != nil {
			t.Fatalf("message payload: %v", err)
		}
		if m.Content != "hello over the wire" || m.SenderID != "u1" || m.ID == "" {
			t.Fatalf("message=%+v", m)
		}
	}

	// Typing indicator reaches the peer only.
	sendFrame(t, connA, v1.EventTypingStart, v1.TypingPayload{ConversationID: fx.conv.ID})
	f := readUntil(t, connB, v1.EventTypingStart)
	var tp v1.TypingEventPayload
	if err := json.Unmarshal(f.Content, &tp); err != nil {
		t.Fatalf("typing payload: %v", err)
	}
	if tp.UserID != "u1" || tp.ConversationID != fx.conv.ID {
		t.Fatalf("typing=%+v", tp)
	}

	// Validation failures come back as ERROR frames to the sender.
	sendFrame(t, connA, v1.EventNewMessage, v1.NewMessagePayload{Type: "TEXT", Content: "x"})
	ef := readUntil(t, connA, v1.EventError)
	var ep v1.ErrorPayload
	if err := json.Unmarshal(ef.Content, &ep); err != nil {
		t.Fatalf("error payload: %v", err)
	}
	if ep.Error != "Conversation Id is required" {
		t.Fatalf("error=%q", ep.Error)
	}

	// Closing A's connection marks u1 offline for B.
	_ = connA.Close(websocket.StatusNormalClosure, "leaving")
	off := readUntil(t, connB, v1.EventUserOffline)
	var pp v1.PresencePayload
	if err := json.Unmarshal(off.Content, &pp); err != nil {
		t.Fatalf("presence payload: %v", err)
	}
	if pp.UserID != "u1" || pp.LastSeen == nil {
		t.Fatalf("presence=%+v", pp)
	}

	// The durable store agrees.
	deadline := time.Now().Add(2 * time.Second)
	for {
		u, err := fx.store.UserByID(ctx, "u1")
		if err != nil {
			t.Fatalf("UserByID: %v", err)
		}
		if !u.Online {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("u1 still online after close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEnforceOrigin(t *testing.T) {
	t.Parallel()

	g := &Gateway{
		originRequired: true,
		allowedOrigins: []string{"http://localhost", "http://127.0.0.1"},
	}

	tests := []struct {
		name   string
		origin string
		wantOK bool
	}{
		{"missing", "", false},
		{"exact match", "http://localhost", true},
		{"host match with port", "http://localhost:5173", true},
		{"loopback", "http://127.0.0.1:3000", true},
		{"foreign", "https://evil.example.com", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tc.origin != "" {
				r.Header.Set("Origin", tc.origin)
			}
			err := g.enforceOrigin(r)
			if (err == nil) != tc.wantOK {
				t.Fatalf("origin %q: err=%v wantOK=%v", tc.origin, err, tc.wantOK)
			}
		})
	}

	t.Run("optional origin", func(t *testing.T) {
		t.Parallel()
		opt := &Gateway{originRequired: false, allowedOrigins: []string{"http://localhost"}}
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if err := opt.enforceOrigin(r); err != nil {
			t.Fatalf("missing origin with originRequired=false: %v", err)
		}
	})

	t.Run("wildcard", func(t *testing.T) {
		t.Parallel()
		wild := &Gateway{originRequired: true, allowedOrigins: []string{"*"}}
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		r.Header.Set("Origin", "https://anywhere.example.com")
		if err := wild.enforceOrigin(r); err != nil {
			t.Fatalf("wildcard rejected: %v", err)
		}
	})
}

func TestOriginHostOnly(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"http://localhost", "localhost"},
		{"http://Localhost:5173", "localhost"},
		{"127.0.0.1:8080", "127.0.0.1"},
		{"example.com", "example.com"},
		{"", ""},
	}
	for _, tc := range tests {
		if got := originHostOnly(tc.in); got != tc.want {
			t.Fatalf("originHostOnly(%q)=%q want %q", tc.in, got, tc.want)
		}
	}
}

func TestDeriveOriginPatterns(t *testing.T) {
	t.Parallel()

	got := deriveOriginPatterns([]string{"http://localhost", "http://localhost:5173", "http://127.0.0.1", "*"})
	want := map[string]bool{"localhost": true, "127.0.0.1": true}
	if len(got) != len(want) {
		t.Fatalf("patterns=%v", got)
	}
	for _, p := range got {
		if !want[p] {
			t.Fatalf("unexpected pattern %q in %v", p, got)
		}
	}
}
