package token

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func mustManager(t *testing.T, secret []byte) *Manager {
	t.Helper()
	m, err := NewManager(secret, "connexa", time.Hour)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestNewManager_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		secret  []byte
		issuer  string
		ttl     time.Duration
		wantErr bool
	}{
		{"ok", testSecret, "connexa", time.Hour, false},
		{"short secret", []byte("tooshort"), "connexa", time.Hour, true},
		{"31 bytes", []byte(strings.Repeat("x", 31)), "connexa", time.Hour, true},
		{"empty issuer", testSecret, "  ", time.Hour, true},
		{"zero ttl", testSecret, "connexa", 0, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewManager(tc.secret, tc.issuer, tc.ttl)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err=%v wantErr=%v", err, tc.wantErr)
			}
		})
	}
}

func TestIssueVerify_RoundTrip(t *testing.T) {
	t.Parallel()

	m := mustManager(t, testSecret)
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	tok, exp, err := m.Issue(now, Identity{UserID: "u1", Email: "a@example.com"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !exp.Equal(now.Add(time.Hour)) {
		t.Fatalf("exp=%v", exp)
	}

	id, err := m.Verify(tok, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.UserID != "u1" || id.Email != "a@example.com" {
		t.Fatalf("identity=%+v", id)
	}
}

func TestIssue_EmptyUserID(t *testing.T) {
	t.Parallel()

	m := mustManager(t, testSecret)
	if _, _, err := m.Issue(time.Now(), Identity{}); err == nil {
		t.Fatalf("expected error for empty user id")
	}
}

func TestVerify_Failures(t *testing.T) {
	t.Parallel()

	m := mustManager(t, testSecret)
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	tok, _, err := m.Issue(now, Identity{UserID: "u1"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	t.Run("expired", func(t *testing.T) {
		t.Parallel()
		_, err := m.Verify(tok, now.Add(2*time.Hour))
		if !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("err=%v want ErrInvalidToken", err)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		t.Parallel()
		other := mustManager(t, []byte(strings.Repeat("z", 32)))
		if _, err := other.Verify(tok, now); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("err=%v want ErrInvalidToken", err)
		}
	})

	t.Run("wrong issuer", func(t *testing.T) {
		t.Parallel()
		other, err := NewManager(testSecret, "someone-else", time.Hour)
		if err != nil {
			t.Fatalf("NewManager: %v", err)
		}
		if _, err := other.Verify(tok, now); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("err=%v want ErrInvalidToken", err)
		}
	})

	t.Run("tampered", func(t *testing.T) {
		t.Parallel()
		bad := tok[:len(tok)-2] + "xx"
		if _, err := m.Verify(bad, now); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("err=%v want ErrInvalidToken", err)
		}
	})

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		if _, err := m.Verify("", now); !errors.Is(err, ErrNoToken) {
			t.Fatalf("err=%v want ErrNoToken", err)
		}
	})
}

func TestVerifyRequest(t *testing.T) {
	t.Parallel()

	m := mustManager(t, testSecret)
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	tok, exp, err := m.Issue(now, Identity{UserID: "u1"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.AddCookie(Cookie(tok, exp, false))

	id, err := m.VerifyRequest(r, now)
	if err != nil {
		t.Fatalf("VerifyRequest: %v", err)
	}
	if id.UserID != "u1" {
		t.Fatalf("identity=%+v", id)
	}

	bare := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if _, err := m.VerifyRequest(bare, now); !errors.Is(err, ErrNoToken) {
		t.Fatalf("err=%v want ErrNoToken", err)
	}
}

func TestCookie_Attributes(t *testing.T) {
	t.Parallel()

	exp := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	c := Cookie("tok", exp, true)

	if c.Name != CookieName || c.Value != "tok" {
		t.Fatalf("cookie=%+v", c)
	}
	if !c.HttpOnly || !c.Secure || c.Path != "/" || c.SameSite != http.SameSiteLaxMode {
		t.Fatalf("cookie attributes: %+v", c)
	}
	if !c.Expires.Equal(exp) {
		t.Fatalf("expires=%v", c.Expires)
	}
}
