// Package token implements the Connexa session authenticator: HMAC-signed
// access tokens carried in the accessToken cookie and verified
// synchronously before a websocket upgrade or API call proceeds.
package token

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CookieName is the cookie carrying the access token.
const CookieName = "accessToken"

// minSecretBytes is the minimum HMAC-SHA256 secret length.
const minSecretBytes = 32

var (
	// ErrNoToken is returned when the request carries no access token.
	ErrNoToken = errors.New("missing access token")

	// ErrInvalidToken is returned when signature or expiry verification fails.
	ErrInvalidToken = errors.New("invalid access token")
)

// Identity is the verified claim attached to a connection or request.
type Identity struct {
	UserID string
	Email  string
}

// Manager issues and verifies access tokens (JWT, HS256).
type Manager struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewManager constructs a Manager. The secret is used as raw HMAC key
// bytes and must be at least 32 bytes.
func NewManager(secret []byte, issuer string, ttl time.Duration) (*Manager, error) {
	if len(secret) < minSecretBytes {
		return nil, errors.New("token: secret too short (min 32 bytes)")
	}
	if strings.TrimSpace(issuer) == "" {
		return nil, errors.New("token: empty issuer")
	}
	if ttl <= 0 {
		return nil, errors.New("token: non-positive ttl")
	}
	return &Manager{secret: secret, issuer: issuer, ttl: ttl}, nil
}

type accessClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Issue signs an access token for the given identity.
func (m *Manager) Issue(now time.Time, id Identity) (token string, exp time.Time, err error) {
	if strings.TrimSpace(id.UserID) == "" {
		return "", time.Time{}, errors.New("token: empty user id")
	}
	exp = now.Add(m.ttl)

	claims := accessClaims{
		Email: id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify checks signature, issuer and expiry, and returns the identity.
func (m *Manager) Verify(tokenStr string, now time.Time) (Identity, error) {
	if strings.TrimSpace(tokenStr) == "" {
		return Identity{}, ErrNoToken
	}

	var claims accessClaims
	_, err := jwt.ParseWithClaims(tokenStr, &claims,
		func(*jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Identity{}, ErrInvalidToken
	}

	return Identity{UserID: claims.Subject, Email: claims.Email}, nil
}

// VerifyRequest extracts the accessToken cookie from r and verifies it.
// This is the hard authentication boundary for the websocket upgrade.
func (m *Manager) VerifyRequest(r *http.Request, now time.Time) (Identity, error) {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return Identity{}, ErrNoToken
	}
	return m.Verify(c.Value, now)
}

// Cookie builds the accessToken cookie for a freshly issued token.
func Cookie(token string, exp time.Time, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  exp,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}
