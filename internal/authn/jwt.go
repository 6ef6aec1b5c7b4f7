// Package authn implements JWT issuance and verification for the HTTP API
// (C11), adapted from the teacher's libs/auth/jwt.go: an HMAC-signed
// access/refresh token pair, a Config with sane defaults, and a
// net/http middleware that injects validated claims into the request
// context.
package authn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken      = errors.New("authn: invalid or expired token")
	ErrMissingToken      = errors.New("authn: missing authorization token")
	ErrInvalidAuthHeader = errors.New("authn: invalid authorization header format")
)

// Claims is the JWT payload for an authenticated client.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// Config configures the Manager.
type Config struct {
	Secret        []byte
	Expiry        time.Duration
	RefreshExpiry time.Duration
	Issuer        string
}

// Manager issues and validates JWTs.
type Manager struct {
	config Config
}

// NewManager builds a Manager. cfg.Secret is required; Expiry/RefreshExpiry/
// Issuer default to 24h/7d/"jax-advisor-core" when zero.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("authn: secret cannot be empty")
	}
	if cfg.Expiry == 0 {
		cfg.Expiry = 24 * time.Hour
	}
	if cfg.RefreshExpiry == 0 {
		cfg.RefreshExpiry = 7 * 24 * time.Hour
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "jax-advisor-core"
	}
	return &Manager{config: cfg}, nil
}

func (m *Manager) issue(userID, email string, expiry time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    m.config.Issuer,
			Subject:   userID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.config.Secret)
}

// IssueAccessToken signs a short-lived access token.
func (m *Manager) IssueAccessToken(userID, email string) (string, error) {
	return m.issue(userID, email, m.config.Expiry)
}

// IssueRefreshToken signs a long-lived refresh token.
func (m *Manager) IssueRefreshToken(userID, email string) (string, error) {
	return m.issue(userID, email, m.config.RefreshExpiry)
}

// ExpirySeconds is the access token's lifetime in seconds, reported to
// clients alongside the token itself.
func (m *Manager) ExpirySeconds() int {
	return int(m.config.Expiry.Seconds())
}

// Validate parses and verifies tokenString, returning its claims.
func (m *Manager) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.config.Secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ExtractToken pulls the bearer token out of an incoming request's
// Authorization header.
func ExtractToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingToken
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", ErrInvalidAuthHeader
	}
	return parts[1], nil
}

// Require wraps next with JWT verification, rejecting the request with 401
// on any failure and otherwise injecting Claims into the request context.
func (m *Manager) Require(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := ExtractToken(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		claims, err := m.Validate(token)
		if err != nil {
			http.Error(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(withClaims(r.Context(), claims)))
	}
}

type contextKey string

const claimsKey contextKey = "authn_claims"

func withClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFromContext retrieves the validated claims Require injected.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	return claims, ok
}

// UserIDFromContext is a convenience accessor handlers use to scope a
// request to its caller.
func UserIDFromContext(ctx context.Context) (string, bool) {
	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		return "", false
	}
	return claims.UserID, true
}
