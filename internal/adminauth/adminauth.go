// Package adminauth guards the registry API's mutating endpoints with an
// optional, single-shared-secret admin bearer token. The distilled spec
// only forbids auth on the outbound client callback; it is silent on the
// registry API's own inbound endpoints. This system has exactly one
// operator credential, not a user table, so a full login/refresh flow
// (as the teacher's internal/auth carries for its multi-user GUI) would be
// new surface the spec never asks for — HS256 over a pre-shared secret is
// the simplest primitive that still gives operators a real boundary.
//
// When no secret is configured, RequireAdmin is a no-op, matching the
// original tool's zero-config single-operator LAN deployment story.
package adminauth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Sentinel errors returned by Manager.Validate.
var (
	ErrTokenExpired = errors.New("adminauth: token expired")
	ErrTokenInvalid = errors.New("adminauth: token invalid")
)

// Claims are the custom claims carried by an admin token.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Manager signs and validates HS256 admin tokens against a single shared
// secret. The zero value is not usable — construct with New.
type Manager struct {
	secret []byte
	issuer string
}

// New constructs a Manager. secret must be non-empty.
func New(secret, issuer string) *Manager {
	return &Manager{secret: []byte(secret), issuer: issuer}
}

// Mint signs a token for role, valid for ttl.
func (m *Manager) Mint(role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Validate parses and verifies tokenString, returning the embedded claims.
func (m *Manager) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("adminauth: unexpected signing method")
			}
			return m.secret, nil
		},
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

type contextKey int

const claimsKey contextKey = iota

// RequireAdmin returns a middleware that validates a Bearer admin token. If
// mgr is nil (no HERMES_ADMIN_TOKEN_SECRET configured), it is a no-op —
// every request passes through unauthenticated, matching the teacher's
// "empty = disabled, dev only" pattern for its gRPC agent token.
func RequireAdmin(mgr *Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if mgr == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}
			claims, err := mgr.Validate(parts[1])
			if err != nil {
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext retrieves the claims stored by RequireAdmin, if any.
func ClaimsFromContext(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey).(*Claims)
	return c
}
