// Package adminapi exposes a JWT-gated surface for operator mutation of
// identity role, plan, and suspension state, grounded in
// go-server/internal/auth.JWTManager: HS256 claims, Bearer-header
// extraction, an auth middleware wrapping plain handlers.
package adminapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims identifies the operator issuing an admin request.
type Claims struct {
	Subject string `json:"sub"`
	jwt.RegisteredClaims
}

// JWTManager issues and verifies operator tokens signed with a shared
// secret (config.Config.AdminJWTSecret).
type JWTManager struct {
	secret        []byte
	tokenDuration time.Duration
}

// NewJWTManager constructs a manager using secret to sign and verify
// HS256 tokens valid for tokenDuration.
func NewJWTManager(secret string, tokenDuration time.Duration) *JWTManager {
	return &JWTManager{secret: []byte(secret), tokenDuration: tokenDuration}
}

// Generate mints a token for the named operator. Intended for an
// out-of-band bootstrap step (an operator CLI), not for this HTTP
// surface itself.
func (m *JWTManager) Generate(subject string) (string, error) {
	claims := &Claims{
		Subject: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "signalhub-admin",
			Subject:   subject,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Verify parses and validates tokenString, returning its claims.
func (m *JWTManager) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

func extractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", errors.New("authorization header missing or malformed")
	}
	return strings.TrimPrefix(header, prefix), nil
}

type contextKey string

const operatorContextKey contextKey = "adminapi_operator"

// requireAuth wraps next so it only runs once a valid Bearer token has
// been verified; the operator subject is attached to the request context.
func (m *JWTManager) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		claims, err := m.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := context.WithValue(r.Context(), operatorContextKey, claims.Subject)
		next(w, r.WithContext(ctx))
	}
}
