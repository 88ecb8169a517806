// Package auth verifies bearer tokens against a JWKS endpoint and carries
// the authenticated user id through the request context.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// ErrNoSubject is returned for a valid token without a subject claim.
var ErrNoSubject = errors.New("auth: token has no subject")

type contextKey struct{}

// ContextWithUserID returns a copy of ctx carrying userID.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// UserIDFromContext returns the authenticated user id, if any.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKey{}).(string)
	return id, ok && id != ""
}

// Verifier validates RS256/ES256 JWTs against a key set.
type Verifier struct {
	keys   jwk.Set
	logger *slog.Logger
}

// NewVerifier creates a Verifier over a fixed key set.
func NewVerifier(keys jwk.Set, logger *slog.Logger) (*Verifier, error) {
	if keys == nil {
		return nil, fmt.Errorf("key set cannot be nil")
	}
	return &Verifier{keys: keys, logger: logger.With("component", "AuthVerifier")}, nil
}

// NewJWKSVerifier fetches the key set at jwksURL and keeps it refreshed in
// the background until ctx is cancelled.
func NewJWKSVerifier(ctx context.Context, jwksURL string, logger *slog.Logger) (*Verifier, error) {
	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL); err != nil {
		return nil, fmt.Errorf("failed to register jwks url: %w", err)
	}
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("failed to fetch jwks from %s: %w", jwksURL, err)
	}
	return NewVerifier(jwk.NewCachedSet(cache, jwksURL), logger)
}

// Verify parses and validates a raw token and returns its subject.
func (v *Verifier) Verify(raw string) (string, error) {
	token, err := jwt.ParseString(raw, jwt.WithKeySet(v.keys), jwt.WithValidate(true))
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	if token.Subject() == "" {
		return "", ErrNoSubject
	}
	return token.Subject(), nil
}

// Middleware rejects requests without a valid token. The token is read from
// the Authorization header, or from the "token" query parameter for
// browser WebSocket clients that cannot set headers.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := tokenFromRequest(r)
		if raw == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		userID, err := v.Verify(raw)
		if err != nil {
			v.logger.Debug("Rejected request token", "path", r.URL.Path, "err", err)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithUserID(r.Context(), userID)))
	})
}

// Noop passes every request through unauthenticated.
func Noop(next http.Handler) http.Handler { return next }

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if raw, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(raw)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
