// Package auth authenticates API bearer tokens and checks their scopes.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/mattjoyce/folio/internal/config"
)

// Well-known scopes. Admin grants everything.
const (
	ScopeBooksRead  = "books:ro"
	ScopeBooksWrite = "books:rw"
	ScopeJobsRead   = "jobs:ro"
	ScopeEventsRead = "events:ro"
	ScopeAdmin      = "*"
)

var (
	ErrMissingToken = errors.New("missing Authorization header")
	ErrBadHeader    = errors.New("invalid Authorization header format")
	ErrEmptyToken   = errors.New("missing API key")
)

// Principal is an authenticated caller.
type Principal struct {
	Token  string
	Scopes map[string]struct{}
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func ExtractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingToken
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", ErrBadHeader
	}

	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", ErrEmptyToken
	}
	return token, nil
}

func constantTimeEqual(a, b string) bool {
	if a == "" || b == "" || len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Authenticate matches a presented bearer token against the configured ones.
// The admin api_key authenticates with scope "*".
func Authenticate(presented string, cfg config.APIAuthConfig) (Principal, bool) {
	if constantTimeEqual(presented, cfg.APIKey) {
		return Principal{
			Token:  presented,
			Scopes: map[string]struct{}{ScopeAdmin: {}},
		}, true
	}

	for _, t := range cfg.Tokens {
		if constantTimeEqual(presented, t.Token) {
			return Principal{
				Token:  presented,
				Scopes: normalizeScopes(t.Scopes),
			}, true
		}
	}
	return Principal{}, false
}

func normalizeScopes(scopes []string) map[string]struct{} {
	out := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out[s] = struct{}{}
	}

	// Write implies read.
	if _, ok := out[ScopeBooksWrite]; ok {
		out[ScopeBooksRead] = struct{}{}
	}
	return out
}

// HasAnyScope reports whether p holds "*" or one of required.
func HasAnyScope(p Principal, required ...string) bool {
	if len(required) == 0 {
		return true
	}
	if _, ok := p.Scopes[ScopeAdmin]; ok {
		return true
	}
	for _, s := range required {
		if _, ok := p.Scopes[s]; ok {
			return true
		}
	}
	return false
}
