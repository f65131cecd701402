package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Identity is the authenticated principal behind a connection.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role"`
}

// ErrInvalidToken is returned by verifiers for unknown or malformed
// tokens.
var ErrInvalidToken = errors.New("invalid token")

// TokenVerifier resolves a bearer token to an identity. Credential
// issuance is owned by an external auth service; the hub only verifies.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// StaticVerifier verifies against a fixed token -> "userID:role" map from
// configuration. Development and test deployments only.
type StaticVerifier struct {
	tokens map[string]Identity
}

// NewStaticVerifier builds a verifier from token -> "userID:role" entries.
func NewStaticVerifier(tokens map[string]string) *StaticVerifier {
	v := &StaticVerifier{tokens: make(map[string]Identity)}
	for token, entry := range tokens {
		userID, role, ok := strings.Cut(entry, ":")
		if !ok || userID == "" {
			continue
		}
		v.tokens[token] = Identity{ID: userID, Role: role}
	}
	return v
}

func (v *StaticVerifier) Verify(_ context.Context, token string) (*Identity, error) {
	id, ok := v.tokens[token]
	if !ok {
		return nil, ErrInvalidToken
	}
	return &id, nil
}

// bearerToken extracts the token from the Authorization header or, for
// browser clients that cannot set headers on websocket/SSE requests, the
// "token" query parameter.
func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return token
		}
	}
	return r.URL.Query().Get("token")
}
