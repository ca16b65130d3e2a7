package auth

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Guard protects the write surface (event POST, feed upgrade) with a
// shared bearer token. Only the bcrypt hash of the token is held in
// memory; the plaintext lives with the upstream feed.
type Guard struct {
	hash        []byte
	insecureDev bool
}

// NewGuard creates a guard. With insecureDev set and no hash
// configured, requests pass; a deployed instance always configures the
// hash.
func NewGuard(hash []byte, insecureDev bool) *Guard {
	return &Guard{hash: hash, insecureDev: insecureDev}
}

// Authorized reports whether the request carries the ingest token.
func (g *Guard) Authorized(r *http.Request) bool {
	if len(g.hash) == 0 {
		return g.insecureDev
	}
	h := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || token == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(g.hash, []byte(token)) == nil
}

// Require wraps a handler and rejects unauthorized requests with 401.
func (g *Guard) Require(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !g.Authorized(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
