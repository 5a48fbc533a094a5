package security

import (
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
)

// AuthMiddleware checks admin bearer tokens against configured hashes.
// With no hashes configured every request passes.
type AuthMiddleware struct {
	hashes [][]byte
}

// NewAuthMiddleware accepts hex SHA-256 token hashes. Malformed entries are
// ignored.
func NewAuthMiddleware(tokenHashes []string) *AuthMiddleware {
	a := &AuthMiddleware{}
	for _, h := range tokenHashes {
		b, err := hex.DecodeString(strings.TrimSpace(h))
		if err != nil || len(b) != 32 {
			continue
		}
		a.hashes = append(a.hashes, b)
	}
	return a
}

// Enabled reports whether any token is configured.
func (a *AuthMiddleware) Enabled() bool { return len(a.hashes) > 0 }

// Handler returns middleware that requires a valid token when enabled.
// The token can be provided via Authorization header or "token" query parameter.
func (a *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		key := extractKey(r)
		if key == "" {
			w.Header().Set("Content-Type", "application/json")
			http.Error(w, `{"error":"authentication required"}`, http.StatusUnauthorized)
			return
		}
		if !a.valid(key) {
			w.Header().Set("Content-Type", "application/json")
			http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *AuthMiddleware) valid(key string) bool {
	sum, _ := hex.DecodeString(HashToken(key))
	ok := 0
	for _, h := range a.hashes {
		ok |= subtle.ConstantTimeCompare(sum, h)
	}
	return ok == 1
}

// extractKey gets the token from the request.
// Checks Authorization: Bearer <key> header first, then "token" query param.
func extractKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if strings.HasPrefix(auth, "Bearer ") {
			return strings.TrimPrefix(auth, "Bearer ")
		}
	}
	return r.URL.Query().Get("token")
}
