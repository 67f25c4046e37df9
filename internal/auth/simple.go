package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Public paths never require a token.
var Public = []string{"/healthz", "/readyz", "/metrics"}

// Middleware returns bearer-token auth. An empty token rejects every
// protected request; the server refuses to start without one unless auth
// is explicitly disabled.
func Middleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublic(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			// Expect: Authorization: Bearer <token>
			authz := r.Header.Get("Authorization")
			if !strings.HasPrefix(authz, "Bearer ") {
				http.Error(w, "missing API token", http.StatusUnauthorized)
				return
			}

			got := strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
			if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				http.Error(w, "invalid API token", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isPublic(p string) bool {
	for _, pub := range Public {
		if p == pub {
			return true
		}
	}
	return false
}
