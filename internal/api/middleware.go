package api

import (
	"net/http"
	"strings"
)

// AuthMiddleware validates the Bearer token in the Authorization header.
// An empty expected token disables authentication.
func AuthMiddleware(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if auth == "" {
			WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing Authorization header")
			return
		}

		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) {
			WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid Authorization header format")
			return
		}

		if auth[len(prefix):] != token {
			WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}
