package middleware

import (
	"net/http"
	"strings"

	"github.com/wanz-bot/Api/internal/utils"
)

// APIKeyFromRequest extracts the caller's API key from the Authorization
// header ("Bearer <key>"), falling back to X-API-Key.
func APIKeyFromRequest(r *http.Request) string {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// AdminSecret gates admin routes behind the ?secret= query parameter. An
// empty secret disables the routes entirely (404).
func AdminSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.NotFound(w, r)
				return
			}

			given := r.URL.Query().Get("secret")
			if given == "" {
				utils.RespondWithError(w, http.StatusUnauthorized, "missing admin secret")
				return
			}
			if given != secret {
				utils.RespondWithError(w, http.StatusForbidden, "invalid admin secret")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
