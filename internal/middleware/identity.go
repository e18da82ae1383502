package middleware

import (
	"net/http"
	"strings"

	"github.com/educonnect/backend/internal/logging"
)

// UserIDHeader carries the authenticated user id set by the upstream gateway.
const UserIDHeader = "X-User-ID"

// RequireUser rejects requests without an acting user and stores the user
// id on the request context and logger.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
		if userID == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"missing user identity"}` + "\n"))
			return
		}

		next.ServeHTTP(w, r.WithContext(logging.WithUser(r.Context(), userID)))
	})
}
