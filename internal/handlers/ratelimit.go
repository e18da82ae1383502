package handlers

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/educonnect/backend/internal/logging"
)

// rateLimitKey scopes the limiter to the acting user, falling back to the
// client address when the request carries no identity.
func rateLimitKey(scope string) func(*http.Request) string {
	return func(r *http.Request) string {
		subject := logging.UserIDFromContext(r.Context())
		if subject == "" {
			subject = clientIP(r)
		}
		if scope == "" {
			return subject
		}
		return fmt.Sprintf("%s:%s", scope, subject)
	}
}

func clientIP(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}
