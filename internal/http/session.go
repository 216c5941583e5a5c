package http

import (
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const sessionCookieName = "session_id"

// sessionID returns the caller's session id, or "" when the request carries no valid one.
func sessionID(r *http.Request) string {
	c, err := r.Cookie(sessionCookieName)
	if err != nil {
		return ""
	}
	if _, err := uuid.Parse(c.Value); err != nil {
		return ""
	}
	return c.Value
}

// ensureSession returns the caller's session id, issuing a new cookie when needed.
// Must be called before the response header is written.
func (h *Handler) ensureSession(w http.ResponseWriter, r *http.Request) string {
	if id := sessionID(r); id != "" {
		return id
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// clientID identifies the caller for rate limiting. X-Forwarded-For is honored only
// behind a trusted proxy.
func (h *Handler) clientID(r *http.Request) string {
	if h.opts.TrustForwardedFor {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
