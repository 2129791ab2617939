package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/campusreach/authcore"
)

type sessionContextKey struct{}
type sessionIDContextKey struct{}

// SessionFromContext returns the session injected by RequireSession.
func SessionFromContext(ctx context.Context) (*authcore.Session, bool) {
	sess, ok := ctx.Value(sessionContextKey{}).(*authcore.Session)
	return sess, ok && sess != nil
}

// SessionIDFromContext returns the raw session id injected by RequireSession.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDContextKey{}).(string)
	return id, ok && id != ""
}

// SessionOptions configures RequireSession.
type SessionOptions struct {
	// CookieName is the session cookie. Empty means "sid".
	CookieName string
}

// SessionIDFromRequest finds the session id in, by priority, an
// "Authorization: Session <id>" header, the X-Session-Id header and the
// session cookie.
func SessionIDFromRequest(r *http.Request, cookieName string) (string, bool) {
	if id, ok := schemeToken(r.Header.Get("Authorization"), "Session "); ok {
		return id, true
	}
	if id := strings.TrimSpace(r.Header.Get("X-Session-Id")); id != "" {
		return id, true
	}
	if cookieName == "" {
		cookieName = "sid"
	}
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value, true
	}
	return "", false
}

// RequireSession rejects requests without a live session with 401, or 503
// when the session store is unreachable. Accepted requests carry the
// session in their context.
func RequireSession(manager *authcore.SessionManager, opts SessionOptions) func(http.Handler) http.Handler {
	if opts.CookieName == "" {
		opts.CookieName = manager.Config().CookieName
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := SessionIDFromRequest(r, opts.CookieName)
			if !ok {
				writeError(w, http.StatusUnauthorized, "Authentication required")
				return
			}

			sess, err := manager.Authenticate(r.Context(), id, RequestMeta(r))
			switch {
			case err == nil:
			case errors.Is(err, authcore.ErrBackingStoreUnavailable):
				writeError(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
				return
			default:
				writeError(w, http.StatusUnauthorized, "Invalid or expired session")
				return
			}

			ctx := context.WithValue(r.Context(), sessionContextKey{}, sess)
			ctx = context.WithValue(ctx, sessionIDContextKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func schemeToken(value, scheme string) (string, bool) {
	if len(value) < len(scheme) || !strings.EqualFold(value[:len(scheme)], scheme) {
		return "", false
	}

	token := strings.TrimSpace(value[len(scheme):])
	if token == "" {
		return "", false
	}

	return token, true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": msg})
}
