package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/campusreach/authcore"
)

// ClientIP returns the caller's address: the first hop of X-Forwarded-For,
// then X-Real-IP, then the host part of RemoteAddr.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ClientIdentifier keys rate limits by the authenticated user when a session
// is in the request context and by client IP otherwise.
func ClientIdentifier(r *http.Request) string {
	if sess, ok := SessionFromContext(r.Context()); ok && sess.UserID != "" {
		return "user:" + sess.UserID
	}
	return "ip:" + ClientIP(r)
}

// RequestMeta extracts the client attributes authcore records.
func RequestMeta(r *http.Request) authcore.RequestMeta {
	return authcore.RequestMeta{
		IPAddress: ClientIP(r),
		UserAgent: r.Header.Get("User-Agent"),
	}
}

// WithClientMeta stores the request's IP and User-Agent in its context so
// audit events carry them.
func WithClientMeta(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		meta := RequestMeta(r)
		ctx := authcore.WithClientIP(r.Context(), meta.IPAddress)
		ctx = authcore.WithUserAgent(ctx, meta.UserAgent)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
