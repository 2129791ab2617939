package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/campusreach/authcore"
)

type rateLimitBody struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	RetryAfter int64  `json:"retryAfter"`
}

// WriteRateLimitHeaders sets X-RateLimit-Limit, X-RateLimit-Remaining and
// X-RateLimit-Reset (epoch seconds) from d.
func WriteRateLimitHeaders(w http.ResponseWriter, d authcore.Decision) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if !d.ResetAt.IsZero() {
		h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	}
}

// WriteTooManyRequests answers 429 with Retry-After and the JSON error body.
func WriteTooManyRequests(w http.ResponseWriter, retryAfter int64) {
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(rateLimitBody{
		Error:      "Too many requests",
		RetryAfter: retryAfter,
	})
}

// RateLimit charges every request to identify(r) under the class chosen by
// classifier. A nil classifier uses the limiter's own; a nil identify uses
// [ClientIdentifier]. When the store errors the request is let through.
func RateLimit(limiter *authcore.RateLimiter, classifier *authcore.EndpointClassifier, identify func(*http.Request) string) func(http.Handler) http.Handler {
	if classifier == nil {
		classifier = limiter.Classifier()
	}
	if identify == nil {
		identify = ClientIdentifier
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			class, _ := classifier.Classify(r.Method, r.URL.Path)
			ctx := authcore.WithClientIP(r.Context(), ClientIP(r))

			d, err := limiter.Check(ctx, identify(r), class)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			WriteRateLimitHeaders(w, d)
			if !d.Allowed {
				WriteTooManyRequests(w, d.RetryAfterSeconds)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
