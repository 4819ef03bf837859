package ratelimit

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"
)

// KeyFunc derives the limiter key for a request; an empty key skips limiting
type KeyFunc func(r *http.Request) string

// Middleware rejects requests over limit per window with 429 and a
// Retry-After header. Limiter failures let the request through.
func Middleware(l Limiter, limit int, window time.Duration, keyFn KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFn(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			d, err := l.Allow(r.Context(), key, limit, window)
			if err != nil {
				slog.Warn("Rate limiter unavailable", "key", key, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if d.OK {
				next.ServeHTTP(w, r)
				return
			}

			retryAfter := int(math.Ceil(time.Until(d.ResetAt).Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(max(1, retryAfter)))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			if err := json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "rate limit exceeded"}); err != nil {
				slog.Error("Failed to encode rate limit response", "key", key, "error", err)
			}
		})
	}
}
