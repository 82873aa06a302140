package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// UserIDHeader is the header channel adapters use to identify the end user.
const UserIDHeader = "user-id"

// RateLimit limits requests per user. The key is the authenticated subject,
// then the user-id header, then the client address.
func RateLimit(requestLimit int, windowLength time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestLimit,
		windowLength,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if userID := GetUserID(r.Context()); userID != "" {
				return "sub:" + userID, nil
			}
			if userID := r.Header.Get(UserIDHeader); userID != "" {
				return "user:" + userID, nil
			}
			return "ip:" + r.RemoteAddr, nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		}),
	)
}
